// Package scheduler runs the daily timetable reminder: a state machine over
// calendar time re-evaluated on a periodic tick or a foreground force-check.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/classboard-dev/classboard-worker/internal/cachestore"
	"github.com/classboard-dev/classboard-worker/internal/logger"
	"github.com/classboard-dev/classboard-worker/internal/notification"
	"github.com/classboard-dev/classboard-worker/internal/observability/metrics"
	"github.com/classboard-dev/classboard-worker/internal/timetable"
)

// Notification window: weekdays, from 06:30 up to (not including) 12:00,
// in the configured local timezone.
const (
	windowStartMinutes = 6*60 + 30
	windowEndMinutes   = 12 * 60

	// checkTimeout bounds one full check (timetable fetch + delivery).
	checkTimeout = 30 * time.Second

	// dedupDateLayout is the YYYYMMDD dedup key format.
	dedupDateLayout = "20060102"
)

// TimetableFetcher provides the day's lessons for a class.
type TimetableFetcher interface {
	FetchDay(ctx context.Context, grade, section int, date string) ([]timetable.Lesson, error)
}

// Notifier displays a notification. An error means the notification was not
// shown and the dedup date must not advance.
type Notifier interface {
	Deliver(ctx context.Context, n *notification.Notification) error
}

// MetaStore persists the scheduler's durable state. *cachestore.Stores
// satisfies it.
type MetaStore interface {
	LastNotificationDate(ctx context.Context) (string, error)
	SetLastNotificationDate(ctx context.Context, date string) error
	ClassContext(ctx context.Context) (*cachestore.ClassContext, error)
	SetClassContext(ctx context.Context, cc cachestore.ClassContext) error
	ClearNotificationState(ctx context.Context) error
}

// Config holds the reminder configuration.
type Config struct {
	Enabled       bool
	Location      *time.Location
	CheckInterval time.Duration
	Title         string
	Tag           string
	TargetPath    string
	Icon          string
	Badge         string
}

// Scheduler owns the reminder state machine. Constructed once per worker
// lifetime with its dependencies injected.
type Scheduler struct {
	cfg      Config
	meta     MetaStore
	fetcher  TimetableFetcher
	notifier Notifier
	metrics  *metrics.Metrics
	log      logger.Logger

	// enabled mirrors the foreground preference; disabling also clears the
	// persisted metadata.
	enabled atomic.Bool

	// now is replaceable in tests.
	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Scheduler. The periodic tick is the foreground-timer
// fallback cadence; there is no finer-grained platform wake on a server.
func New(cfg Config, meta MetaStore, fetcher TimetableFetcher, notifier Notifier, m *metrics.Metrics, log logger.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("KST", 9*60*60)
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	s := &Scheduler{
		cfg:      cfg,
		meta:     meta,
		fetcher:  fetcher,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Start launches the periodic check loop.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
				if err := s.Check(ctx); err != nil {
					s.log.Warn("scheduled timetable check failed", logger.Error(err))
				}
				cancel()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the check loop and waits for it to exit. Safe to call
// multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

// ForceCheck runs an immediate check, bypassing the periodic cadence. The
// calendar preconditions still apply.
func (s *Scheduler) ForceCheck(ctx context.Context) error {
	return s.Check(ctx)
}

// Check evaluates the preconditions and, when all hold, delivers the day's
// timetable notification and records the dedup date. Preconditions, all
// required: reminders enabled; weekday; local time in [06:30, 12:00); no
// notification recorded for today; a valid persisted class context.
func (s *Scheduler) Check(ctx context.Context) error {
	if !s.enabled.Load() {
		return nil
	}

	now := s.now().In(s.cfg.Location)
	if !inWindow(now) {
		return nil
	}

	today := now.Format(dedupDateLayout)
	last, err := s.meta.LastNotificationDate(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dedup date: %w", err)
	}
	if last == today {
		return nil
	}

	cc, err := s.meta.ClassContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read class context: %w", err)
	}
	if cc == nil || !cc.Valid() {
		return nil
	}

	body := s.composeBody(ctx, cc, today)

	n := &notification.Notification{
		Type:      notification.TypeTimetable,
		Priority:  notification.PriorityHigh,
		Title:     s.cfg.Title,
		Message:   body,
		Tag:       s.cfg.Tag,
		TargetURL: s.cfg.TargetPath,
		Icon:      s.cfg.Icon,
		Badge:     s.cfg.Badge,
		Timestamp: now,
	}
	if err := s.notifier.Deliver(ctx, n); err != nil {
		// The notification was not shown; leave the dedup date alone so
		// the next trigger retries.
		if s.metrics != nil {
			s.metrics.NotificationsFailed.Inc()
		}
		return fmt.Errorf("notification delivery failed: %w", err)
	}
	if s.metrics != nil {
		s.metrics.NotificationsSent.Inc()
	}

	if err := s.meta.SetLastNotificationDate(ctx, today); err != nil {
		return fmt.Errorf("failed to record dedup date: %w", err)
	}
	s.log.Info("timetable notification delivered",
		logger.Int("grade", cc.Grade),
		logger.Int("section", cc.Section),
		logger.String("date", today))
	return nil
}

// composeBody fetches and formats the timetable. Any fetch or parse failure
// degrades to the generic body: notification delivery must not be blocked by
// an unreliable third-party API.
func (s *Scheduler) composeBody(ctx context.Context, cc *cachestore.ClassContext, date string) string {
	lessons, err := s.fetcher.FetchDay(ctx, cc.Grade, cc.Section, date)
	if err != nil {
		s.log.Warn("timetable fetch failed, using generic body",
			logger.Int("grade", cc.Grade),
			logger.Int("section", cc.Section),
			logger.Error(err))
		return timetable.GenericBody
	}
	return timetable.FormatBody(lessons)
}

// HandlePrefChanged applies the foreground notification preference. Disabling
// clears the persisted dedup date and class context.
func (s *Scheduler) HandlePrefChanged(ctx context.Context, enabled bool) error {
	s.enabled.Store(enabled)
	if enabled {
		return nil
	}
	if err := s.meta.ClearNotificationState(ctx); err != nil {
		return fmt.Errorf("failed to clear notification state: %w", err)
	}
	s.log.Info("timetable notifications disabled, metadata cleared")
	return nil
}

// UpdateClassContext persists the class identity supplied by the foreground.
func (s *Scheduler) UpdateClassContext(ctx context.Context, cc cachestore.ClassContext) error {
	if err := s.meta.SetClassContext(ctx, cc); err != nil {
		return fmt.Errorf("failed to persist class context: %w", err)
	}
	s.log.Info("class context updated",
		logger.Int("grade", cc.Grade),
		logger.Int("section", cc.Section))
	return nil
}

// inWindow reports whether t is a weekday between 06:30 inclusive and
// 12:00 exclusive.
func inWindow(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= windowStartMinutes && mins < windowEndMinutes
}
