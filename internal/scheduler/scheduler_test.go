package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/classboard-dev/classboard-worker/internal/cachestore"
	"github.com/classboard-dev/classboard-worker/internal/datastore/repository"
	"github.com/classboard-dev/classboard-worker/internal/logger"
	"github.com/classboard-dev/classboard-worker/internal/notification"
	"github.com/classboard-dev/classboard-worker/internal/timetable"
)

var kst = time.FixedZone("KST", 9*60*60)

// mondayAt returns a weekday instant inside or outside the window.
// 2026-08-31 is a Monday.
func mondayAt(hour, min int) time.Time {
	return time.Date(2026, 8, 31, hour, min, 0, 0, kst)
}

type fakeFetcher struct {
	lessons []timetable.Lesson
	err     error
	calls   int
}

func (f *fakeFetcher) FetchDay(_ context.Context, _, _ int, _ string) ([]timetable.Lesson, error) {
	f.calls++
	return f.lessons, f.err
}

type fakeNotifier struct {
	delivered []*notification.Notification
	err       error
}

func (f *fakeNotifier) Deliver(_ context.Context, n *notification.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, n)
	return nil
}

func newTestScheduler(t *testing.T, fetcher *fakeFetcher, notifier *fakeNotifier, at time.Time) (*Scheduler, *cachestore.Stores) {
	t.Helper()
	stores := cachestore.New(1,
		repository.NewMemoryCacheRepository(),
		repository.NewMemoryMetaRepository(),
		time.Minute, logger.Noop())

	s := New(Config{
		Enabled:  true,
		Location: kst,
		Title:    "오늘의 시간표",
		Tag:      "timetable-daily",
	}, stores, fetcher, notifier, nil, logger.Noop())
	s.now = func() time.Time { return at }
	return s, stores
}

func TestCheck_DeliversOncePerDay(t *testing.T) {
	fetcher := &fakeFetcher{lessons: []timetable.Lesson{
		{Period: 1, HasPeriod: true, Subject: "국어"},
		{Period: 2, HasPeriod: true, Subject: "수학"},
	}}
	notifier := &fakeNotifier{}
	s, stores := newTestScheduler(t, fetcher, notifier, mondayAt(9, 0))
	ctx := context.Background()
	require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 2, Section: 3}))

	require.NoError(t, s.Check(ctx))
	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, "오늘의 시간표", notifier.delivered[0].Title)
	assert.Equal(t, "1교시: 국어\n2교시: 수학", notifier.delivered[0].Message)
	assert.Equal(t, "timetable-daily", notifier.delivered[0].Tag)

	date, err := stores.LastNotificationDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20260831", date)

	// A second check the same day is deduplicated.
	require.NoError(t, s.Check(ctx))
	assert.Len(t, notifier.delivered, 1)
	assert.Equal(t, 1, fetcher.calls)
}

func TestCheck_OutsideWindowDoesNothing(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
	}{
		{"before window", mondayAt(6, 29)},
		{"at window end", mondayAt(12, 0)},
		{"evening", mondayAt(20, 0)},
		{"saturday", time.Date(2026, 8, 29, 9, 0, 0, 0, kst)},
		{"sunday", time.Date(2026, 8, 30, 9, 0, 0, 0, kst)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &fakeNotifier{}
			s, _ := newTestScheduler(t, &fakeFetcher{}, notifier, tt.at)
			ctx := context.Background()
			require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 1, Section: 1}))

			require.NoError(t, s.Check(ctx))
			assert.Empty(t, notifier.delivered)
		})
	}
}

func TestCheck_WindowStartIsInclusive(t *testing.T) {
	notifier := &fakeNotifier{}
	s, _ := newTestScheduler(t, &fakeFetcher{}, notifier, mondayAt(6, 30))
	ctx := context.Background()
	require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 1, Section: 1}))

	require.NoError(t, s.Check(ctx))
	assert.Len(t, notifier.delivered, 1)
}

func TestCheck_NoClassContextDoesNothing(t *testing.T) {
	notifier := &fakeNotifier{}
	fetcher := &fakeFetcher{}
	s, _ := newTestScheduler(t, fetcher, notifier, mondayAt(9, 0))

	require.NoError(t, s.Check(context.Background()))
	assert.Empty(t, notifier.delivered)
	assert.Zero(t, fetcher.calls)
}

func TestCheck_FetchFailureDegradesToGenericBody(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("neis unavailable")}
	notifier := &fakeNotifier{}
	s, stores := newTestScheduler(t, fetcher, notifier, mondayAt(9, 0))
	ctx := context.Background()
	require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 2, Section: 3}))

	require.NoError(t, s.Check(ctx))
	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, timetable.GenericBody, notifier.delivered[0].Message)

	// A fetch failure still counts as delivered for dedup purposes.
	date, err := stores.LastNotificationDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20260831", date)
}

func TestCheck_DeliveryFailureLeavesDedupUnset(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("push endpoint down")}
	s, stores := newTestScheduler(t, &fakeFetcher{}, notifier, mondayAt(9, 0))
	ctx := context.Background()
	require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 2, Section: 3}))

	require.Error(t, s.Check(ctx))
	date, err := stores.LastNotificationDate(ctx)
	require.NoError(t, err)
	assert.Empty(t, date, "failed delivery must not advance the dedup date")

	// Delivery recovers; the next check retries and records the date.
	notifier.err = nil
	require.NoError(t, s.Check(ctx))
	assert.Len(t, notifier.delivered, 1)
	date, err = stores.LastNotificationDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20260831", date)
}

func TestCheck_DisabledDoesNothing(t *testing.T) {
	notifier := &fakeNotifier{}
	s, _ := newTestScheduler(t, &fakeFetcher{}, notifier, mondayAt(9, 0))
	ctx := context.Background()
	require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 1, Section: 1}))
	require.NoError(t, s.HandlePrefChanged(ctx, false))

	require.NoError(t, s.Check(ctx))
	assert.Empty(t, notifier.delivered)
}

func TestHandlePrefChanged_DisableClearsState(t *testing.T) {
	s, stores := newTestScheduler(t, &fakeFetcher{}, &fakeNotifier{}, mondayAt(9, 0))
	ctx := context.Background()
	require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 2, Section: 3}))
	require.NoError(t, stores.SetLastNotificationDate(ctx, "20260831"))

	require.NoError(t, s.HandlePrefChanged(ctx, false))

	date, err := stores.LastNotificationDate(ctx)
	require.NoError(t, err)
	assert.Empty(t, date)
	cc, err := stores.ClassContext(ctx)
	require.NoError(t, err)
	assert.Nil(t, cc)
}

func TestDisableReenable_FiresAgainSameDay(t *testing.T) {
	notifier := &fakeNotifier{}
	s, _ := newTestScheduler(t, &fakeFetcher{}, notifier, mondayAt(9, 0))
	ctx := context.Background()
	require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 2, Section: 3}))

	require.NoError(t, s.Check(ctx))
	require.Len(t, notifier.delivered, 1)

	// Disabling clears the dedup date, so a re-enabled scheduler with a fresh
	// class context fires again on the same day.
	require.NoError(t, s.HandlePrefChanged(ctx, false))
	require.NoError(t, s.HandlePrefChanged(ctx, true))
	require.NoError(t, s.UpdateClassContext(ctx, cachestore.ClassContext{Grade: 2, Section: 3}))

	require.NoError(t, s.Check(ctx))
	assert.Len(t, notifier.delivered, 2)
}

func TestStartStop_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _ := newTestScheduler(t, &fakeFetcher{}, &fakeNotifier{}, mondayAt(9, 0))
	s.Start()
	s.Stop()
	s.Stop() // idempotent
}

func TestInWindow(t *testing.T) {
	t.Parallel()
	assert.False(t, inWindow(mondayAt(6, 29)))
	assert.True(t, inWindow(mondayAt(6, 30)))
	assert.True(t, inWindow(mondayAt(11, 59)))
	assert.False(t, inWindow(mondayAt(12, 0)))
	assert.False(t, inWindow(time.Date(2026, 8, 30, 9, 0, 0, 0, kst)))
}
