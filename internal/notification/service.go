package notification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/nicholas-fedor/shoutrrr"
	shoutrrrrouter "github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/classboard-dev/classboard-worker/internal/logger"
)

const (
	// defaultBacklogSize bounds the in-memory notification history.
	defaultBacklogSize = 100
	// subscriberBuffer is the per-subscriber channel capacity. Slow
	// subscribers drop messages rather than blocking delivery.
	subscriberBuffer = 10
)

// ErrNotFound is returned for operations on an unknown notification ID.
var ErrNotFound = errors.New("notification not found")

// ServiceConfig configures the notification service.
type ServiceConfig struct {
	// BacklogSize caps the retained history; oldest entries are evicted.
	BacklogSize int
	// ShoutrrrURLs are push delivery targets (ntfy, telegram, ...). Empty
	// means broadcast-only delivery.
	ShoutrrrURLs []string
}

// Service owns the notification backlog and its subscribers. Constructed once
// per worker lifetime and injected into everything that notifies.
type Service struct {
	mu          sync.RWMutex
	backlog     []*Notification
	backlogSize int
	subscribers map[string]chan *Notification

	pushRouter *shoutrrrrouter.ServiceRouter
	log        logger.Logger
}

// NewService creates the service. Invalid shoutrrr URLs disable push delivery
// with a warning rather than failing construction: push is an optional layer
// on top of the local broadcast.
func NewService(config *ServiceConfig, log logger.Logger) *Service {
	if config == nil {
		config = &ServiceConfig{}
	}
	size := config.BacklogSize
	if size <= 0 {
		size = defaultBacklogSize
	}

	s := &Service{
		backlogSize: size,
		subscribers: make(map[string]chan *Notification),
		log:         log,
	}
	if len(config.ShoutrrrURLs) > 0 {
		sender, err := shoutrrr.CreateSender(config.ShoutrrrURLs...)
		if err != nil {
			log.Warn("invalid push notification URLs, push delivery disabled",
				logger.Error(err))
		} else {
			s.pushRouter = sender
		}
	}
	return s
}

// Create builds a notification, records it, and broadcasts it to subscribers.
func (s *Service) Create(typ Type, priority Priority, title, message string) (*Notification, error) {
	n := New(typ, priority, title, message)
	s.record(n)
	s.broadcast(n)
	return n, nil
}

// CreateAndBroadcast is the convenience form used by dispatch adapters.
func (s *Service) CreateAndBroadcast(title, message string) error {
	_, err := s.Create(TypeSystem, PriorityMedium, title, message)
	return err
}

// Deliver records and broadcasts a fully-populated notification, then pushes
// it to the configured external targets. A push failure is returned to the
// caller (the scheduler uses this to skip its dedup update and retry later);
// the local broadcast has already happened either way.
func (s *Service) Deliver(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.record(n)
	s.broadcast(n)

	if s.pushRouter == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &types.Params{"title": n.Title}
	sendErrs := s.pushRouter.Send(n.Message, params)
	for _, err := range sendErrs {
		if err != nil {
			return fmt.Errorf("push delivery failed: %w", err)
		}
	}
	return nil
}

// Subscribe registers a listener and returns its ID and channel. The channel
// is closed on Unsubscribe.
func (s *Service) Subscribe() (string, <-chan *Notification) {
	id := uuid.NewString()
	ch := make(chan *Notification, subscriberBuffer)
	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	ch, ok := s.subscribers[id]
	if ok {
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// List returns up to limit notifications, newest first. limit <= 0 returns
// the whole backlog.
func (s *Service) List(limit int) []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Notification, len(s.backlog))
	copy(out, s.backlog)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MarkRead marks a notification read.
func (s *Service) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.backlog {
		if n.ID == id {
			n.Read = true
			return nil
		}
	}
	return ErrNotFound
}

// UnreadCount returns the number of unread notifications in the backlog.
func (s *Service) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.backlog {
		if !n.Read {
			count++
		}
	}
	return count
}

func (s *Service) record(n *Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlog = append(s.backlog, n)
	if len(s.backlog) > s.backlogSize {
		s.backlog = s.backlog[len(s.backlog)-s.backlogSize:]
	}
}

func (s *Service) broadcast(n *Notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- n:
		default:
			s.log.Warn("dropping notification for slow subscriber",
				logger.String("subscriber", id),
				logger.String("notification", n.ID))
		}
	}
}
