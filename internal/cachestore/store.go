// Package cachestore implements the worker's named cache stores: a versioned
// static store holding the precache manifest, a versioned runtime store filled
// opportunistically from live traffic, and a version-independent metadata
// store. Static and runtime store names embed the cache format version;
// activation-time garbage collection deletes every store whose name is not
// current. Metadata lives in its own table and is structurally exempt.
package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/classboard-dev/classboard-worker/internal/datastore/entities"
	"github.com/classboard-dev/classboard-worker/internal/datastore/repository"
	"github.com/classboard-dev/classboard-worker/internal/logger"
)

const (
	staticPrefix  = "classboard-static-v"
	runtimePrefix = "classboard-runtime-v"

	// MetaStoreName is the logical name of the metadata store. It never
	// carries a version and is never garbage collected.
	MetaStoreName = "classboard-meta"
)

// Metadata keys.
const (
	MetaLastNotificationDate = "last-notification-date"
	MetaClassContext         = "class-context"
)

// StoredResponse is a cached upstream response in wire-usable form.
type StoredResponse struct {
	Status    int
	Header    http.Header
	Body      []byte
	FetchedAt time.Time
}

// ClassContext identifies which class's timetable to query.
type ClassContext struct {
	Grade   int `json:"grade"`
	Section int `json:"section"`
}

// Valid reports whether both grade and section are positive.
func (c ClassContext) Valid() bool {
	return c.Grade > 0 && c.Section > 0
}

// Stores provides access to the named cache stores for one cache version.
type Stores struct {
	version int
	repo    repository.CacheRepository
	meta    repository.MetaRepository
	hot     *gocache.Cache
	log     logger.Logger
}

// New creates the store accessor for the given cache format version.
// hotTTL bounds the in-memory read-through layer; entries persist in the
// database regardless.
func New(version int, repo repository.CacheRepository, meta repository.MetaRepository, hotTTL time.Duration, log logger.Logger) *Stores {
	if hotTTL <= 0 {
		hotTTL = 5 * time.Minute
	}
	return &Stores{
		version: version,
		repo:    repo,
		meta:    meta,
		hot:     gocache.New(hotTTL, 2*hotTTL),
		log:     log,
	}
}

// StaticName returns the current static store name.
func (s *Stores) StaticName() string {
	return fmt.Sprintf("%s%d", staticPrefix, s.version)
}

// RuntimeName returns the current runtime store name.
func (s *Stores) RuntimeName() string {
	return fmt.Sprintf("%s%d", runtimePrefix, s.version)
}

// CurrentNames returns the store names that survive garbage collection.
func (s *Stores) CurrentNames() []string {
	return []string{s.StaticName(), s.RuntimeName()}
}

// Get returns the cached response for url in the named store, or
// repository.ErrNotFound.
func (s *Stores) Get(ctx context.Context, store, url string) (*StoredResponse, error) {
	key := hotKey(store, url)
	if v, ok := s.hot.Get(key); ok {
		if resp, ok := v.(*StoredResponse); ok {
			return resp, nil
		}
	}

	entry, err := s.repo.Get(ctx, store, url)
	if err != nil {
		return nil, err
	}
	resp, err := fromEntity(entry)
	if err != nil {
		return nil, err
	}
	s.hot.SetDefault(key, resp)
	return resp, nil
}

// Put stores the response for url in the named store. Last write wins.
func (s *Stores) Put(ctx context.Context, store, url string, resp *StoredResponse) error {
	entry, err := toEntity(store, url, resp)
	if err != nil {
		return err
	}
	if err := s.repo.Put(ctx, entry); err != nil {
		return err
	}
	s.hot.SetDefault(hotKey(store, url), resp)
	return nil
}

// CollectGarbage deletes every versioned store whose name is not current and
// returns the names it removed. The metadata table is not touched: it is not
// a response store, so version bumps can never invalidate it. Safe to call
// repeatedly; a second pass with no version change deletes nothing.
func (s *Stores) CollectGarbage(ctx context.Context) ([]string, error) {
	names, err := s.repo.ListStores(ctx)
	if err != nil {
		return nil, err
	}

	current := s.CurrentNames()
	var removed []string
	for _, name := range names {
		if slices.Contains(current, name) {
			continue
		}
		deleted, err := s.repo.DeleteStore(ctx, name)
		if err != nil {
			return removed, err
		}
		removed = append(removed, name)
		s.log.Info("deleted stale cache store",
			logger.String("store", name),
			logger.Int64("entries", deleted))
	}
	if len(removed) > 0 {
		// Stale entries may still sit in the hot layer under old store names.
		s.hot.Flush()
	}
	return removed, nil
}

// LastNotificationDate returns the stored dedup date (YYYYMMDD), or "" when
// no notification has been recorded.
func (s *Stores) LastNotificationDate(ctx context.Context) (string, error) {
	v, err := s.meta.Get(ctx, MetaLastNotificationDate)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// SetLastNotificationDate records the dedup date (YYYYMMDD).
func (s *Stores) SetLastNotificationDate(ctx context.Context, date string) error {
	return s.meta.Set(ctx, MetaLastNotificationDate, date)
}

// ClassContext returns the persisted class identity, or nil when none is set.
func (s *Stores) ClassContext(ctx context.Context) (*ClassContext, error) {
	v, err := s.meta.Get(ctx, MetaClassContext)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var cc ClassContext
	if err := json.Unmarshal([]byte(v), &cc); err != nil {
		return nil, fmt.Errorf("corrupt class context %q: %w", v, err)
	}
	return &cc, nil
}

// SetClassContext persists the class identity for later timetable lookups.
func (s *Stores) SetClassContext(ctx context.Context, cc ClassContext) error {
	if !cc.Valid() {
		return fmt.Errorf("invalid class context: grade=%d section=%d", cc.Grade, cc.Section)
	}
	b, err := json.Marshal(cc)
	if err != nil {
		return err
	}
	return s.meta.Set(ctx, MetaClassContext, string(b))
}

// ClearNotificationState removes the dedup date and class context. Called
// when the user disables timetable notifications.
func (s *Stores) ClearNotificationState(ctx context.Context) error {
	if err := s.meta.Delete(ctx, MetaLastNotificationDate); err != nil {
		return err
	}
	return s.meta.Delete(ctx, MetaClassContext)
}

func hotKey(store, url string) string {
	return store + "|" + url
}

func toEntity(store, url string, resp *StoredResponse) (*entities.CachedResponse, error) {
	headers, err := json.Marshal(resp.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers for %s: %w", url, err)
	}
	fetchedAt := resp.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	return &entities.CachedResponse{
		Store:     store,
		URL:       url,
		Status:    resp.Status,
		Headers:   string(headers),
		Body:      resp.Body,
		FetchedAt: fetchedAt,
	}, nil
}

func fromEntity(entry *entities.CachedResponse) (*StoredResponse, error) {
	header := http.Header{}
	if entry.Headers != "" {
		if err := json.Unmarshal([]byte(entry.Headers), &header); err != nil {
			return nil, fmt.Errorf("corrupt headers for %s/%s: %w", entry.Store, entry.URL, err)
		}
	}
	return &StoredResponse{
		Status:    entry.Status,
		Header:    header,
		Body:      entry.Body,
		FetchedAt: entry.FetchedAt,
	}, nil
}
