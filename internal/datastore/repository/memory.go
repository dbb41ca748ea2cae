package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/classboard-dev/classboard-worker/internal/datastore/entities"
)

// memoryCacheRepository is an in-memory CacheRepository. It backs tests and
// ephemeral deployments that don't want a database file.
type memoryCacheRepository struct {
	mu      sync.RWMutex
	entries map[string]map[string]entities.CachedResponse // store → url → entry
	nextID  uint
}

// NewMemoryCacheRepository creates an in-memory CacheRepository.
func NewMemoryCacheRepository() CacheRepository {
	return &memoryCacheRepository{
		entries: make(map[string]map[string]entities.CachedResponse),
	}
}

func (r *memoryCacheRepository) Get(_ context.Context, store, url string) (*entities.CachedResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	urls, ok := r.entries[store]
	if !ok {
		return nil, ErrNotFound
	}
	entry, ok := urls[url]
	if !ok {
		return nil, ErrNotFound
	}
	out := entry
	out.Body = append([]byte(nil), entry.Body...)
	return &out, nil
}

func (r *memoryCacheRepository) Put(_ context.Context, entry *entities.CachedResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	urls, ok := r.entries[entry.Store]
	if !ok {
		urls = make(map[string]entities.CachedResponse)
		r.entries[entry.Store] = urls
	}
	stored := *entry
	if existing, ok := urls[entry.URL]; ok {
		stored.ID = existing.ID
	} else {
		r.nextID++
		stored.ID = r.nextID
	}
	stored.Body = append([]byte(nil), entry.Body...)
	urls[entry.URL] = stored
	return nil
}

func (r *memoryCacheRepository) DeleteStore(_ context.Context, store string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := int64(len(r.entries[store]))
	delete(r.entries, store)
	return count, nil
}

func (r *memoryCacheRepository) ListStores(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name, urls := range r.entries {
		if len(urls) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *memoryCacheRepository) CountStore(_ context.Context, store string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.entries[store])), nil
}

// memoryMetaRepository is an in-memory MetaRepository.
type memoryMetaRepository struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryMetaRepository creates an in-memory MetaRepository.
func NewMemoryMetaRepository() MetaRepository {
	return &memoryMetaRepository{values: make(map[string]string)}
}

func (r *memoryMetaRepository) Get(_ context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (r *memoryMetaRepository) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *memoryMetaRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}
