// Package repository provides persistence for the cache and metadata stores.
package repository

import (
	"context"
	"errors"

	"github.com/classboard-dev/classboard-worker/internal/datastore/entities"
)

// ErrNotFound is returned when a cache entry or metadata key does not exist.
var ErrNotFound = errors.New("not found")

// CacheRepository persists responses for the named cache stores.
type CacheRepository interface {
	// Get returns the entry for (store, url), or ErrNotFound.
	Get(ctx context.Context, store, url string) (*entities.CachedResponse, error)
	// Put inserts or replaces the entry for (entry.Store, entry.URL).
	Put(ctx context.Context, entry *entities.CachedResponse) error
	// DeleteStore removes every entry belonging to the named store.
	DeleteStore(ctx context.Context, store string) (int64, error)
	// ListStores returns the distinct store names currently present.
	ListStores(ctx context.Context) ([]string, error)
	// CountStore returns the number of entries in the named store.
	CountStore(ctx context.Context, store string) (int64, error)
}

// MetaRepository persists the version-independent worker metadata.
type MetaRepository interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set inserts or replaces the value for key.
	Set(ctx context.Context, key, value string) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
