package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classboard-dev/classboard-worker/internal/datastore/entities"
)

// cacheRepository implements CacheRepository.
type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

// Get returns the cached response for (store, url), or ErrNotFound.
func (r *cacheRepository) Get(ctx context.Context, store, url string) (*entities.CachedResponse, error) {
	var entry entities.CachedResponse
	err := r.db.WithContext(ctx).
		Where("store = ? AND url = ?", store, url).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry %s/%s: %w", store, url, err)
	}
	return &entry, nil
}

// Put upserts the entry on its (store, url) key. Last write wins, matching
// the per-entry consistency the cache contract promises.
func (r *cacheRepository) Put(ctx context.Context, entry *entities.CachedResponse) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store"}, {Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "headers", "body", "fetched_at"}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to put cache entry %s/%s: %w", entry.Store, entry.URL, err)
	}
	return nil
}

// DeleteStore removes every entry in the named store and reports the count.
func (r *cacheRepository) DeleteStore(ctx context.Context, store string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("store = ?", store).
		Delete(&entities.CachedResponse{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete store %s: %w", store, result.Error)
	}
	return result.RowsAffected, nil
}

// ListStores returns the distinct store names with at least one entry.
func (r *cacheRepository) ListStores(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&entities.CachedResponse{}).
		Distinct("store").
		Order("store ASC").
		Pluck("store", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	return names, nil
}

// CountStore returns the number of entries in the named store.
func (r *cacheRepository) CountStore(ctx context.Context, store string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entities.CachedResponse{}).
		Where("store = ?", store).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count store %s: %w", store, err)
	}
	return count, nil
}
