package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classboard-dev/classboard-worker/internal/datastore/entities"
)

// metaRepository implements MetaRepository.
type metaRepository struct {
	db *gorm.DB
}

// NewMetaRepository creates a new MetaRepository.
func NewMetaRepository(db *gorm.DB) MetaRepository {
	return &metaRepository{db: db}
}

// Get returns the value stored under key, or ErrNotFound.
func (r *metaRepository) Get(ctx context.Context, key string) (string, error) {
	var row entities.WorkerMeta
	err := r.db.WithContext(ctx).First(&row, "meta_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get meta key %s: %w", key, err)
	}
	return row.Value, nil
}

// Set upserts the value under key.
func (r *metaRepository) Set(ctx context.Context, key, value string) error {
	row := entities.WorkerMeta{Key: key, Value: value}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "meta_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to set meta key %s: %w", key, err)
	}
	return nil
}

// Delete removes key; missing keys are silently ignored.
func (r *metaRepository) Delete(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).Delete(&entities.WorkerMeta{}, "meta_key = ?", key).Error
	if err != nil {
		return fmt.Errorf("failed to delete meta key %s: %w", key, err)
	}
	return nil
}
