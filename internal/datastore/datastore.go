// Package datastore opens the worker database and runs migrations.
package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/classboard-dev/classboard-worker/internal/conf"
	"github.com/classboard-dev/classboard-worker/internal/datastore/entities"
)

// Open connects to the configured database and migrates the schema.
func Open(cfg conf.DatabaseSettings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the worker tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&entities.CachedResponse{},
		&entities.WorkerMeta{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
