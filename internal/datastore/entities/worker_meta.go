package entities

import "time"

// WorkerMeta is a long-lived key/value pair surviving cache version bumps.
// It backs the metadata store: the notification dedup date and the persisted
// class context live here.
type WorkerMeta struct {
	// Column is meta_key because KEY is a reserved word in MySQL.
	Key       string    `gorm:"column:meta_key;primaryKey;size:100" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WorkerMeta) TableName() string {
	return "worker_meta"
}
