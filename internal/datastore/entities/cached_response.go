package entities

import "time"

// CachedResponse is one stored upstream response, keyed by (store, url).
// Store names embed the cache format version; deleting a store drops every
// row carrying its name.
type CachedResponse struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Store     string    `gorm:"size:100;not null;uniqueIndex:idx_store_url,priority:1;index" json:"store"`
	// URL length is bounded so the composite unique index fits InnoDB's
	// 3072-byte key limit under utf8mb4.
	URL       string    `gorm:"size:512;not null;uniqueIndex:idx_store_url,priority:2" json:"url"`
	Status    int       `gorm:"not null" json:"status"`
	Headers   string    `gorm:"type:text" json:"headers"`
	Body      []byte    `gorm:"type:mediumblob" json:"-"`
	FetchedAt time.Time `gorm:"not null" json:"fetched_at"`
}

// TableName returns the table name for GORM.
func (CachedResponse) TableName() string {
	return "cached_responses"
}
