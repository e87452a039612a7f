package models

import (
	"time"
)

// CacheEntry backs the database cache store used for credentials, reminder marks and whiteboard state.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the cache table name.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
