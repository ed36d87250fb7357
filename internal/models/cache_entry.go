package models

import "time"

// CacheEntry is one key of the SQL cache backend. Value holds the encoded
// payload as raw bytes (blob, bytea or longblob per dialect) so numeric
// documents keep their text form; counters are stored as decimal text.
type CacheEntry struct {
	Key       string     `gorm:"primaryKey;size:256" json:"key"`
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName pins the table name independently of the struct name.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// ExpiredAt reports whether the entry is no longer visible at now.
func (e CacheEntry) ExpiredAt(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
