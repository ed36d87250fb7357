package models

import "time"

// SystemSetting is a named value owned by the server itself, such as the salt
// behind sealed cache values. Rows are keyed by dotted names like
// "cache.encryption_salt".
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name used by migrations and raw queries.
func (SystemSetting) TableName() string {
	return "system_settings"
}
