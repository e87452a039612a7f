package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is an in-app notification kept in the user's inbox.
type Notification struct {
	BaseModel

	UserID         string            `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Type           string            `gorm:"type:varchar(64);not null" json:"type"`
	Title          string            `gorm:"type:varchar(255);not null" json:"title"`
	Message        string            `gorm:"type:text" json:"message"`
	SessionID      string            `gorm:"type:varchar(36);index" json:"session_id,omitempty"`
	ClassSessionID string            `gorm:"type:varchar(128)" json:"class_session_id,omitempty"`
	Data           datatypes.JSONMap `json:"data,omitempty"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}
