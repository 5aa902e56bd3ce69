package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Notification is a durable message for one user. ReadAt is set exactly when IsRead is true.
type Notification struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID     snowflake.ID      `json:"user_id" gorm:"not null"`
	Type       string            `json:"type" gorm:"not null"`
	Title      string            `json:"title" gorm:"not null"`
	Message    string            `json:"message" gorm:"not null"`
	ActionURL  *string           `json:"action_url,omitempty"`
	ActionText *string           `json:"action_text,omitempty"`
	Priority   Priority          `json:"priority" gorm:"not null"`
	IsRead     bool              `json:"is_read" gorm:"not null"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

// Template is the recipient-independent part of a notification.
type Template struct {
	Type       string            `json:"type"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	ActionURL  *string           `json:"action_url,omitempty"`
	ActionText *string           `json:"action_text,omitempty"`
	Priority   Priority          `json:"priority,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
}
