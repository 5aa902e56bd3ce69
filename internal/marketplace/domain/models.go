package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleYouth     Role = "youth"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

type JobStatus string

const (
	JobStatusDraft      JobStatus = "draft"
	JobStatusOpen       JobStatus = "open"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsPublic reports whether non-owners may view a job in this status.
func (s JobStatus) IsPublic() bool {
	return s == JobStatusOpen || s == JobStatusInProgress
}

type User struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Role        Role         `gorm:"not null" json:"role"`
	DisplayName string       `gorm:"column:display_name" json:"display_name"`
	Email       *string      `json:"email,omitempty"`
	Active      bool         `gorm:"not null" json:"active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Job struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID `gorm:"not null" json:"customer_id"`
	Title      string       `json:"title"`
	Status     JobStatus    `gorm:"not null" json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type Booking struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	JobID      snowflake.ID `gorm:"not null" json:"job_id"`
	CustomerID snowflake.ID `gorm:"not null" json:"customer_id"`
	YouthID    snowflake.ID `gorm:"not null" json:"youth_id"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// IsParticipant reports whether userID is the booking's customer or youth.
func (b *Booking) IsParticipant(userID snowflake.ID) bool {
	return b != nil && (b.CustomerID == userID || b.YouthID == userID)
}

type WorkSession struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	BookingID snowflake.ID `gorm:"not null" json:"booking_id"`
	YouthID   snowflake.ID `gorm:"not null" json:"youth_id"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

func (WorkSession) TableName() string { return "work_sessions" }
