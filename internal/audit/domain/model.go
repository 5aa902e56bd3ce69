package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ActorTypeUser   = "user"
	ActorTypeAdmin  = "admin"
	ActorTypeSystem = "system"
)

const (
	ActionPaymentRefund         = "payment.refund"
	ActionNotificationBroadcast = "notification.broadcast"
	ActionErrorLogResolve       = "error_log.resolve"
)

const (
	TargetPayment      = "payment"
	TargetNotification = "notification"
	TargetErrorLog     = "error_log"
)

// AuditLog is an append-only record of a privileged action.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorType  string            `json:"actor_type" gorm:"not null"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action" gorm:"not null"`
	TargetType string            `json:"target_type" gorm:"not null"`
	TargetID   *string           `json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
