package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"gorm.io/datatypes"
)

type CreateRequest struct {
	UserID     snowflake.ID
	Type       string
	Title      string
	Message    string
	ActionURL  *string
	ActionText *string
	Priority   Priority
	ExpiresAt  *time.Time
	Metadata   datatypes.JSONMap
}

type ListRequest struct {
	UserID     snowflake.ID
	UnreadOnly bool
	Type       string
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Notifications []Notification `json:"notifications"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Notification, error)
	CreateBulk(ctx context.Context, userIDs []snowflake.ID, tpl Template) ([]Notification, error)
	Broadcast(ctx context.Context, tpl Template) (int, error)
	NotifyAdmins(ctx context.Context, tpl Template) (int, error)
	Notify(ctx context.Context, userID snowflake.ID, event EventType, params map[string]string) (Notification, error)
	MarkAsRead(ctx context.Context, userID, id snowflake.ID) (Notification, error)
	MarkAsUnread(ctx context.Context, userID, id snowflake.ID) (Notification, error)
	MarkAllAsRead(ctx context.Context, userID snowflake.ID) (int64, error)
	Delete(ctx context.Context, userID, id snowflake.ID) error
	DeleteAll(ctx context.Context, userID snowflake.ID) (int64, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	UnreadCount(ctx context.Context, userID snowflake.ID) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
	CleanupOld(ctx context.Context, daysOld int) (int64, error)
}

// Notifier is the narrow view used by other domains to send event notifications.
type Notifier interface {
	Notify(ctx context.Context, userID snowflake.ID, event EventType, params map[string]string) (Notification, error)
}

// AdminNotifier delivers a notification to every active admin.
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, tpl Template) (int, error)
}

var (
	ErrNotFound        = errors.New("not_found")
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidType     = errors.New("invalid_type")
	ErrInvalidTitle    = errors.New("invalid_title")
	ErrInvalidMessage  = errors.New("invalid_message")
	ErrInvalidPriority = errors.New("invalid_priority")
	ErrInvalidEvent    = errors.New("invalid_event")
	ErrInvalidAge      = errors.New("invalid_age")
)
