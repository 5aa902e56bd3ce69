package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	UnreadOnly bool
	Type       string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *Notification) error
	InsertBatch(ctx context.Context, db *gorm.DB, items []*Notification, batchSize int) error
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Notification, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*Notification, error)
	CountUnread(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	SetRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, readAt *time.Time) (int64, error)
	MarkAllRead(ctx context.Context, db *gorm.DB, userID snowflake.ID, readAt time.Time) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error)
	DeleteAll(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	DeleteReadBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
