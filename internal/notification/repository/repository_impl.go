package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/notification/domain"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.Notification) error {
	return db.WithContext(ctx).Create(item).Error
}

// InsertBatch writes items in chunks of batchSize. Chunks committed before a
// failure stay committed.
func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, items []*domain.Notification, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(items, batchSize).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Notification, error) {
	var item domain.Notification
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Notification, error) {
	var items []*domain.Notification
	stmt := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ?", userID)
	if filter.UnreadOnly {
		stmt = stmt.Where("is_read = ?", false)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}

	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountUnread(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// SetRead marks the row read at readAt, or unread when readAt is nil, keeping
// is_read and read_at in step.
func (r *repo) SetRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, readAt *time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"is_read": readAt != nil,
			"read_at": readAt,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) MarkAllRead(ctx context.Context, db *gorm.DB, userID snowflake.ID, readAt time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": readAt,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Notification{})
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteAll(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.Notification{})
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&domain.Notification{})
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteReadBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&domain.Notification{})
	return res.RowsAffected, res.Error
}
