package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/monitoring/domain"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertMetrics(ctx context.Context, db *gorm.DB, items []*domain.SystemMetric, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(items, batchSize).Error
}

func (r *repo) LatestMetric(ctx context.Context, db *gorm.DB, name string) (*domain.SystemMetric, error) {
	var item domain.SystemMetric
	err := db.WithContext(ctx).
		Where("name = ?", name).
		Order("recorded_at DESC").
		Order("id DESC").
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

func (r *repo) MetricsSince(ctx context.Context, db *gorm.DB, name string, since time.Time) ([]domain.SystemMetric, error) {
	var items []domain.SystemMetric
	err := db.WithContext(ctx).
		Where("name = ? AND recorded_at >= ?", name, since).
		Order("recorded_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeleteMetricsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("recorded_at < ?", cutoff).
		Delete(&domain.SystemMetric{})
	return res.RowsAffected, res.Error
}

func (r *repo) InsertErrorLog(ctx context.Context, db *gorm.DB, item *domain.ErrorLog) error {
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) FindErrorLog(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ErrorLog, error) {
	var item domain.ErrorLog
	err := db.WithContext(ctx).
		Where("id = ?", id).
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

// ResolveErrorLog only touches unresolved rows so resolved_at keeps its first value.
func (r *repo) ResolveErrorLog(ctx context.Context, db *gorm.DB, id snowflake.ID, resolvedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ErrorLog{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_at": resolvedAt,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) ListErrorLogs(ctx context.Context, db *gorm.DB, filter domain.ErrorLogFilter, page pagination.Pagination) ([]*domain.ErrorLog, error) {
	var items []*domain.ErrorLog
	stmt := db.WithContext(ctx).Model(&domain.ErrorLog{})
	if filter.Resolved != nil {
		stmt = stmt.Where("resolved = ?", *filter.Resolved)
	}
	if filter.Severity != "" {
		stmt = stmt.Where("severity = ?", filter.Severity)
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

func (r *repo) CountUnresolvedSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.ErrorLog{}).
		Where("resolved = ? AND created_at >= ?", false, since).
		Count(&count).Error
	return count, err
}

func (r *repo) Ping(ctx context.Context, db *gorm.DB) error {
	var one int
	return db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}
