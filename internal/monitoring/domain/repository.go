package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"gorm.io/gorm"
)

type ErrorLogFilter struct {
	Resolved *bool
	Severity Severity
	Type     string
}

type Repository interface {
	InsertMetrics(ctx context.Context, db *gorm.DB, items []*SystemMetric, batchSize int) error
	LatestMetric(ctx context.Context, db *gorm.DB, name string) (*SystemMetric, error)
	MetricsSince(ctx context.Context, db *gorm.DB, name string, since time.Time) ([]SystemMetric, error)
	DeleteMetricsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)

	InsertErrorLog(ctx context.Context, db *gorm.DB, item *ErrorLog) error
	FindErrorLog(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ErrorLog, error)
	ResolveErrorLog(ctx context.Context, db *gorm.DB, id snowflake.ID, resolvedAt time.Time) (int64, error)
	ListErrorLogs(ctx context.Context, db *gorm.DB, filter ErrorLogFilter, page pagination.Pagination) ([]*ErrorLog, error)
	CountUnresolvedSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error)
	Ping(ctx context.Context, db *gorm.DB) error
}
