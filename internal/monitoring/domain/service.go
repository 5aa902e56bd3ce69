package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/pkg/db/pagination"
)

type ListErrorsRequest struct {
	ErrorLogFilter
	pagination.Pagination
}

type ListErrorsResponse struct {
	pagination.PageInfo
	Errors []ErrorLog `json:"errors"`
}

type Service interface {
	CollectMetrics(ctx context.Context) (int, error)
	CheckHealth(ctx context.Context) (HealthReport, error)
	PerformanceStats(ctx context.Context, window time.Duration) (PerformanceStats, error)
	EvaluateAlerts(ctx context.Context) (int, error)
	SendAlert(ctx context.Context, alertType, message string, severity Severity, metadata map[string]any) (ErrorLog, error)
	ResolveError(ctx context.Context, id snowflake.ID) (ErrorLog, error)
	ListErrors(ctx context.Context, req ListErrorsRequest) (ListErrorsResponse, error)
	PurgeMetrics(ctx context.Context, olderThan time.Duration) (int64, error)
}

var (
	ErrNotFound        = errors.New("not_found")
	ErrInvalidSeverity = errors.New("invalid_severity")
	ErrInvalidType     = errors.New("invalid_type")
	ErrInvalidMessage  = errors.New("invalid_message")
	ErrInvalidWindow   = errors.New("invalid_window")
)
