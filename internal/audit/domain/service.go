package domain

import (
	"context"
	"errors"

	"github.com/smajobb/marketplace/pkg/db/pagination"
)

// Entry describes one action. The actor is taken from the request context.
type Entry struct {
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListRequest struct {
	ListFilter
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
