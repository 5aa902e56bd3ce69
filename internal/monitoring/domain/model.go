package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// NotifiesAdmins reports whether alerts of this severity are pushed to admins.
func (s Severity) NotifiesAdmins() bool {
	return s == SeverityError || s == SeverityCritical
}

const (
	MetricCPUUsagePercent     = "cpu_usage_percent"
	MetricMemoryUsagePercent  = "memory_usage_percent"
	MetricMemoryResidentBytes = "memory_resident_bytes"
	MetricDiskUsagePercent    = "disk_usage_percent"
	MetricGoroutineCount      = "goroutine_count"
	MetricThreadCount         = "thread_count"
	MetricGCPauseSeconds      = "gc_pause_seconds"
	MetricHTTPResponseTimeMs  = "http_response_time_ms"
)

const (
	SourceProcess = "process"
	SourceHTTP    = "http"
)

const (
	AlertDatabaseUnreachable = "database_unreachable"
	AlertHighResponseTime    = "high_response_time"
	AlertHighErrorRate       = "high_error_rate"
	AlertHighCPUUsage        = "high_cpu_usage"
	AlertHighMemoryUsage     = "high_memory_usage"
	AlertHighDiskUsage       = "high_disk_usage"
	AlertUnresolvedErrors    = "unresolved_errors"
	AlertPollerPanic         = "poller_panic"
)

// SystemMetric is one telemetry sample. Rows are never updated.
type SystemMetric struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	Name       string            `json:"name" gorm:"not null"`
	Value      float64           `json:"value" gorm:"not null"`
	Labels     datatypes.JSONMap `json:"labels,omitempty" gorm:"type:jsonb;not null;default:'{}'"`
	Source     string            `json:"source" gorm:"not null"`
	RecordedAt time.Time         `json:"recorded_at"`
}

func (SystemMetric) TableName() string { return "system_metrics" }

// ErrorLog is a durable alert record. Only Resolved and ResolvedAt change after insert.
type ErrorLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	Type       string            `json:"type" gorm:"not null"`
	Message    string            `json:"message" gorm:"not null"`
	Severity   Severity          `json:"severity" gorm:"not null"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb;not null;default:'{}'"`
	Resolved   bool              `json:"resolved" gorm:"not null"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (ErrorLog) TableName() string { return "error_logs" }

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthReport struct {
	Status                 HealthStatus `json:"status"`
	DatabaseReachable      bool         `json:"database_reachable"`
	DatabaseError          string       `json:"database_error,omitempty"`
	RecentUnresolvedErrors int64        `json:"recent_unresolved_errors"`
	CheckedAt              time.Time    `json:"checked_at"`
}

// PerformanceStats summarises one window. Resource usage fields are nil when
// no sample exists yet.
type PerformanceStats struct {
	WindowSeconds      int64     `json:"window_seconds"`
	RequestCount       int       `json:"request_count"`
	AvgResponseTimeMs  float64   `json:"avg_response_time_ms"`
	P95ResponseTimeMs  float64   `json:"p95_response_time_ms"`
	P99ResponseTimeMs  float64   `json:"p99_response_time_ms"`
	ErrorRatePercent   float64   `json:"error_rate_percent"`
	CPUUsagePercent    *float64  `json:"cpu_usage_percent,omitempty"`
	MemoryUsagePercent *float64  `json:"memory_usage_percent,omitempty"`
	DiskUsagePercent   *float64  `json:"disk_usage_percent,omitempty"`
	ComputedAt         time.Time `json:"computed_at"`
}
