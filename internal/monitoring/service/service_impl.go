package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	"github.com/smajobb/marketplace/internal/monitoring/domain"
	"github.com/smajobb/marketplace/internal/monitoring/telemetry"
	notificationdomain "github.com/smajobb/marketplace/internal/notification/domain"
	obsmetrics "github.com/smajobb/marketplace/internal/observability/metrics"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	metricBatchSize       = 100
	defaultSampleTimeout  = 10 * time.Second
	healthCheckTimeout    = 5 * time.Second
	recentErrorWindow     = time.Hour
	defaultAlertWindow    = 5 * time.Minute
	alertNotificationType = "system_alert"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        config.Config
	Thresholds    *config.ThresholdsHolder
	Repo          domain.Repository
	Source        telemetry.Source
	Recorder      *telemetry.RequestRecorder       `optional:"true"`
	AdminNotifier notificationdomain.AdminNotifier `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics              `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	thresholds    *config.ThresholdsHolder
	repo          domain.Repository
	source        telemetry.Source
	recorder      *telemetry.RequestRecorder
	adminNotifier notificationdomain.AdminNotifier
	obsMetrics    *obsmetrics.Metrics
	sampleTimeout time.Duration
	alertWindow   time.Duration
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	thresholds := p.Thresholds
	if thresholds == nil {
		thresholds = config.NewStaticThresholds(config.DefaultThresholds())
	}
	alertWindow := p.Config.Monitoring.AlertInterval
	if alertWindow <= 0 {
		alertWindow = defaultAlertWindow
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("monitoring.service"),
		genID:         p.GenID,
		clock:         clk,
		thresholds:    thresholds,
		repo:          p.Repo,
		source:        p.Source,
		recorder:      p.Recorder,
		adminNotifier: p.AdminNotifier,
		obsMetrics:    p.ObsMetrics,
		sampleTimeout: defaultSampleTimeout,
		alertWindow:   alertWindow,
	}
}

var _ domain.Service = (*Service)(nil)

// CollectMetrics stores one row per reading. Readings that fail are logged and
// skipped; an error is returned only when nothing could be sampled.
func (s *Service) CollectMetrics(ctx context.Context) (int, error) {
	var (
		readings []telemetry.Reading
		readErr  error
	)
	if s.source != nil {
		readCtx, cancel := context.WithTimeout(ctx, s.sampleTimeout)
		readings, readErr = s.source.Collect(readCtx)
		cancel()
		if readErr != nil {
			s.log.Warn("telemetry sampling incomplete",
				zap.Int("collected", len(readings)),
				zap.Error(readErr),
			)
		}
	}
	if s.recorder != nil {
		samples, dropped := s.recorder.Drain()
		if dropped > 0 {
			s.log.Warn("request samples dropped", zap.Uint64("dropped", dropped))
		}
		readings = append(readings, samples...)
	}

	if len(readings) == 0 {
		if readErr != nil {
			return 0, fmt.Errorf("collect metrics: %w", readErr)
		}
		return 0, nil
	}

	now := s.clock.Now()
	rows := make([]*domain.SystemMetric, 0, len(readings))
	for _, r := range readings {
		recordedAt := r.At
		if recordedAt.IsZero() {
			recordedAt = now
		}
		labels := datatypes.JSONMap{}
		for k, v := range r.Labels {
			labels[k] = v
		}
		rows = append(rows, &domain.SystemMetric{
			ID:         s.genID.Generate(),
			Name:       r.Name,
			Value:      r.Value,
			Labels:     labels,
			Source:     r.Source,
			RecordedAt: recordedAt.UTC(),
		})
	}

	if err := s.repo.InsertMetrics(ctx, s.db, rows, metricBatchSize); err != nil {
		s.log.Error("failed to store metrics", zap.Int("rows", len(rows)), zap.Error(err))
		return 0, err
	}
	return len(rows), nil
}

// CheckHealth never fails on an unreachable database; the report says so instead.
func (s *Service) CheckHealth(ctx context.Context) (domain.HealthReport, error) {
	now := s.clock.Now()
	report := domain.HealthReport{
		Status:            domain.HealthStatusHealthy,
		DatabaseReachable: true,
		CheckedAt:         now,
	}

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := s.repo.Ping(pingCtx, s.db); err != nil {
		report.Status = domain.HealthStatusUnhealthy
		report.DatabaseReachable = false
		report.DatabaseError = err.Error()
		return report, nil
	}

	count, err := s.repo.CountUnresolvedSince(pingCtx, s.db, now.Add(-recentErrorWindow))
	if err != nil {
		return domain.HealthReport{}, err
	}
	report.RecentUnresolvedErrors = count
	if count > 0 {
		report.Status = domain.HealthStatusDegraded
	}
	return report, nil
}

func (s *Service) PerformanceStats(ctx context.Context, window time.Duration) (domain.PerformanceStats, error) {
	if window <= 0 {
		return domain.PerformanceStats{}, domain.ErrInvalidWindow
	}
	now := s.clock.Now()
	since := now.Add(-window)

	samples, err := s.repo.MetricsSince(ctx, s.db, domain.MetricHTTPResponseTimeMs, since)
	if err != nil {
		return domain.PerformanceStats{}, err
	}

	stats := domain.PerformanceStats{
		WindowSeconds: int64(window / time.Second),
		RequestCount:  len(samples),
		ComputedAt:    now,
	}
	if len(samples) > 0 {
		values := make([]float64, 0, len(samples))
		var sum float64
		var failed int
		for _, sample := range samples {
			values = append(values, sample.Value)
			sum += sample.Value
			if isServerError(sample.Labels) {
				failed++
			}
		}
		sort.Float64s(values)
		stats.AvgResponseTimeMs = sum / float64(len(values))
		stats.P95ResponseTimeMs = Percentile(values, 0.95)
		stats.P99ResponseTimeMs = Percentile(values, 0.99)
		stats.ErrorRatePercent = float64(failed) / float64(len(values)) * 100
	}

	latest := []struct {
		name   string
		target **float64
	}{
		{domain.MetricCPUUsagePercent, &stats.CPUUsagePercent},
		{domain.MetricMemoryUsagePercent, &stats.MemoryUsagePercent},
		{domain.MetricDiskUsagePercent, &stats.DiskUsagePercent},
	}
	for _, l := range latest {
		metric, err := s.repo.LatestMetric(ctx, s.db, l.name)
		if err != nil {
			return domain.PerformanceStats{}, err
		}
		if metric == nil || metric.RecordedAt.Before(since) {
			continue
		}
		value := metric.Value
		*l.target = &value
	}

	return stats, nil
}

type breach struct {
	alertType string
	message   string
	severity  domain.Severity
	metadata  map[string]any
}

// EvaluateAlerts compares the current health and the last alert window against
// the thresholds and raises one alert per breach. It returns the number raised.
func (s *Service) EvaluateAlerts(ctx context.Context) (int, error) {
	limits := s.thresholds.Get()

	health, err := s.CheckHealth(ctx)
	if err != nil {
		return 0, err
	}
	if !health.DatabaseReachable {
		s.raise(ctx, breach{
			alertType: domain.AlertDatabaseUnreachable,
			message:   "Database is unreachable",
			severity:  domain.SeverityCritical,
			metadata:  map[string]any{"error": health.DatabaseError},
		})
		return 1, nil
	}

	stats, err := s.PerformanceStats(ctx, s.alertWindow)
	if err != nil {
		return 0, err
	}

	var breaches []breach
	if health.RecentUnresolvedErrors > limits.UnresolvedErrors {
		breaches = append(breaches, breach{
			alertType: domain.AlertUnresolvedErrors,
			message:   fmt.Sprintf("%d unresolved errors in the last hour", health.RecentUnresolvedErrors),
			severity:  domain.SeverityWarning,
			metadata:  map[string]any{"count": health.RecentUnresolvedErrors, "threshold": limits.UnresolvedErrors},
		})
	}
	if stats.RequestCount > 0 && stats.AvgResponseTimeMs > limits.ResponseTimeMs {
		breaches = append(breaches, breach{
			alertType: domain.AlertHighResponseTime,
			message:   fmt.Sprintf("Average response time %.0fms exceeds %.0fms", stats.AvgResponseTimeMs, limits.ResponseTimeMs),
			severity:  domain.SeverityWarning,
			metadata: map[string]any{
				"avg_ms":    stats.AvgResponseTimeMs,
				"p95_ms":    stats.P95ResponseTimeMs,
				"p99_ms":    stats.P99ResponseTimeMs,
				"threshold": limits.ResponseTimeMs,
			},
		})
	}
	if stats.RequestCount > 0 && stats.ErrorRatePercent > limits.ErrorRatePercent {
		breaches = append(breaches, breach{
			alertType: domain.AlertHighErrorRate,
			message:   fmt.Sprintf("Error rate %.1f%% exceeds %.1f%%", stats.ErrorRatePercent, limits.ErrorRatePercent),
			severity:  domain.SeverityError,
			metadata:  map[string]any{"error_rate": stats.ErrorRatePercent, "requests": stats.RequestCount, "threshold": limits.ErrorRatePercent},
		})
	}
	breaches = appendUsageBreach(breaches, stats.CPUUsagePercent, limits.CPUPercent, domain.AlertHighCPUUsage, "CPU", domain.SeverityWarning)
	breaches = appendUsageBreach(breaches, stats.MemoryUsagePercent, limits.MemoryPercent, domain.AlertHighMemoryUsage, "Memory", domain.SeverityWarning)
	breaches = appendUsageBreach(breaches, stats.DiskUsagePercent, limits.DiskPercent, domain.AlertHighDiskUsage, "Disk", domain.SeverityError)

	for _, b := range breaches {
		s.raise(ctx, b)
	}
	return len(breaches), nil
}

func appendUsageBreach(breaches []breach, value *float64, limit float64, alertType, label string, severity domain.Severity) []breach {
	if value == nil || *value <= limit {
		return breaches
	}
	return append(breaches, breach{
		alertType: alertType,
		message:   fmt.Sprintf("%s usage %.1f%% exceeds %.1f%%", label, *value, limit),
		severity:  severity,
		metadata:  map[string]any{"value": *value, "threshold": limit},
	})
}

func (s *Service) raise(ctx context.Context, b breach) {
	if _, err := s.SendAlert(ctx, b.alertType, b.message, b.severity, b.metadata); err != nil {
		s.log.Error("failed to record alert",
			zap.String("alert_type", b.alertType),
			zap.String("severity", string(b.severity)),
			zap.Error(err),
		)
	}
}

// SendAlert writes the error log and, for error and critical severities, asks
// admins to look. Admin notification failures are logged only.
func (s *Service) SendAlert(ctx context.Context, alertType, message string, severity domain.Severity, metadata map[string]any) (domain.ErrorLog, error) {
	alertType = strings.TrimSpace(alertType)
	message = strings.TrimSpace(message)
	if alertType == "" {
		return domain.ErrorLog{}, domain.ErrInvalidType
	}
	if message == "" {
		return domain.ErrorLog{}, domain.ErrInvalidMessage
	}
	if !severity.Valid() {
		return domain.ErrorLog{}, domain.ErrInvalidSeverity
	}

	meta := datatypes.JSONMap{}
	for k, v := range metadata {
		meta[k] = v
	}
	item := &domain.ErrorLog{
		ID:        s.genID.Generate(),
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		Metadata:  meta,
		CreatedAt: s.clock.Now(),
	}

	s.log.Warn("alert raised",
		zap.String("alert_type", alertType),
		zap.String("severity", string(severity)),
		zap.String("message", message),
		zap.Any("metadata", metadata),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordAlert(ctx, alertType, string(severity))
	}

	insertErr := s.repo.InsertErrorLog(ctx, s.db, item)
	if severity.NotifiesAdmins() {
		s.notifyAdmins(ctx, item)
	}
	if insertErr != nil {
		return domain.ErrorLog{}, insertErr
	}
	return *item, nil
}

func (s *Service) notifyAdmins(ctx context.Context, item *domain.ErrorLog) {
	if s.adminNotifier == nil {
		return
	}
	priority := notificationdomain.PriorityHigh
	if item.Severity == domain.SeverityCritical {
		priority = notificationdomain.PriorityUrgent
	}
	_, err := s.adminNotifier.NotifyAdmins(ctx, notificationdomain.Template{
		Type:     alertNotificationType,
		Title:    fmt.Sprintf("Systemlarm: %s", item.Type),
		Message:  item.Message,
		Priority: priority,
		Metadata: datatypes.JSONMap{
			"alert_type":   item.Type,
			"severity":     string(item.Severity),
			"error_log_id": item.ID.String(),
		},
	})
	if err != nil {
		s.log.Warn("failed to notify admins about alert",
			zap.String("alert_type", item.Type),
			zap.String("error_log_id", item.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) ResolveError(ctx context.Context, id snowflake.ID) (domain.ErrorLog, error) {
	item, err := s.repo.FindErrorLog(ctx, s.db, id)
	if err != nil {
		return domain.ErrorLog{}, err
	}
	if item == nil {
		return domain.ErrorLog{}, domain.ErrNotFound
	}
	if item.Resolved {
		return *item, nil
	}

	now := s.clock.Now()
	if _, err := s.repo.ResolveErrorLog(ctx, s.db, id, now); err != nil {
		return domain.ErrorLog{}, err
	}
	item, err = s.repo.FindErrorLog(ctx, s.db, id)
	if err != nil {
		return domain.ErrorLog{}, err
	}
	if item == nil {
		return domain.ErrorLog{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ListErrors(ctx context.Context, req domain.ListErrorsRequest) (domain.ListErrorsResponse, error) {
	if req.Severity != "" && !req.Severity.Valid() {
		return domain.ListErrorsResponse{}, domain.ErrInvalidSeverity
	}
	items, err := s.repo.ListErrorLogs(ctx, s.db, req.ErrorLogFilter, req.Pagination)
	if err != nil {
		return domain.ListErrorsResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Limit(), func(e *domain.ErrorLog) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.Int64(), CreatedAt: e.CreatedAt}
	})
	out := make([]domain.ErrorLog, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListErrorsResponse{PageInfo: pageInfo, Errors: out}, nil
}

func (s *Service) PurgeMetrics(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, domain.ErrInvalidWindow
	}
	removed, err := s.repo.DeleteMetricsBefore(ctx, s.db, s.clock.Now().Add(-olderThan))
	if err != nil {
		s.log.Error("failed to purge metrics", zap.Duration("older_than", olderThan), zap.Error(err))
		return 0, err
	}
	return removed, nil
}

func isServerError(labels datatypes.JSONMap) bool {
	raw, ok := labels["status"]
	if !ok {
		return false
	}
	var status int
	switch v := raw.(type) {
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return false
		}
		status = parsed
	case float64:
		status = int(v)
	default:
		return false
	}
	return status >= 500
}
