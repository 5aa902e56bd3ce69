package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	"github.com/smajobb/marketplace/internal/monitoring/domain"
	"github.com/smajobb/marketplace/internal/monitoring/repository"
	monitoringservice "github.com/smajobb/marketplace/internal/monitoring/service"
	"github.com/smajobb/marketplace/internal/monitoring/telemetry"
	notificationdomain "github.com/smajobb/marketplace/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSource struct {
	readings []telemetry.Reading
	err      error
}

func (f *fakeSource) Collect(ctx context.Context) ([]telemetry.Reading, error) {
	return f.readings, f.err
}

type recordingAdminNotifier struct {
	mu        sync.Mutex
	templates []notificationdomain.Template
	err       error
}

func (n *recordingAdminNotifier) NotifyAdmins(ctx context.Context, tpl notificationdomain.Template) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.templates = append(n.templates, tpl)
	return 1, n.err
}

func (n *recordingAdminNotifier) alertTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.templates))
	for _, tpl := range n.templates {
		out = append(out, fmt.Sprint(tpl.Metadata["alert_type"]))
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	svc      *monitoringservice.Service
	clock    *clock.FakeClock
	source   *fakeSource
	recorder *telemetry.RequestRecorder
	notifier *recordingAdminNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(12)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	f := &fixture{
		db:       db,
		clock:    clock.NewFakeClock(time.Now()),
		source:   &fakeSource{},
		recorder: telemetry.NewRequestRecorder(),
		notifier: &recordingAdminNotifier{},
	}
	f.svc = monitoringservice.NewService(monitoringservice.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         f.clock,
		Config:        config.Config{Monitoring: config.MonitoringConfig{AlertInterval: 5 * time.Minute}},
		Thresholds:    config.NewStaticThresholds(config.DefaultThresholds()),
		Repo:          repository.Provide(),
		Source:        f.source,
		Recorder:      f.recorder,
		AdminNotifier: f.notifier,
	})
	return f
}

func (f *fixture) reading(name string, value float64) telemetry.Reading {
	return telemetry.Reading{Name: name, Value: value, Source: domain.SourceProcess, At: f.clock.Now()}
}

func (f *fixture) errorLogTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	require.NoError(t, f.db.Model(&domain.ErrorLog{}).Order("type").Pluck("type", &types).Error)
	return types
}

func TestPercentileNearestRank(t *testing.T) {
	ten := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	hundred := make([]float64, 100)
	for i := range hundred {
		hundred[i] = float64(i + 1)
	}

	cases := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.95, 0},
		{"single", []float64{7}, 0.99, 7},
		{"p50 of ten", ten, 0.5, 5},
		{"p95 of ten", ten, 0.95, 10},
		{"p0 clamps low", ten, 0, 1},
		{"p95 of hundred", hundred, 0.95, 95},
		{"p99 of hundred", hundred, 0.99, 99},
		{"p above one clamps high", hundred, 1.5, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, monitoringservice.Percentile(tc.sorted, tc.p))
		})
	}
}

func TestCollectMetricsStoresReadingsAndRequestSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.readings = []telemetry.Reading{
		f.reading(domain.MetricCPUUsagePercent, 12.5),
		f.reading(domain.MetricGoroutineCount, 40),
	}
	f.source.err = errors.New("disk_usage_percent: statfs failed")
	f.recorder.Record(200, 120*time.Millisecond)

	n, err := f.svc.CollectMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var stored []domain.SystemMetric
	require.NoError(t, f.db.Order("name").Find(&stored).Error)
	require.Len(t, stored, 3)
	assert.Equal(t, domain.MetricCPUUsagePercent, stored[0].Name)
	assert.Equal(t, domain.MetricHTTPResponseTimeMs, stored[2].Name)
	assert.Equal(t, "200", stored[2].Labels["status"])

	samples, _ := f.recorder.Drain()
	assert.Empty(t, samples)
}

func TestCollectMetricsFailsWhenNothingSampled(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("gather failed")

	_, err := f.svc.CollectMetrics(context.Background())
	require.Error(t, err)
}

func TestCheckHealthCountsRecentUnresolvedErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendAlert(ctx, "old", "old failure", domain.SeverityWarning, nil)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	report, err := f.svc.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusHealthy, report.Status)
	assert.True(t, report.DatabaseReachable)
	assert.Zero(t, report.RecentUnresolvedErrors)

	recent, err := f.svc.SendAlert(ctx, "recent", "recent failure", domain.SeverityWarning, nil)
	require.NoError(t, err)

	report, err = f.svc.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
	assert.Equal(t, int64(1), report.RecentUnresolvedErrors)

	_, err = f.svc.ResolveError(ctx, recent.ID)
	require.NoError(t, err)
	report, err = f.svc.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.RecentUnresolvedErrors)
}

func TestCheckHealthReportsUnreachableDatabase(t *testing.T) {
	f := newFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	report, err := f.svc.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, report.DatabaseReachable)
	assert.Equal(t, domain.HealthStatusUnhealthy, report.Status)
	assert.NotEmpty(t, report.DatabaseError)
}

func TestPerformanceStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		f.recorder.Record(200, time.Duration(i*100)*time.Millisecond)
	}
	f.recorder.Record(500, 900*time.Millisecond)
	f.recorder.Record(503, 1000*time.Millisecond)
	f.source.readings = []telemetry.Reading{f.reading(domain.MetricCPUUsagePercent, 33)}
	_, err := f.svc.CollectMetrics(ctx)
	require.NoError(t, err)

	stats, err := f.svc.PerformanceStats(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.RequestCount)
	assert.InDelta(t, 550.0, stats.AvgResponseTimeMs, 1.0)
	assert.InDelta(t, 1000.0, stats.P95ResponseTimeMs, 1.0)
	assert.InDelta(t, 1000.0, stats.P99ResponseTimeMs, 1.0)
	assert.InDelta(t, 20.0, stats.ErrorRatePercent, 1e-9)
	require.NotNil(t, stats.CPUUsagePercent)
	assert.Equal(t, 33.0, *stats.CPUUsagePercent)
	assert.Nil(t, stats.DiskUsagePercent)

	_, err = f.svc.PerformanceStats(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func TestEvaluateAlertsRaisesOnePerBreach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.recorder.Record(200, 3*time.Second)
	f.recorder.Record(500, 3*time.Second)
	f.source.readings = []telemetry.Reading{
		f.reading(domain.MetricCPUUsagePercent, 95),
		f.reading(domain.MetricMemoryUsagePercent, 10),
		f.reading(domain.MetricDiskUsagePercent, 97),
	}
	_, err := f.svc.CollectMetrics(ctx)
	require.NoError(t, err)

	raised, err := f.svc.EvaluateAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, raised)
	assert.Equal(t, []string{
		domain.AlertHighCPUUsage,
		domain.AlertHighDiskUsage,
		domain.AlertHighErrorRate,
		domain.AlertHighResponseTime,
	}, f.errorLogTypes(t))

	assert.ElementsMatch(t, []string{domain.AlertHighErrorRate, domain.AlertHighDiskUsage}, f.notifier.alertTypes())
}

func TestEvaluateAlertsQuietWhenWithinThresholds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.recorder.Record(200, 50*time.Millisecond)
	f.source.readings = []telemetry.Reading{f.reading(domain.MetricCPUUsagePercent, 5)}
	_, err := f.svc.CollectMetrics(ctx)
	require.NoError(t, err)

	raised, err := f.svc.EvaluateAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, raised)
	assert.Empty(t, f.errorLogTypes(t))
}

func TestEvaluateAlertsIgnoresStaleSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.readings = []telemetry.Reading{f.reading(domain.MetricCPUUsagePercent, 99)}
	_, err := f.svc.CollectMetrics(ctx)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	raised, err := f.svc.EvaluateAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, raised)
}

func TestEvaluateAlertsDatabaseUnreachable(t *testing.T) {
	f := newFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	raised, err := f.svc.EvaluateAlerts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, raised)
	assert.Equal(t, []string{domain.AlertDatabaseUnreachable}, f.notifier.alertTypes())
}

func TestSendAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendAlert(ctx, "", "m", domain.SeverityInfo, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidType)
	_, err = f.svc.SendAlert(ctx, "t", " ", domain.SeverityInfo, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
	_, err = f.svc.SendAlert(ctx, "t", "m", domain.Severity("fatal"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSeverity)

	item, err := f.svc.SendAlert(ctx, "slow_job", "job slow", domain.SeverityWarning, map[string]any{"job": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", item.Metadata["job"])
	assert.False(t, item.Resolved)
	assert.Empty(t, f.notifier.alertTypes())

	f.notifier.err = errors.New("notification store down")
	_, err = f.svc.SendAlert(ctx, "payments_down", "psp down", domain.SeverityCritical, nil)
	require.NoError(t, err)
	require.Len(t, f.notifier.templates, 1)
	assert.Equal(t, notificationdomain.PriorityUrgent, f.notifier.templates[0].Priority)
	assert.Equal(t, "system_alert", f.notifier.templates[0].Type)
}

func TestResolveError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.SendAlert(ctx, "t", "m", domain.SeverityError, nil)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	resolved, err := f.svc.ResolveError(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)
	firstResolvedAt := *resolved.ResolvedAt

	f.clock.Advance(time.Minute)
	again, err := f.svc.ResolveError(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, again.ResolvedAt)
	assert.True(t, again.ResolvedAt.Equal(firstResolvedAt))

	_, err = f.svc.ResolveError(ctx, snowflake.ID(12345))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListErrorsFiltersUnresolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.SendAlert(ctx, "a", "m", domain.SeverityWarning, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.SendAlert(ctx, "b", "m", domain.SeverityWarning, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.SendAlert(ctx, "c", "m", domain.SeverityInfo, nil)
	require.NoError(t, err)
	_, err = f.svc.ResolveError(ctx, first.ID)
	require.NoError(t, err)

	unresolved := false
	resp, err := f.svc.ListErrors(ctx, domain.ListErrorsRequest{
		ErrorLogFilter: domain.ErrorLogFilter{Resolved: &unresolved},
	})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 2)
	assert.Equal(t, "c", resp.Errors[0].Type)
	assert.False(t, resp.HasMore)

	resp, err = f.svc.ListErrors(ctx, domain.ListErrorsRequest{
		ErrorLogFilter: domain.ErrorLogFilter{Severity: domain.SeverityWarning},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Errors, 2)

	_, err = f.svc.ListErrors(ctx, domain.ListErrorsRequest{ErrorLogFilter: domain.ErrorLogFilter{Severity: "loud"}})
	assert.ErrorIs(t, err, domain.ErrInvalidSeverity)
}

func TestPurgeMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.readings = []telemetry.Reading{f.reading(domain.MetricThreadCount, 8)}
	_, err := f.svc.CollectMetrics(ctx)
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	f.source.readings = []telemetry.Reading{f.reading(domain.MetricThreadCount, 9)}
	_, err = f.svc.CollectMetrics(ctx)
	require.NoError(t, err)

	removed, err := f.svc.PurgeMetrics(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = f.svc.PurgeMetrics(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE system_metrics (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			labels TEXT NOT NULL DEFAULT '{}',
			source TEXT NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE TABLE error_logs (
			id BIGINT PRIMARY KEY,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
