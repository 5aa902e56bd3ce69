package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smajobb/marketplace/internal/monitoring/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	registry  *prometheus.Registry
	cpu       prometheus.Counter
	resident  prometheus.Gauge
	startTime prometheus.Gauge
	gc        prometheus.Summary
}

func newFakeProcess(t *testing.T, started time.Time) *fakeProcess {
	t.Helper()
	p := &fakeProcess{
		registry:  prometheus.NewRegistry(),
		cpu:       prometheus.NewCounter(prometheus.CounterOpts{Name: familyCPUSeconds, Help: "cpu"}),
		resident:  prometheus.NewGauge(prometheus.GaugeOpts{Name: familyResidentMemory, Help: "rss"}),
		startTime: prometheus.NewGauge(prometheus.GaugeOpts{Name: familyStartTime, Help: "start"}),
		gc:        prometheus.NewSummary(prometheus.SummaryOpts{Name: familyGCDuration, Help: "gc"}),
	}
	goroutines := prometheus.NewGauge(prometheus.GaugeOpts{Name: familyGoroutines, Help: "goroutines"})
	threads := prometheus.NewGauge(prometheus.GaugeOpts{Name: familyThreads, Help: "threads"})
	goroutines.Set(42)
	threads.Set(9)
	p.startTime.Set(float64(started.Unix()))
	p.registry.MustRegister(p.cpu, p.resident, p.startTime, p.gc, goroutines, threads)
	return p
}

func valuesByName(readings []Reading) map[string]float64 {
	out := make(map[string]float64, len(readings))
	for _, r := range readings {
		out[r.Name] = r.Value
	}
	return out
}

func TestCollectReadsEveryMetric(t *testing.T) {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	now := started.Add(100 * time.Second)
	proc := newFakeProcess(t, started)
	proc.cpu.Add(50)
	proc.resident.Set(250)
	proc.gc.Observe(0.001)
	proc.gc.Observe(0.003)

	src := NewSourceWithOptions(Options{
		Gatherer:    proc.registry,
		NumCPU:      2,
		Now:         func() time.Time { return now },
		MemoryLimit: func() (uint64, error) { return 1000, nil },
		DiskUsage:   func(string) (float64, error) { return 61.5, nil },
	})

	readings, err := src.Collect(context.Background())
	require.NoError(t, err)
	values := valuesByName(readings)
	require.Len(t, values, 7)

	assert.InDelta(t, 25.0, values[domain.MetricCPUUsagePercent], 1e-9)
	assert.InDelta(t, 25.0, values[domain.MetricMemoryUsagePercent], 1e-9)
	assert.Equal(t, 250.0, values[domain.MetricMemoryResidentBytes])
	assert.Equal(t, 61.5, values[domain.MetricDiskUsagePercent])
	assert.Equal(t, 42.0, values[domain.MetricGoroutineCount])
	assert.Equal(t, 9.0, values[domain.MetricThreadCount])
	assert.InDelta(t, 0.002, values[domain.MetricGCPauseSeconds], 1e-12)
	for _, r := range readings {
		assert.Equal(t, domain.SourceProcess, r.Source)
		assert.True(t, r.At.Equal(now))
	}
}

func TestCPUPercentUsesDeltaSincePreviousSample(t *testing.T) {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	now := started.Add(10 * time.Second)
	proc := newFakeProcess(t, started)
	proc.cpu.Add(1)

	src := NewSourceWithOptions(Options{
		Gatherer:    proc.registry,
		NumCPU:      1,
		Now:         func() time.Time { return now },
		MemoryLimit: func() (uint64, error) { return 1000, nil },
		DiskUsage:   func(string) (float64, error) { return 1, nil },
	})

	first, err := src.Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10.0, valuesByName(first)[domain.MetricCPUUsagePercent], 1e-9)

	now = now.Add(4 * time.Second)
	proc.cpu.Add(2)
	second, err := src.Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, valuesByName(second)[domain.MetricCPUUsagePercent], 1e-9)
}

func TestCollectIsolatesFailingMetrics(t *testing.T) {
	proc := newFakeProcess(t, time.Now().Add(-time.Minute))
	diskErr := errors.New("statfs failed")

	src := NewSourceWithOptions(Options{
		Gatherer:    proc.registry,
		MemoryLimit: func() (uint64, error) { return 0, ErrUnsupported },
		DiskUsage:   func(string) (float64, error) { return 0, diskErr },
	})

	readings, err := src.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, diskErr)
	assert.ErrorIs(t, err, ErrUnsupported)

	values := valuesByName(readings)
	assert.Len(t, values, 5)
	assert.NotContains(t, values, domain.MetricDiskUsagePercent)
	assert.NotContains(t, values, domain.MetricMemoryUsagePercent)
	assert.Contains(t, values, domain.MetricGoroutineCount)
}

func TestCollectWithoutFamilies(t *testing.T) {
	src := NewSourceWithOptions(Options{
		Gatherer:    prometheus.NewRegistry(),
		MemoryLimit: func() (uint64, error) { return 1, nil },
		DiskUsage:   func(string) (float64, error) { return 10, nil },
	})

	readings, err := src.Collect(context.Background())
	assert.ErrorIs(t, err, ErrMetricUnavailable)
	require.Len(t, readings, 1)
	assert.Equal(t, domain.MetricDiskUsagePercent, readings[0].Name)
}

func TestCollectStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewSourceWithOptions(Options{Gatherer: prometheus.NewRegistry()})
	readings, err := src.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, readings)
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, clampPercent(-3))
	assert.Equal(t, 100.0, clampPercent(250))
	assert.Equal(t, 42.0, clampPercent(42))
}

func TestRequestRecorderMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := NewRequestRecorder()

	r := gin.New()
	r.Use(rec.Middleware())
	r.GET("/api/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/boom", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/ok", "/api/boom", "/health"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	samples, dropped := rec.Drain()
	require.Len(t, samples, 2)
	assert.Zero(t, dropped)
	assert.Equal(t, "200", samples[0].Labels["status"])
	assert.Equal(t, "503", samples[1].Labels["status"])
	assert.Equal(t, domain.MetricHTTPResponseTimeMs, samples[0].Name)
	assert.Equal(t, domain.SourceHTTP, samples[0].Source)

	again, _ := rec.Drain()
	assert.Empty(t, again)
}

func TestRequestRecorderDropsBeyondCapacity(t *testing.T) {
	rec := NewRequestRecorder()
	rec.capacity = 2

	rec.Record(200, time.Millisecond)
	rec.Record(200, 2*time.Millisecond)
	rec.Record(500, 3*time.Millisecond)

	samples, dropped := rec.Drain()
	require.Len(t, samples, 2)
	assert.Equal(t, uint64(1), dropped)
	assert.InDelta(t, 2.0, samples[1].Value, 1e-9)
}
