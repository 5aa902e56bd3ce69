package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/smajobb/marketplace/internal/config"
	"github.com/smajobb/marketplace/internal/monitoring/domain"
)

const (
	familyCPUSeconds     = "process_cpu_seconds_total"
	familyResidentMemory = "process_resident_memory_bytes"
	familyStartTime      = "process_start_time_seconds"
	familyGoroutines     = "go_goroutines"
	familyThreads        = "go_threads"
	familyGCDuration     = "go_gc_duration_seconds"
)

var (
	ErrMetricUnavailable = errors.New("metric_unavailable")
	ErrUnsupported       = errors.New("unsupported_platform")
)

// Reading is one sampled value. A zero At means "now" to the caller.
type Reading struct {
	Name   string
	Value  float64
	Labels map[string]string
	Source string
	At     time.Time
}

// Source samples process telemetry. It returns every reading it could take
// together with the joined errors of the ones it could not.
type Source interface {
	Collect(ctx context.Context) ([]Reading, error)
}

type Options struct {
	Gatherer    prometheus.Gatherer
	DataDir     string
	NumCPU      int
	Now         func() time.Time
	MemoryLimit func() (uint64, error)
	DiskUsage   func(path string) (float64, error)
}

type PrometheusSource struct {
	gatherer    prometheus.Gatherer
	dataDir     string
	numCPU      int
	now         func() time.Time
	memoryLimit func() (uint64, error)
	diskUsage   func(path string) (float64, error)

	mu         sync.Mutex
	lastCPU    float64
	lastSample time.Time
}

// NewSource samples a private registry holding the process and Go collectors.
func NewSource(cfg config.Config) *PrometheusSource {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return NewSourceWithOptions(Options{
		Gatherer: registry,
		DataDir:  cfg.Monitoring.DataDir,
	})
}

func NewSourceWithOptions(opts Options) *PrometheusSource {
	if opts.NumCPU <= 0 {
		opts.NumCPU = runtime.NumCPU()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MemoryLimit == nil {
		opts.MemoryLimit = memoryLimit
	}
	if opts.DiskUsage == nil {
		opts.DiskUsage = diskUsagePercent
	}
	return &PrometheusSource{
		gatherer:    opts.Gatherer,
		dataDir:     opts.DataDir,
		numCPU:      opts.NumCPU,
		now:         opts.Now,
		memoryLimit: opts.MemoryLimit,
		diskUsage:   opts.DiskUsage,
	}
}

type reader struct {
	name string
	read func(families map[string]*dto.MetricFamily, now time.Time) (float64, error)
}

func (s *PrometheusSource) Collect(ctx context.Context) ([]Reading, error) {
	now := s.now()

	var errs []error
	families := map[string]*dto.MetricFamily{}
	if s.gatherer != nil {
		gathered, err := s.gatherer.Gather()
		if err != nil {
			// Gather returns whatever it could collect next to the error.
			errs = append(errs, fmt.Errorf("gather: %w", err))
		}
		for _, family := range gathered {
			families[family.GetName()] = family
		}
	}

	readers := []reader{
		{domain.MetricCPUUsagePercent, s.cpuPercent},
		{domain.MetricMemoryUsagePercent, s.memoryPercent},
		{domain.MetricMemoryResidentBytes, func(f map[string]*dto.MetricFamily, _ time.Time) (float64, error) {
			return gaugeValue(f, familyResidentMemory)
		}},
		{domain.MetricDiskUsagePercent, func(map[string]*dto.MetricFamily, time.Time) (float64, error) {
			return s.diskUsage(s.dataDir)
		}},
		{domain.MetricGoroutineCount, func(f map[string]*dto.MetricFamily, _ time.Time) (float64, error) {
			return gaugeValue(f, familyGoroutines)
		}},
		{domain.MetricThreadCount, func(f map[string]*dto.MetricFamily, _ time.Time) (float64, error) {
			return gaugeValue(f, familyThreads)
		}},
		{domain.MetricGCPauseSeconds, func(f map[string]*dto.MetricFamily, _ time.Time) (float64, error) {
			return summaryMean(f, familyGCDuration)
		}},
	}

	readings := make([]Reading, 0, len(readers))
	for _, r := range readers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		value, err := r.read(families, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
			continue
		}
		readings = append(readings, Reading{
			Name:   r.name,
			Value:  value,
			Source: domain.SourceProcess,
			At:     now,
		})
	}

	return readings, errors.Join(errs...)
}

// cpuPercent is CPU time over wall time since the previous sample, or since
// process start on the first call, scaled to all cores.
func (s *PrometheusSource) cpuPercent(families map[string]*dto.MetricFamily, now time.Time) (float64, error) {
	cpuSeconds, err := counterValue(families, familyCPUSeconds)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevCPU, prevAt := s.lastCPU, s.lastSample
	if prevAt.IsZero() {
		startSeconds, err := gaugeValue(families, familyStartTime)
		if err != nil {
			return 0, err
		}
		prevCPU = 0
		prevAt = time.Unix(0, int64(startSeconds*float64(time.Second)))
	}
	s.lastCPU, s.lastSample = cpuSeconds, now

	wall := now.Sub(prevAt).Seconds()
	if wall <= 0 {
		return 0, ErrMetricUnavailable
	}
	pct := (cpuSeconds - prevCPU) / wall / float64(s.numCPU) * 100
	return clampPercent(pct), nil
}

func (s *PrometheusSource) memoryPercent(families map[string]*dto.MetricFamily, _ time.Time) (float64, error) {
	resident, err := gaugeValue(families, familyResidentMemory)
	if err != nil {
		return 0, err
	}
	limit, err := s.memoryLimit()
	if err != nil {
		return 0, err
	}
	if limit == 0 {
		return 0, ErrMetricUnavailable
	}
	return clampPercent(resident / float64(limit) * 100), nil
}

// memoryLimit prefers the Go runtime soft limit and falls back to host memory.
func memoryLimit() (uint64, error) {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return uint64(limit), nil
	}
	return totalMemory()
}

func gaugeValue(families map[string]*dto.MetricFamily, name string) (float64, error) {
	metric, err := firstMetric(families, name)
	if err != nil {
		return 0, err
	}
	if metric.GetGauge() == nil {
		return 0, fmt.Errorf("%s is not a gauge: %w", name, ErrMetricUnavailable)
	}
	return metric.GetGauge().GetValue(), nil
}

func counterValue(families map[string]*dto.MetricFamily, name string) (float64, error) {
	metric, err := firstMetric(families, name)
	if err != nil {
		return 0, err
	}
	if metric.GetCounter() == nil {
		return 0, fmt.Errorf("%s is not a counter: %w", name, ErrMetricUnavailable)
	}
	return metric.GetCounter().GetValue(), nil
}

func summaryMean(families map[string]*dto.MetricFamily, name string) (float64, error) {
	metric, err := firstMetric(families, name)
	if err != nil {
		return 0, err
	}
	summary := metric.GetSummary()
	if summary == nil {
		return 0, fmt.Errorf("%s is not a summary: %w", name, ErrMetricUnavailable)
	}
	if summary.GetSampleCount() == 0 {
		return 0, nil
	}
	return summary.GetSampleSum() / float64(summary.GetSampleCount()), nil
}

func firstMetric(families map[string]*dto.MetricFamily, name string) (*dto.Metric, error) {
	family, ok := families[name]
	if !ok || len(family.GetMetric()) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrMetricUnavailable)
	}
	return family.GetMetric()[0], nil
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
