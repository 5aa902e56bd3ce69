package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/clock"
	monitoringdomain "github.com/smajobb/marketplace/internal/monitoring/domain"
	notificationdomain "github.com/smajobb/marketplace/internal/notification/domain"
	obsmetrics "github.com/smajobb/marketplace/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobMetricSampling      = "metric_sampling"
	JobAlertEvaluation     = "alert_evaluation"
	JobNotificationCleanup = "notification_cleanup"
	JobMetricRetention     = "metric_retention"
)

const (
	panicAlertTimeout = 5 * time.Second
	leaseKeyPrefix    = "smajobb:scheduler:lease:"
	leaseMargin       = time.Second
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_job")
)

type Params struct {
	fx.In

	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Config          Config                      `optional:"true"`
	Metrics         *obsmetrics.SchedulerMetrics `optional:"true"`
	MonitoringSvc   monitoringdomain.Service
	NotificationSvc notificationdomain.Service
	Locker          JobLocker `optional:"true"`
}

// JobLocker grants one instance the lease on a job tick.
type JobLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Job is one independently scheduled unit of work.
type Job struct {
	Name          string
	Interval      time.Duration
	RetryInterval time.Duration
	Timeout       time.Duration
	Run           func(ctx context.Context) error
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	metrics         *obsmetrics.SchedulerMetrics
	monitoringSvc   monitoringdomain.Service
	notificationSvc notificationdomain.Service
	locker          JobLocker
	jobs            []Job

	// wait blocks for d or until ctx is done and reports whether the loop should continue.
	wait func(ctx context.Context, d time.Duration) bool
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.MonitoringSvc == nil || p.NotificationSvc == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		metrics:         p.Metrics,
		monitoringSvc:   p.MonitoringSvc,
		notificationSvc: p.NotificationSvc,
		locker:          p.Locker,
		wait:            sleepContext,
	}
	s.jobs = s.buildJobs()
	return s, nil
}

func (s *Scheduler) buildJobs() []Job {
	all := []Job{
		{
			Name:          JobMetricSampling,
			Interval:      s.cfg.SampleInterval,
			RetryInterval: s.cfg.SampleRetryInterval,
			Timeout:       s.cfg.JobTimeout,
			Run:           s.MetricSamplingJob,
		},
		{
			Name:     JobAlertEvaluation,
			Interval: s.cfg.AlertInterval,
			Timeout:  s.cfg.JobTimeout,
			Run:      s.AlertEvaluationJob,
		},
		{
			Name:     JobNotificationCleanup,
			Interval: s.cfg.CleanupInterval,
			Timeout:  s.cfg.JobTimeout,
			Run:      s.NotificationCleanupJob,
		},
		{
			Name:     JobMetricRetention,
			Interval: s.cfg.CleanupInterval,
			Timeout:  s.cfg.JobTimeout,
			Run:      s.MetricRetentionJob,
		},
	}

	jobs := make([]Job, 0, len(all))
	for _, job := range all {
		if s.isJobEnabled(job.Name) {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Jobs returns the enabled jobs in registration order.
func (s *Scheduler) Jobs() []Job {
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) job(name string) (Job, bool) {
	for _, job := range s.jobs {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}

// RunJob executes a single tick of the named job.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	job, ok := s.job(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runJob(ctx, job)
}

// RunOnce executes one tick of every enabled job in order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	for _, job := range s.jobs {
		err = errors.Join(err, s.runJob(ctx, job))
	}
	return err
}

// RunForever starts one loop per job and blocks until ctx is cancelled and
// every loop has returned.
func (s *Scheduler) RunForever(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	nextRun := s.clock.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(job.Name, lag)
		}

		delay := job.Interval
		if err := s.runJob(ctx, job); err != nil {
			if job.RetryInterval > 0 {
				delay = job.RetryInterval
			}
			s.log.Warn("scheduler job failed",
				zap.String("job", job.Name),
				zap.Duration("next_attempt_in", delay),
				zap.Error(err),
			)
		}
		nextRun = s.clock.Now().Add(delay)

		if !s.wait(ctx, delay) {
			return
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, job Job) (err error) {
	leaseToken, acquired := s.acquireLease(parent, job)
	if !acquired {
		s.log.Debug("scheduler job skipped, lease held elsewhere", zap.String("job", job.Name))
		return nil
	}

	start := s.clock.Now()
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = s.cfg.JobTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, job.Name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(job.Name)

	defer func() {
		if recovered := recover(); recovered != nil {
			err = s.handlePanic(ctx, run, recovered)
		}
		if err != nil {
			s.releaseLease(ctx, job, leaseToken)
		}
		s.metrics.ObserveJobDuration(job.Name, s.clock.Now().Sub(start))
		s.logJobFinish(ctx, run)
	}()

	err = job.Run(ctx)
	if err == nil {
		return nil
	}
	run.IncError()

	// deadline is a soft timeout
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(job.Name)
	}
	s.metrics.IncJobError(job.Name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", job.Name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", job.Name, err)
}

// handlePanic turns a recovered panic into a logged alert so the loop keeps running.
func (s *Scheduler) handlePanic(ctx context.Context, run *jobRun, recovered any) error {
	s.metrics.IncJobPanic(run.job)
	err := fmt.Errorf("%s: panic: %v", run.job, recovered)
	s.logJobError(ctx, run, "scheduler.job.panic", err, zap.ByteString("stack", debug.Stack()))

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), panicAlertTimeout)
	defer cancel()
	_, alertErr := s.monitoringSvc.SendAlert(alertCtx,
		monitoringdomain.AlertPollerPanic,
		fmt.Sprintf("Scheduler job %s panicked: %v", run.job, recovered),
		monitoringdomain.SeverityCritical,
		map[string]any{"job": run.job, "run_id": run.runID},
	)
	if alertErr != nil {
		s.logger(ctx).Error("failed to record panic alert",
			zap.String("job", run.job),
			zap.Error(alertErr),
		)
	}
	return err
}

// acquireLease reports whether this instance runs the current tick. The lease
// outlives the run and expires just before the next tick. Without a locker, or
// when redis fails, every instance runs.
func (s *Scheduler) acquireLease(ctx context.Context, job Job) (string, bool) {
	if s.locker == nil {
		return "", true
	}
	token, acquired, err := s.locker.TryLock(ctx, leaseKeyPrefix+job.Name, leaseTTL(job.Interval))
	if err != nil {
		s.log.Warn("scheduler lease unavailable, running unguarded",
			zap.String("job", job.Name),
			zap.Error(err),
		)
		return "", true
	}
	return token, acquired
}

// releaseLease frees the lease after a failed run so another instance may retry.
func (s *Scheduler) releaseLease(ctx context.Context, job Job, token string) {
	if s.locker == nil || token == "" {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), panicAlertTimeout)
	defer cancel()
	if err := s.locker.Release(releaseCtx, leaseKeyPrefix+job.Name, token); err != nil {
		s.log.Warn("failed to release scheduler lease", zap.String("job", job.Name), zap.Error(err))
	}
}

func leaseTTL(interval time.Duration) time.Duration {
	ttl := interval - leaseMargin
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func (s *Scheduler) MetricSamplingJob(ctx context.Context) error {
	stored, err := s.monitoringSvc.CollectMetrics(ctx)
	s.recordProcessed(ctx, JobMetricSampling, "system_metrics", int64(stored))
	return err
}

func (s *Scheduler) AlertEvaluationJob(ctx context.Context) error {
	raised, err := s.monitoringSvc.EvaluateAlerts(ctx)
	s.recordProcessed(ctx, JobAlertEvaluation, "error_logs", int64(raised))
	return err
}

// NotificationCleanupJob removes expired notifications, then read ones older
// than the configured age. Both steps run even if the first fails.
func (s *Scheduler) NotificationCleanupJob(ctx context.Context) error {
	var jobErr error

	expired, err := s.notificationSvc.CleanupExpired(ctx)
	if err != nil {
		jobErr = errors.Join(jobErr, fmt.Errorf("cleanup expired: %w", err))
	}
	s.recordProcessed(ctx, JobNotificationCleanup, "notifications", expired)

	old, err := s.notificationSvc.CleanupOld(ctx, s.cfg.NotificationMaxAgeDays)
	if err != nil {
		jobErr = errors.Join(jobErr, fmt.Errorf("cleanup old: %w", err))
	}
	s.recordProcessed(ctx, JobNotificationCleanup, "notifications", old)

	return jobErr
}

func (s *Scheduler) MetricRetentionJob(ctx context.Context) error {
	removed, err := s.monitoringSvc.PurgeMetrics(ctx, s.cfg.MetricRetention)
	s.recordProcessed(ctx, JobMetricRetention, "system_metrics", removed)
	return err
}

func (s *Scheduler) recordProcessed(ctx context.Context, job, resource string, count int64) {
	if count <= 0 {
		return
	}
	jobRunFromContext(ctx).AddProcessed(count)
	s.metrics.AddItemsProcessed(job, resource, count)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
