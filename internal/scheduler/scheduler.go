package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/leadcore/internal/clock"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	obsmetrics "github.com/smallbiznis/leadcore/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobUsagePurge = "usage_purge"
	JobPauseSweep = "pause_sweep"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Maintenance is the cost guard surface driven by scheduled jobs.
type Maintenance interface {
	SweepExpiredPauses(ctx context.Context) (int64, error)
	PurgeUsageBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	CostGuard costdomain.Service
	Config    Config `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	maintenance Maintenance
	cron        *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.CostGuard == nil {
		return nil, ErrInvalidConfig
	}
	return newScheduler(p.Log, p.GenID, p.Clock, p.CostGuard, p.Config), nil
}

func newScheduler(log *zap.Logger, genID *snowflake.Node, clk clock.Clock, maintenance Maintenance, cfg Config) *Scheduler {
	return &Scheduler{
		log:         log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         cfg.withDefaults(),
		genID:       genID,
		clock:       clk,
		maintenance: maintenance,
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job immediately.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobPauseSweep, s.runPauseSweep},
		{JobUsagePurge, s.runUsagePurge},
	}
	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) runPauseSweep(ctx context.Context) error {
	return s.runJob(ctx, JobPauseSweep, 0, s.cfg.JobTimeout, s.SweepPausesJob)
}

func (s *Scheduler) runUsagePurge(ctx context.Context) error {
	return s.runJob(ctx, JobUsagePurge, s.cfg.PurgeBatchLimit, s.cfg.JobTimeout, s.PurgeUsageJob)
}

// Start registers the jobs on a UTC cron and starts it.
func (s *Scheduler) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.Recover(cronLogger{log: s.log}),
			cron.SkipIfStillRunning(cronLogger{log: s.log}),
		),
	)

	entries := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobPauseSweep, s.cfg.PauseSweepSpec, s.runPauseSweep},
		{JobUsagePurge, s.cfg.UsagePurgeSpec, s.runUsagePurge},
	}
	for _, entry := range entries {
		if !s.isJobEnabled(entry.name) {
			continue
		}
		if _, err := c.AddFunc(entry.spec, func() {
			if err := entry.run(context.Background()); err != nil {
				s.log.Warn("scheduler job failed", zap.String("job", entry.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", entry.name, entry.spec, err)
		}
		s.log.Info("scheduler job registered", zap.String("job", entry.name), zap.String("spec", entry.spec))
	}

	s.cron = c
	c.Start()
	return nil
}

// Stop stops the cron and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	s.cron = nil
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
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

// SweepPausesJob lifts automatic pauses whose expiry has passed.
func (s *Scheduler) SweepPausesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPauseSweep, 0)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	cleared, err := s.maintenance.SweepExpiredPauses(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.pause_sweep.failed", JobPauseSweep, err)
		return err
	}
	run.AddProcessed(int(cleared))
	obsmetrics.Scheduler().AddBatchProcessed(JobPauseSweep, "tenant_pauses", cleared)
	if cleared > 0 {
		s.logger(ctx).Info("scheduler.pause_sweep.resumed", zap.Int64("tenants", cleared))
	}
	return nil
}

// PurgeUsageJob deletes usage records older than the retention window in
// batches until a short batch is returned.
func (s *Scheduler) PurgeUsageJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobUsagePurge, s.cfg.PurgeBatchLimit)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	cutoff := s.clock.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -s.cfg.RetentionDays)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := s.maintenance.PurgeUsageBefore(ctx, cutoff, s.cfg.PurgeBatchLimit)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.usage_purge.failed", JobUsagePurge, err,
				zap.Time("cutoff", cutoff),
			)
			return err
		}
		run.AddProcessed(int(deleted))
		obsmetrics.Scheduler().AddBatchProcessed(JobUsagePurge, "ai_usage_records", deleted)
		if deleted < int64(s.cfg.PurgeBatchLimit) {
			return nil
		}
	}
}

type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
