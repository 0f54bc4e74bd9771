package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/clock"
	obsmetrics "github.com/rentfolio/rentfolio/internal/observability/metrics"
	"github.com/rentfolio/rentfolio/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

const (
	JobCloseDueCycles         = "close_due_cycles"
	JobDispatchPendingCharges = "dispatch_pending_charges"
	JobMarkOverdueCharges     = "mark_overdue_charges"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cycles  billingcycledomain.Service
	Charges chargedomain.Service
	Locks   *ratelimit.JobLocker `optional:"true"`
	Config  Config               `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	cycles  billingcycledomain.Service
	charges chargedomain.Service
	locks   *ratelimit.JobLocker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Cycles == nil || p.Charges == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		cycles:  p.Cycles,
		charges: p.Charges,
		locks:   p.Locks,
	}, nil
}

// runJob runs one named job under the system actor with a bounded
// context. A deadline counts as a soft timeout: metered and logged but
// never propagated, so one slow job cannot fail the whole run.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (int, error)) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = actorctx.WithActor(ctx, actorctx.System())

	if s.locks.Enabled() {
		token, acquired, err := s.locks.TryLockJob(ctx, name)
		if err != nil {
			// The DB row claims still keep workers apart, so a lock
			// outage degrades to claim-level contention.
			s.log.Warn("job lock unavailable", zap.String("job", name), zap.Error(err))
		} else if !acquired {
			s.log.Debug("job held by another instance", zap.String("job", name))
			return nil
		} else {
			defer func() {
				if releaseErr := s.locks.ReleaseJob(ctx, name, token); releaseErr != nil {
					s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(releaseErr))
				}
			}()
		}
	}

	runID := s.genID.Generate().String()
	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)
	log.Debug("scheduler.job.start", zap.Int("batch_size", s.cfg.BatchSize))

	processed, err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if processed > 0 {
		schedMetrics.AddBatchProcessed(name, jobResource(name), processed)
	}

	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("processed_count", processed),
	}
	if err == nil {
		log.Info("scheduler.job.finish", fields...)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("scheduler.job.timeout",
			append(fields, zap.Duration("timeout", timeout), zap.Error(err))...,
		)
		return nil
	}

	log.Error("scheduler.job.finish", append(fields, zap.Error(err))...)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{JobCloseDueCycles, func(ctx context.Context) (int, error) {
			return s.cycles.CloseDue(ctx, s.cfg.BatchSize)
		}},
		{JobDispatchPendingCharges, func(ctx context.Context) (int, error) {
			return s.charges.DispatchPending(ctx, s.cfg.BatchSize)
		}},
		{JobMarkOverdueCharges, func(ctx context.Context) (int, error) {
			return s.charges.MarkOverdue(ctx, s.cfg.BatchSize)
		}},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
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

func jobResource(jobName string) string {
	switch jobName {
	case JobCloseDueCycles:
		return "billing_cycles"
	case JobDispatchPendingCharges, JobMarkOverdueCharges:
		return "charges"
	default:
		return "items"
	}
}
