package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/creditcore/internal/payment/domain"
	"github.com/smallbiznis/creditcore/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	Ledger   ledgerdomain.Service
	Payments paymentdomain.Service
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   Config            `optional:"true"`
	Locker   *ratelimit.Locker `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	ledger   ledgerdomain.Service
	payments paymentdomain.Service
	locker   *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Ledger == nil || p.Payments == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		ledger:   p.Ledger,
		payments: p.Payments,
		locker:   p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()

	ran, err := s.withJobLock(ctx, name, timeout, func(ctx context.Context) error {
		if owner {
			s.logJobStart(ctx, run)
		}
		schedMetrics.IncJobRun(name)
		err := fn(ctx)
		schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
		if owner {
			if err != nil && run.errorCount == 0 {
				run.IncError()
			}
			s.logJobFinish(ctx, run)
		}
		return err
	})
	if !ran {
		log.Debug("job skipped, held by another instance")
		return nil
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the remainder
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

// withJobLock serializes a job across instances when redis is configured.
// A lock backend failure runs the job anyway.
func (s *Scheduler) withJobLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if s.locker == nil {
		return true, fn(ctx)
	}
	waitStart := time.Now()
	var ran bool
	acquired, err := s.locker.WithLock(ctx, "scheduler:"+name, ttl, func(ctx context.Context) error {
		obsmetrics.Scheduler().ObserveDBLockWait(lockResource(name), time.Since(waitStart))
		ran = true
		return fn(ctx)
	})
	if ran {
		return true, err
	}
	if err != nil {
		s.log.Warn("scheduler lock unavailable, running unlocked", zap.String("job", name), zap.Error(err))
		return true, fn(ctx)
	}
	return acquired, nil
}

func lockResource(job string) string {
	switch job {
	case JobReleaseExpiredReservations:
		return obsmetrics.LockResourceExpiredReservations
	case JobReconcilePendingOrders:
		return obsmetrics.LockResourcePendingOrders
	default:
		return job
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobReleaseExpiredReservations, s.ReleaseExpiredReservationsJob},
		{JobReconcilePendingOrders, s.ReconcilePendingOrdersJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
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
