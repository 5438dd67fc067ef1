package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/creditcore/internal/payment/domain"
	"go.uber.org/zap"
)

// ReleaseExpiredReservationsJob returns held credits for reservations past
// their expiry, one batch at a time until a short batch is seen.
func (s *Scheduler) ReleaseExpiredReservationsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReleaseExpiredReservations, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		released, err := s.ledger.ReleaseExpired(ctx, now, s.cfg.BatchSize)
		run.AddProcessed(released)
		obsmetrics.Scheduler().AddBatchProcessed(JobReleaseExpiredReservations, obsmetrics.LockResourceExpiredReservations, released)
		if err != nil {
			s.logJobError(ctx, run, "scheduler.reservations.release_failed", err)
			jobErr = errors.Join(jobErr, err)
			break
		}
		if released < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

// ReconcilePendingOrdersJob re-verifies orders that have stayed pending past
// the grace period. Orders the gateway still reports as pending are left for
// the next tick.
func (s *Scheduler) ReconcilePendingOrdersJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcilePendingOrders, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	cutoff := s.clock.Now().Add(-s.cfg.PendingOrderGrace)

	orders, err := s.payments.ListPendingOrders(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.orders.list_failed", err)
		return err
	}

	var jobErr error
	completed := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		err := s.payments.VerifyAndCredit(ctx, order.ID, order.UserID)
		switch {
		case err == nil:
			completed++
			s.logger(ctx).Info("scheduler.order.reconciled",
				zap.String("order_id", order.ID.String()),
				zap.String("provider", order.Provider),
				zap.Int64("credit_amount", order.CreditAmount),
			)
		case errors.Is(err, paymentdomain.ErrPaymentNotYetCompleted),
			errors.Is(err, paymentdomain.ErrPaymentFailed),
			errors.Is(err, paymentdomain.ErrOrderAlreadyFinalized):
		default:
			s.logJobError(ctx, run, "scheduler.order.verify_failed", err,
				zap.String("order_id", order.ID.String()),
				zap.String("provider", order.Provider),
			)
			jobErr = errors.Join(jobErr, err)
		}
	}

	run.AddProcessed(completed)
	obsmetrics.Scheduler().AddBatchProcessed(JobReconcilePendingOrders, obsmetrics.LockResourcePendingOrders, completed)
	return jobErr
}
