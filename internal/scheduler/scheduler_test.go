package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditcore/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/creditcore/internal/payment/domain"
	"github.com/smallbiznis/creditcore/internal/ratelimit"
	"go.uber.org/zap"
)

type fakeLedger struct {
	ledgerdomain.Service

	mu      sync.Mutex
	pending int
	calls   []time.Time
	err     error
}

func (f *fakeLedger) ReleaseExpired(_ context.Context, now time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	if f.err != nil {
		return 0, f.err
	}
	n := f.pending
	if n > limit {
		n = limit
	}
	f.pending -= n
	return n, nil
}

type fakePayments struct {
	paymentdomain.Service

	mu       sync.Mutex
	orders   []paymentdomain.PaymentOrder
	outcomes map[snowflake.ID]error
	cutoff   time.Time
	verified []snowflake.ID
}

func (f *fakePayments) ListPendingOrders(_ context.Context, olderThan time.Time, limit int) ([]paymentdomain.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = olderThan
	if len(f.orders) > limit {
		return f.orders[:limit], nil
	}
	return f.orders, nil
}

func (f *fakePayments) VerifyAndCredit(_ context.Context, orderID, userID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, orderID)
	return f.outcomes[orderID]
}

func newTestScheduler(t *testing.T, ledger *fakeLedger, payments *fakePayments, locker *ratelimit.Locker) (*Scheduler, *clock.FakeClock) {
	t.Helper()

	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	sched, err := New(Params{
		Log:      zap.NewNop(),
		Ledger:   ledger,
		Payments: payments,
		GenID:    node,
		Clock:    clk,
		Config:   Config{BatchSize: 2, PendingOrderGrace: 10 * time.Minute},
		Locker:   locker,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, clk
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Params{Log: zap.NewNop()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestReleaseExpiredDrainsInBatches(t *testing.T) {
	ledger := &fakeLedger{pending: 5}
	sched, clk := newTestScheduler(t, ledger, &fakePayments{}, nil)

	if err := sched.ReleaseExpiredReservationsJob(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if ledger.pending != 0 {
		t.Fatalf("expected all reservations released, %d left", ledger.pending)
	}
	if len(ledger.calls) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(ledger.calls))
	}
	for _, at := range ledger.calls {
		if !at.Equal(clk.Now()) {
			t.Fatalf("expected release at %s, got %s", clk.Now(), at)
		}
	}
}

func TestReconcilePendingOrdersIgnoresUnsettledOutcomes(t *testing.T) {
	payments := &fakePayments{
		orders: []paymentdomain.PaymentOrder{
			{ID: 1, UserID: 10, Provider: "cashfree", CreditAmount: 100},
			{ID: 2, UserID: 11, Provider: "mpesa", CreditAmount: 50},
		},
		outcomes: map[snowflake.ID]error{
			2: paymentdomain.ErrPaymentNotYetCompleted,
		},
	}
	sched, clk := newTestScheduler(t, &fakeLedger{}, payments, nil)

	if err := sched.ReconcilePendingOrdersJob(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if len(payments.verified) != 2 {
		t.Fatalf("expected 2 verifications, got %d", len(payments.verified))
	}
	if want := clk.Now().Add(-10 * time.Minute); !payments.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, payments.cutoff)
	}

	payments.outcomes = map[snowflake.ID]error{
		1: paymentdomain.ErrPaymentFailed,
		2: paymentdomain.ErrOrderAlreadyFinalized,
	}
	if err := sched.ReconcilePendingOrdersJob(context.Background()); err != nil {
		t.Fatalf("expected terminal outcomes to be ignored, got %v", err)
	}
}

func TestReconcilePendingOrdersReportsUnexpectedErrors(t *testing.T) {
	payments := &fakePayments{
		orders: []paymentdomain.PaymentOrder{{ID: 7, UserID: 70, Provider: "cashfree"}},
		outcomes: map[snowflake.ID]error{
			7: paymentdomain.ErrGatewayUnavailable,
		},
	}
	sched, _ := newTestScheduler(t, &fakeLedger{}, payments, nil)

	err := sched.RunOnce(context.Background())
	if !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestRunJobTreatsDeadlineAsSoftTimeout(t *testing.T) {
	sched, _ := newTestScheduler(t, &fakeLedger{}, &fakePayments{}, nil)

	err := sched.runJob(context.Background(), "slow", 1, 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected soft timeout, got %v", err)
	}
}

func TestRunOnceRespectsEnabledJobs(t *testing.T) {
	ledger := &fakeLedger{pending: 1}
	payments := &fakePayments{orders: []paymentdomain.PaymentOrder{{ID: 1, UserID: 1}}}
	sched, _ := newTestScheduler(t, ledger, payments, nil)
	sched.cfg.EnabledJobs = []string{JobReleaseExpiredReservations}

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(ledger.calls) == 0 {
		t.Fatalf("expected release job to run")
	}
	if len(payments.verified) != 0 {
		t.Fatalf("expected reconcile job to be skipped")
	}
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)

	ledger := &fakeLedger{pending: 1}
	sched, _ := newTestScheduler(t, ledger, &fakePayments{}, locker)

	if err := mr.Set("scheduler:"+JobReleaseExpiredReservations, "other-instance"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	if err := sched.runJob(context.Background(), JobReleaseExpiredReservations, 2, time.Second, sched.ReleaseExpiredReservationsJob); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("expected job to be skipped while locked")
	}

	mr.Del("scheduler:" + JobReleaseExpiredReservations)
	if err := sched.runJob(context.Background(), JobReleaseExpiredReservations, 2, time.Second, sched.ReleaseExpiredReservationsJob); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if ledger.pending != 0 {
		t.Fatalf("expected job to run after lock release")
	}
	if mr.Exists("scheduler:" + JobReleaseExpiredReservations) {
		t.Fatalf("expected lock to be released")
	}
}
