package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
)

func TestReserveAndSettleRefundsUnusedCredits(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(2001)
	insertUser(t, db, userID)
	grant(t, svc, userID, 12)

	ctx := context.Background()
	reservation, err := svc.Reserve(ctx, ledgerdomain.ReserveRequest{UserID: userID, FeatureKey: "GENERATE_IMAGE", Amount: 10})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := assertBalanceMatchesLedger(t, db, userID); got != 2 {
		t.Fatalf("expected balance 2 while held, got %d", got)
	}

	usageID := snowflake.ID(42)
	settled, err := svc.Settle(ctx, ledgerdomain.SettleRequest{ReservationID: reservation.ID, ActualCost: 7, UsageID: &usageID})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != ledgerdomain.ReservationStatusSettled || settled.SettledAmount != 7 {
		t.Fatalf("unexpected reservation: %+v", settled)
	}
	if got := assertBalanceMatchesLedger(t, db, userID); got != 5 {
		t.Fatalf("expected balance 5 after settlement, got %d", got)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_transactions WHERE related_usage_id = ? AND reservation_id = ?`, 1, usageID, reservation.ID)

	if _, err := svc.Settle(ctx, ledgerdomain.SettleRequest{ReservationID: reservation.ID, ActualCost: 1}); !errors.Is(err, ledgerdomain.ErrReservationClosed) {
		t.Fatalf("expected closed reservation, got %v", err)
	}
	if _, err := svc.Release(ctx, reservation.ID); !errors.Is(err, ledgerdomain.ErrReservationClosed) {
		t.Fatalf("expected closed reservation on release, got %v", err)
	}
}

func TestSettleRejectsCostAboveHold(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(2002)
	insertUser(t, db, userID)
	grant(t, svc, userID, 20)

	ctx := context.Background()
	reservation, err := svc.Reserve(ctx, ledgerdomain.ReserveRequest{UserID: userID, Amount: 4})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.Settle(ctx, ledgerdomain.SettleRequest{ReservationID: reservation.ID, ActualCost: 5}); !errors.Is(err, ledgerdomain.ErrSettlementExceedsHold) {
		t.Fatalf("expected settlement to exceed hold, got %v", err)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_reservations WHERE id = ? AND status = 'held'`, 1, reservation.ID)
}

func TestReserveRejectsWhenBalanceTooLow(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(2003)
	insertUser(t, db, userID)
	grant(t, svc, userID, 3)

	_, err := svc.Reserve(context.Background(), ledgerdomain.ReserveRequest{UserID: userID, Amount: 4})
	if !errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_reservations`, 0)
	if got := assertBalanceMatchesLedger(t, db, userID); got != 3 {
		t.Fatalf("expected balance 3, got %d", got)
	}
}

func TestReleaseRestoresFullHold(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(2004)
	insertUser(t, db, userID)
	grant(t, svc, userID, 10)

	ctx := context.Background()
	reservation, err := svc.Reserve(ctx, ledgerdomain.ReserveRequest{UserID: userID, Amount: 6})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	released, err := svc.Release(ctx, reservation.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != ledgerdomain.ReservationStatusReleased {
		t.Fatalf("expected released status, got %s", released.Status)
	}
	if got := assertBalanceMatchesLedger(t, db, userID); got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}
}

func TestReleaseExpiredOnlyTouchesOverdueHolds(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	svc := newTestService(t, db, clk)
	userID := snowflake.ID(2005)
	insertUser(t, db, userID)
	grant(t, svc, userID, 10)

	ctx := context.Background()
	short, err := svc.Reserve(ctx, ledgerdomain.ReserveRequest{UserID: userID, Amount: 3, TTL: time.Minute})
	if err != nil {
		t.Fatalf("reserve short: %v", err)
	}
	if _, err := svc.Reserve(ctx, ledgerdomain.ReserveRequest{UserID: userID, Amount: 2, TTL: time.Hour}); err != nil {
		t.Fatalf("reserve long: %v", err)
	}

	clk.Advance(5 * time.Minute)
	released, err := svc.ReleaseExpired(ctx, clk.Now(), 10)
	if err != nil {
		t.Fatalf("release expired: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released reservation, got %d", released)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_reservations WHERE id = ? AND status = 'released'`, 1, short.ID)
	assertCount(t, db, `SELECT COUNT(1) FROM credit_reservations WHERE status = 'held'`, 1)
	if got := assertBalanceMatchesLedger(t, db, userID); got != 8 {
		t.Fatalf("expected balance 8, got %d", got)
	}
}
