package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditcore/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	"github.com/smallbiznis/creditcore/internal/ledger/repository"
	"github.com/smallbiznis/creditcore/internal/migration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger_memdb_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.Apply(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock) *Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	}).(*Service)
}

func insertUser(t *testing.T, db *gorm.DB, id snowflake.ID) {
	t.Helper()

	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO users (id, email, credits, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		id, fmt.Sprintf("user-%d@example.com", id), now, now,
	).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func grant(t *testing.T, svc *Service, userID snowflake.ID, amount int64) {
	t.Helper()

	if _, err := svc.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{
		UserID:   userID,
		Amount:   amount,
		Metadata: map[string]any{"type": ledgerdomain.EntryTypeAdjustment},
	}); err != nil {
		t.Fatalf("grant credits: %v", err)
	}
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64, args ...any) {
	t.Helper()

	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d rows, got %d", expected, count)
	}
}

func assertBalanceMatchesLedger(t *testing.T, db *gorm.DB, userID snowflake.ID) int64 {
	t.Helper()

	var credits, sum int64
	if err := db.Raw(`SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits).Error; err != nil {
		t.Fatalf("load credits: %v", err)
	}
	if err := db.Raw(`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?`, userID).Scan(&sum).Error; err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	if credits != sum {
		t.Fatalf("balance %d does not match ledger sum %d", credits, sum)
	}
	return credits
}

func TestModifyCreditAppendsEntry(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(1001)
	insertUser(t, db, userID)

	paymentID := snowflake.ID(77)
	entry, err := svc.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{
		UserID:           userID,
		Amount:           100,
		RelatedPaymentID: &paymentID,
		Metadata:         map[string]any{"type": ledgerdomain.EntryTypePurchase},
	})
	if err != nil {
		t.Fatalf("modify credit: %v", err)
	}
	if entry.BalanceAfter != 100 || entry.Kind() != "credit" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.RelatedPaymentID == nil || *entry.RelatedPaymentID != paymentID {
		t.Fatalf("expected payment reference on entry")
	}

	if got := assertBalanceMatchesLedger(t, db, userID); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_transactions WHERE user_id = ? AND related_payment_id = ?`, 1, userID, paymentID)
}

func TestModifyCreditRejectsOverdraft(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(1002)
	insertUser(t, db, userID)
	grant(t, svc, userID, 3)

	_, err := svc.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{UserID: userID, Amount: -5})
	if !errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	insufficient, ok := ledgerdomain.AsInsufficientCredits(err)
	if !ok {
		t.Fatalf("expected InsufficientCreditsError, got %T", err)
	}
	if insufficient.Required != 5 || insufficient.Available != 3 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}

	assertCount(t, db, `SELECT COUNT(1) FROM credit_transactions WHERE user_id = ?`, 1, userID)
	if got := assertBalanceMatchesLedger(t, db, userID); got != 3 {
		t.Fatalf("expected balance 3, got %d", got)
	}
}

func TestModifyCreditUnknownUser(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)

	_, err := svc.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{UserID: 999, Amount: 1})
	if !errors.Is(err, ledgerdomain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_transactions`, 0)
}

func TestModifyCreditZeroAmountRecordsEntry(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(1003)
	insertUser(t, db, userID)

	entry, err := svc.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{UserID: userID, Amount: 0})
	if err != nil {
		t.Fatalf("modify credit: %v", err)
	}
	if entry.Kind() != "noop" || entry.BalanceAfter != 0 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_transactions WHERE user_id = ?`, 1, userID)
}

func TestConcurrentDebitsDoNotLoseUpdates(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(1004)
	insertUser(t, db, userID)

	const n = 20
	grant(t, svc, userID, n)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{UserID: userID, Amount: -1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent debit failed: %v", err)
		}
	}
	if got := assertBalanceMatchesLedger(t, db, userID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}

	_, err := svc.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{UserID: userID, Amount: -1})
	if !errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		t.Fatalf("expected extra debit to fail, got %v", err)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_transactions WHERE user_id = ?`, n+1, userID)
}

func TestConcurrentDebitsOneMoreThanBalance(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(1006)
	insertUser(t, db, userID)

	const n = 15
	grant(t, svc, userID, n)

	var (
		wg           sync.WaitGroup
		start        = make(chan struct{})
		succeeded    atomic.Int64
		insufficient atomic.Int64
		unexpected   = make(chan error, n+1)
	)
	for i := 0; i < n+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{UserID: userID, Amount: -1})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
				insufficient.Add(1)
			default:
				unexpected <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(unexpected)

	for err := range unexpected {
		t.Fatalf("unexpected debit error: %v", err)
	}
	if succeeded.Load() != n || insufficient.Load() != 1 {
		t.Fatalf("expected %d debits and 1 rejection, got %d and %d", n, succeeded.Load(), insufficient.Load())
	}
	if got := assertBalanceMatchesLedger(t, db, userID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}
	assertCount(t, db, `SELECT COUNT(1) FROM credit_transactions WHERE user_id = ?`, n+1, userID)
}

func TestListTransactionsPaginates(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, nil)
	userID := snowflake.ID(1005)
	insertUser(t, db, userID)
	for i := 0; i < 5; i++ {
		grant(t, svc, userID, 1)
	}

	first, err := svc.ListTransactions(context.Background(), ledgerdomain.ListTransactionsRequest{UserID: userID, PageSize: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Transactions) != 3 || !first.HasMore || first.NextPageToken == "" {
		t.Fatalf("unexpected first page: %d items, has_more=%v", len(first.Transactions), first.HasMore)
	}
	if first.Transactions[0].BalanceAfter != 5 {
		t.Fatalf("expected newest entry first, got balance_after %d", first.Transactions[0].BalanceAfter)
	}

	second, err := svc.ListTransactions(context.Background(), ledgerdomain.ListTransactionsRequest{
		UserID:    userID,
		PageSize:  3,
		PageToken: first.NextPageToken,
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Transactions) != 2 || second.HasMore {
		t.Fatalf("unexpected second page: %d items, has_more=%v", len(second.Transactions), second.HasMore)
	}

	if _, err := svc.ListTransactions(context.Background(), ledgerdomain.ListTransactionsRequest{UserID: userID, PageToken: "%%%"}); !errors.Is(err, ledgerdomain.ErrInvalidPageToken) {
		t.Fatalf("expected invalid page token, got %v", err)
	}
}
