package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditcore/internal/clock"
	featuredomain "github.com/smallbiznis/creditcore/internal/feature/domain"
	featureservice "github.com/smallbiznis/creditcore/internal/feature/service"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/creditcore/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/creditcore/internal/ledger/service"
	"github.com/smallbiznis/creditcore/internal/migration"
	usagedomain "github.com/smallbiznis/creditcore/internal/usage/domain"
	"github.com/smallbiznis/creditcore/internal/usage/repository"
	userrepository "github.com/smallbiznis/creditcore/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

type testEnv struct {
	db     *gorm.DB
	svc    *Service
	ledger ledgerdomain.Service
	clock  *clock.FakeClock
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:usage_memdb_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.Apply(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  ledgerrepository.Provide(),
		Clock: clk,
	})
	registry, err := featureservice.NewDefaultRegistry()
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.Provide(),
		Users:    userrepository.Provide(),
		Registry: registry,
		Ledger:   ledger,
		Clock:    clk,
	}).(*Service)

	return &testEnv{db: db, svc: svc, ledger: ledger, clock: clk}
}

func (e *testEnv) createUser(t *testing.T, id snowflake.ID, credits int64, orgID *snowflake.ID) {
	t.Helper()

	now := e.clock.Now()
	require.NoError(t, e.db.Exec(
		`INSERT INTO users (id, email, credits, active_organization_id, created_at, updated_at) VALUES (?, ?, 0, ?, ?, ?)`,
		id, fmt.Sprintf("u%d@example.com", id), orgID, now, now,
	).Error)
	if credits > 0 {
		_, err := e.ledger.ModifyCredit(context.Background(), ledgerdomain.ModifyCreditRequest{UserID: id, Amount: credits})
		require.NoError(t, err)
	}
}

func (e *testEnv) balance(t *testing.T, id snowflake.ID) int64 {
	t.Helper()

	b, err := e.ledger.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b.Credits
}

func countRows(t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Raw(query, args...).Scan(&count).Error)
	return count
}

func TestRecordUsageThenAssertSufficientFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(3001)
	env.createUser(t, userID, 12, nil)

	record, err := env.svc.RecordUsage(ctx, userID, featuredomain.FeatureGenerateQuestionPaperWithAI)
	require.NoError(t, err)
	assert.Equal(t, int64(10), record.CreditsConsumed)
	assert.Equal(t, int64(2), env.balance(t, userID))
	assert.Equal(t, int64(1), countRows(t, env.db,
		`SELECT COUNT(1) FROM credit_transactions WHERE user_id = ? AND amount = -10 AND related_usage_id = ?`, userID, record.ID))
	assert.Equal(t, int64(1), countRows(t, env.db,
		`SELECT COUNT(1) FROM feature_usages WHERE id = ? AND credits_consumed = 10`, record.ID))

	err = env.svc.AssertSufficient(ctx, usagedomain.CheckRequest{UserID: userID, FeatureKey: featuredomain.FeatureGenerateQuestionPaperWithAI})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledgerdomain.ErrInsufficientCredits))
	insufficient, ok := ledgerdomain.AsInsufficientCredits(err)
	require.True(t, ok)
	assert.Equal(t, int64(10), insufficient.Required)
	assert.Equal(t, int64(2), insufficient.Available)

	assert.Equal(t, int64(2), countRows(t, env.db, `SELECT COUNT(1) FROM credit_transactions WHERE user_id = ?`, userID))
}

func TestRecordUsageForOrganizationIsUnbilled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(3002)
	orgID := snowflake.ID(900)
	env.createUser(t, userID, 0, &orgID)

	record, err := env.svc.RecordUsage(ctx, userID, featuredomain.FeatureGenerateQuestionPaperWithAI)
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.CreditsConsumed)
	require.NotNil(t, record.OrganizationID)
	assert.Equal(t, orgID, *record.OrganizationID)
	assert.Equal(t, int64(0), countRows(t, env.db, `SELECT COUNT(1) FROM credit_transactions WHERE user_id = ?`, userID))

	result, err := env.svc.Check(ctx, usagedomain.CheckRequest{UserID: userID, FeatureKey: featuredomain.FeatureGenerateImage})
	require.NoError(t, err)
	assert.False(t, result.Billed)
	assert.False(t, result.Sufficient)
	assert.Equal(t, int64(2), result.Required)

	err = env.svc.AssertSufficient(ctx, usagedomain.CheckRequest{UserID: userID, FeatureKey: featuredomain.FeatureGenerateImage})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
}

func TestRecordUsageInsufficientLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t)
	userID := snowflake.ID(3003)
	env.createUser(t, userID, 1, nil)

	_, err := env.svc.RecordUsage(context.Background(), userID, featuredomain.FeatureGenerateImage)
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
	assert.Equal(t, int64(0), countRows(t, env.db, `SELECT COUNT(1) FROM feature_usages WHERE user_id = ?`, userID))
	assert.Equal(t, int64(1), env.balance(t, userID))
}

func TestRecordUsageErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.RecordUsage(ctx, 404, featuredomain.FeatureGenerateImage)
	assert.ErrorIs(t, err, ledgerdomain.ErrUserNotFound)

	userID := snowflake.ID(3004)
	env.createUser(t, userID, 10, nil)
	_, err = env.svc.RecordUsage(ctx, userID, "EXPORT_PDF")
	assert.ErrorIs(t, err, featuredomain.ErrUnknownFeature)
}

func TestCheckUsesContext(t *testing.T) {
	env := newTestEnv(t)
	userID := snowflake.ID(3005)
	env.createUser(t, userID, 15, nil)

	result, err := env.svc.Check(context.Background(), usagedomain.CheckRequest{
		UserID:     userID,
		FeatureKey: featuredomain.FeatureGenerateQuestionPaperWithAI,
		Context:    map[string]any{"imageCount": 3},
	})
	require.NoError(t, err)
	assert.False(t, result.Sufficient)
	assert.Equal(t, int64(16), result.Required)
	assert.Equal(t, int64(15), result.Available)
}

func TestReservedUsageSettlesActualCost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(3006)
	env.createUser(t, userID, 30, nil)

	reservation, err := env.svc.Reserve(ctx, usagedomain.ReserveUsageRequest{
		UserID:     userID,
		FeatureKey: featuredomain.FeatureGenerateQuestionPaperWithAI,
		Estimate:   map[string]any{"imageCount": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), reservation.Amount)
	assert.Equal(t, int64(10), env.balance(t, userID))

	record, err := env.svc.RecordReservedUsage(ctx, usagedomain.RecordReservedUsageRequest{
		ReservationID: reservation.ID,
		Actual:        map[string]any{"imageCount": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(14), record.CreditsConsumed)
	assert.Equal(t, int64(16), env.balance(t, userID))

	_, err = env.svc.RecordReservedUsage(ctx, usagedomain.RecordReservedUsageRequest{ReservationID: reservation.ID})
	assert.ErrorIs(t, err, ledgerdomain.ErrReservationClosed)
}

func TestReservedUsageChargesCostAboveHold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(3007)
	env.createUser(t, userID, 30, nil)

	reservation, err := env.svc.Reserve(ctx, usagedomain.ReserveUsageRequest{
		UserID:     userID,
		FeatureKey: featuredomain.FeatureGenerateQuestionPaperWithAI,
	})
	require.NoError(t, err)

	record, err := env.svc.RecordReservedUsage(ctx, usagedomain.RecordReservedUsageRequest{
		ReservationID: reservation.ID,
		Actual:        map[string]any{"imageCount": 4},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(18), record.CreditsConsumed)
	assert.Equal(t, int64(12), env.balance(t, userID))

	var sum int64
	require.NoError(t, env.db.Raw(`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?`, userID).Scan(&sum).Error)
	assert.Equal(t, int64(12), sum)
}

func TestListUsageFiltersByRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(3008)
	env.createUser(t, userID, 100, nil)

	start := env.clock.Now()
	for i := 0; i < 3; i++ {
		_, err := env.svc.RecordUsage(ctx, userID, featuredomain.FeatureGenerateImage)
		require.NoError(t, err)
		env.clock.Advance(time.Hour)
	}

	all, err := env.svc.ListUsage(ctx, usagedomain.ListUsageRequest{UserID: userID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].ExecutedAt.After(all[2].ExecutedAt))

	from := start.Add(30 * time.Minute)
	ranged, err := env.svc.ListUsage(ctx, usagedomain.ListUsageRequest{UserID: userID, Start: &from})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	before := start.Add(-time.Hour)
	_, err = env.svc.ListUsage(ctx, usagedomain.ListUsageRequest{UserID: userID, Start: &start, End: &before})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidDateRange)
}
