package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditcore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "restoration:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "restoration:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "restoration:1", "someone-else"))
	assert.True(t, mr.Exists("restoration:1"))

	require.NoError(t, locker.Release(ctx, "restoration:1", token))
	assert.False(t, mr.Exists("restoration:1"))
}

func TestLockerExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithLock(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	calls := 0
	ran, err := locker.WithLock(ctx, "job", time.Minute, func(ctx context.Context) error {
		calls++
		nested, err := locker.WithLock(ctx, "job", time.Minute, func(context.Context) error {
			calls++
			return nil
		})
		assert.False(t, nested)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
	assert.False(t, mr.Exists("job"))
}

func TestNilLocker(t *testing.T) {
	var locker *Locker
	_, _, err := locker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	_, client := newTestRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "bucket", 0.001, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}
	res, err := bucket.Allow(ctx, "bucket", 0.001, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestTokenBucketValidatesInput(t *testing.T) {
	_, client := newTestRedis(t)
	bucket := NewTokenBucket(client)

	_, err := bucket.Allow(context.Background(), "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.Error(t, err)
}

func TestPurchaseLimiter(t *testing.T) {
	_, client := newTestRedis(t)
	cfg := config.Config{Credits: config.CreditsConfig{PurchaseRatePerMin: 2}}
	limiter := NewPurchaseLimiter(cfg, NewTokenBucket(client), zap.NewNop())
	ctx := context.Background()
	userID := snowflake.ID(7)

	assert.True(t, limiter.Allow(ctx, userID).Allowed)
	assert.True(t, limiter.Allow(ctx, userID).Allowed)
	assert.False(t, limiter.Allow(ctx, userID).Allowed)
	assert.True(t, limiter.Allow(ctx, snowflake.ID(8)).Allowed)
}

func TestPurchaseLimiterDisabledAllows(t *testing.T) {
	limiter := NewPurchaseLimiter(config.Config{}, nil, zap.NewNop())
	assert.Nil(t, limiter)
	assert.True(t, limiter.Allow(context.Background(), snowflake.ID(1)).Allowed)
}
