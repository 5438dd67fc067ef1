package ratelimit

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/config"
	"go.uber.org/zap"
)

const keyPurchase = "purchase:user:"

// PurchaseLimiter bounds how often one user may open payment orders.
type PurchaseLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

// NewPurchaseLimiter returns nil when redis or the limit is disabled; a nil
// limiter allows everything.
func NewPurchaseLimiter(cfg config.Config, bucket *TokenBucket, log *zap.Logger) *PurchaseLimiter {
	perMinute := cfg.Credits.PurchaseRatePerMin
	if bucket == nil || perMinute <= 0 {
		return nil
	}
	return &PurchaseLimiter{
		bucket: bucket,
		rate:   float64(perMinute) / 60,
		burst:  int(perMinute),
		log:    log.Named("ratelimit.purchase"),
	}
}

// Allow fails open when redis is unreachable.
func (l *PurchaseLimiter) Allow(ctx context.Context, userID snowflake.ID) *Result {
	if l == nil {
		return &Result{Allowed: true}
	}
	res, err := l.bucket.Allow(ctx, keyPurchase+userID.String(), l.rate, l.burst)
	if err != nil {
		l.log.Warn("purchase rate limit unavailable", zap.String("user_id", userID.String()), zap.Error(err))
		return &Result{Allowed: true, Limit: l.burst}
	}
	return res
}
