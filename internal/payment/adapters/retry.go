package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	"github.com/smallbiznis/creditcore/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	maxGatewayRetries     = 5
)

type RetryPolicy struct {
	// Timeout bounds each attempt, not the whole call.
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = defaultGatewayTimeout
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.MaxRetries > maxGatewayRetries {
		p.MaxRetries = maxGatewayRetries
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 2 * time.Second
	}
	return p
}

type retryingAdapter struct {
	next       domain.GatewayAdapter
	policy     RetryPolicy
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

// WithRetry wraps adapter so every call gets a per-attempt timeout and a
// bounded exponential retry. CheckStatus is retried on any transient error.
// CreateOrder is retried only when the request never reached the gateway,
// since a repeated STK push prompts the customer again. Validation errors and
// non-retryable gateway responses fail immediately. Exhausted retries surface
// as ErrGatewayUnavailable.
func WithRetry(adapter domain.GatewayAdapter, policy RetryPolicy, log *zap.Logger, metrics *obsmetrics.Metrics) domain.GatewayAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &retryingAdapter{
		next:       adapter,
		policy:     policy.normalize(),
		log:        log,
		obsMetrics: metrics,
	}
}

func (a *retryingAdapter) Provider() string { return a.next.Provider() }

func (a *retryingAdapter) RequiredMetadata() []string { return a.next.RequiredMetadata() }

func (a *retryingAdapter) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (*domain.GatewayOrder, error) {
	return retry(ctx, a, "create_order", notDelivered, func(ctx context.Context) (*domain.GatewayOrder, error) {
		return a.next.CreateOrder(ctx, req)
	})
}

func (a *retryingAdapter) CheckStatus(ctx context.Context, providerOrderID string) (domain.GatewayStatus, error) {
	return retry(ctx, a, "check_status", retryable, func(ctx context.Context) (domain.GatewayStatus, error) {
		return a.next.CheckStatus(ctx, providerOrderID)
	})
}

func retry[T any](ctx context.Context, a *retryingAdapter, operation string, shouldRetry func(error) bool, call func(context.Context) (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.policy.InitialInterval
	policy.MaxInterval = a.policy.MaxInterval

	provider := a.next.Provider()
	result, err := backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, a.policy.Timeout)
		defer cancel()

		value, err := call(attemptCtx)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil || !shouldRetry(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(a.policy.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.obsMetrics.RecordGatewayRetry(ctx, provider, operation)
			a.log.Warn("retrying gateway call",
				zap.String("provider", provider),
				zap.String("operation", operation),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return result, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	var zero T
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, context.Canceled) {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayUnavailable, provider, operation, err)
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrInvalidConfig) {
		return false
	}
	var gatewayErr *domain.GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Retryable()
	}
	return true
}

// notDelivered reports whether err proves the gateway never accepted the
// request: dial and DNS failures, refused connections and explicit 429s.
func notDelivered(err error) bool {
	if !retryable(err) {
		return false
	}
	var gatewayErr *domain.GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
