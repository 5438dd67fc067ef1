package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/creditcore/internal/config"
	"github.com/smallbiznis/creditcore/internal/payment/domain"
	"github.com/smallbiznis/creditcore/internal/payment/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastPolicy = RetryPolicy{
	Timeout:         time.Second,
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

func newMockAdapter(t *testing.T) *mocks.MockGatewayAdapter {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockGatewayAdapter(ctrl)
	adapter.EXPECT().Provider().Return("cashfree").AnyTimes()
	return adapter
}

func TestWithRetryRecoversFromTransientErrors(t *testing.T) {
	next := newMockAdapter(t)
	transient := &domain.GatewayError{Provider: "cashfree", StatusCode: http.StatusBadGateway}
	next.EXPECT().CheckStatus(gomock.Any(), "order_1").Return(domain.GatewayStatus(""), transient).Times(2)
	next.EXPECT().CheckStatus(gomock.Any(), "order_1").Return(domain.GatewayStatusPaid, nil)

	status, err := WithRetry(next, fastPolicy, zap.NewNop(), nil).CheckStatus(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayStatusPaid, status)
}

func TestWithRetryExhaustionIsGatewayUnavailable(t *testing.T) {
	next := newMockAdapter(t)
	next.EXPECT().
		CheckStatus(gomock.Any(), "order_1").
		Return(domain.GatewayStatus(""), errors.New("connection reset")).
		Times(fastPolicy.MaxRetries + 1)

	_, err := WithRetry(next, fastPolicy, zap.NewNop(), nil).CheckStatus(context.Background(), "order_1")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestWithRetryDoesNotRetryValidation(t *testing.T) {
	next := newMockAdapter(t)
	next.EXPECT().
		CreateOrder(gomock.Any(), gomock.Any()).
		Return(nil, domain.NewValidationError("phone", "is required")).
		Times(1)

	_, err := WithRetry(next, fastPolicy, zap.NewNop(), nil).CreateOrder(context.Background(), domain.GatewayOrderRequest{OrderRef: "order_1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestWithRetryDoesNotRetryClientErrors(t *testing.T) {
	next := newMockAdapter(t)
	next.EXPECT().
		CheckStatus(gomock.Any(), gomock.Any()).
		Return(domain.GatewayStatus(""), &domain.GatewayError{Provider: "cashfree", StatusCode: http.StatusNotFound}).
		Times(1)

	_, err := WithRetry(next, fastPolicy, zap.NewNop(), nil).CheckStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestWithRetryAppliesPerAttemptTimeout(t *testing.T) {
	next := newMockAdapter(t)
	next.EXPECT().
		CheckStatus(gomock.Any(), "slow").
		DoAndReturn(func(ctx context.Context, _ string) (domain.GatewayStatus, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}).
		Times(1)

	policy := fastPolicy
	policy.Timeout = 10 * time.Millisecond
	policy.MaxRetries = 0

	start := time.Now()
	_, err := WithRetry(next, policy, zap.NewNop(), nil).CheckStatus(context.Background(), "slow")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewGatewaysSkipsUnconfiguredProviders(t *testing.T) {
	cfg := config.Config{
		Gateways: config.GatewaysConfig{
			DefaultProvider: "cashfree",
			Timeout:         time.Second,
			Cashfree: config.CashfreeConfig{
				ClientID:     "app",
				ClientSecret: "secret",
			},
		},
	}

	gateways, err := NewGateways(GatewaysParams{Cfg: cfg, Log: zap.NewNop(), Registry: NewDefaultRegistry()})
	require.NoError(t, err)

	adapter, err := gateways.Resolve("CashFree")
	require.NoError(t, err)
	assert.Equal(t, "cashfree", adapter.Provider())
	assert.Equal(t, "cashfree", gateways.DefaultProvider())

	_, err = gateways.Resolve("mpesa")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestRegistryProviders(t *testing.T) {
	registry := NewDefaultRegistry()
	assert.Equal(t, []string{"cashfree", "mpesa"}, registry.Providers())
	assert.True(t, registry.ProviderExists(" MPESA "))
	assert.False(t, registry.ProviderExists("stripe"))

	_, err := registry.NewAdapter("stripe", domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestWithRetryCreateOrderNotRetriedOnAmbiguousErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "deadline", err: context.DeadlineExceeded},
		{name: "reset", err: errors.New("read: connection reset by peer")},
		{name: "server error", err: &domain.GatewayError{Provider: "mpesa", StatusCode: http.StatusBadGateway}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := newMockAdapter(t)
			next.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(nil, tc.err).Times(1)

			_, err := WithRetry(next, fastPolicy, zap.NewNop(), nil).CreateOrder(context.Background(), domain.GatewayOrderRequest{OrderRef: "order_1"})
			assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
		})
	}
}

func TestWithRetryCreateOrderRetriedWhenNotDelivered(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	limited := &domain.GatewayError{Provider: "cashfree", StatusCode: http.StatusTooManyRequests}

	next := newMockAdapter(t)
	gomock.InOrder(
		next.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(nil, &url.Error{Op: "Post", URL: "https://sandbox.cashfree.com/pg/orders", Err: refused}),
		next.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(nil, limited),
		next.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&domain.GatewayOrder{ProviderOrderID: "cf_1"}, nil),
	)

	order, err := WithRetry(next, fastPolicy, zap.NewNop(), nil).CreateOrder(context.Background(), domain.GatewayOrderRequest{OrderRef: "order_1"})
	require.NoError(t, err)
	assert.Equal(t, "cf_1", order.ProviderOrderID)
}

func TestNotDelivered(t *testing.T) {
	assert.True(t, notDelivered(&net.DNSError{Err: "no such host", Name: "api.safaricom.co.ke"}))
	assert.True(t, notDelivered(fmt.Errorf("token: %w", syscall.ECONNREFUSED)))
	assert.False(t, notDelivered(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("i/o timeout")}))
	assert.False(t, notDelivered(domain.NewValidationError("phone", "is required")))
}
