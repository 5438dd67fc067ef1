package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/creditcore/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/creditcore/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/creditcore/internal/pricing/domain"
	userdomain "github.com/smallbiznis/creditcore/internal/user/domain"
	"github.com/smallbiznis/creditcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 500
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	Users      userdomain.Repository
	Ledger     ledgerdomain.Service
	Catalog    pricingdomain.Catalog
	Gateways   paymentdomain.GatewayResolver
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	repo       paymentdomain.Repository
	users      userdomain.Repository
	ledger     ledgerdomain.Service
	catalog    pricingdomain.Catalog
	gateways   paymentdomain.GatewayResolver
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payment.service"),

		genID:      p.GenID,
		repo:       p.Repo,
		users:      p.Users,
		ledger:     p.Ledger,
		catalog:    p.Catalog,
		gateways:   p.Gateways,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (*paymentdomain.CreateOrderResponse, error) {
	if req.UserID == 0 {
		return nil, paymentdomain.ErrInvalidUser
	}
	if req.CurrencyAmount <= 0 {
		return nil, paymentdomain.NewValidationError("currencyAmount", "must be positive")
	}
	if req.CreditAmount <= 0 {
		return nil, paymentdomain.NewValidationError("creditAmount", "must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" || !s.catalog.SupportsCurrency(currency) {
		return nil, paymentdomain.NewValidationError("currency", "is not supported")
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = s.gateways.DefaultProvider()
	}
	adapter, err := s.gateways.Resolve(provider)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrProviderNotFound) {
			return nil, paymentdomain.NewValidationError("provider", "is not configured")
		}
		return nil, err
	}
	metadata := normalizeMetadata(req.Metadata)
	if err := validateRequiredMetadata(adapter.RequiredMetadata(), metadata); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, s.db, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	orderRef := "order_" + ulid.Make().String()
	gatewayOrder, err := adapter.CreateOrder(ctx, paymentdomain.GatewayOrderRequest{
		OrderRef: orderRef,
		Amount:   req.CurrencyAmount,
		Currency: currency,
		Customer: paymentdomain.Customer{
			ID:    user.ID.String(),
			Name:  customerName(metadata, user.Email),
			Email: user.Email,
			Phone: metadata[paymentdomain.MetadataPhone],
		},
		Metadata: metadata,
	})
	if err != nil {
		s.log.Warn("gateway order creation failed",
			zap.String("provider", provider),
			zap.String("user_id", user.ID.String()),
			zap.String("order_ref", orderRef),
			zap.Error(err),
		)
		return nil, gatewayError(err)
	}
	if gatewayOrder == nil || strings.TrimSpace(gatewayOrder.ProviderOrderID) == "" {
		return nil, fmt.Errorf("%w: empty provider order id", paymentdomain.ErrGatewayUnavailable)
	}

	rawData, wrapped := providerData(gatewayOrder.Raw)
	if wrapped {
		s.log.Warn("gateway returned a non-JSON order payload; stored as string",
			zap.String("provider", provider),
			zap.String("order_ref", orderRef),
			zap.Int("payload_bytes", len(gatewayOrder.Raw)),
		)
	}

	now := s.clock.Now()
	order := &paymentdomain.PaymentOrder{
		ID:              s.genID.Generate(),
		UserID:          user.ID,
		Provider:        provider,
		ProviderOrderID: gatewayOrder.ProviderOrderID,
		OrderRef:        orderRef,
		CurrencyAmount:  req.CurrencyAmount,
		Currency:        currency,
		CreditAmount:    req.CreditAmount,
		ProviderData:    rawData,
		Metadata:        metadataMap(metadata),
		Status:          paymentdomain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, fmt.Errorf("%w: duplicate provider order id", paymentdomain.ErrInvalidOrder)
		}
		return nil, err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, provider, "created")
	s.log.Info("payment order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("provider", provider),
		zap.Int64("currency_amount", order.CurrencyAmount),
		zap.String("currency", order.Currency),
		zap.Int64("credit_amount", order.CreditAmount),
	)

	payload := map[string]any{"orderId": order.ID.String()}
	for key, value := range gatewayOrder.ClientPayload {
		payload[key] = value
	}
	return &paymentdomain.CreateOrderResponse{
		OrderID:              order.ID,
		Provider:             provider,
		CreditAmount:         order.CreditAmount,
		GatewayClientPayload: payload,
	}, nil
}

func (s *Service) VerifyAndCredit(ctx context.Context, orderID, userID snowflake.ID) error {
	order, err := s.GetOrder(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return paymentdomain.ErrOrderAlreadyFinalized
	}

	adapter, err := s.gateways.Resolve(order.Provider)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	status, err := adapter.CheckStatus(ctx, order.ProviderOrderID)
	if err != nil {
		s.log.Warn("gateway status check failed",
			zap.String("order_id", order.ID.String()),
			zap.String("provider", order.Provider),
			zap.Error(err),
		)
		return gatewayError(err)
	}

	switch status {
	case paymentdomain.GatewayStatusPaid:
		return s.complete(ctx, order)
	case paymentdomain.GatewayStatusFailed:
		return s.fail(ctx, order)
	default:
		s.obsMetrics.RecordPaymentEvent(ctx, order.Provider, "pending")
		return paymentdomain.ErrPaymentNotYetCompleted
	}
}

// complete transitions the order and credits the buyer in one transaction.
// The conditional status update is the exactly-once guard.
func (s *Service) complete(ctx context.Context, order *paymentdomain.PaymentOrder) error {
	var entry *ledgerdomain.CreditTransaction
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		moved, err := s.repo.TransitionStatus(ctx, tx, order.ID, paymentdomain.OrderStatusPending, paymentdomain.OrderStatusCompleted, s.clock.Now())
		if err != nil {
			return err
		}
		if !moved {
			return paymentdomain.ErrOrderAlreadyFinalized
		}
		entry, err = s.ledger.ModifyCreditTx(ctx, tx, ledgerdomain.ModifyCreditRequest{
			UserID:           order.UserID,
			Amount:           order.CreditAmount,
			RelatedPaymentID: &order.ID,
			Metadata: map[string]any{
				"type":            ledgerdomain.EntryTypePurchase,
				"provider":        order.Provider,
				"providerOrderId": order.ProviderOrderID,
				"currency":        order.Currency,
				"currencyAmount":  order.CurrencyAmount,
			},
		})
		return err
	})
	if err != nil {
		return err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, order.Provider, "completed")
	s.log.Info("payment order completed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("transaction_id", entry.ID.String()),
		zap.Int64("credit_amount", order.CreditAmount),
	)
	return nil
}

func (s *Service) fail(ctx context.Context, order *paymentdomain.PaymentOrder) error {
	moved, err := s.repo.TransitionStatus(ctx, s.db, order.ID, paymentdomain.OrderStatusPending, paymentdomain.OrderStatusFailed, s.clock.Now())
	if err != nil {
		return err
	}
	if !moved {
		return paymentdomain.ErrOrderAlreadyFinalized
	}
	s.obsMetrics.RecordPaymentEvent(ctx, order.Provider, "failed")
	s.log.Info("payment order failed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("provider", order.Provider),
	)
	return paymentdomain.ErrPaymentFailed
}

func (s *Service) GetOrder(ctx context.Context, orderID, userID snowflake.ID) (*paymentdomain.PaymentOrder, error) {
	if orderID == 0 || userID == 0 {
		return nil, paymentdomain.ErrOrderNotFound
	}
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	// Orders of other users are reported as missing.
	if order == nil || order.UserID != userID {
		return nil, paymentdomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListPendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]paymentdomain.PaymentOrder, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}
	return s.repo.ListPending(ctx, s.db, olderThan.UTC(), limit)
}

func gatewayError(err error) error {
	if errors.Is(err, paymentdomain.ErrValidation) ||
		errors.Is(err, paymentdomain.ErrGatewayUnavailable) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
}

func validateRequiredMetadata(required []string, metadata map[string]string) error {
	for _, key := range required {
		value := metadata[key]
		if value == "" {
			return paymentdomain.NewValidationError(key, "is required")
		}
		if key == paymentdomain.MetadataPhone && !paymentdomain.IsPhoneNumber(value) {
			return paymentdomain.NewValidationError(key, "is not a valid phone number")
		}
	}
	return nil
}

func normalizeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func customerName(metadata map[string]string, email string) string {
	if name := metadata["name"]; name != "" {
		return name
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func metadataMap(metadata map[string]string) datatypes.JSONMap {
	if len(metadata) == 0 {
		return nil
	}
	out := datatypes.JSONMap{}
	for key, value := range metadata {
		out[key] = value
	}
	return out
}

// providerData keeps the gateway response verbatim. A body that is not JSON
// is stored as a JSON string so the column stays valid; wrapped reports that.
func providerData(raw json.RawMessage) (data datatypes.JSON, wrapped bool) {
	if len(raw) == 0 {
		return nil, false
	}
	if json.Valid(raw) {
		return datatypes.JSON(raw), false
	}
	encoded, err := json.Marshal(string(raw))
	if err != nil {
		return nil, true
	}
	return datatypes.JSON(encoded), true
}
