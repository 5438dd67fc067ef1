package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateOrderRequest struct {
	UserID         snowflake.ID
	Provider       string
	CurrencyAmount int64
	Currency       string
	CreditAmount   int64
	Metadata       map[string]string
}

type CreateOrderResponse struct {
	OrderID              snowflake.ID   `json:"orderId"`
	Provider             string         `json:"provider"`
	CreditAmount         int64          `json:"creditAmount"`
	GatewayClientPayload map[string]any `json:"gatewayClientPayload"`
}

type BuyPackRequest struct {
	UserID   snowflake.ID
	PackID   string
	Currency string
	Provider string
	Metadata map[string]string
}

type BuyCustomRequest struct {
	UserID   snowflake.ID
	Amount   int64
	Currency string
	Provider string
	Metadata map[string]string
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	// VerifyAndCredit asks the gateway for the order outcome and credits the
	// user exactly once when it is paid.
	VerifyAndCredit(ctx context.Context, orderID, userID snowflake.ID) error
	BuyPack(ctx context.Context, req BuyPackRequest) (*CreateOrderResponse, error)
	BuyCustom(ctx context.Context, req BuyCustomRequest) (*CreateOrderResponse, error)
	GetOrder(ctx context.Context, orderID, userID snowflake.ID) (*PaymentOrder, error)
	ListPendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]PaymentOrder, error)
}
