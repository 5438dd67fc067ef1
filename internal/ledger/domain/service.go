package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

type ModifyCreditRequest struct {
	UserID           snowflake.ID
	Amount           int64
	RelatedUsageID   *snowflake.ID
	RelatedPaymentID *snowflake.ID
	ReservationID    *snowflake.ID
	Metadata         map[string]any
}

type ListTransactionsRequest struct {
	UserID    snowflake.ID
	PageToken string
	PageSize  int32
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []CreditTransaction `json:"transactions"`
}

type ReserveRequest struct {
	UserID     snowflake.ID
	FeatureKey string
	Amount     int64
	TTL        time.Duration
	Metadata   map[string]any
}

type SettleRequest struct {
	ReservationID snowflake.ID
	ActualCost    int64
	UsageID       *snowflake.ID
}

// Service is the only writer of user balances. Every mutation appends exactly
// one CreditTransaction in the same transaction as the balance update.
type Service interface {
	ModifyCredit(ctx context.Context, req ModifyCreditRequest) (*CreditTransaction, error)
	// ModifyCreditTx joins the caller's transaction. tx must already be a
	// transaction handle.
	ModifyCreditTx(ctx context.Context, tx *gorm.DB, req ModifyCreditRequest) (*CreditTransaction, error)
	GetBalance(ctx context.Context, userID snowflake.ID) (Balance, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)

	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	GetReservation(ctx context.Context, reservationID snowflake.ID) (*Reservation, error)
	Settle(ctx context.Context, req SettleRequest) (*Reservation, error)
	SettleTx(ctx context.Context, tx *gorm.DB, req SettleRequest) (*Reservation, error)
	Release(ctx context.Context, reservationID snowflake.ID) (*Reservation, error)
	ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error)
}
