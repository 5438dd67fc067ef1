package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// CanTransition allows pending -> completed and pending -> failed only.
func CanTransition(from, to OrderStatus) bool {
	if from != OrderStatusPending {
		return false
	}
	return to == OrderStatusCompleted || to == OrderStatusFailed
}

// PaymentOrder records one purchase of credits through an external gateway.
type PaymentOrder struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID          snowflake.ID      `json:"user_id" gorm:"not null;index"`
	Provider        string            `json:"provider" gorm:"type:text;not null"`
	ProviderOrderID string            `json:"provider_order_id" gorm:"type:text;not null"`
	OrderRef        string            `json:"order_ref" gorm:"type:text;not null"`
	CurrencyAmount  int64             `json:"currency_amount" gorm:"not null"`
	Currency        string            `json:"currency" gorm:"type:text;not null"`
	CreditAmount    int64             `json:"credit_amount" gorm:"not null"`
	ProviderData    datatypes.JSON    `json:"provider_data,omitempty" gorm:"type:jsonb"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	Status          OrderStatus       `json:"status" gorm:"type:text;not null"`
	CreatedAt       time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"not null"`
}

func (PaymentOrder) TableName() string { return "payment_orders" }
