package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Entry types recorded under metadata["type"].
const (
	EntryTypeInitialCredits     = "initial_credits"
	EntryTypeFeatureUsage       = "feature_usage"
	EntryTypePurchase           = "credit_purchase"
	EntryTypeRestoration        = "credit_restoration"
	EntryTypeReservationHold    = "reservation_hold"
	EntryTypeReservationRelease = "reservation_release"
	EntryTypeAdjustment         = "adjustment"
)

// CreditTransaction is one immutable ledger entry. Amount is signed: positive
// grants credits, negative consumes them.
type CreditTransaction struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID           snowflake.ID      `gorm:"not null;index" json:"user_id"`
	Amount           int64             `gorm:"not null" json:"amount"`
	BalanceAfter     int64             `gorm:"not null" json:"balance_after"`
	RelatedUsageID   *snowflake.ID     `json:"related_usage_id,omitempty"`
	RelatedPaymentID *snowflake.ID     `json:"related_payment_id,omitempty"`
	ReservationID    *snowflake.ID     `json:"reservation_id,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// Kind classifies the entry for metrics.
func (t CreditTransaction) Kind() string {
	switch {
	case t.Amount > 0:
		return "credit"
	case t.Amount < 0:
		return "debit"
	default:
		return "noop"
	}
}

type Balance struct {
	UserID             snowflake.ID `json:"user_id"`
	Credits            int64        `json:"credits"`
	LastCreditsUpdated *time.Time   `json:"last_credits_updated,omitempty"`
}

type ReservationStatus string

const (
	ReservationStatusHeld     ReservationStatus = "held"
	ReservationStatusSettled  ReservationStatus = "settled"
	ReservationStatusReleased ReservationStatus = "released"
)

// Reservation holds credits for an operation whose cost is only known after
// it runs. The held amount is debited up front and the unused part is
// credited back on settlement.
type Reservation struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID        snowflake.ID      `gorm:"not null;index" json:"user_id"`
	FeatureKey    string            `json:"feature_key,omitempty"`
	Amount        int64             `gorm:"not null" json:"amount"`
	SettledAmount int64             `gorm:"not null" json:"settled_amount"`
	Status        ReservationStatus `gorm:"type:text;not null" json:"status"`
	UsageID       *snowflake.ID     `json:"usage_id,omitempty"`
	ExpiresAt     time.Time         `gorm:"not null" json:"expires_at"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Reservation) TableName() string { return "credit_reservations" }

func (r Reservation) IsOpen() bool {
	return r.Status == ReservationStatusHeld
}
