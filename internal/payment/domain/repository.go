package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *PaymentOrder) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentOrder, error)
	// TransitionStatus moves the order from one status to another only if it
	// is still in from. It reports whether a row changed.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to OrderStatus, now time.Time) (bool, error)
	ListPending(ctx context.Context, db *gorm.DB, createdBefore time.Time, limit int) ([]PaymentOrder, error)
}
