package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// LockBalance reads the balance row under the per-user lock.
	LockBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Balance, error)
	GetBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Balance, error)
	UpdateBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID, credits int64, now time.Time) error
	InsertTransaction(ctx context.Context, db *gorm.DB, entry *CreditTransaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, cursor *pagination.Cursor, limit int) ([]*CreditTransaction, error)

	InsertReservation(ctx context.Context, db *gorm.DB, reservation *Reservation) error
	GetReservation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Reservation, error)
	LockReservation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Reservation, error)
	CloseReservation(ctx context.Context, db *gorm.DB, reservation *Reservation) (bool, error)
	ListExpiredReservationIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
}
