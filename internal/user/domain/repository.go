package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	// FindByIDForUpdate reads the user row under the per-user lock. It must be
	// called inside a transaction.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	// TouchLastCreditsUpdated moves last_credits_updated to now only if it still
	// equals prev. It reports whether the row was updated.
	TouchLastCreditsUpdated(ctx context.Context, db *gorm.DB, id snowflake.ID, prev *time.Time, now time.Time) (bool, error)
	SetActiveOrganization(ctx context.Context, db *gorm.DB, id snowflake.ID, orgID *snowflake.ID, now time.Time) error
}
