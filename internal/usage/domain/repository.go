package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Start *time.Time
	End   *time.Time
	Limit int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	UpdateCreditsConsumed(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64) error
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListFilter) ([]UsageRecord, error)
}
