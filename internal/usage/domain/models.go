package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageRecord is one billable execution of a feature.
type UsageRecord struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID          snowflake.ID      `gorm:"not null;index" json:"user_id"`
	OrganizationID  *snowflake.ID     `json:"organization_id,omitempty"`
	FeatureKey      string            `gorm:"not null" json:"feature_key"`
	CreditsConsumed int64             `gorm:"not null" json:"credits_consumed"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	ExecutedAt      time.Time         `gorm:"not null" json:"executed_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "feature_usages" }

func (u UsageRecord) Billed() bool {
	return u.OrganizationID == nil
}
