package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is the account that owns a credit balance. Credits is a cached
// projection of the ledger and is only written by the ledger service.
type User struct {
	ID                   snowflake.ID  `gorm:"primaryKey" json:"id"`
	Email                string        `gorm:"not null" json:"email"`
	Credits              int64         `gorm:"not null" json:"credits"`
	LastCreditsUpdated   *time.Time    `json:"last_credits_updated,omitempty"`
	ActiveOrganizationID *snowflake.ID `json:"active_organization_id,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// HasActiveOrganization reports whether usage is billed to an organization.
func (u User) HasActiveOrganization() bool {
	return u.ActiveOrganizationID != nil && *u.ActiveOrganizationID != 0
}
