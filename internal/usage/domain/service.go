package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/creditcore/internal/feature/domain"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
)

type CheckRequest struct {
	UserID     snowflake.ID
	FeatureKey featuredomain.FeatureKey
	Context    map[string]any
}

type CheckResult struct {
	Sufficient bool  `json:"sufficient"`
	Required   int64 `json:"required"`
	Available  int64 `json:"available"`
	Billed     bool  `json:"billed"`
}

type ReserveUsageRequest struct {
	UserID     snowflake.ID
	FeatureKey featuredomain.FeatureKey
	Estimate   map[string]any
	TTL        time.Duration
}

type RecordReservedUsageRequest struct {
	ReservationID snowflake.ID
	FeatureKey    featuredomain.FeatureKey
	Actual        map[string]any
}

type ListUsageRequest struct {
	UserID snowflake.ID
	Start  *time.Time
	End    *time.Time
	Limit  int
}

type Service interface {
	Check(ctx context.Context, req CheckRequest) (CheckResult, error)
	CheckSufficient(ctx context.Context, req CheckRequest) (bool, error)
	// AssertSufficient fails with *ledgerdomain.InsufficientCreditsError when the
	// cached balance cannot cover the cost. It does not hold funds.
	AssertSufficient(ctx context.Context, req CheckRequest) error
	RecordUsage(ctx context.Context, userID snowflake.ID, key featuredomain.FeatureKey) (*UsageRecord, error)

	Reserve(ctx context.Context, req ReserveUsageRequest) (*ledgerdomain.Reservation, error)
	RecordReservedUsage(ctx context.Context, req RecordReservedUsageRequest) (*UsageRecord, error)

	ListUsage(ctx context.Context, req ListUsageRequest) ([]UsageRecord, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidDateRange = errors.New("invalid_date_range")
	ErrFeatureMismatch  = errors.New("reservation_feature_mismatch")
)
