package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// NeverUpdatedHours stands in for the elapsed time of users whose credits were
// never restored.
const NeverUpdatedHours = 999

type Outcome string

const (
	OutcomeRestored   Outcome = "restored"
	OutcomeIneligible Outcome = "ineligible"
	OutcomeSkipped    Outcome = "skipped"
)

type Result struct {
	Outcome          Outcome `json:"outcome"`
	CreditsAdded     int64   `json:"creditsAdded"`
	Balance          int64   `json:"balance"`
	HoursSinceUpdate float64 `json:"hoursSinceLastCreditUpdate"`
}

// Service tops balances back up to the threshold for users who have not been
// restored within the interval.
type Service interface {
	MaybeRestore(ctx context.Context, userID snowflake.ID) (Result, error)
}
