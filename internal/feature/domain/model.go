package domain

import (
	"errors"
)

// FeatureKey identifies a billable feature.
type FeatureKey string

const (
	FeatureGenerateQuestionPaper       FeatureKey = "GENERATE_QUESTION_PAPER"
	FeatureGenerateQuestionPaperWithAI FeatureKey = "GENERATE_QUESTION_PAPER_WITH_AI"
	FeatureGenerateImage               FeatureKey = "GENERATE_IMAGE"
)

// Context value names read by cost functions.
const (
	ContextImageCount = "imageCount"
)

// MinimumCost is the lowest price any registered feature can have.
const MinimumCost int64 = 1

// MaxUnitCount bounds per-unit context values such as imageCount.
const MaxUnitCount int64 = 10_000

var (
	ErrUnknownFeature = errors.New("unknown_feature")
	ErrInvalidRule    = errors.New("invalid_feature_rule")
	ErrInvalidContext = errors.New("invalid_feature_context")
)

// CostFunc computes the credit cost of one execution from its context.
type CostFunc func(ctx map[string]any) (int64, error)

// Pricing describes how a feature is priced, for listing.
type Pricing struct {
	Key         FeatureKey `json:"key"`
	BaseCost    int64      `json:"base_cost"`
	UnitKey     string     `json:"unit_key,omitempty"`
	PerUnitCost int64      `json:"per_unit_cost,omitempty"`
}
