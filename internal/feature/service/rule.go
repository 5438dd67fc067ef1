package service

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/smallbiznis/creditcore/internal/feature/domain"
)

// Rule prices a single feature.
type Rule struct {
	Key         domain.FeatureKey
	BaseCost    int64
	UnitKey     string
	PerUnitCost int64
}

// Flat prices every execution the same.
func Flat(key domain.FeatureKey, cost int64) Rule {
	return Rule{Key: key, BaseCost: cost}
}

// FlatPlusPerUnit charges base plus perUnit for every unit named by unitKey in
// the execution context.
func FlatPlusPerUnit(key domain.FeatureKey, base int64, unitKey string, perUnit int64) Rule {
	return Rule{Key: key, BaseCost: base, UnitKey: unitKey, PerUnitCost: perUnit}
}

func (r Rule) validate() error {
	if r.Key == "" || r.BaseCost < 0 || r.PerUnitCost < 0 {
		return domain.ErrInvalidRule
	}
	if r.PerUnitCost > 0 && strings.TrimSpace(r.UnitKey) == "" {
		return domain.ErrInvalidRule
	}
	return nil
}

func (r Rule) costFunc() domain.CostFunc {
	return func(ctx map[string]any) (int64, error) {
		cost := r.BaseCost
		if r.UnitKey != "" && r.PerUnitCost > 0 {
			count, err := unitCount(ctx, r.UnitKey)
			if err != nil {
				return 0, err
			}
			if count > (math.MaxInt64-cost)/r.PerUnitCost {
				return 0, fmt.Errorf("%w: %s=%d", domain.ErrInvalidContext, r.UnitKey, count)
			}
			cost += r.PerUnitCost * count
		}
		if cost < domain.MinimumCost {
			return domain.MinimumCost, nil
		}
		return cost, nil
	}
}

func (r Rule) pricing() domain.Pricing {
	return domain.Pricing{
		Key:         r.Key,
		BaseCost:    r.BaseCost,
		UnitKey:     r.UnitKey,
		PerUnitCost: r.PerUnitCost,
	}
}

// unitCount reads a non-negative whole count from ctx. Missing, malformed and
// negative values count as zero. Counts above MaxUnitCount are rejected.
func unitCount(ctx map[string]any, key string) (int64, error) {
	if ctx == nil {
		return 0, nil
	}
	var count int64
	switch v := ctx[key].(type) {
	case int:
		count = int64(v)
	case int32:
		count = int64(v)
	case int64:
		count = v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, -1) {
			return 0, nil
		}
		if v > float64(domain.MaxUnitCount) {
			return 0, fmt.Errorf("%w: %s exceeds %d", domain.ErrInvalidContext, key, domain.MaxUnitCount)
		}
		count = int64(math.Floor(v))
	case float32:
		return unitCount(map[string]any{key: float64(v)}, key)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			var numErr *strconv.NumError
			if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
				return 0, fmt.Errorf("%w: %s out of range", domain.ErrInvalidContext, key)
			}
			return 0, nil
		}
		count = parsed
	default:
		return 0, nil
	}
	if count < 0 {
		return 0, nil
	}
	if count > domain.MaxUnitCount {
		return 0, fmt.Errorf("%w: %s exceeds %d", domain.ErrInvalidContext, key, domain.MaxUnitCount)
	}
	return count, nil
}
