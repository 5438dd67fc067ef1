package service

import (
	"sort"

	"github.com/smallbiznis/creditcore/internal/feature/domain"
)

// DefaultRules is the built-in price list.
func DefaultRules() []Rule {
	return []Rule{
		Flat(domain.FeatureGenerateQuestionPaper, 5),
		FlatPlusPerUnit(domain.FeatureGenerateQuestionPaperWithAI, 10, domain.ContextImageCount, 2),
		Flat(domain.FeatureGenerateImage, 2),
	}
}

type entry struct {
	rule Rule
	cost domain.CostFunc
}

type registry struct {
	entries map[domain.FeatureKey]entry
}

// NewRegistry builds a registry from rules. A later rule for the same key
// replaces an earlier one.
func NewRegistry(rules ...Rule) (domain.Registry, error) {
	entries := make(map[domain.FeatureKey]entry, len(rules))
	for _, rule := range rules {
		if err := rule.validate(); err != nil {
			return nil, err
		}
		entries[rule.Key] = entry{rule: rule, cost: rule.costFunc()}
	}
	return &registry{entries: entries}, nil
}

// NewDefaultRegistry builds the registry with DefaultRules.
func NewDefaultRegistry() (domain.Registry, error) {
	return NewRegistry(DefaultRules()...)
}

func (r *registry) CostOf(key domain.FeatureKey, ctx map[string]any) (int64, error) {
	e, ok := r.entries[key]
	if !ok {
		return 0, domain.ErrUnknownFeature
	}
	return e.cost(ctx)
}

func (r *registry) Pricing(key domain.FeatureKey) (domain.Pricing, error) {
	e, ok := r.entries[key]
	if !ok {
		return domain.Pricing{}, domain.ErrUnknownFeature
	}
	return e.rule.pricing(), nil
}

func (r *registry) Features() []domain.Pricing {
	out := make([]domain.Pricing, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.rule.pricing())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
