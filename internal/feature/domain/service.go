package domain

// Registry resolves feature keys to their cost. Implementations are pure and
// safe for concurrent use.
type Registry interface {
	CostOf(key FeatureKey, ctx map[string]any) (int64, error)
	Pricing(key FeatureKey) (Pricing, error)
	Features() []Pricing
}
