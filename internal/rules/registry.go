package rules

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a rule from its stored configuration, rejecting invalid input.
type Factory func(cfg map[string]any) (Rule, error)

// Registry maps rule categories to their factories.
// It provides a thread-safe way to register and look up rule kinds.
type Registry struct {
	factories map[Category]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Category]Factory),
	}
}

// Register adds a rule kind. An existing kind with the same category is replaced.
func (r *Registry) Register(category Category, f Factory) error {
	if f == nil {
		return fmt.Errorf("cannot register nil factory")
	}
	if category == "" {
		return fmt.Errorf("rule category cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[category] = f
	return nil
}

// Build parses a stored rule configuration into a Rule.
func (r *Registry) Build(category string, cfg map[string]any) (Rule, error) {
	r.mu.RLock()
	f, ok := r.factories[Category(category)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown rule category %q", category)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	rule, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", category, err)
	}
	return rule, nil
}

// Validate reports whether cfg is acceptable for category.
func (r *Registry) Validate(category string, cfg map[string]any) error {
	_, err := r.Build(category, cfg)
	return err
}

// Categories returns the registered categories, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for c := range r.factories {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry holds every built-in rule kind.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(CategoryPriceBand, newPriceBand)
	_ = r.Register(CategoryVelocity, newVelocity)
	_ = r.Register(CategoryDuplicateListing, newDuplicateListing)
	_ = r.Register(CategoryCooldown, newCooldown)
	_ = r.Register(CategoryBlacklist, newBlacklist)
	_ = r.Register(CategorySuspiciousPattern, newSuspiciousPattern)
	_ = r.Register(CategorySelfTrade, newSelfTrade)
	return r
}
