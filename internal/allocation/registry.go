package allocation

import (
	"errors"
	"fmt"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/store"
)

var (
	// ErrUnknownPolicy is returned for an assignment policy no strategy
	// implements.
	ErrUnknownPolicy = errors.New("unknown assignment policy")

	// ErrManualPolicy is returned when asked to resolve the manual policy,
	// which never allocates automatically.
	ErrManualPolicy = errors.New("manual assignment policy")
)

// Registry resolves assignment policy names to strategies.
type Registry struct {
	strategies    map[string]Strategy
	defaultPolicy string
}

// NewRegistry builds every strategy over s. An empty policy name resolves
// to defaultPolicy.
func NewRegistry(s store.AllocationStore, defaultPolicy string) *Registry {
	leastLoaded := NewLeastLoaded(s)
	roundRobin := NewRoundRobin(s)
	lastAssigned := NewLastAssigned(s, leastLoaded)

	return &Registry{
		strategies: map[string]Strategy{
			"RR":                      roundRobin,
			domain.PolicyRoundRobin:   roundRobin,
			"LL":                      leastLoaded,
			domain.PolicyLeastLoaded:  leastLoaded,
			"LA":                      lastAssigned,
			domain.PolicyLastAssigned: lastAssigned,
		},
		defaultPolicy: defaultPolicy,
	}
}

// Resolve returns the strategy registered under name.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if name == "" {
		name = r.defaultPolicy
	}
	if name == domain.PolicyManual {
		return nil, ErrManualPolicy
	}
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return s, nil
}
