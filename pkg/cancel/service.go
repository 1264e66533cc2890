package cancel

import (
	"context"
	"sort"
	"strings"

	"github.com/subterminator/agents/pkg/browser"
	"github.com/subterminator/agents/pkg/errs"
)

// FallbackHandler is a hardcoded action for one state, used when the planner
// is unreachable. It acts directly on the driver.
type FallbackHandler func(ctx context.Context, d browser.Driver) error

// Service describes one subscription provider: where the flow starts, how to
// recognize its pages, and what to do when the planner is unavailable.
type Service interface {
	// Name is the registry key, lowercase.
	Name() string

	// EntryURL is the page the flow navigates to first.
	EntryURL() string

	// Rules returns a service-specific heuristic table; nil selects the
	// generic defaults.
	Rules() []Rule

	// Fallback returns the hardcoded handler for a state, or nil.
	Fallback(state State) FallbackHandler

	// BillingAdvice explains how to cancel when billing is handled by a
	// third party detected in the page text.
	BillingAdvice(pageText string) string
}

var registry = map[string]Service{}

// Register adds a service to the registry. Called from init.
func Register(s Service) {
	registry[s.Name()] = s
}

// Lookup resolves a service by name.
func Lookup(name string) (Service, error) {
	s, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, errs.New(errs.KindInputValidation,
			"unknown service %q, supported: %s", name, strings.Join(ServiceNames(), ", "))
	}
	return s, nil
}

// ServiceNames lists registered services in sorted order.
func ServiceNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
