// Package policy stores policy registrations and compiles them into a
// single filter expression per (resource, action) key.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rowguard/pkg/expr"
)

// ErrInvalidPolicySignature is returned by Register when the policy
// function is nil.
var ErrInvalidPolicySignature = errors.New("policy: function must take the actor and return a filter node")

// Func maps an actor to a filter expression over the resource's
// attributes. The returned tree must be fully materialized: any value
// derived from the actor is resolved inside the function, so the tree
// carries no reference to the actor afterwards.
type Func func(actor any) expr.Node

// Mode says how a registration combines with the others under the same
// key: OR-mode policies grant access when any matches, AND-mode
// policies are mandatory restrictions.
type Mode string

const (
	ComposeOr  Mode = "or"
	ComposeAnd Mode = "and"
)

// Registration is one registered policy. Immutable once created.
type Registration struct {
	Resource    string
	Action      string
	Fn          Func
	Name        string
	Description string
	Compose     Mode
}

type registryKey struct {
	resource string
	action   string
}

// Registry maps (resource, action) to an insertion-ordered list of
// registrations. All reads and writes go through one mutex; readers
// never observe a partially appended list. Duplicate keys accumulate,
// that is the composition mechanism.
type Registry struct {
	mu       sync.Mutex
	policies map[registryKey][]Registration
}

func NewRegistry() *Registry {
	return &Registry{policies: map[registryKey][]Registration{}}
}

// Register appends a registration under its (resource, action) key.
// An unset Compose stays unset; the configured default composition is
// applied at compile time.
func (r *Registry) Register(reg Registration) error {
	if reg.Fn == nil {
		return ErrInvalidPolicySignature
	}
	if reg.Resource == "" || reg.Action == "" {
		return fmt.Errorf("policy: resource and action required")
	}
	if reg.Compose != "" && reg.Compose != ComposeOr && reg.Compose != ComposeAnd {
		return fmt.Errorf("policy: unknown compose mode %q", reg.Compose)
	}
	key := registryKey{resource: reg.Resource, action: reg.Action}
	r.mu.Lock()
	r.policies[key] = append(r.policies[key], reg)
	r.mu.Unlock()
	return nil
}

// Lookup returns a copy of the registrations for the key, in
// registration order. Empty when none exist: that emptiness is the
// deny-by-default signal, not an error.
func (r *Registry) Lookup(resource, action string) []Registration {
	key := registryKey{resource: resource, action: action}
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.policies[key]
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out
}

// HasPolicy reports whether at least one registration exists for the key.
func (r *Registry) HasPolicy(resource, action string) bool {
	key := registryKey{resource: resource, action: action}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.policies[key]) > 0
}

// RegisteredResources returns the resource types with at least one
// registration for the action, sorted. Used to propagate filters into
// relationship loads that are not part of the main query.
func (r *Registry) RegisteredResources(action string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for key := range r.policies {
		if key.action == action && !seen[key.resource] {
			seen[key.resource] = true
		}
	}
	out := make([]string, 0, len(seen))
	for resource := range seen {
		out = append(out, resource)
	}
	sort.Strings(out)
	return out
}

// All returns every registration, sorted by resource then action with
// registration order preserved within a key. Introspection surfaces
// use it to list what the registry holds.
func (r *Registry) All() []Registration {
	r.mu.Lock()
	keys := make([]registryKey, 0, len(r.policies))
	for key := range r.policies {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].resource != keys[j].resource {
			return keys[i].resource < keys[j].resource
		}
		return keys[i].action < keys[j].action
	})
	out := make([]Registration, 0)
	for _, key := range keys {
		out = append(out, r.policies[key]...)
	}
	r.mu.Unlock()
	return out
}

// Clear removes all registrations. Test isolation only; prefer a fresh
// NewRegistry per test.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.policies = map[registryKey][]Registration{}
	r.mu.Unlock()
}

var defaultRegistry = NewRegistry()

// Default returns the shared process-wide registry, for hosts that want
// registration at package init time. Everything else accepts an
// explicit registry.
func Default() *Registry {
	return defaultRegistry
}
