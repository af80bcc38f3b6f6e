package policy

import (
	"fmt"

	"rowguard/pkg/config"
	"rowguard/pkg/expr"
)

// PolicyNotFoundError reports a (resource, action) key with zero
// registrations, surfaced only when the configuration asks for an
// error instead of the deny-by-default filter.
type PolicyNotFoundError struct {
	Resource string
	Action   string
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("policy: no policy registered for (%s, %q)", e.Resource, e.Action)
}

// Compile combines every registration under (resource, action) into one
// filter expression. OR-mode registrations form a disjunction, AND-mode
// registrations are conjoined onto it. With no registrations the result
// is a constant-false filter, or a PolicyNotFoundError when
// cfg.OnMissingPolicy is raise.
//
// Compile is pure tree construction: policy functions run with the
// actor, but nothing here inspects instances or touches a store.
func Compile(reg *Registry, resource, action string, actor any, cfg config.Config) (expr.Node, error) {
	regs := reg.Lookup(resource, action)
	if len(regs) == 0 {
		if cfg.OnMissingPolicy == config.MissingRaise {
			return nil, &PolicyNotFoundError{Resource: resource, Action: action}
		}
		return expr.False(), nil
	}

	var orGroup, andGroup []expr.Node
	for _, r := range regs {
		node := r.Fn(actor)
		if node == nil {
			return nil, fmt.Errorf("policy: %q returned no filter", r.Name)
		}
		switch EffectiveMode(r.Compose, cfg) {
		case ComposeAnd:
			andGroup = append(andGroup, node)
		default:
			orGroup = append(orGroup, node)
		}
	}

	switch {
	case len(orGroup) > 0 && len(andGroup) > 0:
		return expr.And(append([]expr.Node{expr.Or(orGroup...)}, andGroup...)...), nil
	case len(orGroup) > 0:
		return expr.Or(orGroup...), nil
	default:
		return expr.And(andGroup...), nil
	}
}

// EffectiveMode resolves an unset compose mode against the configured
// default composition.
func EffectiveMode(m Mode, cfg config.Config) Mode {
	if m != "" {
		return m
	}
	if cfg.DefaultCompose == string(ComposeAnd) {
		return ComposeAnd
	}
	return ComposeOr
}
