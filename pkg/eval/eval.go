// Package eval walks a filter expression against one loaded instance
// and answers a single allow/deny question without touching a store.
// Its decisions must agree with running the rendered SQL filter over a
// table containing just that row.
package eval

import (
	"fmt"
	"log"

	"rowguard/pkg/config"
	"rowguard/pkg/expr"
	"rowguard/pkg/schema"
)

// UnsupportedExpressionError reports a node kind the evaluator does not
// recognize. The node set is closed, so this only fires on a nil or
// foreign Node implementation.
type UnsupportedExpressionError struct {
	Detail string
}

func (e *UnsupportedExpressionError) Error() string {
	return "eval: unsupported expression: " + e.Detail
}

// UnloadedRelationshipError reports an unloaded edge reached with no
// loader while configured to raise.
type UnloadedRelationshipError struct {
	Resource     string
	Relationship string
}

func (e *UnloadedRelationshipError) Error() string {
	return fmt.Sprintf("eval: relationship %q on %s is not loaded; eagerly load it, supply a loader, or configure on_unloaded=deny",
		e.Relationship, e.Resource)
}

// Loader fetches an unloaded relationship edge on demand. It must
// return a resolved edge state; a host with asynchronous I/O adapts
// its own suspension around this call.
type Loader func(inst schema.Instance, relationship string) (schema.Edge, error)

// Options configure one evaluation. Resolver is required whenever the
// tree contains relationship nodes.
type Options struct {
	Resolver   *schema.Resolver
	OnUnloaded config.UnloadedMode
	Loader     Loader

	// Logf receives the unloaded-edge warning in warn mode. Defaults
	// to log.Printf.
	Logf func(format string, args ...any)
}

// Evaluate walks node against inst, left to right, depth first.
// Identical (node, instance) inputs always produce identical results;
// the only side effect is a loader call for an unloaded edge.
func Evaluate(node expr.Node, inst schema.Instance, opts Options) (bool, error) {
	switch n := node.(type) {
	case expr.Literal:
		return n.Value, nil
	case expr.Comparison:
		return evalComparison(n, inst), nil
	case expr.Logical:
		return evalLogical(n, inst, opts)
	case expr.Exists:
		return evalExists(n, inst, opts)
	default:
		return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("node type %T", node)}
	}
}

func evalLogical(n expr.Logical, inst schema.Instance, opts Options) (bool, error) {
	switch n.Kind {
	case expr.KindAnd:
		for _, child := range n.Children {
			ok, err := Evaluate(child, inst, opts)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case expr.KindOr:
		for _, child := range n.Children {
			ok, err := Evaluate(child, inst, opts)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case expr.KindNot:
		if len(n.Children) != 1 {
			return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("NOT with %d children", len(n.Children))}
		}
		ok, err := Evaluate(n.Children[0], inst, opts)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("logical kind %q", n.Kind)}
	}
}

func evalExists(n expr.Exists, inst schema.Instance, opts Options) (bool, error) {
	if opts.Resolver == nil {
		return false, fmt.Errorf("eval: resolver required for relationship %q", n.Relationship)
	}
	// Validates the relationship and warms the resolver cache; the edge
	// state on the instance drives the dispatch below.
	if _, err := opts.Resolver.Resolve(inst.ResourceType(), n.Relationship); err != nil {
		return false, err
	}

	edge := inst.Edge(n.Relationship)
	if edge.State == schema.EdgeUnloaded {
		if opts.Loader != nil {
			loaded, err := opts.Loader(inst, n.Relationship)
			if err != nil {
				return false, fmt.Errorf("eval: load relationship %q: %w", n.Relationship, err)
			}
			edge = loaded
		}
	}
	if edge.State == schema.EdgeUnloaded {
		switch opts.OnUnloaded {
		case config.UnloadedRaise:
			return false, &UnloadedRelationshipError{Resource: inst.ResourceType(), Relationship: n.Relationship}
		case config.UnloadedWarn:
			logf := opts.Logf
			if logf == nil {
				logf = log.Printf
			}
			logf("eval: relationship %q on %s not loaded; denying", n.Relationship, inst.ResourceType())
			return false, nil
		default:
			return false, nil
		}
	}

	switch edge.State {
	case schema.EdgeAbsent:
		// EXISTS over the empty set.
		return false, nil
	case schema.EdgePresent:
		return Evaluate(n.Inner, edge.One, opts)
	case schema.EdgeCollection:
		for _, item := range edge.Many {
			ok, err := Evaluate(n.Inner, item, opts)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &UnsupportedExpressionError{Detail: fmt.Sprintf("edge state %d", edge.State)}
	}
}
