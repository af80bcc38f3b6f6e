// Package sqlgen renders a filter expression into a parameterized SQL
// predicate for the bulk-query path. The rendered predicate and the
// in-memory evaluator must agree: a row kept by the SQL filter is a
// row the evaluator accepts, and vice versa.
package sqlgen

import (
	"fmt"
	"strings"

	"rowguard/pkg/expr"
	"rowguard/pkg/schema"
)

// Filter is a rendered predicate with pgx-style positional arguments.
type Filter struct {
	SQL  string
	Args []any
}

// Render compiles node into a WHERE-clause predicate for the given
// resource. Relationship nodes become EXISTS subqueries, nested per
// hop, with many-to-many edges routed through their association table.
func Render(s *schema.Schema, resource string, node expr.Node) (Filter, error) {
	rt, ok := s.Resource(resource)
	if !ok {
		return Filter{}, fmt.Errorf("sqlgen: unknown resource %q", resource)
	}
	r := &renderer{schema: s}
	sql, err := r.render(node, rt, rt.Table)
	if err != nil {
		return Filter{}, err
	}
	return Filter{SQL: sql, Args: r.args}, nil
}

// AuthorizeQuery appends the compiled predicate to a SELECT statement,
// using AND when the statement already has a WHERE clause. Filter
// arguments are numbered from $1, so baseSQL must not carry positional
// parameters of its own.
func AuthorizeQuery(baseSQL string, s *schema.Schema, resource string, node expr.Node) (string, []any, error) {
	f, err := Render(s, resource, node)
	if err != nil {
		return "", nil, err
	}
	joiner := " WHERE "
	if strings.Contains(strings.ToUpper(baseSQL), " WHERE ") {
		joiner = " AND "
	}
	return baseSQL + joiner + "(" + f.SQL + ")", f.Args, nil
}

type renderer struct {
	schema *schema.Schema
	args   []any
	aliasN int
}

func (r *renderer) bind(v any) string {
	r.args = append(r.args, v)
	return fmt.Sprintf("$%d", len(r.args))
}

func (r *renderer) nextAlias() string {
	r.aliasN++
	return fmt.Sprintf("t%d", r.aliasN)
}

func (r *renderer) render(node expr.Node, rt schema.ResourceType, alias string) (string, error) {
	switch n := node.(type) {
	case expr.Literal:
		if n.Value {
			return "TRUE", nil
		}
		return "FALSE", nil
	case expr.Comparison:
		return r.renderComparison(n, rt, alias)
	case expr.Logical:
		return r.renderLogical(n, rt, alias)
	case expr.Exists:
		return r.renderExists(n, rt, alias)
	default:
		return "", fmt.Errorf("sqlgen: unsupported node type %T", node)
	}
}

func (r *renderer) renderLogical(n expr.Logical, rt schema.ResourceType, alias string) (string, error) {
	switch n.Kind {
	case expr.KindNot:
		if len(n.Children) != 1 {
			return "", fmt.Errorf("sqlgen: NOT with %d children", len(n.Children))
		}
		inner, err := r.render(n.Children[0], rt, alias)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case expr.KindAnd, expr.KindOr:
		op := " AND "
		if n.Kind == expr.KindOr {
			op = " OR "
		}
		parts := make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			part, err := r.render(child, rt, alias)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return "(" + strings.Join(parts, op) + ")", nil
	default:
		return "", fmt.Errorf("sqlgen: unknown logical kind %q", n.Kind)
	}
}

func (r *renderer) renderComparison(n expr.Comparison, rt schema.ResourceType, alias string) (string, error) {
	col, ok := rt.Attributes[n.Attr]
	if !ok {
		return "", fmt.Errorf("sqlgen: resource %q has no attribute %q", rt.Name, n.Attr)
	}
	ref := alias + "." + col

	switch n.Op {
	case expr.OpEq:
		if n.Value == nil {
			return ref + " IS NULL", nil
		}
		return ref + " = " + r.bind(n.Value), nil
	case expr.OpNe:
		if n.Value == nil {
			return ref + " IS NOT NULL", nil
		}
		return ref + " <> " + r.bind(n.Value), nil
	case expr.OpLt:
		return ref + " < " + r.bind(n.Value), nil
	case expr.OpLe:
		return ref + " <= " + r.bind(n.Value), nil
	case expr.OpGt:
		return ref + " > " + r.bind(n.Value), nil
	case expr.OpGe:
		return ref + " >= " + r.bind(n.Value), nil
	case expr.OpIn, expr.OpNotIn:
		return r.renderIn(n, ref)
	case expr.OpIsNull:
		return ref + " IS NULL", nil
	case expr.OpIsNotNull:
		return ref + " IS NOT NULL", nil
	case expr.OpLike:
		return ref + " LIKE " + r.bind(n.Value), nil
	case expr.OpILike:
		return ref + " ILIKE " + r.bind(n.Value), nil
	case expr.OpBetween:
		bounds, ok := n.Value.([]any)
		if !ok || len(bounds) != 2 {
			return "", fmt.Errorf("sqlgen: between on %q needs a two-element bound", n.Attr)
		}
		return ref + " BETWEEN " + r.bind(bounds[0]) + " AND " + r.bind(bounds[1]), nil
	case expr.OpContains:
		// POSITION keeps the needle literal; LIKE would reinterpret
		// wildcards inside the value.
		return "POSITION(" + r.bind(n.Value) + " IN " + ref + ") > 0", nil
	case expr.OpStartsWith:
		p := r.bind(n.Value)
		return "LEFT(" + ref + ", LENGTH(" + p + ")) = " + p, nil
	case expr.OpEndsWith:
		p := r.bind(n.Value)
		return "RIGHT(" + ref + ", LENGTH(" + p + ")) = " + p, nil
	default:
		return "", fmt.Errorf("sqlgen: unknown operator %q", n.Op)
	}
}

func (r *renderer) renderIn(n expr.Comparison, ref string) (string, error) {
	items, ok := n.Value.([]any)
	if !ok {
		items = []any{n.Value}
	}
	if len(items) == 0 {
		if n.Op == expr.OpNotIn {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	placeholders := make([]string, len(items))
	for i, item := range items {
		placeholders[i] = r.bind(item)
	}
	op := " IN ("
	if n.Op == expr.OpNotIn {
		op = " NOT IN ("
	}
	return ref + op + strings.Join(placeholders, ", ") + ")", nil
}

func (r *renderer) renderExists(n expr.Exists, rt schema.ResourceType, alias string) (string, error) {
	rel, ok := rt.Relationships[n.Relationship]
	if !ok {
		return "", fmt.Errorf("sqlgen: resource %q has no relationship %q", rt.Name, n.Relationship)
	}
	target, ok := r.schema.Resource(rel.Target)
	if !ok {
		return "", fmt.Errorf("sqlgen: relationship %q targets unknown resource %q", rel.Name, rel.Target)
	}

	targetAlias := r.nextAlias()
	if rel.JoinTable != "" {
		joinAlias := r.nextAlias()
		inner, err := r.render(n.Inner, target, targetAlias)
		if err != nil {
			return "", err
		}
		return "EXISTS (SELECT 1 FROM " + rel.JoinTable + " " + joinAlias +
			" JOIN " + target.Table + " " + targetAlias +
			" ON " + targetAlias + "." + rel.RemoteColumn + " = " + joinAlias + "." + rel.JoinRemoteColumn +
			" WHERE " + joinAlias + "." + rel.JoinLocalColumn + " = " + alias + "." + rel.LocalColumn +
			" AND (" + inner + "))", nil
	}

	inner, err := r.render(n.Inner, target, targetAlias)
	if err != nil {
		return "", err
	}
	return "EXISTS (SELECT 1 FROM " + target.Table + " " + targetAlias +
		" WHERE " + targetAlias + "." + rel.RemoteColumn + " = " + alias + "." + rel.LocalColumn +
		" AND (" + inner + "))", nil
}
