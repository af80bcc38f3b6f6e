// Package expr defines the boolean filter expression tree produced by
// policies and consumed by the SQL renderer and the in-memory evaluator.
package expr

// Operator identifies a comparison operator.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLe         Operator = "le"
	OpGt         Operator = "gt"
	OpGe         Operator = "ge"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpIsNull     Operator = "is_null"
	OpIsNotNull  Operator = "is_not_null"
	OpLike       Operator = "like"
	OpILike      Operator = "ilike"
	OpBetween    Operator = "between"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
)

// LogicalKind identifies a logical combinator.
type LogicalKind string

const (
	KindAnd LogicalKind = "and"
	KindOr  LogicalKind = "or"
	KindNot LogicalKind = "not"
)

// Node is the closed set of expression variants. Trees are immutable
// once built and safe to share across goroutines.
type Node interface {
	isNode()
}

// Literal is a constant true/false leaf.
type Literal struct {
	Value bool
}

// Comparison tests one attribute of the current resource against a
// value that was fully resolved when the policy ran. For OpIn/OpNotIn
// Value is a []any; for OpBetween it is a two-element []any holding
// the low and high bounds; for OpIsNull/OpIsNotNull it is ignored.
type Comparison struct {
	Attr  string
	Op    Operator
	Value any
}

// Logical combines child nodes with AND, OR, or NOT. NOT carries
// exactly one child.
type Logical struct {
	Kind     LogicalKind
	Children []Node
}

// Exists is true when at least one object reached through the named
// relationship satisfies Inner. Nested Exists nodes express multi-hop
// traversal.
type Exists struct {
	Relationship string
	Inner        Node
}

func (Literal) isNode()    {}
func (Comparison) isNode() {}
func (Logical) isNode()    {}
func (Exists) isNode()     {}

// True returns a constant-true leaf.
func True() Node { return Literal{Value: true} }

// False returns a constant-false leaf.
func False() Node { return Literal{Value: false} }

func Eq(attr string, value any) Node { return Comparison{Attr: attr, Op: OpEq, Value: value} }
func Ne(attr string, value any) Node { return Comparison{Attr: attr, Op: OpNe, Value: value} }
func Lt(attr string, value any) Node { return Comparison{Attr: attr, Op: OpLt, Value: value} }
func Le(attr string, value any) Node { return Comparison{Attr: attr, Op: OpLe, Value: value} }
func Gt(attr string, value any) Node { return Comparison{Attr: attr, Op: OpGt, Value: value} }
func Ge(attr string, value any) Node { return Comparison{Attr: attr, Op: OpGe, Value: value} }

// In tests membership of the attribute in a finite value set.
func In(attr string, values ...any) Node {
	return Comparison{Attr: attr, Op: OpIn, Value: values}
}

// NotIn tests non-membership of the attribute in a finite value set.
func NotIn(attr string, values ...any) Node {
	return Comparison{Attr: attr, Op: OpNotIn, Value: values}
}

func IsNull(attr string) Node    { return Comparison{Attr: attr, Op: OpIsNull} }
func IsNotNull(attr string) Node { return Comparison{Attr: attr, Op: OpIsNotNull} }

// Like matches a SQL wildcard pattern (% and _), case-sensitively.
func Like(attr, pattern string) Node {
	return Comparison{Attr: attr, Op: OpLike, Value: pattern}
}

// ILike matches a SQL wildcard pattern, case-insensitively.
func ILike(attr, pattern string) Node {
	return Comparison{Attr: attr, Op: OpILike, Value: pattern}
}

// Between tests low <= attr <= high.
func Between(attr string, low, high any) Node {
	return Comparison{Attr: attr, Op: OpBetween, Value: []any{low, high}}
}

func Contains(attr, substr string) Node {
	return Comparison{Attr: attr, Op: OpContains, Value: substr}
}

func StartsWith(attr, prefix string) Node {
	return Comparison{Attr: attr, Op: OpStartsWith, Value: prefix}
}

func EndsWith(attr, suffix string) Node {
	return Comparison{Attr: attr, Op: OpEndsWith, Value: suffix}
}

// And combines children conjunctively. With no children it degenerates
// to true, with one child it returns the child unchanged.
func And(children ...Node) Node {
	if len(children) == 0 {
		return True()
	}
	if len(children) == 1 {
		return children[0]
	}
	return Logical{Kind: KindAnd, Children: children}
}

// Or combines children disjunctively. With no children it degenerates
// to false, with one child it returns the child unchanged.
func Or(children ...Node) Node {
	if len(children) == 0 {
		return False()
	}
	if len(children) == 1 {
		return children[0]
	}
	return Logical{Kind: KindOr, Children: children}
}

// Not negates a single child.
func Not(child Node) Node {
	return Logical{Kind: KindNot, Children: []Node{child}}
}

// ExistsIn wraps inner in an existential test over the named relationship.
func ExistsIn(relationship string, inner Node) Node {
	return Exists{Relationship: relationship, Inner: inner}
}

// ExistsPath nests existential tests along a multi-hop relationship
// path, applying leaf at the end of the chain.
func ExistsPath(path []string, leaf Node) Node {
	node := leaf
	for i := len(path) - 1; i >= 0; i-- {
		node = Exists{Relationship: path[i], Inner: node}
	}
	return node
}
