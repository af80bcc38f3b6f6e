package expr

// Predicate is a composable policy building block: a function from an
// actor to a filter node. Composition happens before registration, so
// the registry only ever sees one function per policy.
type Predicate func(actor any) Node

// AndWith returns a predicate that is the conjunction of p and other.
func (p Predicate) AndWith(other Predicate) Predicate {
	return func(actor any) Node {
		return And(p(actor), other(actor))
	}
}

// OrWith returns a predicate that is the disjunction of p and other.
func (p Predicate) OrWith(other Predicate) Predicate {
	return func(actor any) Node {
		return Or(p(actor), other(actor))
	}
}

// Negate returns a predicate producing the negation of p.
func (p Predicate) Negate() Predicate {
	return func(actor any) Node {
		return Not(p(actor))
	}
}

// AlwaysAllow grants access unconditionally.
func AlwaysAllow(any) Node { return True() }

// AlwaysDeny denies access unconditionally.
func AlwaysDeny(any) Node { return False() }
