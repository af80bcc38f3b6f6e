package expr

import (
	"reflect"
	"testing"
)

func TestAndDegenerates(t *testing.T) {
	if got := And(); !reflect.DeepEqual(got, Literal{Value: true}) {
		t.Fatalf("And() = %#v, want true literal", got)
	}
	child := Eq("id", 1)
	if got := And(child); !reflect.DeepEqual(got, child) {
		t.Fatalf("And(one) = %#v, want child unchanged", got)
	}
	got := And(child, Eq("id", 2))
	logical, ok := got.(Logical)
	if !ok || logical.Kind != KindAnd || len(logical.Children) != 2 {
		t.Fatalf("And(two) = %#v, want AND with 2 children", got)
	}
}

func TestOrDegenerates(t *testing.T) {
	if got := Or(); !reflect.DeepEqual(got, Literal{Value: false}) {
		t.Fatalf("Or() = %#v, want false literal", got)
	}
	child := Eq("id", 1)
	if got := Or(child); !reflect.DeepEqual(got, child) {
		t.Fatalf("Or(one) = %#v, want child unchanged", got)
	}
}

func TestNotCarriesOneChild(t *testing.T) {
	got := Not(True())
	logical, ok := got.(Logical)
	if !ok || logical.Kind != KindNot {
		t.Fatalf("Not = %#v, want NOT logical", got)
	}
	if len(logical.Children) != 1 {
		t.Fatalf("NOT children = %d, want 1", len(logical.Children))
	}
}

func TestComparisonBuilders(t *testing.T) {
	cases := []struct {
		name string
		node Node
		op   Operator
	}{
		{"eq", Eq("a", 1), OpEq},
		{"ne", Ne("a", 1), OpNe},
		{"lt", Lt("a", 1), OpLt},
		{"le", Le("a", 1), OpLe},
		{"gt", Gt("a", 1), OpGt},
		{"ge", Ge("a", 1), OpGe},
		{"is_null", IsNull("a"), OpIsNull},
		{"is_not_null", IsNotNull("a"), OpIsNotNull},
		{"like", Like("a", "x%"), OpLike},
		{"ilike", ILike("a", "x%"), OpILike},
		{"contains", Contains("a", "x"), OpContains},
		{"starts_with", StartsWith("a", "x"), OpStartsWith},
		{"ends_with", EndsWith("a", "x"), OpEndsWith},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmp, ok := tc.node.(Comparison)
			if !ok {
				t.Fatalf("node = %#v, want Comparison", tc.node)
			}
			if cmp.Op != tc.op {
				t.Fatalf("op = %q, want %q", cmp.Op, tc.op)
			}
			if cmp.Attr != "a" {
				t.Fatalf("attr = %q, want a", cmp.Attr)
			}
		})
	}
}

func TestInCarriesValueSlice(t *testing.T) {
	node := In("status", "draft", "published")
	cmp := node.(Comparison)
	values, ok := cmp.Value.([]any)
	if !ok || len(values) != 2 {
		t.Fatalf("In value = %#v, want two-element []any", cmp.Value)
	}
	if cmp.Op != OpIn {
		t.Fatalf("op = %q", cmp.Op)
	}
	if NotIn("status", "x").(Comparison).Op != OpNotIn {
		t.Fatal("NotIn op mismatch")
	}
}

func TestBetweenCarriesBounds(t *testing.T) {
	cmp := Between("age", 18, 65).(Comparison)
	bounds, ok := cmp.Value.([]any)
	if !ok || len(bounds) != 2 || bounds[0] != 18 || bounds[1] != 65 {
		t.Fatalf("Between value = %#v", cmp.Value)
	}
}

func TestExistsPathNestsInOrder(t *testing.T) {
	leaf := Eq("id", "org-1")
	node := ExistsPath([]string{"author", "org"}, leaf)
	outer, ok := node.(Exists)
	if !ok || outer.Relationship != "author" {
		t.Fatalf("outer = %#v, want Exists over author", node)
	}
	inner, ok := outer.Inner.(Exists)
	if !ok || inner.Relationship != "org" {
		t.Fatalf("inner = %#v, want Exists over org", outer.Inner)
	}
	if !reflect.DeepEqual(inner.Inner, leaf) {
		t.Fatalf("leaf = %#v", inner.Inner)
	}
}

func TestExistsPathEmptyPathIsLeaf(t *testing.T) {
	leaf := Eq("id", 1)
	if got := ExistsPath(nil, leaf); !reflect.DeepEqual(got, leaf) {
		t.Fatalf("ExistsPath(nil) = %#v, want leaf", got)
	}
}
