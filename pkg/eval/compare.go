package eval

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"rowguard/pkg/expr"
	"rowguard/pkg/schema"
)

// evalComparison applies one comparison operator with SQL-flavored
// semantics: a missing or nil attribute behaves like NULL and is only
// matched by null checks (is_null, or eq/ne against a nil value), and
// incomparable operand types make the comparison false rather than
// failing the whole evaluation.
func evalComparison(n expr.Comparison, inst schema.Instance) bool {
	actual, ok := inst.Attribute(n.Attr)
	if !ok {
		actual = nil
	}

	switch n.Op {
	case expr.OpIsNull:
		return actual == nil
	case expr.OpIsNotNull:
		return actual != nil
	}
	// Eq/Ne against a nil comparison value follow the SQL renderer,
	// which emits IS NULL / IS NOT NULL for them.
	if n.Value == nil {
		switch n.Op {
		case expr.OpEq:
			return actual == nil
		case expr.OpNe:
			return actual != nil
		}
	}
	if actual == nil {
		return false
	}

	switch n.Op {
	case expr.OpEq:
		c, comparable := compareValues(actual, n.Value)
		return comparable && c == 0
	case expr.OpNe:
		c, comparable := compareValues(actual, n.Value)
		return comparable && c != 0
	case expr.OpLt:
		c, comparable := compareValues(actual, n.Value)
		return comparable && c < 0
	case expr.OpLe:
		c, comparable := compareValues(actual, n.Value)
		return comparable && c <= 0
	case expr.OpGt:
		c, comparable := compareValues(actual, n.Value)
		return comparable && c > 0
	case expr.OpGe:
		c, comparable := compareValues(actual, n.Value)
		return comparable && c >= 0
	case expr.OpIn:
		return valueInSet(actual, n.Value)
	case expr.OpNotIn:
		return !valueInSet(actual, n.Value)
	case expr.OpLike:
		return likeMatch(actual, n.Value, true)
	case expr.OpILike:
		return likeMatch(actual, n.Value, false)
	case expr.OpBetween:
		bounds, ok := asSlice(n.Value)
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, loOK := compareValues(actual, bounds[0])
		hi, hiOK := compareValues(actual, bounds[1])
		return loOK && hiOK && lo >= 0 && hi <= 0
	case expr.OpContains:
		a, b, ok := bothStrings(actual, n.Value)
		return ok && strings.Contains(a, b)
	case expr.OpStartsWith:
		a, b, ok := bothStrings(actual, n.Value)
		return ok && strings.HasPrefix(a, b)
	case expr.OpEndsWith:
		a, b, ok := bothStrings(actual, n.Value)
		return ok && strings.HasSuffix(a, b)
	default:
		return false
	}
}

func valueInSet(actual, set any) bool {
	items, ok := asSlice(set)
	if !ok {
		items = []any{set}
	}
	for _, item := range items {
		if c, comparable := compareValues(actual, item); comparable && c == 0 {
			return true
		}
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

func bothStrings(a, b any) (string, string, bool) {
	as, aok := a.(string)
	bs, bok := b.(string)
	return as, bs, aok && bok
}

// likeMatch implements SQL LIKE: % matches any run, _ matches exactly
// one character. Wildcards are swapped for placeholders before regexp
// escaping so user text containing regexp metacharacters stays literal.
func likeMatch(value, pattern any, caseSensitive bool) bool {
	v, p, ok := bothStrings(value, pattern)
	if !ok {
		return false
	}
	const phAny = "\x00ANY\x00"
	const phOne = "\x00ONE\x00"
	escaped := regexp.QuoteMeta(strings.ReplaceAll(strings.ReplaceAll(p, "%", phAny), "_", phOne))
	re := strings.ReplaceAll(strings.ReplaceAll(escaped, phAny, ".*"), phOne, ".")
	flags := "(?s)"
	if !caseSensitive {
		flags = "(?si)"
	}
	matched, err := regexp.MatchString(flags+"^"+re+"$", v)
	return err == nil && matched
}

// compareValues orders two values when their types admit a natural
// total order: numbers with numbers, strings with strings, bools with
// bools (false < true), times with times. The second return is false
// for incomparable pairs.
func compareValues(a, b any) (int, bool) {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
		return 0, false
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return boolRank(ab) - boolRank(bb), true
		}
		return 0, false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	return 0, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
