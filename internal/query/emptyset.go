package query

import (
	"slices"
	"time"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// IsEmpty reports whether tree provably matches no record.
//
// The analysis is sound but incomplete: it never reports a satisfiable tree
// as empty, and it misses most unsatisfiable ones. Detected cases:
//   - In with an empty list
//   - Or with no conditions, or whose conditions are all empty
//   - And with an empty condition, or with Equal/In leaves on one field
//     whose value sets do not intersect. Fields compared against date
//     strings are skipped, since two spellings of one instant match alike.
func IsEmpty(tree ConditionTree) bool {
	switch t := tree.(type) {
	case nil:
		return false
	case Leaf:
		if t.Operator != schema.In {
			return false
		}
		list, ok := t.Value.(ir.List)
		return ok && len(list) == 0
	case Branch:
		if t.Aggregator == AggregatorOr {
			for _, c := range t.Conditions {
				if !IsEmpty(c) {
					return false
				}
			}
			return true
		}
		for _, c := range t.Conditions {
			if IsEmpty(c) {
				return true
			}
		}
		return hasDisjointEqualities(t.Conditions)
	}
	return false
}

// hasDisjointEqualities intersects the value sets of the Equal and In
// leaves of an And, per field.
func hasDisjointEqualities(conditions []ConditionTree) bool {
	sets := map[string]map[string]bool{}
	skipped := map[string]bool{}
	for _, c := range conditions {
		l, ok := c.(Leaf)
		if !ok || skipped[l.Field] {
			continue
		}
		var values ir.List
		switch l.Operator {
		case schema.Equal:
			values = ir.List{l.Value}
		case schema.In:
			list, ok := l.Value.(ir.List)
			if !ok {
				continue
			}
			values = list
		default:
			continue
		}
		if slices.ContainsFunc(values, isDateLike) {
			skipped[l.Field] = true
			delete(sets, l.Field)
			continue
		}
		current := make(map[string]bool, len(values))
		for _, v := range values {
			key := ir.CanonicalKey(v)
			if previous, seen := sets[l.Field]; !seen || previous[key] {
				current[key] = true
			}
		}
		if len(current) == 0 {
			return true
		}
		sets[l.Field] = current
	}
	return false
}

func isDateLike(v ir.Value) bool {
	_, ok := ParseDate(v, time.UTC)
	return ok
}

var inverses = map[schema.Operator]schema.Operator{
	schema.Equal:              schema.NotEqual,
	schema.NotEqual:           schema.Equal,
	schema.In:                 schema.NotIn,
	schema.NotIn:              schema.In,
	schema.Present:            schema.Blank,
	schema.Blank:              schema.Present,
	schema.Contains:           schema.NotContains,
	schema.NotContains:        schema.Contains,
	schema.IContains:          schema.NotIContains,
	schema.NotIContains:       schema.IContains,
	schema.LessThan:           schema.GreaterThanOrEqual,
	schema.GreaterThanOrEqual: schema.LessThan,
	schema.GreaterThan:        schema.LessThanOrEqual,
	schema.LessThanOrEqual:    schema.GreaterThan,
	schema.IncludesAll:        schema.IncludesNone,
}

// Inverse negates tree. Branches are negated with De Morgan's laws; leaves
// use the opposite operator. Missing becomes NotEqual null.
// The second result is false when some leaf has no opposite operator.
func Inverse(tree ConditionTree) (ConditionTree, bool) {
	switch t := tree.(type) {
	case nil:
		return MatchNone(), true
	case Leaf:
		if t.Operator == schema.Missing {
			return NewLeaf(t.Field, schema.NotEqual, ir.Null{}), true
		}
		op, ok := inverses[t.Operator]
		if !ok {
			return nil, false
		}
		if op == schema.Present || op == schema.Blank {
			return NewLeaf(t.Field, op, nil), true
		}
		return NewLeaf(t.Field, op, t.Value), true
	case Branch:
		children := make([]ConditionTree, len(t.Conditions))
		for i, c := range t.Conditions {
			inv, ok := Inverse(c)
			if !ok {
				return nil, false
			}
			children[i] = inv
		}
		if t.Aggregator == AggregatorOr {
			return And(children...), true
		}
		if len(children) == 0 {
			return MatchNone(), true
		}
		return Or(children...), true
	}
	return nil, false
}
