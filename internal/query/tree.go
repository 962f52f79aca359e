package query

import (
	"fmt"
	"strings"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// Separator joins path segments across relations.
const Separator = ":"

// ConditionTree is a sealed interface: only Leaf and Branch implement it.
type ConditionTree interface {
	conditionTree()
}

// Aggregator combines the conditions of a Branch.
type Aggregator string

const (
	AggregatorAnd Aggregator = "And"
	AggregatorOr  Aggregator = "Or"
)

// Leaf compares the value at Field with Value using Operator.
type Leaf struct {
	Field    string
	Operator schema.Operator
	Value    ir.Value
}

func (Leaf) conditionTree() {}

// Branch combines conditions. An empty And is true, an empty Or is false.
type Branch struct {
	Aggregator Aggregator
	Conditions []ConditionTree
}

func (Branch) conditionTree() {}

// NewLeaf creates a Leaf. A nil value becomes Null for operators that take
// a value.
func NewLeaf(field string, op schema.Operator, value ir.Value) Leaf {
	if value == nil && schema.OperatorValueKind(op) != schema.ValueNone {
		value = ir.Null{}
	}
	return Leaf{Field: field, Operator: op, Value: value}
}

// And conjoins trees. Nil trees (always true) are dropped, nested And
// branches are merged.
func And(trees ...ConditionTree) ConditionTree {
	var conds []ConditionTree
	for _, t := range trees {
		switch tt := t.(type) {
		case nil:
			continue
		case Branch:
			if tt.Aggregator == AggregatorAnd {
				conds = append(conds, tt.Conditions...)
				continue
			}
		}
		conds = append(conds, t)
	}
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return Branch{Aggregator: AggregatorAnd, Conditions: conds}
	}
}

// Or disjoins trees. A nil tree (always true) makes the whole Or true.
// Or() with no arguments is the empty Or, which matches nothing.
func Or(trees ...ConditionTree) ConditionTree {
	var conds []ConditionTree
	for _, t := range trees {
		switch tt := t.(type) {
		case nil:
			return nil
		case Branch:
			if tt.Aggregator == AggregatorOr {
				conds = append(conds, tt.Conditions...)
				continue
			}
		}
		conds = append(conds, t)
	}
	if len(conds) == 1 {
		return conds[0]
	}
	return Branch{Aggregator: AggregatorOr, Conditions: conds}
}

// MatchNone returns a tree no record satisfies.
func MatchNone() ConditionTree {
	return Branch{Aggregator: AggregatorOr}
}

// ReplaceLeafs rebuilds tree with every leaf replaced by fn's result.
// A nil result replaces the leaf by "true". Branches are rebuilt with And
// and Or, so a returned branch with the parent's aggregator is merged.
func ReplaceLeafs(tree ConditionTree, fn func(Leaf) (ConditionTree, error)) (ConditionTree, error) {
	switch t := tree.(type) {
	case nil:
		return nil, nil
	case Leaf:
		return fn(t)
	case Branch:
		children := make([]ConditionTree, 0, len(t.Conditions))
		for _, c := range t.Conditions {
			replaced, err := ReplaceLeafs(c, fn)
			if err != nil {
				return nil, err
			}
			children = append(children, replaced)
		}
		if t.Aggregator == AggregatorOr {
			if len(children) == 0 {
				return MatchNone(), nil
			}
			return Or(children...), nil
		}
		return And(children...), nil
	default:
		return nil, fmt.Errorf("unknown condition tree type: %T", tree)
	}
}

// MapLeafs is ReplaceLeafs with an infallible replacement.
func MapLeafs(tree ConditionTree, fn func(Leaf) ConditionTree) ConditionTree {
	out, _ := ReplaceLeafs(tree, func(l Leaf) (ConditionTree, error) {
		return fn(l), nil
	})
	return out
}

// ForEachLeaf calls fn on every leaf in order.
func ForEachLeaf(tree ConditionTree, fn func(Leaf)) {
	switch t := tree.(type) {
	case Leaf:
		fn(t)
	case Branch:
		for _, c := range t.Conditions {
			ForEachLeaf(c, fn)
		}
	}
}

// EveryLeaf reports whether fn holds for all leaves.
func EveryLeaf(tree ConditionTree, fn func(Leaf) bool) bool {
	ok := true
	ForEachLeaf(tree, func(l Leaf) {
		if ok && !fn(l) {
			ok = false
		}
	})
	return ok
}

// SomeLeaf reports whether fn holds for at least one leaf.
func SomeLeaf(tree ConditionTree, fn func(Leaf) bool) bool {
	return !EveryLeaf(tree, func(l Leaf) bool { return !fn(l) })
}

// TreeProjection returns the field paths a tree reads.
func TreeProjection(tree ConditionTree) Projection {
	var fields []string
	ForEachLeaf(tree, func(l Leaf) { fields = append(fields, l.Field) })
	return NewProjection(fields...)
}

// NestTree prefixes every field path with prefix.
func NestTree(tree ConditionTree, prefix string) ConditionTree {
	if prefix == "" {
		return tree
	}
	return MapLeafs(tree, func(l Leaf) ConditionTree {
		l.Field = prefix + Separator + l.Field
		return l
	})
}

// UnnestTree strips the first segment of every path. All leaves must go
// through the same relation.
func UnnestTree(tree ConditionTree) (ConditionTree, error) {
	var prefix string
	out, err := ReplaceLeafs(tree, func(l Leaf) (ConditionTree, error) {
		head, rest, ok := strings.Cut(l.Field, Separator)
		if !ok {
			return nil, fmt.Errorf("cannot unnest %q: not a relation path", l.Field)
		}
		if prefix == "" {
			prefix = head
		} else if prefix != head {
			return nil, fmt.Errorf("cannot unnest tree mixing %q and %q", prefix, head)
		}
		l.Field = rest
		return l, nil
	})
	return out, err
}

// Equal reports structural equality of two trees.
func Equal(a, b ConditionTree) bool {
	switch ta := a.(type) {
	case nil:
		return b == nil
	case Leaf:
		tb, ok := b.(Leaf)
		return ok && ta.Field == tb.Field && ta.Operator == tb.Operator && ir.Equal(ta.Value, tb.Value)
	case Branch:
		tb, ok := b.(Branch)
		if !ok || ta.Aggregator != tb.Aggregator || len(ta.Conditions) != len(tb.Conditions) {
			return false
		}
		for i := range ta.Conditions {
			if !Equal(ta.Conditions[i], tb.Conditions[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a tree for logs and error messages.
func String(tree ConditionTree) string {
	switch t := tree.(type) {
	case nil:
		return "true"
	case Leaf:
		if schema.OperatorValueKind(t.Operator) == schema.ValueNone {
			return fmt.Sprintf("%s %s", t.Field, t.Operator)
		}
		v, _ := ir.MarshalValue(t.Value)
		return fmt.Sprintf("%s %s %s", t.Field, t.Operator, v)
	case Branch:
		if len(t.Conditions) == 0 {
			if t.Aggregator == AggregatorOr {
				return "false"
			}
			return "true"
		}
		parts := make([]string, len(t.Conditions))
		for i, c := range t.Conditions {
			parts[i] = String(c)
		}
		return "(" + strings.Join(parts, " "+strings.ToLower(string(t.Aggregator))+" ") + ")"
	}
	return "?"
}
