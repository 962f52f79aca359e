package query

import (
	"fmt"
	"time"

	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// replaceFunc rewrites a leaf into a tree over other operators.
type replaceFunc func(leaf Leaf, columnType schema.ColumnType, env Env) (ConditionTree, error)

type alternative struct {
	dependsOn []schema.Operator
	// types restricts the alternative to some primitives. Empty means all.
	types []schema.PrimitiveType
	// emitsNull is set when the rewrite compares with null.
	emitsNull bool
	// rejectsNull is set when the rewrite cannot take a null operand.
	rejectsNull bool
	replace     replaceFunc
}

var orderedTypes = []schema.PrimitiveType{
	schema.Number, schema.String, schema.Date, schema.Dateonly, schema.Time, schema.Timeonly, schema.UUID,
}

var dateTypes = []schema.PrimitiveType{schema.Date, schema.Dateonly}

var alternatives map[schema.Operator][]alternative

func init() {
	alternatives = map[schema.Operator][]alternative{
		schema.Present: {
			{emitsNull: true, dependsOn: ops(schema.NotIn), types: prims(schema.String), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return leaf(l.Field, schema.NotIn, ir.NewList(ir.Null{}, ir.String(""))), nil
			}},
			{emitsNull: true, dependsOn: ops(schema.NotEqual), types: prims(schema.String), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return And(leaf(l.Field, schema.NotEqual, ir.Null{}), leaf(l.Field, schema.NotEqual, ir.String(""))), nil
			}},
			{emitsNull: true, dependsOn: ops(schema.NotEqual), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return leaf(l.Field, schema.NotEqual, ir.Null{}), nil
			}},
		},
		schema.Blank: {
			{emitsNull: true, dependsOn: ops(schema.In), types: prims(schema.String), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return leaf(l.Field, schema.In, ir.NewList(ir.Null{}, ir.String(""))), nil
			}},
			{emitsNull: true, dependsOn: ops(schema.Missing, schema.Equal), types: prims(schema.String), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return Or(leaf(l.Field, schema.Missing, nil), leaf(l.Field, schema.Equal, ir.String(""))), nil
			}},
			{emitsNull: true, dependsOn: ops(schema.Missing), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return leaf(l.Field, schema.Missing, nil), nil
			}},
		},
		schema.Missing: {
			{emitsNull: true, dependsOn: ops(schema.Equal), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return leaf(l.Field, schema.Equal, ir.Null{}), nil
			}},
			{emitsNull: true, dependsOn: ops(schema.In), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return leaf(l.Field, schema.In, ir.NewList(ir.Null{})), nil
			}},
		},
		schema.Equal: {
			{dependsOn: ops(schema.In), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return leaf(l.Field, schema.In, ir.NewList(l.Value)), nil
			}},
		},
		schema.NotEqual: {
			{dependsOn: ops(schema.NotIn), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				return leaf(l.Field, schema.NotIn, ir.NewList(l.Value)), nil
			}},
			{dependsOn: ops(schema.LessThan, schema.GreaterThan, schema.Missing), types: orderedTypes, rejectsNull: true, replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				if ir.IsNull(l.Value) {
					return nil, errs.Validation("%s %s null cannot be expressed with ordering operators", l.Field, l.Operator)
				}
				return Or(
					leaf(l.Field, schema.LessThan, l.Value),
					leaf(l.Field, schema.GreaterThan, l.Value),
					leaf(l.Field, schema.Missing, nil),
				), nil
			}},
		},
		schema.In: {
			{dependsOn: ops(schema.Equal), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				values := listOperand(l.Value)
				if len(values) == 0 {
					return MatchNone(), nil
				}
				trees := make([]ConditionTree, len(values))
				for i, v := range values {
					trees[i] = leaf(l.Field, schema.Equal, v)
				}
				return Or(trees...), nil
			}},
		},
		schema.NotIn: {
			{dependsOn: ops(schema.NotEqual), replace: func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
				values := listOperand(l.Value)
				trees := make([]ConditionTree, len(values))
				for i, v := range values {
					trees[i] = leaf(l.Field, schema.NotEqual, v)
				}
				return And(trees...), nil
			}},
		},
		schema.LessThanOrEqual: {
			{dependsOn: ops(schema.LessThan, schema.Equal), replace: orEqual(schema.LessThan)},
		},
		schema.GreaterThanOrEqual: {
			{dependsOn: ops(schema.GreaterThan, schema.Equal), replace: orEqual(schema.GreaterThan)},
		},
		schema.Before: {
			{dependsOn: ops(schema.LessThan), replace: sameValue(schema.LessThan)},
		},
		schema.After: {
			{dependsOn: ops(schema.GreaterThan), replace: sameValue(schema.GreaterThan)},
		},
		schema.Past: {
			{dependsOn: ops(schema.LessThan), replace: relativeTo(schema.LessThan, 0)},
		},
		schema.Future: {
			{dependsOn: ops(schema.GreaterThan), replace: relativeTo(schema.GreaterThan, 0)},
		},
		schema.BeforeXHoursAgo: {
			{dependsOn: ops(schema.LessThan), replace: relativeTo(schema.LessThan, time.Hour)},
		},
		schema.AfterXHoursAgo: {
			{dependsOn: ops(schema.GreaterThan), replace: relativeTo(schema.GreaterThan, time.Hour)},
		},
		schema.Contains: {
			{dependsOn: ops(schema.Like), replace: likePattern(schema.Like, "%", "%")},
		},
		schema.StartsWith: {
			{dependsOn: ops(schema.Like), replace: likePattern(schema.Like, "", "%")},
		},
		schema.EndsWith: {
			{dependsOn: ops(schema.Like), replace: likePattern(schema.Like, "%", "")},
		},
		schema.IContains: {
			{dependsOn: ops(schema.ILike), replace: likePattern(schema.ILike, "%", "%")},
		},
		schema.IStartsWith: {
			{dependsOn: ops(schema.ILike), replace: likePattern(schema.ILike, "", "%")},
		},
		schema.IEndsWith: {
			{dependsOn: ops(schema.ILike), replace: likePattern(schema.ILike, "%", "")},
		},
		schema.Like: {
			{dependsOn: ops(schema.Match), replace: likeToMatch(false)},
		},
		schema.ILike: {
			{dependsOn: ops(schema.Match), replace: likeToMatch(true)},
		},
		schema.LongerThan: {
			{dependsOn: ops(schema.Match), replace: lengthMatch(schema.LongerThan)},
		},
		schema.ShorterThan: {
			{dependsOn: ops(schema.Match), replace: lengthMatch(schema.ShorterThan)},
		},
	}

	for _, op := range schema.IntervalOperators {
		alternatives[op] = []alternative{
			{dependsOn: ops(schema.GreaterThanOrEqual, schema.LessThan), types: dateTypes, replace: interval},
		}
	}
}

func ops(o ...schema.Operator) []schema.Operator { return o }

func prims(p ...schema.PrimitiveType) []schema.PrimitiveType { return p }

func leaf(field string, op schema.Operator, v ir.Value) Leaf {
	return NewLeaf(field, op, v)
}

func listOperand(v ir.Value) ir.List {
	switch val := v.(type) {
	case ir.List:
		return val
	case nil:
		return nil
	default:
		return ir.List{val}
	}
}

func orEqual(strict schema.Operator) replaceFunc {
	return func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
		return Or(leaf(l.Field, strict, l.Value), leaf(l.Field, schema.Equal, l.Value)), nil
	}
}

func sameValue(op schema.Operator) replaceFunc {
	return func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
		return leaf(l.Field, op, l.Value), nil
	}
}

// relativeTo compares with now minus operand*unit. A zero unit ignores the
// operand.
func relativeTo(op schema.Operator, unit time.Duration) replaceFunc {
	return func(l Leaf, ct schema.ColumnType, env Env) (ConditionTree, error) {
		at := env.now()
		if unit != 0 {
			n, ok := intOperand(l.Value)
			if !ok {
				return nil, errs.Validation("%s %s expects an integer, got %s", l.Field, l.Operator, valueString(l.Value))
			}
			at = at.Add(-time.Duration(n) * unit)
		}
		return leaf(l.Field, op, FormatDate(at, ct)), nil
	}
}

func interval(l Leaf, ct schema.ColumnType, env Env) (ConditionTree, error) {
	n := 0
	if schema.OperatorValueKind(l.Operator) == schema.ValueInteger {
		v, ok := intOperand(l.Value)
		if !ok {
			return nil, errs.Validation("%s %s expects an integer, got %s", l.Field, l.Operator, valueString(l.Value))
		}
		n = v
	}
	start, end, _ := Interval(l.Operator, n, env)
	return And(
		leaf(l.Field, schema.GreaterThanOrEqual, FormatDate(start, ct)),
		leaf(l.Field, schema.LessThan, FormatDate(end, ct)),
	), nil
}

func likePattern(op schema.Operator, prefix, suffix string) replaceFunc {
	return func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
		s, ok := l.Value.(ir.String)
		if !ok {
			return nil, errs.Validation("%s %s expects a string, got %s", l.Field, l.Operator, valueString(l.Value))
		}
		return leaf(l.Field, op, ir.String(prefix+string(s)+suffix)), nil
	}
}

func likeToMatch(insensitive bool) replaceFunc {
	return func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
		s, ok := l.Value.(ir.String)
		if !ok {
			return nil, errs.Validation("%s %s expects a string, got %s", l.Field, l.Operator, valueString(l.Value))
		}
		return leaf(l.Field, schema.Match, ir.String(LikeToRegexp(string(s), insensitive))), nil
	}
}

func lengthMatch(op schema.Operator) replaceFunc {
	return func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) {
		n, ok := intOperand(l.Value)
		if !ok {
			return nil, errs.Validation("%s %s expects an integer, got %s", l.Field, l.Operator, valueString(l.Value))
		}
		if op == schema.LongerThan {
			return leaf(l.Field, schema.Match, ir.String(fmt.Sprintf("(?s)^.{%d,}$", n+1))), nil
		}
		if n <= 0 {
			return MatchNone(), nil
		}
		return leaf(l.Field, schema.Match, ir.String(fmt.Sprintf("(?s)^.{0,%d}$", n-1))), nil
	}
}

func valueString(v ir.Value) string {
	b, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	return string(b)
}

// resolve finds how to express op with the supported operators. It returns
// nil when no combination of alternatives reaches supported operators.
// nullOperand is set when the leaf being rewritten may compare with null.
func resolve(op schema.Operator, supported schema.OperatorSet, ct schema.ColumnType, nullOperand bool, visited map[schema.Operator]bool) replaceFunc {
	if supported.Has(op) {
		return func(l Leaf, _ schema.ColumnType, _ Env) (ConditionTree, error) { return l, nil }
	}
	if visited[op] {
		return nil
	}
	visited[op] = true
	defer delete(visited, op)

	for _, alt := range alternatives[op] {
		if len(alt.types) > 0 && !hasPrimitive(alt.types, ct) {
			continue
		}
		if nullOperand && alt.rejectsNull {
			continue
		}
		subs := make(map[schema.Operator]replaceFunc, len(alt.dependsOn))
		for _, dep := range alt.dependsOn {
			sub := resolve(dep, supported, ct, nullOperand || alt.emitsNull, visited)
			if sub == nil {
				subs = nil
				break
			}
			subs[dep] = sub
		}
		if subs == nil {
			continue
		}
		replace := alt.replace
		return func(l Leaf, ct schema.ColumnType, env Env) (ConditionTree, error) {
			tree, err := replace(l, ct, env)
			if err != nil {
				return nil, err
			}
			return ReplaceLeafs(tree, func(sub Leaf) (ConditionTree, error) {
				fn, ok := subs[sub.Operator]
				if !ok {
					return nil, fmt.Errorf("equivalence for %s produced unexpected operator %s", l.Operator, sub.Operator)
				}
				return fn(sub, ct, env)
			})
		}
	}
	return nil
}

func hasNullOperand(v ir.Value) bool {
	if list, ok := v.(ir.List); ok {
		for _, item := range list {
			if ir.IsNull(item) {
				return true
			}
		}
		return false
	}
	return v != nil && ir.IsNull(v)
}

func hasPrimitive(types []schema.PrimitiveType, ct schema.ColumnType) bool {
	for _, t := range types {
		if ct.Is(t) {
			return true
		}
	}
	return false
}

// HasEquivalent reports whether op can be expressed on a column of type ct
// using only the supported operators.
func HasEquivalent(op schema.Operator, supported schema.OperatorSet, ct schema.ColumnType) bool {
	return resolve(op, supported, ct, false, map[schema.Operator]bool{}) != nil
}

// Equivalent rewrites leaf into a tree that only uses supported operators.
// It fails with a validation error when no rewrite exists or when the
// operand does not fit the rewrite.
func Equivalent(l Leaf, supported schema.OperatorSet, ct schema.ColumnType, env Env) (ConditionTree, error) {
	fn := resolve(l.Operator, supported, ct, hasNullOperand(l.Value), map[schema.Operator]bool{})
	if fn == nil {
		return nil, errs.ValidationWith(
			map[string]any{"field": l.Field, "operator": string(l.Operator)},
			"operator %s is not supported on field %s", l.Operator, l.Field,
		)
	}
	return fn(l, ct, env)
}

// EquivalentOperators returns every operator reachable from supported for
// a column of type ct, restricted to the operators that make sense for it.
func EquivalentOperators(supported schema.OperatorSet, ct schema.ColumnType) schema.OperatorSet {
	out := supported.Clone()
	if len(supported) == 0 {
		return out
	}
	for op := range schema.AllowedOperators(ct) {
		if HasEquivalent(op, supported, ct) {
			out.Add(op)
		}
	}
	return out
}
