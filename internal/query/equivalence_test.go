package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

var reduced = schema.NewOperatorSet(schema.Equal, schema.LessThan, schema.GreaterThan)

func fixedEnv() Env {
	return Env{Now: time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC), Location: time.UTC}
}

func usesOnly(t *testing.T, tree ConditionTree, supported schema.OperatorSet) {
	t.Helper()
	ForEachLeaf(tree, func(l Leaf) {
		assert.Truef(t, supported.Has(l.Operator), "unexpected operator %s in %s", l.Operator, String(tree))
	})
}

func TestEquivalent_BlankOnNumberIsEqualNull(t *testing.T) {
	out, err := Equivalent(NewLeaf("rating", schema.Blank, nil), reduced, schema.Primitive(schema.Number), fixedEnv())
	require.NoError(t, err)
	assert.Equal(t, NewLeaf("rating", schema.Equal, ir.Null{}), out)
}

func TestEquivalent_CompletenessOverReducedSet(t *testing.T) {
	env := fixedEnv()
	sample := func(op schema.Operator, ct schema.ColumnType) ir.Value {
		switch schema.OperatorValueKind(op) {
		case schema.ValueNone:
			return nil
		case schema.ValueInteger:
			return ir.Int(3)
		case schema.ValueList:
			return ir.NewList(sampleValue(ct), sampleValue(ct))
		default:
			return sampleValue(ct)
		}
	}

	comparison := []schema.Operator{
		schema.Blank, schema.Missing, schema.Equal, schema.In, schema.NotEqual, schema.NotIn,
		schema.LessThan, schema.GreaterThan, schema.LessThanOrEqual, schema.GreaterThanOrEqual,
	}
	dates := []schema.Operator{
		schema.Before, schema.After, schema.Past, schema.Future, schema.BeforeXHoursAgo, schema.AfterXHoursAgo,
	}
	dates = append(dates, schema.IntervalOperators...)

	types := []schema.PrimitiveType{
		schema.Number, schema.String, schema.Date, schema.Dateonly, schema.Time, schema.Timeonly, schema.UUID,
	}
	for _, p := range types {
		ct := schema.Primitive(p)
		ops := comparison
		if p == schema.Date || p == schema.Dateonly {
			ops = append(append([]schema.Operator{}, comparison...), dates...)
		}
		for _, op := range ops {
			t.Run(string(p)+"/"+string(op), func(t *testing.T) {
				require.True(t, HasEquivalent(op, reduced, ct))
				out, err := Equivalent(NewLeaf("field", op, sample(op, ct)), reduced, ct, env)
				require.NoError(t, err)
				usesOnly(t, out, reduced)
			})
		}
	}
}

func sampleValue(ct schema.ColumnType) ir.Value {
	switch ct.Primitive {
	case schema.Number:
		return ir.Int(5)
	case schema.Date:
		return ir.String("2026-10-01T00:00:00Z")
	case schema.Dateonly:
		return ir.String("2026-10-01")
	case schema.Time, schema.Timeonly:
		return ir.String("12:00:00")
	case schema.UUID:
		return ir.String("0190a5c4-7f3a-7b6e-9a2b-123456789abc")
	default:
		return ir.String("m")
	}
}

func TestEquivalent_PreservesMatching(t *testing.T) {
	env := fixedEnv()
	ct := schema.Primitive(schema.Number)
	values := []ir.Value{ir.Int(1), ir.Int(5), ir.Int(9), ir.Null{}}
	leaves := []Leaf{
		NewLeaf("n", schema.Blank, nil),
		NewLeaf("n", schema.Missing, nil),
		NewLeaf("n", schema.Equal, ir.Int(5)),
		NewLeaf("n", schema.In, ir.NewList(ir.Int(1), ir.Int(5))),
		NewLeaf("n", schema.NotEqual, ir.Int(5)),
		NewLeaf("n", schema.NotIn, ir.NewList(ir.Int(1), ir.Int(5))),
		NewLeaf("n", schema.LessThanOrEqual, ir.Int(5)),
		NewLeaf("n", schema.GreaterThanOrEqual, ir.Int(5)),
	}

	for _, l := range leaves {
		out, err := Equivalent(l, reduced, ct, env)
		require.NoError(t, err)
		for _, v := range values {
			rec := ir.Record{"n": v}
			assert.Equalf(t, Match(l, rec, env), Match(out, rec, env), "%s on %v rewritten as %s", String(l), v, String(out))
		}
	}
}

func TestEquivalent_EmptyInMatchesNone(t *testing.T) {
	out, err := Equivalent(NewLeaf("n", schema.In, ir.NewList()), reduced, schema.Primitive(schema.Number), fixedEnv())
	require.NoError(t, err)
	assert.True(t, IsEmpty(out))
}

func TestEquivalent_NotEqualNullWithOrderingFails(t *testing.T) {
	_, err := Equivalent(NewLeaf("n", schema.NotEqual, ir.Null{}), reduced, schema.Primitive(schema.Number), fixedEnv())
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestHasEquivalent_PresentNeedsNegation(t *testing.T) {
	assert.False(t, HasEquivalent(schema.Present, reduced, schema.Primitive(schema.Number)))
	assert.True(t, HasEquivalent(schema.Present, schema.NewOperatorSet(schema.NotIn), schema.Primitive(schema.String)))
}

func TestEquivalent_Unsupported(t *testing.T) {
	_, err := Equivalent(NewLeaf("title", schema.Contains, ir.String("a")), reduced, schema.Primitive(schema.String), fixedEnv())
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestEquivalent_PatternsToMatch(t *testing.T) {
	supported := schema.NewOperatorSet(schema.Match)
	ct := schema.Primitive(schema.String)
	env := fixedEnv()

	cases := []struct {
		leaf  Leaf
		value string
		want  bool
	}{
		{NewLeaf("s", schema.Contains, ir.String("oun")), "Foundation", true},
		{NewLeaf("s", schema.StartsWith, ir.String("Found")), "Foundation", true},
		{NewLeaf("s", schema.EndsWith, ir.String("Found")), "Foundation", false},
		{NewLeaf("s", schema.IContains, ir.String("FOUND")), "Foundation", true},
		{NewLeaf("s", schema.Like, ir.String("F_und%")), "Foundation", true},
		{NewLeaf("s", schema.LongerThan, ir.Int(10)), "Foundation", false},
		{NewLeaf("s", schema.ShorterThan, ir.Int(11)), "Foundation", true},
		{NewLeaf("s", schema.ShorterThan, ir.Int(0)), "", false},
	}
	for _, tc := range cases {
		out, err := Equivalent(tc.leaf, supported, ct, env)
		require.NoError(t, err)
		usesOnly(t, out, supported)
		assert.Equal(t, tc.want, Match(out, ir.Record{"s": ir.String(tc.value)}, env), String(tc.leaf))
	}
}

func TestEquivalent_Intervals(t *testing.T) {
	supported := schema.NewOperatorSet(schema.GreaterThanOrEqual, schema.LessThan)
	env := fixedEnv()

	out, err := Equivalent(NewLeaf("at", schema.Today, nil), supported, schema.Primitive(schema.Date), env)
	require.NoError(t, err)
	assert.Equal(t, `(at GreaterThanOrEqual "2026-10-17T00:00:00Z" and at LessThan "2026-10-18T00:00:00Z")`, String(out))

	out, err = Equivalent(NewLeaf("on", schema.PreviousWeek, nil), supported, schema.Primitive(schema.Dateonly), env)
	require.NoError(t, err)
	assert.Equal(t, `(on GreaterThanOrEqual "2026-10-05" and on LessThan "2026-10-12")`, String(out))

	out, err = Equivalent(NewLeaf("on", schema.PreviousQuarter, nil), supported, schema.Primitive(schema.Dateonly), env)
	require.NoError(t, err)
	assert.Equal(t, `(on GreaterThanOrEqual "2026-07-01" and on LessThan "2026-10-01")`, String(out))
}

func TestEquivalent_IntervalUsesCallerTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	env := Env{Now: time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC), Location: tokyo}

	out, err := Equivalent(NewLeaf("on", schema.Today, nil), schema.NewOperatorSet(schema.GreaterThanOrEqual, schema.LessThan), schema.Primitive(schema.Dateonly), env)
	require.NoError(t, err)
	assert.Equal(t, `(on GreaterThanOrEqual "2026-10-18" and on LessThan "2026-10-19")`, String(out))
}

func TestEquivalentOperators(t *testing.T) {
	set := EquivalentOperators(schema.NewOperatorSet(schema.Equal, schema.In), schema.Primitive(schema.Number))

	assert.True(t, set.Has(schema.Blank))
	assert.True(t, set.Has(schema.Missing))
	assert.False(t, set.Has(schema.Present))
	assert.False(t, set.Has(schema.LessThan))

	assert.Empty(t, EquivalentOperators(nil, schema.Primitive(schema.Number)))
}
