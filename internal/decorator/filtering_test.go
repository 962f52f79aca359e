package decorator

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/testutil"
)

// narrow restricts the operators the spy reports for field.
func narrow(t *testing.T, spy *testutil.SpyDatasource, name, field string, ops ...schema.Operator) {
	t.Helper()
	c, err := spy.Collection(name)
	require.NoError(t, err)
	c.(*testutil.SpyCollection).PatchSchema(func(s *schema.CollectionSchema) {
		col, _ := s.Column(field)
		col.FilterOperators = schema.NewOperatorSet(ops...)
	})
}

func TestEmpty_DisjointEqualitiesSkipChild(t *testing.T) {
	spy := library(t)
	people := get(t, NewEmptyDatasource(spy), "person")
	ctx := context.Background()
	none := query.And(
		query.NewLeaf("id", schema.Equal, ir.Int(1)),
		query.NewLeaf("id", schema.Equal, ir.Int(2)),
	)

	assert.Empty(t, list(t, people, none, "id"))
	require.NoError(t, people.Update(ctx, testutil.Caller(), query.Filter{ConditionTree: none}, ir.Record{"last_name": ir.String("x")}))
	require.NoError(t, people.Delete(ctx, testutil.Caller(), query.Filter{ConditionTree: none}))
	results, err := people.Aggregate(ctx, testutil.Caller(), query.Filter{ConditionTree: none}, query.Aggregation{Operation: query.Count}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.Empty(t, spy.Calls())
}

func TestEmpty_OverlappingInCallsThrough(t *testing.T) {
	spy := library(t)
	people := get(t, NewEmptyDatasource(spy), "person")
	overlap := query.And(
		query.NewLeaf("id", schema.In, ir.NewList(ir.Int(1), ir.Int(2))),
		query.NewLeaf("id", schema.In, ir.NewList(ir.Int(2), ir.Int(3))),
	)

	records := list(t, people, overlap, "last_name")

	assert.Equal(t, []ir.Record{{"last_name": ir.String("Le Guin")}}, records)
	assert.Len(t, spy.CallsTo("person", "list"), 1)
}

// Two spellings of one date match the same record, so the tree is not empty.
func TestEmpty_SameInstantCallsThrough(t *testing.T) {
	spy := library(t)
	books := get(t, NewEmptyDatasource(spy), "book")
	sameDay := query.And(
		query.NewLeaf("published", schema.Equal, ir.String("1951-06-01")),
		query.NewLeaf("published", schema.Equal, ir.String("1951-06-01T00:00:00")),
	)

	records := list(t, books, sameDay, "id")

	assert.Equal(t, []ir.Record{{"id": ir.String("b1")}}, records)
	assert.Len(t, spy.CallsTo("book", "list"), 1)
}

func TestEquivalence_AdvertisesDerivedOperators(t *testing.T) {
	spy := library(t)
	narrow(t, spy, "person", "id", schema.Equal, schema.LessThan, schema.GreaterThan)
	people := get(t, NewEquivalenceDatasource(spy, testutil.NewClock()), "person")

	col, ok := people.Schema().Column("id")
	require.True(t, ok)
	for _, op := range []schema.Operator{schema.In, schema.GreaterThanOrEqual, schema.LessThanOrEqual, schema.Missing, schema.Blank} {
		assert.True(t, col.FilterOperators.Has(op), "expected %s", op)
	}
	assert.False(t, col.FilterOperators.Has(schema.Present))
}

func TestEquivalence_RewritesLeaves(t *testing.T) {
	spy := library(t)
	narrow(t, spy, "person", "id", schema.Equal, schema.LessThan, schema.GreaterThan)
	people := get(t, NewEquivalenceDatasource(spy, testutil.NewClock()), "person")

	records := list(t, people, query.NewLeaf("id", schema.GreaterThanOrEqual, ir.Int(2)), "last_name")
	assert.Equal(t, []ir.Record{{"last_name": ir.String("Le Guin")}}, records)

	sent := spy.CallsTo("person", "list")[0].Filter.ConditionTree
	assert.True(t, query.Equal(query.Or(
		query.NewLeaf("id", schema.GreaterThan, ir.Int(2)),
		query.NewLeaf("id", schema.Equal, ir.Int(2)),
	), sent), "got %s", query.String(sent))

	spy.Reset()
	list(t, people, query.NewLeaf("id", schema.Blank, nil), "id")
	sent = spy.CallsTo("person", "list")[0].Filter.ConditionTree
	assert.True(t, query.Equal(query.NewLeaf("id", schema.Equal, ir.Null{}), sent), "got %s", query.String(sent))
}

func TestEquivalence_NestedFieldsUseForeignOperators(t *testing.T) {
	spy := library(t)
	narrow(t, spy, "person", "id", schema.Equal)
	books := get(t, NewEquivalenceDatasource(spy, testutil.NewClock()), "book")

	records := sortedList(t, books, query.NewLeaf("author:id", schema.In, ir.NewList(ir.Int(2))), "title", "title")

	assert.Equal(t, []ir.Record{{"title": ir.String("The Dispossessed")}}, records)
	sent := spy.CallsTo("book", "list")[0].Filter.ConditionTree
	assert.True(t, query.Equal(query.NewLeaf("author:id", schema.Equal, ir.Int(2)), sent), "got %s", query.String(sent))
}

func TestEmulate_FiltersInMemory(t *testing.T) {
	spy := library(t)
	narrow(t, spy, "person", "first_name", schema.Equal)
	ds := NewOperatorEmulateDatasource(spy, testutil.NewClock(), slog.Default())
	people := get(t, ds, "person")
	require.NoError(t, people.EmulateFieldOperator("first_name", schema.IStartsWith))

	col, _ := people.Schema().Column("first_name")
	assert.True(t, col.FilterOperators.Has(schema.IStartsWith))

	records := list(t, people, query.NewLeaf("first_name", schema.IStartsWith, ir.String("urs")), "last_name")
	assert.Equal(t, []ir.Record{{"last_name": ir.String("Le Guin")}}, records)

	calls := spy.CallsTo("person", "list")
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, []string{"id", "first_name"}, []string(calls[0].Projection))
	assert.True(t, query.Equal(query.NewLeaf("id", schema.Equal, ir.Int(2)), calls[1].Filter.ConditionTree))
}

func TestEmulate_ThroughRelation(t *testing.T) {
	spy := library(t)
	ds := NewOperatorEmulateDatasource(spy, testutil.NewClock(), slog.Default())
	require.NoError(t, get(t, ds, "person").EmulateFieldOperator("last_name", schema.LongerThan))
	books := get(t, ds, "book")

	records := sortedList(t, books, query.NewLeaf("author:last_name", schema.LongerThan, ir.Int(6)), "title", "title")

	assert.Equal(t, []ir.Record{{"title": ir.String("The Dispossessed")}}, records)
}

func TestEmulate_ReplaceFieldOperator(t *testing.T) {
	spy := library(t)
	ds := NewOperatorEmulateDatasource(spy, testutil.NewClock(), slog.Default())
	people := get(t, ds, "person")
	require.NoError(t, people.ReplaceFieldOperator("first_name", schema.Contains,
		OperatorReplacerFunc(func(_ context.Context, _ *collection.Caller, v ir.Value) (query.ConditionTree, error) {
			return query.NewLeaf("last_name", schema.Equal, v), nil
		})))

	records := list(t, people, query.NewLeaf("first_name", schema.Contains, ir.String("Asimov")), "first_name")

	assert.Equal(t, []ir.Record{{"first_name": ir.String("Isaac")}}, records)
}

func TestEmulate_ReplacementCycle(t *testing.T) {
	ds := NewOperatorEmulateDatasource(library(t), testutil.NewClock(), slog.Default())
	people := get(t, ds, "person")
	swap := func(field string) OperatorReplacer {
		return OperatorReplacerFunc(func(_ context.Context, _ *collection.Caller, v ir.Value) (query.ConditionTree, error) {
			return query.NewLeaf(field, schema.Contains, v), nil
		})
	}
	require.NoError(t, people.ReplaceFieldOperator("first_name", schema.Contains, swap("last_name")))
	require.NoError(t, people.ReplaceFieldOperator("last_name", schema.Contains, swap("first_name")))

	_, err := people.List(context.Background(), testutil.Caller(),
		query.NewPaginatedFilter(query.NewLeaf("first_name", schema.Contains, ir.String("a"))),
		query.NewProjection("id"))

	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}
