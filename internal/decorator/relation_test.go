package decorator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/testutil"
)

func relationLibrary(t *testing.T) (*testutil.SpyDatasource, *Datasource[*RelationCollection]) {
	t.Helper()
	spy := library(t)
	ds := NewRelationDatasource(spy, testutil.NewClock())
	require.NoError(t, get(t, ds, "book").AddRelation("writer", &schema.ManyToOneSchema{
		ForeignCollection: "person",
		ForeignKey:        "author_id",
	}))
	require.NoError(t, get(t, ds, "person").AddRelation("books", &schema.OneToManySchema{
		ForeignCollection: "book",
		OriginKey:         "author_id",
	}))
	return spy, ds
}

func TestRelation_SchemaDefaultsKeyTargets(t *testing.T) {
	_, ds := relationLibrary(t)

	writer, ok := get(t, ds, "book").Schema().Fields["writer"].(*schema.ManyToOneSchema)
	require.True(t, ok)
	assert.Equal(t, "id", writer.ForeignKeyTarget)

	books, ok := get(t, ds, "person").Schema().Fields["books"].(*schema.OneToManySchema)
	require.True(t, ok)
	assert.Equal(t, "id", books.OriginKeyTarget)
}

func TestRelation_ProjectsThroughEmulatedManyToOne(t *testing.T) {
	spy, ds := relationLibrary(t)
	books := get(t, ds, "book")

	records := sortedList(t, books, nil, "title", "title", "writer:last_name")

	assert.Equal(t, []ir.Record{
		{"title": ir.String("Foundation"), "writer": ir.Record{"last_name": ir.String("Asimov")}},
		{"title": ir.String("I, Robot"), "writer": ir.Record{"last_name": ir.String("Asimov")}},
		{"title": ir.String("The Dispossessed"), "writer": ir.Record{"last_name": ir.String("Le Guin")}},
	}, records)
	assert.ElementsMatch(t, []string{"title", "author_id"}, []string(spy.CallsTo("book", "list")[0].Projection))
	assert.Len(t, spy.CallsTo("person", "list"), 1)
}

func TestRelation_FiltersThroughEmulatedRelations(t *testing.T) {
	spy, ds := relationLibrary(t)

	books := sortedList(t, get(t, ds, "book"), query.NewLeaf("writer:last_name", schema.Equal, ir.String("Le Guin")), "title", "title")
	assert.Equal(t, []ir.Record{{"title": ir.String("The Dispossessed")}}, books)

	sent := spy.CallsTo("book", "list")[0].Filter.ConditionTree
	assert.True(t, query.Equal(query.NewLeaf("author_id", schema.In, ir.NewList(ir.Int(2))), sent), "got %s", query.String(sent))

	people := list(t, get(t, ds, "person"), query.NewLeaf("books:title", schema.Equal, ir.String("Foundation")), "last_name")
	assert.Equal(t, []ir.Record{{"last_name": ir.String("Asimov")}}, people)
}

func TestRelation_AggregatesThroughEmulatedRelation(t *testing.T) {
	_, ds := relationLibrary(t)

	results, err := get(t, ds, "book").Aggregate(context.Background(), testutil.Caller(), query.Filter{},
		query.Aggregation{Operation: query.Count, Groups: []query.AggregationGroup{{Field: "writer:last_name"}}}, 0)
	require.NoError(t, err)

	assert.Equal(t, []query.AggregateResult{
		{Value: ir.Int(2), Group: ir.Record{"writer:last_name": ir.String("Asimov")}},
		{Value: ir.Int(1), Group: ir.Record{"writer:last_name": ir.String("Le Guin")}},
	}, results)
}

func TestRelation_AddRelationErrors(t *testing.T) {
	_, ds := relationLibrary(t)
	books := get(t, ds, "book")

	err := books.AddRelation("author", &schema.ManyToOneSchema{ForeignCollection: "person", ForeignKey: "author_id"})
	assert.True(t, errs.IsConflict(err), "got %v", err)

	err = books.AddRelation("titled", &schema.ManyToOneSchema{ForeignCollection: "person", ForeignKey: "title"})
	assert.True(t, errs.IsValidation(err), "got %v", err)

	err = books.AddRelation("ghost", &schema.ManyToOneSchema{ForeignCollection: "ghost", ForeignKey: "author_id"})
	assert.True(t, errs.IsNotFound(err), "got %v", err)

	err = books.AddRelation("poly", &schema.PolymorphicManyToOneSchema{ForeignKey: "author_id"})
	assert.True(t, errs.IsValidation(err), "got %v", err)
}

func TestLazyJoin_ReadsForeignKeyLocally(t *testing.T) {
	spy := library(t)
	books := get(t, NewLazyJoinDatasource(spy), "book")

	records := sortedList(t, books, query.NewLeaf("author:id", schema.Equal, ir.Int(2)), "title", "title", "author:id")

	assert.Equal(t, []ir.Record{{"title": ir.String("The Dispossessed"), "author": ir.Record{"id": ir.Int(2)}}}, records)
	call := spy.CallsTo("book", "list")[0]
	assert.ElementsMatch(t, []string{"title", "author_id"}, []string(call.Projection))
	assert.True(t, query.Equal(query.NewLeaf("author_id", schema.Equal, ir.Int(2)), call.Filter.ConditionTree))
}

func TestLazyJoin_KeepsJoinForOtherFields(t *testing.T) {
	spy := library(t)
	books := get(t, NewLazyJoinDatasource(spy), "book")

	list(t, books, nil, "author:id", "author:last_name")

	assert.ElementsMatch(t, []string{"author:id", "author:last_name"}, []string(spy.CallsTo("book", "list")[0].Projection))
}

func TestLazyJoin_AggregateRenamesGroups(t *testing.T) {
	spy := library(t)
	books := get(t, NewLazyJoinDatasource(spy), "book")

	results, err := books.Aggregate(context.Background(), testutil.Caller(), query.Filter{},
		query.Aggregation{Operation: query.Count, Groups: []query.AggregationGroup{{Field: "author:id"}}}, 0)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, ir.Record{"author:id": ir.Int(1)}, results[0].Group)
	assert.Equal(t, []query.AggregationGroup{{Field: "author_id"}}, spy.CallsTo("book", "aggregate")[0].Aggregation.Groups)
}
