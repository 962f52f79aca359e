package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

func column(p schema.PrimitiveType, pk bool) *schema.ColumnSchema {
	return &schema.ColumnSchema{ColumnType: schema.Primitive(p), IsPrimaryKey: pk, IsSortable: true}
}

func library(t *testing.T, opts ...Option) *Datasource {
	t.Helper()
	ds := New(opts...)

	person := schema.NewCollectionSchema()
	person.Fields["id"] = column(schema.Number, true)
	person.Fields["first_name"] = column(schema.String, false)
	person.Fields["last_name"] = column(schema.String, false)
	_, err := ds.AddCollection("person", person)
	require.NoError(t, err)

	book := schema.NewCollectionSchema()
	book.Fields["id"] = column(schema.UUID, true)
	book.Fields["title"] = column(schema.String, false)
	book.Fields["author_id"] = column(schema.Number, false)
	book.Fields["published"] = column(schema.Dateonly, false)
	book.Fields["author"] = &schema.ManyToOneSchema{ForeignCollection: "person", ForeignKey: "author_id", ForeignKeyTarget: "id"}
	_, err = ds.AddCollection("book", book)
	require.NoError(t, err)

	require.NoError(t, ds.Seed("person",
		ir.Record{"id": ir.Int(1), "first_name": ir.String("Isaac"), "last_name": ir.String("Asimov")},
		ir.Record{"id": ir.Int(2), "first_name": ir.String("Ursula"), "last_name": ir.String("Le Guin")},
	))
	require.NoError(t, ds.Seed("book",
		ir.Record{"id": ir.String("b1"), "title": ir.String("Foundation"), "author_id": ir.Int(1), "published": ir.String("1951-06-01")},
		ir.Record{"id": ir.String("b2"), "title": ir.String("I, Robot"), "author_id": ir.Int(1), "published": ir.String("1950-12-02")},
		ir.Record{"id": ir.String("b3"), "title": ir.String("The Dispossessed"), "author_id": ir.Int(2), "published": ir.String("1974-05-01")},
		ir.Record{"id": ir.String("b4"), "title": ir.String("Anonymous"), "author_id": ir.Null{}, "published": ir.Null{}},
	))
	return ds
}

func mustCollection(t *testing.T, ds *Datasource, name string) collection.Collection {
	t.Helper()
	c, err := ds.Collection(name)
	require.NoError(t, err)
	return c
}

func TestCollection_ListJoinsManyToOne(t *testing.T) {
	books := mustCollection(t, library(t), "book")

	records, err := books.List(context.Background(), nil,
		query.NewPaginatedFilter(query.NewLeaf("author:last_name", schema.Equal, ir.String("Asimov"))).
			WithSort(query.Sort{{Field: "title", Ascending: true}}),
		query.NewProjection("title", "author:first_name"))
	require.NoError(t, err)

	assert.Equal(t, []ir.Record{
		{"title": ir.String("Foundation"), "author": ir.Record{"first_name": ir.String("Isaac")}},
		{"title": ir.String("I, Robot"), "author": ir.Record{"first_name": ir.String("Isaac")}},
	}, records)
}

func TestCollection_ListNullRelation(t *testing.T) {
	books := mustCollection(t, library(t), "book")

	records, err := books.List(context.Background(), nil,
		query.NewPaginatedFilter(query.NewLeaf("id", schema.Equal, ir.String("b4"))),
		query.NewProjection("id", "author:first_name"))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, ir.Null{}, records[0]["author"])
}

func TestCollection_ListPage(t *testing.T) {
	books := mustCollection(t, library(t), "book")

	records, err := books.List(context.Background(), nil,
		query.NewPaginatedFilter(nil).
			WithSort(query.Sort{{Field: "id", Ascending: false}}).
			WithPage(&query.Page{Skip: 1, Limit: 2}),
		query.NewProjection("id"))
	require.NoError(t, err)

	assert.Equal(t, []ir.Record{{"id": ir.String("b3")}, {"id": ir.String("b2")}}, records)
}

func TestCollection_ListRejectsSearch(t *testing.T) {
	books := mustCollection(t, library(t), "book")

	_, err := books.List(context.Background(), nil,
		query.PaginatedFilter{Filter: query.Filter{Search: "robot"}}, query.NewProjection("id"))

	assert.True(t, errs.IsValidation(err))
}

func TestCollection_ListDateOperatorsUseClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(1974, time.May, 20, 12, 0, 0, 0, time.UTC))
	books := mustCollection(t, library(t, WithClock(clock)), "book")

	records, err := books.List(context.Background(), collection.NewCaller(1, "a@b.c", "UTC"),
		query.NewPaginatedFilter(query.NewLeaf("published", schema.PreviousMonthToDate, nil)),
		query.NewProjection("id"))
	require.NoError(t, err)

	assert.Equal(t, []ir.Record{{"id": ir.String("b3")}}, records)
}

func TestCollection_CreateGeneratesKeys(t *testing.T) {
	ds := library(t, WithKeyGenerator(collection.NewFixedGenerator("generated-1")))
	people := mustCollection(t, ds, "person")
	books := mustCollection(t, ds, "book")
	ctx := context.Background()

	created, err := people.Create(ctx, nil, []ir.Record{{"first_name": ir.String("Frank")}})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(3), created[0]["id"])
	assert.Equal(t, ir.Null{}, created[0]["last_name"])

	created, err = books.Create(ctx, nil, []ir.Record{{"title": ir.String("Dune"), "author_id": ir.Int(3)}})
	require.NoError(t, err)
	assert.Equal(t, ir.String("generated-1"), created[0]["id"])
}

func TestCollection_CreateRejectsUnknownField(t *testing.T) {
	people := mustCollection(t, library(t), "person")

	_, err := people.Create(context.Background(), nil, []ir.Record{{"nickname": ir.String("x")}})

	assert.True(t, errs.IsValidation(err))
}

func TestCollection_UpdateAndDelete(t *testing.T) {
	ds := library(t)
	books := mustCollection(t, ds, "book")
	ctx := context.Background()
	byAsimov := query.Filter{ConditionTree: query.NewLeaf("author:last_name", schema.Equal, ir.String("Asimov"))}

	require.NoError(t, books.Update(ctx, nil, byAsimov, ir.Record{"title": ir.String("Renamed")}))

	records, err := books.List(ctx, nil, query.NewPaginatedFilter(query.NewLeaf("title", schema.Equal, ir.String("Renamed"))), query.NewProjection("id"))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, books.Delete(ctx, nil, byAsimov))

	records, err = books.List(ctx, nil, query.NewPaginatedFilter(nil), query.NewProjection("id"))
	require.NoError(t, err)
	assert.Equal(t, []ir.Record{{"id": ir.String("b3")}, {"id": ir.String("b4")}}, records)
}

func TestCollection_UpdateRejectsRelation(t *testing.T) {
	books := mustCollection(t, library(t), "book")

	err := books.Update(context.Background(), nil, query.Filter{}, ir.Record{"author": ir.Record{}})

	assert.True(t, errs.IsValidation(err))
}

func TestCollection_AggregateThroughRelation(t *testing.T) {
	books := mustCollection(t, library(t), "book")

	results, err := books.Aggregate(context.Background(), nil, query.Filter{},
		query.Aggregation{Operation: query.Count, Groups: []query.AggregationGroup{{Field: "author:last_name"}}}, 0)
	require.NoError(t, err)

	assert.Equal(t, []query.AggregateResult{
		{Value: ir.Int(2), Group: ir.Record{"author:last_name": ir.String("Asimov")}},
		{Value: ir.Int(1), Group: ir.Record{"author:last_name": ir.String("Le Guin")}},
		{Value: ir.Int(1), Group: ir.Record{"author:last_name": ir.Null{}}},
	}, results)
}

func TestCollection_ExecuteIsNotFound(t *testing.T) {
	books := mustCollection(t, library(t), "book")

	_, err := books.Execute(context.Background(), nil, "publish", ir.Record{}, query.Filter{})

	assert.True(t, errs.IsNotFound(err))
}

func TestDatasource_AddCollectionDefaults(t *testing.T) {
	ds := library(t)

	s := mustCollection(t, ds, "book").Schema()
	title, ok := s.Column("title")
	require.True(t, ok)
	assert.True(t, title.FilterOperators.Has(schema.Contains))
	assert.True(t, s.Countable)
	assert.True(t, s.AggregationCapabilities.SupportGroups)

	_, err := ds.AddCollection("book", schema.NewCollectionSchema())
	assert.True(t, errs.IsConflict(err))
}

func TestDatasource_NativeQuery(t *testing.T) {
	ds := library(t)

	records, err := ds.NativeQuery(context.Background(), "main", "person", ir.Record{"last_name": ir.String("Le Guin")})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, ir.String("Ursula"), records[0]["first_name"])
}
