package decorator

import (
	"context"
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

func searchTitles(t *testing.T, c collection.Collection, search string, extended bool) []ir.Value {
	t.Helper()
	filter := query.PaginatedFilter{
		Filter: query.Filter{}.WithSearch(search, extended),
		Sort:   query.Sort{{Field: "title", Ascending: true}},
	}
	records, err := c.List(context.Background(), testutil.Caller(), filter, query.NewProjection("title"))
	require.NoError(t, err)
	return column(records, "title")
}

func TestSearch_DefaultSearch(t *testing.T) {
	books := get(t, NewSearchDatasource(library(t)), "book")

	assert.True(t, books.Schema().Searchable)
	assert.Equal(t, strs("I, Robot"), searchTitles(t, books, "robot", false))
	assert.Equal(t, strs("Foundation", "I, Robot", "The Dispossessed"), searchTitles(t, books, "o", false))
	assert.Empty(t, searchTitles(t, books, "guin", false))
	assert.Equal(t, strs("The Dispossessed"), searchTitles(t, books, "guin", true))
	// Every word must match.
	assert.Equal(t, strs("The Dispossessed"), searchTitles(t, books, "the guin", true))
}

func TestSearch_ReplaceSearch(t *testing.T) {
	books := get(t, NewSearchDatasource(library(t)), "book")
	books.ReplaceSearch(SearcherFunc(func(_ context.Context, _ *collection.Caller, _ collection.Collection, search string, _ bool) (query.ConditionTree, error) {
		return query.NewLeaf("title", schema.StartsWith, ir.String(search)), nil
	}))

	assert.Equal(t, strs("Foundation"), searchTitles(t, books, "Found", false))
	assert.Empty(t, searchTitles(t, books, "ound", false))
}

func TestDefaultSearch_NumberAndUUIDColumns(t *testing.T) {
	people := get(t, NewSearchDatasource(library(t)), "person")

	tree := DefaultSearch(people.Child(), "2", false)
	assert.True(t, query.SomeLeaf(tree, func(l query.Leaf) bool {
		return l.Field == "id" && l.Operator == schema.Equal && ir.Equal(l.Value, ir.Int(2))
	}), "got %s", query.String(tree))

	tree = DefaultSearch(people.Child(), "abc", false)
	assert.False(t, query.SomeLeaf(tree, func(l query.Leaf) bool { return l.Field == "id" }))
}

func TestSegment_MergesIntoConditionTree(t *testing.T) {
	books := get(t, NewSegmentDatasource(library(t)), "book")
	require.NoError(t, books.AddSegment("asimov", StaticSegment(query.NewLeaf("author_id", schema.Equal, ir.Int(1)))))

	assert.Equal(t, []string{"asimov"}, books.Schema().Segments)

	filter := query.PaginatedFilter{
		Filter: query.Filter{ConditionTree: query.NewLeaf("title", schema.StartsWith, ir.String("I"))}.WithSegment("asimov"),
	}
	records, err := books.List(context.Background(), testutil.Caller(), filter, query.NewProjection("title"))
	require.NoError(t, err)
	assert.Equal(t, []ir.Record{{"title": ir.String("I, Robot")}}, records)

	err = books.AddSegment("asimov", StaticSegment(nil))
	assert.True(t, errs.IsConflict(err), "got %v", err)
}

func TestSegment_InvalidTree(t *testing.T) {
	books := get(t, NewSegmentDatasource(library(t)), "book")
	require.NoError(t, books.AddSegment("broken", StaticSegment(query.NewLeaf("nope", schema.Equal, ir.Int(1)))))

	_, err := books.List(context.Background(), testutil.Caller(),
		query.PaginatedFilter{Filter: query.Filter{}.WithSegment("broken")}, query.NewProjection("title"))
	assert.True(t, errs.IsValidation(err), "got %v", err)
}

func TestSort_Emulated(t *testing.T) {
	spy := library(t)
	books := get(t, NewSortDatasource(spy), "book")
	require.NoError(t, books.EmulateFieldSorting("title"))

	filter := query.PaginatedFilter{
		Sort: query.Sort{{Field: "title", Ascending: false}},
		Page: &query.Page{Skip: 1, Limit: 1},
	}
	records, err := books.List(context.Background(), testutil.Caller(), filter, query.NewProjection("title"))
	require.NoError(t, err)

	assert.Equal(t, []ir.Record{{"title": ir.String("I, Robot")}}, records)
	calls := spy.CallsTo("book", "list")
	require.Len(t, calls, 2)
	assert.Nil(t, calls[0].Filter.Page)
	assert.Empty(t, calls[1].Filter.Sort)
}

func TestSort_Replaced(t *testing.T) {
	spy := library(t)
	books := get(t, NewSortDatasource(spy), "book")
	require.NoError(t, books.ReplaceFieldSorting("title", query.Sort{{Field: "published", Ascending: true}}))

	records := sortedList(t, books, nil, "title", "title")
	assert.Equal(t, strs("I, Robot", "Foundation", "The Dispossessed"), column(records, "title"))

	filter := query.PaginatedFilter{Sort: query.Sort{{Field: "title", Ascending: false}}}
	_, err := books.List(context.Background(), testutil.Caller(), filter, query.NewProjection("title"))
	require.NoError(t, err)
	last := spy.CallsTo("book", "list")[1]
	assert.Equal(t, query.Sort{{Field: "published", Ascending: false}}, last.Filter.Sort)
}

func TestSort_DisabledAndErrors(t *testing.T) {
	books := get(t, NewSortDatasource(library(t)), "book")
	require.NoError(t, books.DisableFieldSorting("title"))

	col, _ := books.Schema().Column("title")
	assert.False(t, col.IsSortable)

	assert.True(t, errs.IsValidation(books.DisableFieldSorting("author")))
	assert.Error(t, books.ReplaceFieldSorting("title", query.Sort{{Field: "nope", Ascending: true}}))
}

func TestChart_CollectionAndDatasource(t *testing.T) {
	ds := NewChartDatasource(library(t))
	books, err := ds.Get("book")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, books.AddChart("pages", ChartRendererFunc(func(_ context.Context, cc ChartContext) (collection.Chart, error) {
		return collection.ValueChart(ir.NewList(cc.RecordID...), nil), nil
	})))
	require.NoError(t, ds.AddChart("total", ChartRendererFunc(func(context.Context, ChartContext) (collection.Chart, error) {
		return collection.ValueChart(ir.Int(3), nil), nil
	})))

	assert.Equal(t, []string{"pages"}, books.Schema().Charts)
	assert.Equal(t, []string{"total"}, ds.Schema().Charts)

	chart, err := books.RenderChart(ctx, testutil.Caller(), "pages", []ir.Value{ir.String("b1")})
	require.NoError(t, err)
	assert.Equal(t, collection.ValueChart(ir.NewList(ir.String("b1")), nil), chart)

	chart, err = ds.RenderChart(ctx, testutil.Caller(), "total")
	require.NoError(t, err)
	assert.Equal(t, collection.ValueChart(ir.Int(3), nil), chart)

	_, err = books.RenderChart(ctx, testutil.Caller(), "missing", nil)
	assert.True(t, errs.IsNotFound(err), "got %v", err)
	_, err = ds.RenderChart(ctx, testutil.Caller(), "missing")
	assert.True(t, errs.IsNotFound(err), "got %v", err)

	assert.True(t, errs.IsConflict(books.AddChart("pages", nil)))
	assert.True(t, errs.IsConflict(ds.AddChart("total", nil)))
}

func TestAction_ExecuteWithForm(t *testing.T) {
	books := get(t, NewActionDatasource(library(t)), "book")
	var got ir.Record
	var titles []ir.Value
	require.NoError(t, books.AddAction("mark as read", ActionDefinition{
		Scope: schema.ScopeBulk,
		Form: []FormField{
			{Label: "reader", Type: schema.String, IsRequired: true},
			{Label: "rating", Type: schema.Number, DefaultValue: ir.Int(3)},
		},
		Executor: ActionExecutorFunc(func(ctx context.Context, ac ActionContext) (collection.ActionResult, error) {
			got = ac.Form
			records, err := ac.Records(ctx, query.NewProjection("title"))
			if err != nil {
				return collection.ActionResult{}, err
			}
			titles = column(records, "title")
			return collection.Success("done"), nil
		}),
	}))

	assert.Equal(t, schema.ScopeBulk, books.Schema().Actions["mark as read"].Scope)

	filter := query.Filter{ConditionTree: query.NewLeaf("id", schema.Equal, ir.String("b3"))}
	result, err := books.Execute(context.Background(), testutil.Caller(), "mark as read", ir.Record{"reader": ir.String("ada")}, filter)
	require.NoError(t, err)
	assert.Equal(t, collection.Success("done"), result)
	assert.Equal(t, ir.Record{"reader": ir.String("ada"), "rating": ir.Int(3)}, got)
	assert.Equal(t, strs("The Dispossessed"), titles)

	_, err = books.Execute(context.Background(), testutil.Caller(), "mark as read", ir.Record{}, filter)
	assert.True(t, errs.IsValidation(err), "got %v", err)

	_, err = books.Execute(context.Background(), testutil.Caller(), "unknown", nil, filter)
	assert.True(t, errs.IsNotFound(err), "got %v", err)

	assert.True(t, errs.IsConflict(books.AddAction("mark as read", ActionDefinition{Executor: ActionExecutorFunc(nil)})))
	assert.True(t, errs.IsValidation(books.AddAction("no executor", ActionDefinition{})))
}

func TestSchemaOverride(t *testing.T) {
	books := get(t, NewSchemaOverrideDatasource(library(t)), "book")
	no := false

	books.OverrideSchema(SchemaPatch{Countable: &no})

	s := books.Schema()
	assert.False(t, s.Countable)
	assert.False(t, s.Searchable)
}

func TestOverride_ReplacesWrites(t *testing.T) {
	spy := library(t)
	people := get(t, NewOverrideDatasource(spy), "person")
	people.AddCreateHandler(CreateHandlerFunc(func(ctx context.Context, caller *collection.Caller, child collection.Collection, records []ir.Record) ([]ir.Record, error) {
		for _, r := range records {
			r["last_name"] = ir.String("Overridden")
		}
		return child.Create(ctx, caller, records)
	}))
	people.AddDeleteHandler(DeleteHandlerFunc(func(context.Context, *collection.Caller, collection.Collection, query.Filter) error {
		return errs.Forbidden("people cannot be deleted")
	}))

	created, err := people.Create(context.Background(), testutil.Caller(), []ir.Record{{"first_name": ir.String("Octavia")}})
	require.NoError(t, err)
	assert.Equal(t, ir.String("Overridden"), created[0]["last_name"])

	err = people.Delete(context.Background(), testutil.Caller(), query.Filter{})
	assert.True(t, errs.Is(err, errs.KindForbidden))
	assert.Empty(t, spy.CallsTo("person", "delete"))
}
