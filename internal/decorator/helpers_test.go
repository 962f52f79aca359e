package decorator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/testutil"
)

// library returns the seeded library behind a spy.
func library(t *testing.T) *testutil.SpyDatasource {
	t.Helper()
	return testutil.NewSpyDatasource(testutil.Library(t))
}

func get[T collection.Collection](t *testing.T, ds *Datasource[T], name string) T {
	t.Helper()
	c, err := ds.Get(name)
	require.NoError(t, err)
	return c
}

func list(t *testing.T, c collection.Collection, tree query.ConditionTree, fields ...string) []ir.Record {
	t.Helper()
	records, err := c.List(context.Background(), testutil.Caller(), query.NewPaginatedFilter(tree), query.NewProjection(fields...))
	require.NoError(t, err)
	return records
}

func sortedList(t *testing.T, c collection.Collection, tree query.ConditionTree, sortField string, fields ...string) []ir.Record {
	t.Helper()
	filter := query.NewPaginatedFilter(tree).WithSort(query.Sort{{Field: sortField, Ascending: true}})
	records, err := c.List(context.Background(), testutil.Caller(), filter, query.NewProjection(fields...))
	require.NoError(t, err)
	return records
}

func column(records []ir.Record, path string) []ir.Value {
	out := make([]ir.Value, len(records))
	for i, r := range records {
		out[i] = query.GetValue(r, path)
	}
	return out
}

func strs(values ...string) []ir.Value {
	out := make([]ir.Value, len(values))
	for i, v := range values {
		out[i] = ir.String(v)
	}
	return out
}
