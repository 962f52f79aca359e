package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/testutil"
)

// openLibrary builds the same library as testutil.Library in a private
// in-memory database.
func openLibrary(t *testing.T) *Datasource {
	t.Helper()
	ds, err := Open(":memory:",
		WithClock(testutil.NewClock()),
		WithKeyGenerator(collection.NewFixedGenerator("generated-1", "generated-2", "generated-3")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	_, err = ds.AddCollection("person", personSchema())
	require.NoError(t, err)
	_, err = ds.AddCollection("book", bookSchema())
	require.NoError(t, err)
	_, err = ds.AddCollection("passport", passportSchema())
	require.NoError(t, err)

	require.NoError(t, ds.Seed("person",
		ir.Record{"id": ir.Int(1), "first_name": ir.String("Isaac"), "last_name": ir.String("Asimov"), "birth_date": ir.String("1920-01-02")},
		ir.Record{"id": ir.Int(2), "first_name": ir.String("Ursula"), "last_name": ir.String("Le Guin"), "birth_date": ir.String("1929-10-21")},
	))
	require.NoError(t, ds.Seed("book",
		ir.Record{"id": ir.String("b1"), "title": ir.String("Foundation"), "author_id": ir.Int(1), "published": ir.String("1951-06-01"), "cover": ir.Bytes("%PDF-1.4 cover")},
		ir.Record{"id": ir.String("b2"), "title": ir.String("I, Robot"), "author_id": ir.Int(1), "published": ir.String("1950-12-02"), "cover": ir.Null{}},
		ir.Record{"id": ir.String("b3"), "title": ir.String("The Dispossessed"), "author_id": ir.Int(2), "published": ir.String("1974-05-01"), "cover": ir.Null{}},
	))
	require.NoError(t, ds.Seed("passport",
		ir.Record{"id": ir.Int(10), "person_id": ir.Int(1), "number": ir.String("US-1920")},
	))
	return ds
}

func personSchema() *schema.CollectionSchema {
	s := schema.NewCollectionSchema()
	s.Fields["id"] = testutil.PrimaryKey(schema.Number)
	s.Fields["first_name"] = testutil.Column(schema.String)
	s.Fields["last_name"] = testutil.Column(schema.String)
	s.Fields["birth_date"] = testutil.Column(schema.Dateonly)
	s.Fields["passport"] = &schema.OneToOneSchema{ForeignCollection: "passport", OriginKey: "person_id", OriginKeyTarget: "id"}
	return s
}

func bookSchema() *schema.CollectionSchema {
	s := schema.NewCollectionSchema()
	s.Fields["id"] = testutil.PrimaryKey(schema.UUID)
	s.Fields["title"] = testutil.Column(schema.String)
	s.Fields["author_id"] = testutil.Column(schema.Number)
	s.Fields["published"] = testutil.Column(schema.Dateonly)
	s.Fields["cover"] = testutil.Column(schema.Binary)
	s.Fields["author"] = &schema.ManyToOneSchema{ForeignCollection: "person", ForeignKey: "author_id", ForeignKeyTarget: "id"}
	return s
}

func passportSchema() *schema.CollectionSchema {
	s := schema.NewCollectionSchema()
	s.Fields["id"] = testutil.PrimaryKey(schema.Number)
	s.Fields["person_id"] = testutil.Column(schema.Number)
	s.Fields["number"] = testutil.Column(schema.String)
	s.Fields["owner"] = &schema.ManyToOneSchema{ForeignCollection: "person", ForeignKey: "person_id", ForeignKeyTarget: "id"}
	return s
}

func mustCollection(t *testing.T, ds collection.Datasource, name string) collection.Collection {
	t.Helper()
	c, err := ds.Collection(name)
	require.NoError(t, err)
	return c
}

func mustStore(t *testing.T, ds *Datasource, name string) *Collection {
	t.Helper()
	c, err := ds.collection(name)
	require.NoError(t, err)
	return c
}

func listSorted(t *testing.T, c collection.Collection, tree query.ConditionTree, sortField string, fields ...string) []ir.Record {
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
