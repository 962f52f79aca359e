package decorator

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/testutil"
)

var coverBytes = []byte("%PDF-1.4 cover")

func TestBinary_SchemaExposesStrings(t *testing.T) {
	books := get(t, NewBinaryDatasource(library(t)), "book")

	col, ok := books.Schema().Column("cover")
	require.True(t, ok)
	assert.True(t, col.ColumnType.Is(schema.String))
	assert.True(t, col.FilterOperators.Has(schema.Equal))
	assert.False(t, col.FilterOperators.Has(schema.Contains))
	assert.False(t, col.FilterOperators.Has(schema.LessThan))
}

func TestBinary_DataURIByDefault(t *testing.T) {
	books := get(t, NewBinaryDatasource(library(t)), "book")
	uri := ir.String("data:application/pdf;base64," + base64.StdEncoding.EncodeToString(coverBytes))

	records := list(t, books, query.NewLeaf("id", schema.Equal, ir.String("b1")), "cover")
	assert.Equal(t, []ir.Record{{"cover": uri}}, records)

	// Filter values are decoded before reaching the store.
	records = list(t, books, query.NewLeaf("cover", schema.Equal, uri), "title")
	assert.Equal(t, []ir.Record{{"title": ir.String("Foundation")}}, records)
}

func TestBinary_HexMode(t *testing.T) {
	books := get(t, NewBinaryDatasource(library(t)), "book")
	require.NoError(t, books.SetBinaryMode("cover", BinaryHex))

	records := list(t, books, query.NewLeaf("id", schema.Equal, ir.String("b1")), "cover")
	assert.Equal(t, []ir.Record{{"cover": ir.String(hex.EncodeToString(coverBytes))}}, records)

	err := books.Update(context.Background(), testutil.Caller(), byID(ir.String("b2")), ir.Record{"cover": ir.String("not hex")})
	assert.True(t, errs.IsValidation(err), "got %v", err)
}

func TestBinary_WritesDecodeAndEchoEncoded(t *testing.T) {
	spy := library(t)
	books := get(t, NewBinaryDatasource(spy), "book")

	created, err := books.Create(context.Background(), testutil.Caller(), []ir.Record{{
		"title": ir.String("Notes"),
		"cover": ir.String("data:text/plain,hello"),
	}})
	require.NoError(t, err)

	sent := spy.CallsTo("book", "create")[0].Records[0]
	assert.Equal(t, ir.Bytes("hello"), sent["cover"])
	assert.Equal(t, ir.String("data:text/plain;base64,aGVsbG8="), created[0]["cover"])

	_, err = books.Create(context.Background(), testutil.Caller(), []ir.Record{{"cover": ir.String("hello")}})
	assert.True(t, errs.IsValidation(err), "got %v", err)
}

func TestBinary_ModeErrors(t *testing.T) {
	books := get(t, NewBinaryDatasource(library(t)), "book")

	assert.True(t, errs.IsValidation(books.SetBinaryMode("title", BinaryHex)))
	assert.True(t, errs.IsValidation(books.SetBinaryMode("cover", "base32")))
}

func TestPublication_HiddenForeignKeyHidesRelation(t *testing.T) {
	pd := NewPublicationDatasource(library(t))
	books, err := pd.Get("book")
	require.NoError(t, err)

	require.NoError(t, books.ChangeFieldVisibility("author_id", false))

	s := books.Schema()
	assert.NotContains(t, s.Fields, "author_id")
	assert.NotContains(t, s.Fields, "author")
	assert.Contains(t, s.Fields, "title")

	require.NoError(t, books.ChangeFieldVisibility("author_id", true))
	assert.Contains(t, books.Schema().Fields, "author")
}

func TestPublication_HidingOriginKeyUpdatesOtherSide(t *testing.T) {
	pd := NewPublicationDatasource(library(t))
	people, err := pd.Get("person")
	require.NoError(t, err)
	passports, err := pd.Get("passport")
	require.NoError(t, err)
	require.Contains(t, people.Schema().Fields, "passport")

	require.NoError(t, passports.ChangeFieldVisibility("person_id", false))

	assert.NotContains(t, people.Schema().Fields, "passport")
}

func TestPublication_RemoveCollection(t *testing.T) {
	pd := NewPublicationDatasource(library(t))
	people, err := pd.Get("person")
	require.NoError(t, err)
	require.Contains(t, people.Schema().Fields, "passport")

	require.NoError(t, pd.RemoveCollection("passport"))

	names := []string{}
	for _, c := range pd.Collections() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"person", "book"}, names)
	_, err = pd.Collection("passport")
	assert.True(t, errs.IsNotFound(err), "got %v", err)
	assert.NotContains(t, people.Schema().Fields, "passport")

	assert.True(t, errs.IsNotFound(pd.RemoveCollection("ghost")))
}

func TestPublication_WritesOnlyVisibleFields(t *testing.T) {
	pd := NewPublicationDatasource(library(t))
	books, err := pd.Get("book")
	require.NoError(t, err)
	require.NoError(t, books.ChangeFieldVisibility("published", false))
	ctx := context.Background()

	created, err := books.Create(ctx, testutil.Caller(), []ir.Record{{"title": ir.String("Kindred")}})
	require.NoError(t, err)
	assert.NotContains(t, created[0], "published")
	assert.Contains(t, created[0], "title")

	_, err = books.Create(ctx, testutil.Caller(), []ir.Record{{"published": ir.String("1979-06-01")}})
	assert.True(t, errs.IsValidation(err), "got %v", err)
}

func TestPublication_Errors(t *testing.T) {
	pd := NewPublicationDatasource(library(t))
	books, err := pd.Get("book")
	require.NoError(t, err)

	assert.True(t, errs.IsValidation(books.ChangeFieldVisibility("id", false)))
	assert.True(t, errs.IsValidation(books.ChangeFieldVisibility("nope", false)))
}

func TestRenameField_TranslatesReadsAndWrites(t *testing.T) {
	spy := library(t)
	ds := NewRenameFieldDatasource(spy)
	people := get(t, ds, "person")
	require.NoError(t, people.RenameField("last_name", "surname"))
	ctx := context.Background()

	s := people.Schema()
	assert.Contains(t, s.Fields, "surname")
	assert.NotContains(t, s.Fields, "last_name")

	records := list(t, people, query.NewLeaf("surname", schema.Equal, ir.String("Le Guin")), "surname")
	assert.Equal(t, []ir.Record{{"surname": ir.String("Le Guin")}}, records)
	call := spy.CallsTo("person", "list")[0]
	assert.Equal(t, query.Projection{"last_name"}, call.Projection)
	assert.True(t, query.Equal(query.NewLeaf("last_name", schema.Equal, ir.String("Le Guin")), call.Filter.ConditionTree))

	created, err := people.Create(ctx, testutil.Caller(), []ir.Record{{"surname": ir.String("Butler")}})
	require.NoError(t, err)
	assert.Equal(t, ir.String("Butler"), created[0]["surname"])
	assert.NotContains(t, created[0], "last_name")

	require.NoError(t, people.Update(ctx, testutil.Caller(), byID(ir.Int(1)), ir.Record{"surname": ir.String("Azimov")}))
	assert.Equal(t, ir.Record{"last_name": ir.String("Azimov")}, spy.CallsTo("person", "update")[0].Patch)
}

func TestRenameField_RelationsFollowRenames(t *testing.T) {
	spy := library(t)
	ds := NewRenameFieldDatasource(spy)
	books := get(t, ds, "book")
	require.NoError(t, books.RenameField("author_id", "writerId"))
	require.NoError(t, get(t, ds, "person").RenameField("id", "personId"))
	require.NoError(t, get(t, ds, "person").RenameField("last_name", "surname"))

	author, ok := books.Schema().Fields["author"].(*schema.ManyToOneSchema)
	require.True(t, ok)
	assert.Equal(t, "writerId", author.ForeignKey)
	assert.Equal(t, "personId", author.ForeignKeyTarget)

	records := sortedList(t, books, query.NewLeaf("author:surname", schema.Equal, ir.String("Le Guin")), "title", "title", "author:personId")
	assert.Equal(t, []ir.Record{{"title": ir.String("The Dispossessed"), "author": ir.Record{"personId": ir.Int(2)}}}, records)
	assert.ElementsMatch(t, []string{"title", "author:id"}, []string(spy.CallsTo("book", "list")[0].Projection))

	results, err := books.Aggregate(context.Background(), testutil.Caller(), query.Filter{},
		query.Aggregation{Operation: query.Count, Groups: []query.AggregationGroup{{Field: "author:surname"}}}, 0)
	require.NoError(t, err)
	assert.Equal(t, []query.AggregateResult{
		{Value: ir.Int(2), Group: ir.Record{"author:surname": ir.String("Asimov")}},
		{Value: ir.Int(1), Group: ir.Record{"author:surname": ir.String("Le Guin")}},
	}, results)
}

func TestRenameField_RenameAgainAndBack(t *testing.T) {
	people := get(t, NewRenameFieldDatasource(library(t)), "person")

	require.NoError(t, people.RenameField("last_name", "surname"))
	require.NoError(t, people.RenameField("surname", "family_name"))
	assert.Contains(t, people.Schema().Fields, "family_name")
	assert.NotContains(t, people.Schema().Fields, "surname")

	require.NoError(t, people.RenameField("family_name", "last_name"))
	assert.Contains(t, people.Schema().Fields, "last_name")
	assert.Equal(t, strs("Asimov"), column(list(t, people, query.NewLeaf("id", schema.Equal, ir.Int(1)), "last_name"), "last_name"))

	assert.True(t, errs.IsValidation(people.RenameField("nope", "x")))
	assert.True(t, errs.IsConflict(people.RenameField("first_name", "last_name")))
}

func TestRenameCollection(t *testing.T) {
	ds := NewRenameCollectionDatasource(library(t))
	require.NoError(t, ds.RenameCollection("person", "people"))

	people, err := ds.Collection("people")
	require.NoError(t, err)
	assert.Equal(t, "people", people.Name())
	_, err = ds.Collection("person")
	assert.True(t, errs.IsNotFound(err), "got %v", err)

	books, err := ds.Collection("book")
	require.NoError(t, err)
	author, ok := books.Schema().Fields["author"].(*schema.ManyToOneSchema)
	require.True(t, ok)
	assert.Equal(t, "people", author.ForeignCollection)

	names := []string{}
	for _, c := range ds.Collections() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"people", "book", "passport"}, names)

	assert.True(t, errs.IsConflict(ds.RenameCollection("book", "people")))
	assert.True(t, errs.IsNotFound(ds.RenameCollection("ghost", "spirit")))

	require.NoError(t, ds.RenameCollection("people", "person"))
	back, err := ds.Collection("person")
	require.NoError(t, err)
	assert.Equal(t, "person", back.Name())
}
