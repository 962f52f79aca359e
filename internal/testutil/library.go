// Package testutil holds fixtures shared by package tests: a seeded
// in-memory library, a spy datasource, and frozen clocks.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/memory"
	"github.com/roach88/strata/internal/schema"
)

// Column returns a sortable, groupable column with default operators.
func Column(p schema.PrimitiveType) *schema.ColumnSchema {
	return &schema.ColumnSchema{ColumnType: schema.Primitive(p), IsSortable: true, IsGroupable: true}
}

// PrimaryKey returns a primary key column.
func PrimaryKey(p schema.PrimitiveType) *schema.ColumnSchema {
	c := Column(p)
	c.IsPrimaryKey = true
	return c
}

// Library builds a memory datasource with three collections:
//
//	person(id Number, first_name, last_name, birth_date Dateonly)
//	book(id Uuid, title, author_id, published Dateonly, cover Binary, author → person)
//	passport(id Number, person_id, number, owner → person)
//
// person.passport is the one-to-one inverse of passport.owner. Every
// collection starts with a few records; the fixed key generator hands out
// "generated-1", "generated-2", ... for Uuid keys.
func Library(t *testing.T) *memory.Datasource {
	t.Helper()
	ds := memory.New(
		memory.WithClock(NewClock()),
		memory.WithKeyGenerator(collection.NewFixedGenerator("generated-1", "generated-2", "generated-3", "generated-4")),
	)

	person := schema.NewCollectionSchema()
	person.Fields["id"] = PrimaryKey(schema.Number)
	person.Fields["first_name"] = Column(schema.String)
	person.Fields["last_name"] = Column(schema.String)
	person.Fields["birth_date"] = Column(schema.Dateonly)
	person.Fields["passport"] = &schema.OneToOneSchema{ForeignCollection: "passport", OriginKey: "person_id", OriginKeyTarget: "id"}
	_, err := ds.AddCollection("person", person)
	require.NoError(t, err)

	book := schema.NewCollectionSchema()
	book.Fields["id"] = PrimaryKey(schema.UUID)
	book.Fields["title"] = Column(schema.String)
	book.Fields["author_id"] = Column(schema.Number)
	book.Fields["published"] = Column(schema.Dateonly)
	book.Fields["cover"] = Column(schema.Binary)
	book.Fields["author"] = &schema.ManyToOneSchema{ForeignCollection: "person", ForeignKey: "author_id", ForeignKeyTarget: "id"}
	_, err = ds.AddCollection("book", book)
	require.NoError(t, err)

	passport := schema.NewCollectionSchema()
	passport.Fields["id"] = PrimaryKey(schema.Number)
	passport.Fields["person_id"] = Column(schema.Number)
	passport.Fields["number"] = Column(schema.String)
	passport.Fields["owner"] = &schema.ManyToOneSchema{ForeignCollection: "person", ForeignKey: "person_id", ForeignKeyTarget: "id"}
	_, err = ds.AddCollection("passport", passport)
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

// Caller is the caller tests use unless timezones matter.
func Caller() *collection.Caller {
	c := collection.NewCaller(1, "tester@example.com", "UTC")
	c.RequestID = "test-request"
	return c
}
