package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
)

func books() []ir.Record {
	return []ir.Record{
		{
			"id":    ir.Int(1),
			"title": ir.String("Foundation"),
			"author": ir.Record{
				"first_name": ir.String("Isaac"),
				"last_name":  ir.String("Asimov"),
				"agency":     ir.Record{"name": ir.String("Doubleday")},
			},
		},
		{
			"id":     ir.Int(2),
			"title":  ir.Null{},
			"author": ir.Null{},
		},
		{
			"id": ir.Int(3),
			"author": ir.Record{
				"first_name": ir.String("Ursula"),
				"last_name":  ir.Null{},
				"agency":     ir.Null{},
			},
		},
		{
			"id":     ir.Int(4),
			"author": ir.Record{},
		},
	}
}

func TestFlatten_Cells(t *testing.T) {
	projection := NewProjection("title", "author:first_name", "author:agency:name")

	columns := Flatten(books(), projection)
	require.Len(t, columns, 3)

	assert.Equal(t, []ir.Value{ir.String("Foundation"), ir.Null{}, ir.Undefined, ir.Undefined}, columns[0])
	assert.Equal(t, []ir.Value{ir.String("Isaac"), ir.Undefined, ir.String("Ursula"), ir.Undefined}, columns[1])
	assert.Equal(t, []ir.Value{ir.String("Doubleday"), ir.Undefined, ir.Undefined, ir.Undefined}, columns[2])
}

func TestFlatten_NullMarkers(t *testing.T) {
	projection := WithNullMarkers(NewProjection("author:agency:name"))
	assert.Equal(t, Projection{"author:agency:name", "author:__null_marker", "author:agency:__null_marker"}, projection)

	columns := Flatten(books(), projection)
	assert.Equal(t, []ir.Value{ir.Record{}, ir.Null{}, ir.Record{}, ir.Record{}}, columns[1])
	assert.Equal(t, []ir.Value{ir.Record{}, ir.Undefined, ir.Null{}, ir.Undefined}, columns[2])
}

func TestFlattenUnflatten_RoundTrip(t *testing.T) {
	projections := []Projection{
		NewProjection("id"),
		NewProjection("id", "title"),
		NewProjection("title", "author:first_name"),
		NewProjection("author:last_name", "author:agency:name"),
		NewProjection("id", "title", "author:first_name", "author:last_name", "author:agency:name"),
		NewProjection("author:agency:name"),
	}

	for _, p := range projections {
		t.Run(strings.Join(p, ","), func(t *testing.T) {
			withMarkers := WithNullMarkers(p)
			records := Unflatten(Flatten(books(), withMarkers), withMarkers)
			assert.Equal(t, p.Apply(books()), records)
		})
	}
}

func TestUnflatten_WithoutMarkersLosesNullRelations(t *testing.T) {
	p := NewProjection("author:first_name")

	records := Unflatten(Flatten(books(), p), p)

	assert.Equal(t, ir.Record{}, records[1], "null author is indistinguishable from a missing one")
}

func TestStripNullMarkers(t *testing.T) {
	p := WithNullMarkers(NewProjection("id", "author:first_name"))
	assert.Equal(t, Projection{"id", "author:first_name"}, StripNullMarkers(p))
}
