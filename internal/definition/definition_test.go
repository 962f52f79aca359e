package definition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

func loadLibrary(t *testing.T) *Definition {
	t.Helper()
	def, err := Load("testdata/library.cue")
	require.NoError(t, err)
	return def
}

func TestLoad_Library(t *testing.T) {
	def := loadLibrary(t)

	assert.Equal(t, []string{"person", "book", "passport"}, def.Names())

	person, ok := def.Collection("person")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, person.Schema.PrimaryKeys())
	assert.Equal(t, &schema.OneToOneSchema{ForeignCollection: "passport", OriginKey: "person_id", OriginKeyTarget: "id"}, person.Schema.Fields["passport"])
	assert.Equal(t, &schema.OneToManySchema{ForeignCollection: "book", OriginKey: "author_id", OriginKeyTarget: "id"}, person.Schema.Fields["books"])
	firstName, _ := person.Schema.Column("first_name")
	assert.Equal(t, []schema.ValidationRule{{Operator: schema.Present}}, firstName.Validation)

	book, _ := def.Collection("book")
	assert.Equal(t, &schema.ManyToOneSchema{ForeignCollection: "person", ForeignKey: "author_id", ForeignKeyTarget: "id"}, book.Schema.Fields["author"])

	title, _ := book.Schema.Column("title")
	assert.Equal(t, schema.NewOperatorSet(schema.Equal, schema.Contains, schema.Present), title.FilterOperators)
	assert.True(t, title.IsSortable)
	assert.True(t, title.IsGroupable)

	cover, _ := book.Schema.Column("cover")
	assert.Equal(t, schema.Primitive(schema.Binary), cover.ColumnType)
	assert.False(t, cover.IsSortable)
	assert.Empty(t, cover.FilterOperators)

	tags, _ := book.Schema.Column("tags")
	assert.Equal(t, schema.ArrayOf(schema.Primitive(schema.String)), tags.ColumnType)
	assert.Equal(t, ir.List{}, tags.DefaultValue)

	format, _ := book.Schema.Column("format")
	assert.Equal(t, []string{"hardcover", "paperback"}, format.EnumValues)
	assert.Equal(t, ir.String("paperback"), format.DefaultValue)

	passport, _ := def.Collection("passport")
	number, _ := passport.Schema.Column("number")
	assert.True(t, number.IsReadOnly)
	assert.Equal(t, "id", passport.Schema.Fields["owner"].(*schema.ManyToOneSchema).ForeignKeyTarget)

	assert.Empty(t, Validate(def))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/nope.cue")
	assert.Error(t, err)
}

func TestParse_ObjectColumn(t *testing.T) {
	def, err := Parse([]byte(`
		collections: shop: fields: {
			id:      {type: "Number", primaryKey: true}
			address: {type: {street: "String", zip: "Number"}}
		}
	`), "shop.cue")
	require.NoError(t, err)

	shop, _ := def.Collection("shop")
	address, _ := shop.Schema.Column("address")
	assert.Equal(t, schema.ObjectOf(map[string]schema.ColumnType{
		"street": schema.Primitive(schema.String),
		"zip":    schema.Primitive(schema.Number),
	}), address.ColumnType)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		message string
	}{
		{
			name:    "misspelled attribute",
			src:     "collections: a: fields: id: {type: \"Number\", primarykey: true}",
			message: "primarykey",
		},
		{
			name:    "unknown primitive",
			src:     "collections: a: fields: id: {type: \"Integer\"}",
			message: "a.fields.id.type",
		},
		{
			name:    "unknown relation kind",
			src:     "collections: a: fields: b: {relation: \"BelongsTo\"}",
			message: "relation",
		},
		{
			name:    "column and relation",
			src:     "collections: a: fields: b: {type: \"String\", relation: \"ManyToOne\"}",
			message: "either a column",
		},
		{
			name:    "neither column nor relation",
			src:     "collections: a: fields: b: {readOnly: true}",
			message: "type or relation is required",
		},
		{
			name:    "no collections",
			src:     "",
			message: "collections",
		},
		{
			name:    "invalid cue",
			src:     "collections: {",
			message: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := Parse([]byte("collections: a: fields: {\n\tb: {readOnly: true}\n}\n"), "bad.cue")
	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "a.b", compileErr.Field)
	assert.Equal(t, 2, compileErr.Pos.Line())
	assert.Contains(t, err.Error(), "bad.cue:2:")
}

func TestValidate(t *testing.T) {
	def, err := Parse([]byte(`
		collections: {
			book: fields: {
				id:        {type: "Uuid", primaryKey: true}
				author_id: {type: "Number", operators: ["Contains"]}
				labels:    {type: ["Strin"]}
				format:    {type: "Enum"}
				author:    {relation: "ManyToOne", foreignCollection: "person", foreignKey: "author_id"}
				editor:    {relation: "ManyToOne", foreignCollection: "book", foreignKey: "editor_id"}
				readers:   {relation: "ManyToMany", foreignCollection: "book", throughCollection: "loan", originKey: "book_id", foreignKey: "reader_id"}
			}
			note: fields: {
				text: {type: "String", validation: [{operator: "Shouting"}]}
			}
		}
	`), "book.cue")
	require.NoError(t, err)

	type finding struct{ field, code string }
	var got []finding
	for _, e := range Validate(def) {
		got = append(got, finding{e.Field, e.Code})
	}
	assert.ElementsMatch(t, []finding{
		{"book.author", ErrUnknownCollection},
		{"book.author_id", ErrUnknownOperator},
		{"book.editor", ErrUnknownKey},
		{"book.format", ErrEnumWithoutValues},
		{"book.labels", ErrInvalidColumnType},
		{"book.readers", ErrUnknownCollection},
		{"note", ErrNoPrimaryKey},
		{"note.text", ErrUnknownOperator},
	}, got)
}

func TestValidate_PolymorphicTargets(t *testing.T) {
	def, err := Parse([]byte(`
		collections: {
			comment: fields: {
				id:           {type: "Number", primaryKey: true}
				subject_id:   {type: "Number"}
				subject_type: {type: "String"}
				subject: {
					relation:            "PolymorphicManyToOne"
					foreignCollections:  ["post", "video"]
					foreignKey:          "subject_id"
					foreignKeyTypeField: "subject_type"
				}
			}
			post: fields: {
				id:       {type: "Number", primaryKey: true}
				comments: {relation: "PolymorphicOneToMany", foreignCollection: "comment", originKey: "subject_id", originTypeField: "subject_type", originTypeValue: "post"}
			}
		}
	`), "comment.cue")
	require.NoError(t, err)

	comment, _ := def.Collection("comment")
	subject := comment.Schema.Fields["subject"].(*schema.PolymorphicManyToOneSchema)
	assert.Equal(t, map[string]string{"post": "id", "video": ""}, subject.ForeignKeyTargets)

	post, _ := def.Collection("post")
	assert.Equal(t, "id", post.Schema.Fields["comments"].(*schema.PolymorphicOneToManySchema).OriginKeyTarget)

	errs := Validate(def)
	require.Len(t, errs, 1)
	assert.Equal(t, "comment.subject", errs[0].Field)
	assert.Equal(t, ErrUnknownCollection, errs[0].Code)
	assert.Contains(t, errs[0].Error(), `"video"`)
}
