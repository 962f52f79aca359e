package definition

import (
	"encoding/json"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// datasourceSchema constrains definition files. Definitions are closed, so
// misspelled attributes are rejected with their position.
const datasourceSchema = `
#Primitive: "Boolean" | "Binary" | "Date" | "Dateonly" | "Enum" | "Json" | "Number" | "Point" | "String" | "Time" | "Timeonly" | "Uuid"

#Field: {
	type?:       #Primitive | [_] | {...}
	relation?:   "ManyToOne" | "OneToOne" | "OneToMany" | "ManyToMany" | "PolymorphicManyToOne" | "PolymorphicOneToOne" | "PolymorphicOneToMany"
	primaryKey?: bool
	readOnly?:   bool
	sortable?:   bool
	groupable?:  bool
	default?:    _
	enum?: [...string]
	operators?: [...string]
	validation?: [...{operator: string, value?: _}]

	foreignCollection?:  string
	foreignCollections?: [...string]
	throughCollection?:  string
	foreignKey?:         string
	foreignKeyTarget?:   string
	foreignKeyTargets?: [string]: string
	foreignKeyTypeField?: string
	originKey?:           string
	originKeyTarget?:     string
	originTypeField?:     string
	originTypeValue?:     string
}

#Collection: {
	fields: [string]: #Field
}

#Datasource: {
	collections: [string]: #Collection
}
`

// Definition is a compiled datasource definition. Collections keep the
// order they are declared in.
type Definition struct {
	Collections []Collection
}

// Collection is one declared collection.
type Collection struct {
	Name   string
	Schema *schema.CollectionSchema
	Pos    token.Pos
}

// Collection returns the collection named name.
func (d *Definition) Collection(name string) (*Collection, bool) {
	for i := range d.Collections {
		if d.Collections[i].Name == name {
			return &d.Collections[i], true
		}
	}
	return nil, false
}

// Names returns collection names in declaration order.
func (d *Definition) Names() []string {
	out := make([]string, len(d.Collections))
	for i, c := range d.Collections {
		out[i] = c.Name
	}
	return out
}

// Load reads and compiles a CUE definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return Parse(data, path)
}

// Parse compiles CUE source. filename is used in error positions.
func Parse(src []byte, filename string) (*Definition, error) {
	ctx := cuecontext.New()
	constraint := ctx.CompileString(datasourceSchema, cue.Filename("datasource.cue"))
	if err := constraint.Err(); err != nil {
		return nil, fmt.Errorf("compile datasource schema: %w", err)
	}
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	checked := constraint.LookupPath(cue.ParsePath("#Datasource")).Unify(v)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	// Compile the file's own value so positions point into it.
	return Compile(v)
}

// Compile converts a CUE value holding a collections struct. Key targets
// left out default to the primary key of the collection they point into.
func Compile(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	collections := v.LookupPath(cue.ParsePath("collections"))
	if !collections.Exists() {
		return nil, &CompileError{Field: "collections", Message: "collections are required", Pos: v.Pos()}
	}
	iter, err := collections.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{}
	for iter.Next() {
		c, err := compileCollection(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		def.Collections = append(def.Collections, c)
	}
	def.fillKeyTargets()
	return def, nil
}

func compileCollection(name string, v cue.Value) (Collection, error) {
	s := schema.NewCollectionSchema()
	fields := v.LookupPath(cue.ParsePath("fields"))
	if fields.Exists() {
		iter, err := fields.Fields()
		if err != nil {
			return Collection{}, formatCUEError(err)
		}
		for iter.Next() {
			label := iter.Selector().Unquoted()
			field, err := compileField(name+"."+label, iter.Value())
			if err != nil {
				return Collection{}, err
			}
			s.Fields[label] = field
		}
	}
	return Collection{Name: name, Schema: s, Pos: v.Pos()}, nil
}

// fieldDef mirrors #Field.
type fieldDef struct {
	Type       json.RawMessage  `json:"type"`
	Relation   schema.FieldType `json:"relation"`
	PrimaryKey bool             `json:"primaryKey"`
	ReadOnly   bool             `json:"readOnly"`
	Sortable   *bool            `json:"sortable"`
	Groupable  *bool            `json:"groupable"`
	Default    json.RawMessage  `json:"default"`
	Enum       []string         `json:"enum"`
	Operators  []string         `json:"operators"`
	Validation []struct {
		Operator string          `json:"operator"`
		Value    json.RawMessage `json:"value"`
	} `json:"validation"`

	ForeignCollection   string            `json:"foreignCollection"`
	ForeignCollections  []string          `json:"foreignCollections"`
	ThroughCollection   string            `json:"throughCollection"`
	ForeignKey          string            `json:"foreignKey"`
	ForeignKeyTarget    string            `json:"foreignKeyTarget"`
	ForeignKeyTargets   map[string]string `json:"foreignKeyTargets"`
	ForeignKeyTypeField string            `json:"foreignKeyTypeField"`
	OriginKey           string            `json:"originKey"`
	OriginKeyTarget     string            `json:"originKeyTarget"`
	OriginTypeField     string            `json:"originTypeField"`
	OriginTypeValue     string            `json:"originTypeValue"`
}

func compileField(ref string, v cue.Value) (schema.FieldSchema, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var def fieldDef
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &CompileError{Field: ref, Message: err.Error(), Pos: v.Pos()}
	}

	hasType := len(def.Type) > 0
	switch {
	case hasType && def.Relation != "":
		return nil, &CompileError{Field: ref, Message: "a field is either a column (type) or a relation, not both", Pos: v.Pos()}
	case !hasType && def.Relation == "":
		return nil, &CompileError{Field: ref, Message: "type or relation is required", Pos: v.Pos()}
	case hasType:
		return compileColumn(ref, v.Pos(), def)
	}

	switch def.Relation {
	case schema.FieldManyToOne:
		return &schema.ManyToOneSchema{
			ForeignCollection: def.ForeignCollection,
			ForeignKey:        def.ForeignKey,
			ForeignKeyTarget:  def.ForeignKeyTarget,
		}, nil
	case schema.FieldOneToOne:
		return &schema.OneToOneSchema{
			ForeignCollection: def.ForeignCollection,
			OriginKey:         def.OriginKey,
			OriginKeyTarget:   def.OriginKeyTarget,
		}, nil
	case schema.FieldOneToMany:
		return &schema.OneToManySchema{
			ForeignCollection: def.ForeignCollection,
			OriginKey:         def.OriginKey,
			OriginKeyTarget:   def.OriginKeyTarget,
		}, nil
	case schema.FieldManyToMany:
		return &schema.ManyToManySchema{
			ForeignCollection: def.ForeignCollection,
			ThroughCollection: def.ThroughCollection,
			OriginKey:         def.OriginKey,
			OriginKeyTarget:   def.OriginKeyTarget,
			ForeignKey:        def.ForeignKey,
			ForeignKeyTarget:  def.ForeignKeyTarget,
		}, nil
	case schema.FieldPolymorphicManyToOne:
		return &schema.PolymorphicManyToOneSchema{
			ForeignCollections:  def.ForeignCollections,
			ForeignKey:          def.ForeignKey,
			ForeignKeyTypeField: def.ForeignKeyTypeField,
			ForeignKeyTargets:   def.ForeignKeyTargets,
		}, nil
	case schema.FieldPolymorphicOneToOne:
		return &schema.PolymorphicOneToOneSchema{
			ForeignCollection: def.ForeignCollection,
			OriginKey:         def.OriginKey,
			OriginKeyTarget:   def.OriginKeyTarget,
			OriginTypeField:   def.OriginTypeField,
			OriginTypeValue:   def.OriginTypeValue,
		}, nil
	case schema.FieldPolymorphicOneToMany:
		return &schema.PolymorphicOneToManySchema{
			ForeignCollection: def.ForeignCollection,
			OriginKey:         def.OriginKey,
			OriginKeyTarget:   def.OriginKeyTarget,
			OriginTypeField:   def.OriginTypeField,
			OriginTypeValue:   def.OriginTypeValue,
		}, nil
	}
	return nil, &CompileError{Field: ref, Message: fmt.Sprintf("unknown relation %q", def.Relation), Pos: v.Pos()}
}

func compileColumn(ref string, pos token.Pos, def fieldDef) (*schema.ColumnSchema, error) {
	var t schema.ColumnType
	if err := json.Unmarshal(def.Type, &t); err != nil {
		return nil, &CompileError{Field: ref + ".type", Message: err.Error(), Pos: pos}
	}
	col := &schema.ColumnSchema{
		ColumnType:   t,
		IsPrimaryKey: def.PrimaryKey,
		IsReadOnly:   def.ReadOnly,
		IsSortable:   def.Sortable == nil || *def.Sortable,
		IsGroupable:  def.Groupable == nil || *def.Groupable,
		EnumValues:   def.Enum,
	}
	if len(def.Default) > 0 {
		v, err := ir.UnmarshalValue(def.Default)
		if err != nil {
			return nil, &CompileError{Field: ref + ".default", Message: err.Error(), Pos: pos}
		}
		col.DefaultValue = v
	}
	if len(def.Operators) > 0 {
		col.FilterOperators = schema.NewOperatorSet()
		for _, op := range def.Operators {
			col.FilterOperators.Add(schema.Operator(op))
		}
	}
	for _, rule := range def.Validation {
		r := schema.ValidationRule{Operator: schema.Operator(rule.Operator)}
		if len(rule.Value) > 0 {
			v, err := ir.UnmarshalValue(rule.Value)
			if err != nil {
				return nil, &CompileError{Field: ref + ".validation", Message: err.Error(), Pos: pos}
			}
			r.Value = v
		}
		col.Validation = append(col.Validation, r)
	}
	return col, nil
}

// fillKeyTargets defaults omitted key targets to primary keys.
func (d *Definition) fillKeyTargets() {
	primary := func(name string) string {
		c, ok := d.Collection(name)
		if !ok {
			return ""
		}
		if pks := c.Schema.PrimaryKeys(); len(pks) == 1 {
			return pks[0]
		}
		return ""
	}
	for _, c := range d.Collections {
		own := primary(c.Name)
		for _, f := range c.Schema.Fields {
			switch r := f.(type) {
			case *schema.ManyToOneSchema:
				if r.ForeignKeyTarget == "" {
					r.ForeignKeyTarget = primary(r.ForeignCollection)
				}
			case *schema.OneToOneSchema:
				if r.OriginKeyTarget == "" {
					r.OriginKeyTarget = own
				}
			case *schema.OneToManySchema:
				if r.OriginKeyTarget == "" {
					r.OriginKeyTarget = own
				}
			case *schema.ManyToManySchema:
				if r.OriginKeyTarget == "" {
					r.OriginKeyTarget = own
				}
				if r.ForeignKeyTarget == "" {
					r.ForeignKeyTarget = primary(r.ForeignCollection)
				}
			case *schema.PolymorphicOneToOneSchema:
				if r.OriginKeyTarget == "" {
					r.OriginKeyTarget = own
				}
			case *schema.PolymorphicOneToManySchema:
				if r.OriginKeyTarget == "" {
					r.OriginKeyTarget = own
				}
			case *schema.PolymorphicManyToOneSchema:
				if r.ForeignKeyTargets == nil {
					r.ForeignKeyTargets = map[string]string{}
				}
				for _, foreign := range r.ForeignCollections {
					if r.ForeignKeyTargets[foreign] == "" {
						r.ForeignKeyTargets[foreign] = primary(foreign)
					}
				}
			}
		}
	}
}

// CompileError is a definition error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	list := errors.Errors(err)
	if len(list) == 0 {
		return err
	}
	first := list[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
