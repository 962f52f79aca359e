package definition

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/roach88/strata/internal/schema"
)

// Validation error codes (E200-E299)
const (
	ErrCompile           = "E200" // definition does not compile
	ErrUnknownCollection = "E201" // relation points at an undeclared collection
	ErrUnknownKey        = "E202" // relation key is not a column of its collection
	ErrNoPrimaryKey      = "E203" // collection declares no primary key
	ErrInvalidColumnType = "E204" // unknown primitive type
	ErrUnknownOperator   = "E205" // operator not allowed for the column type
	ErrEnumWithoutValues = "E206" // Enum column without enum values
	ErrMissingKey        = "E207" // relation without a required key
)

// ValidationError is one problem found in a definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks that every relation resolves: foreign and through
// collections are declared and their keys are columns. It returns every
// error found.
func Validate(def *Definition) []ValidationError {
	var out []ValidationError
	for _, c := range def.Collections {
		line := c.Pos.Line()
		if len(c.Schema.PrimaryKeys()) == 0 {
			out = append(out, ValidationError{Field: c.Name, Message: "no primary key", Code: ErrNoPrimaryKey, Line: line})
		}
		for _, name := range c.Schema.FieldNames() {
			ref := c.Name + "." + name
			switch f := c.Schema.Fields[name].(type) {
			case *schema.ColumnSchema:
				out = append(out, validateColumn(ref, line, f)...)
			default:
				out = append(out, validateRelation(def, c.Name, ref, line, f)...)
			}
		}
	}
	return out
}

func validateColumn(ref string, line int, col *schema.ColumnSchema) []ValidationError {
	var out []ValidationError
	if bad := unknownPrimitive(col.ColumnType); bad != "" {
		out = append(out, ValidationError{Field: ref, Message: fmt.Sprintf("unknown type %q", bad), Code: ErrInvalidColumnType, Line: line})
	}
	if col.ColumnType.Is(schema.Enum) && len(col.EnumValues) == 0 {
		out = append(out, ValidationError{Field: ref, Message: "Enum column needs enum values", Code: ErrEnumWithoutValues, Line: line})
	}
	allowed := schema.AllowedOperators(col.ColumnType)
	for _, op := range col.FilterOperators.Slice() {
		if !allowed.Has(op) {
			out = append(out, ValidationError{Field: ref, Message: fmt.Sprintf("operator %s is not allowed on %s", op, col.ColumnType), Code: ErrUnknownOperator, Line: line})
		}
	}
	for _, rule := range col.Validation {
		if !slices.Contains(schema.AllOperators, rule.Operator) {
			out = append(out, ValidationError{Field: ref, Message: fmt.Sprintf("unknown validation operator %q", rule.Operator), Code: ErrUnknownOperator, Line: line})
		}
	}
	return out
}

// unknownPrimitive returns the first primitive of t that does not exist.
func unknownPrimitive(t schema.ColumnType) schema.PrimitiveType {
	switch {
	case t.Array != nil:
		return unknownPrimitive(*t.Array)
	case t.Object != nil:
		keys := lo.Keys(t.Object)
		slices.Sort(keys)
		for _, k := range keys {
			if bad := unknownPrimitive(t.Object[k]); bad != "" {
				return bad
			}
		}
		return ""
	case slices.Contains(schema.PrimitiveTypes, t.Primitive):
		return ""
	}
	return t.Primitive
}

func validateRelation(def *Definition, owner, ref string, line int, f schema.FieldSchema) []ValidationError {
	var out []ValidationError
	report := func(code, format string, args ...any) {
		out = append(out, ValidationError{Field: ref, Message: fmt.Sprintf(format, args...), Code: code, Line: line})
	}
	lookup := func(name string) *schema.CollectionSchema {
		c, ok := def.Collection(name)
		if !ok {
			report(ErrUnknownCollection, "collection %q is not declared", name)
			return nil
		}
		return c.Schema
	}
	// key checks that column is a column of the collection named in.
	key := func(s *schema.CollectionSchema, in, role, column string) {
		if s == nil {
			return
		}
		if column == "" {
			report(ErrMissingKey, "%s is required", role)
			return
		}
		if _, ok := s.Column(column); !ok {
			report(ErrUnknownKey, "%s %q is not a column of %q", role, column, in)
		}
	}
	self, _ := def.Collection(owner)

	switch r := f.(type) {
	case *schema.ManyToOneSchema:
		foreign := lookup(r.ForeignCollection)
		key(self.Schema, owner, "foreignKey", r.ForeignKey)
		key(foreign, r.ForeignCollection, "foreignKeyTarget", r.ForeignKeyTarget)
	case *schema.OneToOneSchema:
		foreign := lookup(r.ForeignCollection)
		key(foreign, r.ForeignCollection, "originKey", r.OriginKey)
		key(self.Schema, owner, "originKeyTarget", r.OriginKeyTarget)
	case *schema.OneToManySchema:
		foreign := lookup(r.ForeignCollection)
		key(foreign, r.ForeignCollection, "originKey", r.OriginKey)
		key(self.Schema, owner, "originKeyTarget", r.OriginKeyTarget)
	case *schema.ManyToManySchema:
		foreign := lookup(r.ForeignCollection)
		through := lookup(r.ThroughCollection)
		key(through, r.ThroughCollection, "originKey", r.OriginKey)
		key(through, r.ThroughCollection, "foreignKey", r.ForeignKey)
		key(self.Schema, owner, "originKeyTarget", r.OriginKeyTarget)
		key(foreign, r.ForeignCollection, "foreignKeyTarget", r.ForeignKeyTarget)
	case *schema.PolymorphicManyToOneSchema:
		key(self.Schema, owner, "foreignKey", r.ForeignKey)
		key(self.Schema, owner, "foreignKeyTypeField", r.ForeignKeyTypeField)
		for _, name := range r.ForeignCollections {
			key(lookup(name), name, "foreignKeyTarget", r.ForeignKeyTargets[name])
		}
	case *schema.PolymorphicOneToOneSchema:
		foreign := lookup(r.ForeignCollection)
		key(foreign, r.ForeignCollection, "originKey", r.OriginKey)
		key(foreign, r.ForeignCollection, "originTypeField", r.OriginTypeField)
		key(self.Schema, owner, "originKeyTarget", r.OriginKeyTarget)
	case *schema.PolymorphicOneToManySchema:
		foreign := lookup(r.ForeignCollection)
		key(foreign, r.ForeignCollection, "originKey", r.OriginKey)
		key(foreign, r.ForeignCollection, "originTypeField", r.OriginTypeField)
		key(self.Schema, owner, "originKeyTarget", r.OriginKeyTarget)
	}
	return out
}
