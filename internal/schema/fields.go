package schema

import (
	"encoding/json"

	"github.com/roach88/strata/internal/ir"
)

// FieldType discriminates field schemas.
type FieldType string

const (
	FieldColumn               FieldType = "Column"
	FieldManyToOne            FieldType = "ManyToOne"
	FieldOneToOne             FieldType = "OneToOne"
	FieldOneToMany            FieldType = "OneToMany"
	FieldManyToMany           FieldType = "ManyToMany"
	FieldPolymorphicManyToOne FieldType = "PolymorphicManyToOne"
	FieldPolymorphicOneToOne  FieldType = "PolymorphicOneToOne"
	FieldPolymorphicOneToMany FieldType = "PolymorphicOneToMany"
)

// FieldSchema is a sealed interface over column and relation descriptors.
type FieldSchema interface {
	FieldType() FieldType
}

// ValidationRule is a per-field write constraint, expressed as a condition
// the written value must satisfy.
type ValidationRule struct {
	Operator Operator `json:"operator"`
	Value    ir.Value `json:"value,omitempty"`
}

// ColumnSchema describes a stored or computed column.
type ColumnSchema struct {
	ColumnType      ColumnType       `json:"columnType"`
	FilterOperators OperatorSet      `json:"filterOperators"`
	IsPrimaryKey    bool             `json:"isPrimaryKey"`
	IsReadOnly      bool             `json:"isReadOnly"`
	IsSortable      bool             `json:"isSortable"`
	IsGroupable     bool             `json:"isGroupable"`
	DefaultValue    ir.Value         `json:"defaultValue,omitempty"`
	EnumValues      []string         `json:"enumValues,omitempty"`
	Validation      []ValidationRule `json:"validation,omitempty"`
}

func (*ColumnSchema) FieldType() FieldType { return FieldColumn }

// MarshalJSON adds the type discriminator.
func (c *ColumnSchema) MarshalJSON() ([]byte, error) {
	type alias ColumnSchema
	return json.Marshal(struct {
		Type FieldType `json:"type"`
		*alias
	}{FieldColumn, (*alias)(c)})
}

// ManyToOneSchema: this record holds ForeignKey pointing at
// ForeignKeyTarget on ForeignCollection.
type ManyToOneSchema struct {
	ForeignCollection string `json:"foreignCollection"`
	ForeignKey        string `json:"foreignKey"`
	ForeignKeyTarget  string `json:"foreignKeyTarget"`
}

func (*ManyToOneSchema) FieldType() FieldType { return FieldManyToOne }

func (r *ManyToOneSchema) MarshalJSON() ([]byte, error) {
	type alias ManyToOneSchema
	return json.Marshal(struct {
		Type FieldType `json:"type"`
		*alias
	}{FieldManyToOne, (*alias)(r)})
}

// OneToOneSchema: the foreign record holds OriginKey pointing at
// OriginKeyTarget on this record.
type OneToOneSchema struct {
	ForeignCollection string `json:"foreignCollection"`
	OriginKey         string `json:"originKey"`
	OriginKeyTarget   string `json:"originKeyTarget"`
}

func (*OneToOneSchema) FieldType() FieldType { return FieldOneToOne }

func (r *OneToOneSchema) MarshalJSON() ([]byte, error) {
	type alias OneToOneSchema
	return json.Marshal(struct {
		Type FieldType `json:"type"`
		*alias
	}{FieldOneToOne, (*alias)(r)})
}

// OneToManySchema: like OneToOne, with many foreign records.
type OneToManySchema struct {
	ForeignCollection string `json:"foreignCollection"`
	OriginKey         string `json:"originKey"`
	OriginKeyTarget   string `json:"originKeyTarget"`
}

func (*OneToManySchema) FieldType() FieldType { return FieldOneToMany }

func (r *OneToManySchema) MarshalJSON() ([]byte, error) {
	type alias OneToManySchema
	return json.Marshal(struct {
		Type FieldType `json:"type"`
		*alias
	}{FieldOneToMany, (*alias)(r)})
}

// ManyToManySchema links through ThroughCollection: its OriginKey points
// at OriginKeyTarget here and its ForeignKey at ForeignKeyTarget on
// ForeignCollection.
type ManyToManySchema struct {
	ForeignCollection string `json:"foreignCollection"`
	ThroughCollection string `json:"throughCollection"`
	OriginKey         string `json:"originKey"`
	OriginKeyTarget   string `json:"originKeyTarget"`
	ForeignKey        string `json:"foreignKey"`
	ForeignKeyTarget  string `json:"foreignKeyTarget"`
}

func (*ManyToManySchema) FieldType() FieldType { return FieldManyToMany }

func (r *ManyToManySchema) MarshalJSON() ([]byte, error) {
	type alias ManyToManySchema
	return json.Marshal(struct {
		Type FieldType `json:"type"`
		*alias
	}{FieldManyToMany, (*alias)(r)})
}

// PolymorphicManyToOneSchema: ForeignKeyTypeField names which collection
// ForeignKey points into; ForeignKeyTargets maps collection to target key.
type PolymorphicManyToOneSchema struct {
	ForeignCollections  []string          `json:"foreignCollections"`
	ForeignKey          string            `json:"foreignKey"`
	ForeignKeyTypeField string            `json:"foreignKeyTypeField"`
	ForeignKeyTargets   map[string]string `json:"foreignKeyTargets"`
}

func (*PolymorphicManyToOneSchema) FieldType() FieldType { return FieldPolymorphicManyToOne }

func (r *PolymorphicManyToOneSchema) MarshalJSON() ([]byte, error) {
	type alias PolymorphicManyToOneSchema
	return json.Marshal(struct {
		Type FieldType `json:"type"`
		*alias
	}{FieldPolymorphicManyToOne, (*alias)(r)})
}

// PolymorphicOneToOneSchema is the inverse side of a polymorphic
// many-to-one: foreign records whose OriginTypeField equals OriginTypeValue.
type PolymorphicOneToOneSchema struct {
	ForeignCollection string `json:"foreignCollection"`
	OriginKey         string `json:"originKey"`
	OriginKeyTarget   string `json:"originKeyTarget"`
	OriginTypeField   string `json:"originTypeField"`
	OriginTypeValue   string `json:"originTypeValue"`
}

func (*PolymorphicOneToOneSchema) FieldType() FieldType { return FieldPolymorphicOneToOne }

func (r *PolymorphicOneToOneSchema) MarshalJSON() ([]byte, error) {
	type alias PolymorphicOneToOneSchema
	return json.Marshal(struct {
		Type FieldType `json:"type"`
		*alias
	}{FieldPolymorphicOneToOne, (*alias)(r)})
}

// PolymorphicOneToManySchema is PolymorphicOneToOne with many records.
type PolymorphicOneToManySchema struct {
	ForeignCollection string `json:"foreignCollection"`
	OriginKey         string `json:"originKey"`
	OriginKeyTarget   string `json:"originKeyTarget"`
	OriginTypeField   string `json:"originTypeField"`
	OriginTypeValue   string `json:"originTypeValue"`
}

func (*PolymorphicOneToManySchema) FieldType() FieldType { return FieldPolymorphicOneToMany }

func (r *PolymorphicOneToManySchema) MarshalJSON() ([]byte, error) {
	type alias PolymorphicOneToManySchema
	return json.Marshal(struct {
		Type FieldType `json:"type"`
		*alias
	}{FieldPolymorphicOneToMany, (*alias)(r)})
}

// IsRelation reports whether f is any relation.
func IsRelation(f FieldSchema) bool {
	return f != nil && f.FieldType() != FieldColumn
}

// IsPolymorphic reports whether f is a polymorphic relation.
func IsPolymorphic(f FieldSchema) bool {
	switch f.(type) {
	case *PolymorphicManyToOneSchema, *PolymorphicOneToOneSchema, *PolymorphicOneToManySchema:
		return true
	}
	return false
}

// IsToOne reports whether f is a relation materialized as a nested record.
func IsToOne(f FieldSchema) bool {
	switch f.(type) {
	case *ManyToOneSchema, *OneToOneSchema, *PolymorphicManyToOneSchema, *PolymorphicOneToOneSchema:
		return true
	}
	return false
}

// ForeignCollection returns the single foreign collection of a
// non-polymorphic-many-to-one relation.
func ForeignCollection(f FieldSchema) (string, bool) {
	switch r := f.(type) {
	case *ManyToOneSchema:
		return r.ForeignCollection, true
	case *OneToOneSchema:
		return r.ForeignCollection, true
	case *OneToManySchema:
		return r.ForeignCollection, true
	case *ManyToManySchema:
		return r.ForeignCollection, true
	case *PolymorphicOneToOneSchema:
		return r.ForeignCollection, true
	case *PolymorphicOneToManySchema:
		return r.ForeignCollection, true
	}
	return "", false
}

// ReferencedCollections returns every collection a relation points at.
func ReferencedCollections(f FieldSchema) []string {
	switch r := f.(type) {
	case *PolymorphicManyToOneSchema:
		return append([]string(nil), r.ForeignCollections...)
	case *ManyToManySchema:
		return []string{r.ForeignCollection, r.ThroughCollection}
	}
	if name, ok := ForeignCollection(f); ok {
		return []string{name}
	}
	return nil
}
