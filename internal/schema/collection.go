package schema

import (
	"encoding/json"
	"sort"

	"github.com/huandu/go-clone"
)

// DateOperation truncates dates when grouping aggregations.
type DateOperation string

const (
	Year    DateOperation = "Year"
	Quarter DateOperation = "Quarter"
	Month   DateOperation = "Month"
	Week    DateOperation = "Week"
	Day     DateOperation = "Day"
)

// AggregationCapabilities describes what a store can aggregate natively.
type AggregationCapabilities struct {
	SupportGroups           bool            `json:"supportGroups"`
	SupportedDateOperations []DateOperation `json:"supportedDateOperations"`
}

// ActionScope defines on how many records an action runs.
type ActionScope string

const (
	ScopeSingle ActionScope = "Single"
	ScopeBulk   ActionScope = "Bulk"
	ScopeGlobal ActionScope = "Global"
)

// ActionSchema describes a custom action exposed by a collection.
type ActionSchema struct {
	Scope        ActionScope `json:"scope"`
	GenerateFile bool        `json:"generateFile"`
	StaticForm   bool        `json:"staticForm"`
	Description  string      `json:"description,omitempty"`
}

// CollectionSchema is the schema a collection exposes upward.
type CollectionSchema struct {
	Fields                  map[string]FieldSchema  `json:"fields"`
	Countable               bool                    `json:"countable"`
	Searchable              bool                    `json:"searchable"`
	Segments                []string                `json:"segments"`
	Actions                 map[string]ActionSchema `json:"actions"`
	Charts                  []string                `json:"charts"`
	AggregationCapabilities AggregationCapabilities `json:"aggregationCapabilities"`
}

// NewCollectionSchema creates an empty schema with initialized maps.
func NewCollectionSchema() *CollectionSchema {
	return &CollectionSchema{
		Fields:   map[string]FieldSchema{},
		Segments: []string{},
		Actions:  map[string]ActionSchema{},
		Charts:   []string{},
	}
}

// Clone returns a deep copy that decorators may rewrite freely.
func (s *CollectionSchema) Clone() *CollectionSchema {
	if s == nil {
		return NewCollectionSchema()
	}
	return clone.Clone(s).(*CollectionSchema)
}

// Column returns the column named name.
func (s *CollectionSchema) Column(name string) (*ColumnSchema, bool) {
	col, ok := s.Fields[name].(*ColumnSchema)
	return col, ok
}

// Field returns the field named name.
func (s *CollectionSchema) Field(name string) (FieldSchema, bool) {
	f, ok := s.Fields[name]
	return f, ok
}

// FieldNames returns field names sorted.
func (s *CollectionSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnNames returns column names sorted.
func (s *CollectionSchema) ColumnNames() []string {
	var names []string
	for _, name := range s.FieldNames() {
		if _, ok := s.Fields[name].(*ColumnSchema); ok {
			names = append(names, name)
		}
	}
	return names
}

// PrimaryKeys returns primary key column names sorted.
func (s *CollectionSchema) PrimaryKeys() []string {
	var pks []string
	for _, name := range s.FieldNames() {
		if col, ok := s.Fields[name].(*ColumnSchema); ok && col.IsPrimaryKey {
			pks = append(pks, name)
		}
	}
	return pks
}

// MarshalJSON sorts segment and chart names for stable output.
func (s *CollectionSchema) MarshalJSON() ([]byte, error) {
	type alias CollectionSchema
	cp := *s
	cp.Segments = sortedCopy(s.Segments)
	cp.Charts = sortedCopy(s.Charts)
	return json.Marshal((*alias)(&cp))
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}
