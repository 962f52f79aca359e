package definition

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// Fixtures are seed records per collection, in file order.
//
// A fixture file maps collection names to lists of records:
//
//	person:
//	  - id: 1
//	    first_name: Isaac
//	book:
//	  - id: b1
//	    author_id: 1
//	    cover: !!binary JVBERi0xLjQ=
type Fixtures []FixtureSet

// FixtureSet holds the records of one collection.
type FixtureSet struct {
	Collection string
	Records    []ir.Record
}

// Seeder is implemented by leaf datasources that accept raw records.
type Seeder interface {
	Seed(name string, records ...ir.Record) error
}

// Seed inserts every set into s.
func (f Fixtures) Seed(s Seeder) error {
	for _, set := range f {
		if err := s.Seed(set.Collection, set.Records...); err != nil {
			return fmt.Errorf("seed %s: %w", set.Collection, err)
		}
	}
	return nil
}

// LoadFixtures reads a YAML fixture file and converts it against def.
func LoadFixtures(path string, def *Definition) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return ParseFixtures(data, def)
}

// ParseFixtures converts YAML fixtures. Only columns may be set; values
// are converted to the column type.
func ParseFixtures(data []byte, def *Definition) (Fixtures, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		return Fixtures{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: fixtures must map collection names to records", root.Line)
	}

	var out Fixtures
	for i := 0; i+1 < len(root.Content); i += 2 {
		name, list := root.Content[i].Value, root.Content[i+1]
		c, ok := def.Collection(name)
		if !ok {
			return nil, fmt.Errorf("line %d: unknown collection %q", root.Content[i].Line, name)
		}
		if list.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: %s: expected a list of records", list.Line, name)
		}
		set := FixtureSet{Collection: name, Records: make([]ir.Record, 0, len(list.Content))}
		for _, item := range list.Content {
			r, err := fixtureRecord(c.Schema, name, item)
			if err != nil {
				return nil, err
			}
			set.Records = append(set.Records, r)
		}
		out = append(out, set)
	}
	return out, nil
}

func fixtureRecord(s *schema.CollectionSchema, name string, node *yaml.Node) (ir.Record, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: %s: expected a record", node.Line, name)
	}
	r := ir.Record{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		col, ok := s.Column(key.Value)
		if !ok {
			return nil, fmt.Errorf("line %d: %s has no column %q", key.Line, name, key.Value)
		}
		var raw any
		if err := value.Decode(&raw); err != nil {
			return nil, fmt.Errorf("line %d: %s.%s: %w", value.Line, name, key.Value, err)
		}
		v, err := fixtureValue(col.ColumnType, raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s.%s: %w", value.Line, name, key.Value, err)
		}
		r[key.Value] = v
	}
	return r, nil
}

// fixtureValue converts a decoded YAML value to the ir value stored for t.
func fixtureValue(t schema.ColumnType, raw any) (ir.Value, error) {
	if raw == nil {
		return ir.Null{}, nil
	}
	switch {
	case t.Is(schema.Binary):
		if s, ok := raw.(string); ok {
			return ir.Bytes(s), nil
		}
		return nil, fmt.Errorf("binary value must be a string, got %T", raw)
	case t.Is(schema.Dateonly):
		if ts, ok := raw.(time.Time); ok {
			return ir.String(ts.Format(time.DateOnly)), nil
		}
	case t.Is(schema.Number):
		switch raw.(type) {
		case int, int64, uint64, float64:
		default:
			return nil, fmt.Errorf("number value expected, got %T", raw)
		}
	}
	return ir.FromAny(raw)
}
