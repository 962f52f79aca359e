package decorator

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// BinaryMode is how a binary column is exposed.
type BinaryMode string

const (
	BinaryDataURI BinaryMode = "datauri"
	BinaryHex     BinaryMode = "hex"
)

// Operators that still make sense on an encoded binary column.
var binaryOperators = []schema.Operator{
	schema.Present, schema.Blank, schema.Missing,
	schema.Equal, schema.NotEqual, schema.In, schema.NotIn,
}

// BinaryCollection exposes Binary columns as strings: data URIs, or hex
// for keys.
type BinaryCollection struct {
	*Base

	mu    sync.RWMutex
	modes map[string]BinaryMode
}

// NewBinaryDatasource applies BinaryCollection to every collection.
func NewBinaryDatasource(child collection.Datasource) *Datasource[*BinaryCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *BinaryCollection {
		b := &BinaryCollection{modes: map[string]BinaryMode{}}
		b.Base = NewBase(c, ds, b)
		return b
	})
}

// SetBinaryMode overrides the mode of a binary column.
func (c *BinaryCollection) SetBinaryMode(field string, mode BinaryMode) error {
	col, ok := c.Child().Schema().Column(field)
	if !ok || !col.ColumnType.Is(schema.Binary) {
		return errs.ValidationWith(
			map[string]any{"collection": c.Name(), "field": field},
			"%q in collection %q is not a binary column", field, c.Name(),
		)
	}
	if mode != BinaryDataURI && mode != BinaryHex {
		return errs.Validation("unknown binary mode %q", mode)
	}
	c.mu.Lock()
	c.modes[field] = mode
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

// mode returns the mode of field. Primary and foreign keys default to hex
// so that they stay short and comparable.
func (c *BinaryCollection) mode(field string) BinaryMode {
	c.mu.RLock()
	m, ok := c.modes[field]
	c.mu.RUnlock()
	if ok {
		return m
	}
	s := c.Child().Schema()
	if col, ok := s.Column(field); ok && col.IsPrimaryKey {
		return BinaryHex
	}
	for _, f := range s.Fields {
		if rel, ok := f.(*schema.ManyToOneSchema); ok && rel.ForeignKey == field {
			return BinaryHex
		}
	}
	return BinaryDataURI
}

func (c *BinaryCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	for _, name := range s.ColumnNames() {
		col, _ := s.Column(name)
		if !col.ColumnType.Is(schema.Binary) {
			continue
		}
		col.ColumnType = schema.Primitive(schema.String)
		ops := schema.NewOperatorSet()
		for _, op := range binaryOperators {
			if col.FilterOperators.Has(op) {
				ops.Add(op)
			}
		}
		col.FilterOperators = ops
		if col.DefaultValue != nil {
			col.DefaultValue = c.encode(name, col.DefaultValue)
		}
	}
	return s
}

// binaryAt returns the binary decorator and column owning path, if the
// column is binary.
func (c *BinaryCollection) binaryAt(path string) (*BinaryCollection, string, bool) {
	head, rest, nested := query.SplitPath(path)
	s := c.Child().Schema()
	if !nested {
		col, ok := s.Column(path)
		return c, path, ok && col.ColumnType.Is(schema.Binary)
	}
	field, ok := s.Fields[head]
	if !ok || !schema.IsToOne(field) || schema.IsPolymorphic(field) {
		return nil, "", false
	}
	next, err := foreign(c, field)
	if err != nil {
		return nil, "", false
	}
	bc, ok := next.(*BinaryCollection)
	if !ok {
		return nil, "", false
	}
	return bc.binaryAt(rest)
}

func (c *BinaryCollection) encode(field string, v ir.Value) ir.Value {
	switch x := v.(type) {
	case ir.Bytes:
		if c.mode(field) == BinaryHex {
			return ir.String(hex.EncodeToString(x))
		}
		mime, _, _ := strings.Cut(mimetype.Detect(x).String(), ";")
		return ir.String("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(x))
	case ir.List:
		out := make(ir.List, len(x))
		for i, item := range x {
			out[i] = c.encode(field, item)
		}
		return out
	default:
		return v
	}
}

func (c *BinaryCollection) decode(field string, v ir.Value) (ir.Value, error) {
	switch x := v.(type) {
	case ir.String:
		if c.mode(field) == BinaryHex {
			b, err := hex.DecodeString(string(x))
			if err != nil {
				return nil, errs.Validation("field %q expects hex data: %v", field, err)
			}
			return ir.Bytes(b), nil
		}
		return decodeDataURI(field, string(x))
	case ir.List:
		out := make(ir.List, len(x))
		for i, item := range x {
			var err error
			if out[i], err = c.decode(field, item); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return v, nil
	}
}

func decodeDataURI(field, uri string) (ir.Value, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, errs.Validation("field %q expects a data URI", field)
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errs.Validation("field %q: malformed data URI", field)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return ir.Bytes(data), nil
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errs.Validation("field %q: malformed base64 data: %v", field, err)
	}
	return ir.Bytes(b), nil
}

func (c *BinaryCollection) RefineFilter(_ context.Context, _ *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	tree, err := query.ReplaceLeafs(filter.ConditionTree, func(l query.Leaf) (query.ConditionTree, error) {
		owner, field, ok := c.binaryAt(l.Field)
		if !ok || l.Value == nil {
			return l, nil
		}
		v, err := owner.decode(field, l.Value)
		if err != nil {
			return nil, err
		}
		return query.NewLeaf(l.Field, l.Operator, v), nil
	})
	if err != nil {
		return filter, err
	}
	return filter.WithConditionTree(tree), nil
}

// encodeRecord converts every binary value of record, following nested
// relations.
func (c *BinaryCollection) encodeRecord(record ir.Record) ir.Record {
	if record == nil {
		return nil
	}
	s := c.Child().Schema()
	out := make(ir.Record, len(record))
	for k, v := range record {
		switch f := s.Fields[k].(type) {
		case *schema.ColumnSchema:
			if f.ColumnType.Is(schema.Binary) {
				v = c.encode(k, v)
			}
		case nil:
		default:
			if sub, ok := v.(ir.Record); ok && !schema.IsPolymorphic(f) {
				if next, err := foreign(c, f); err == nil {
					if bc, ok := next.(*BinaryCollection); ok {
						v = bc.encodeRecord(sub)
					}
				}
			}
		}
		out[k] = v
	}
	return out
}

func (c *BinaryCollection) decodeRecord(record ir.Record) (ir.Record, error) {
	s := c.Child().Schema()
	out := make(ir.Record, len(record))
	for k, v := range record {
		switch f := s.Fields[k].(type) {
		case *schema.ColumnSchema:
			if f.ColumnType.Is(schema.Binary) {
				var err error
				if v, err = c.decode(k, v); err != nil {
					return nil, err
				}
			}
		case nil:
		default:
			if sub, ok := v.(ir.Record); ok && !schema.IsPolymorphic(f) {
				next, err := foreign(c, f)
				if err != nil {
					return nil, err
				}
				if bc, ok := next.(*BinaryCollection); ok {
					if v, err = bc.decodeRecord(sub); err != nil {
						return nil, err
					}
				}
			}
		}
		out[k] = v
	}
	return out, nil
}

func (c *BinaryCollection) encodeAll(records []ir.Record) []ir.Record {
	out := make([]ir.Record, len(records))
	for i, r := range records {
		out[i] = c.encodeRecord(r)
	}
	return out
}

func (c *BinaryCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	records, err := c.Base.List(ctx, caller, filter, projection)
	if err != nil {
		return nil, err
	}
	return c.encodeAll(records), nil
}

func (c *BinaryCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	decoded := make([]ir.Record, len(records))
	for i, r := range records {
		var err error
		if decoded[i], err = c.decodeRecord(r); err != nil {
			return nil, err
		}
	}
	created, err := c.Child().Create(ctx, caller, decoded)
	if err != nil {
		return nil, err
	}
	return c.encodeAll(created), nil
}

func (c *BinaryCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	decoded, err := c.decodeRecord(patch)
	if err != nil {
		return err
	}
	return c.Base.Update(ctx, caller, filter, decoded)
}

func (c *BinaryCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	results, err := c.Base.Aggregate(ctx, caller, filter, aggregation, limit)
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		group := make(ir.Record, len(r.Group))
		for path, v := range r.Group {
			if owner, field, ok := c.binaryAt(path); ok {
				v = owner.encode(field, v)
			}
			group[path] = v
		}
		results[i].Group = group
	}
	return results, nil
}
