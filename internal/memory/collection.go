package memory

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// Collection stores records of one collection.
type Collection struct {
	ds     *Datasource
	name   string
	schema *schema.CollectionSchema

	mu       sync.RWMutex
	records  []ir.Record
	sequence int64
}

func (c *Collection) Name() string { return c.name }
func (c *Collection) Datasource() collection.Datasource { return c.ds }
func (c *Collection) Schema() *schema.CollectionSchema { return c.schema }

func (c *Collection) env(caller *collection.Caller) (query.Env, error) {
	env, err := caller.Env(c.ds.clock)
	if err != nil {
		return query.Env{}, errs.Validation("%v", err)
	}
	return env, nil
}

// snapshot returns deep copies of the stored records.
func (c *Collection) snapshot() []ir.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ir.Record, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}

// matching returns stored records matching filter, joined with the
// relations needed by extra.
func (c *Collection) matching(caller *collection.Caller, filter query.Filter, extra query.Projection) ([]ir.Record, query.Env, error) {
	if filter.Search != "" {
		return nil, query.Env{}, errs.Validation("collection %q does not support search", c.name)
	}
	if filter.Segment != "" {
		return nil, query.Env{}, errs.Validation("collection %q has no segment %q", c.name, filter.Segment)
	}
	env, err := c.env(caller)
	if err != nil {
		return nil, query.Env{}, err
	}
	needed := query.TreeProjection(filter.ConditionTree).Union(extra)
	records := c.snapshot()
	for _, r := range records {
		c.hydrate(r, needed, 0)
	}
	return query.FilterRecords(filter.ConditionTree, records, env), env, nil
}

// maxJoinDepth bounds joins through self-referencing relations.
const maxJoinDepth = 8

// hydrate attaches the to-one relations projection crosses.
func (c *Collection) hydrate(record ir.Record, projection query.Projection, depth int) {
	if depth > maxJoinDepth {
		return
	}
	for name, sub := range projection.Relations() {
		field, ok := c.schema.Fields[name]
		if !ok {
			continue
		}
		var (
			foreignName string
			match       query.ConditionTree
		)
		switch r := field.(type) {
		case *schema.ManyToOneSchema:
			fk := record[r.ForeignKey]
			if ir.IsNull(fk) {
				record[name] = ir.Null{}
				continue
			}
			foreignName, match = r.ForeignCollection, query.NewLeaf(r.ForeignKeyTarget, schema.Equal, fk)
		case *schema.OneToOneSchema:
			origin := record[r.OriginKeyTarget]
			if ir.IsNull(origin) {
				record[name] = ir.Null{}
				continue
			}
			foreignName, match = r.ForeignCollection, query.NewLeaf(r.OriginKey, schema.Equal, origin)
		default:
			continue
		}
		foreign, err := c.ds.collection(foreignName)
		if err != nil {
			continue
		}
		related := query.FilterRecords(match, foreign.snapshot(), query.Env{})
		if len(related) == 0 {
			record[name] = ir.Null{}
			continue
		}
		foreign.hydrate(related[0], sub, depth+1)
		record[name] = related[0]
	}
}

func (c *Collection) List(_ context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	records, _, err := c.matching(caller, filter.Filter, projection.Union(filter.Sort.Projection()))
	if err != nil {
		return nil, err
	}
	records = filter.Sort.Apply(records)
	records = filter.Page.Apply(records)
	return projection.Apply(records), nil
}

func (c *Collection) Create(_ context.Context, _ *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	created := make([]ir.Record, 0, len(records))
	for _, input := range records {
		r := ir.Record{}
		for name, f := range c.schema.Fields {
			col, ok := f.(*schema.ColumnSchema)
			if !ok {
				continue
			}
			if v, present := input[name]; present {
				r[name] = ir.Clone(v)
				continue
			}
			switch {
			case col.IsPrimaryKey && col.ColumnType.Is(schema.UUID):
				r[name] = ir.String(c.ds.keys.Generate())
			case col.IsPrimaryKey && col.ColumnType.Is(schema.Number):
				c.sequence++
				r[name] = ir.Int(c.sequence)
			case col.DefaultValue != nil:
				r[name] = ir.Clone(col.DefaultValue)
			default:
				r[name] = ir.Null{}
			}
		}
		for k := range input {
			if _, known := c.schema.Fields[k]; !known {
				return nil, errs.Validation("unknown field %q in collection %q", k, c.name)
			}
		}
		c.bumpSequence(r)
		c.records = append(c.records, r)
		created = append(created, r.Clone())
	}
	return created, nil
}

// bumpSequence keeps auto-increment keys above explicit ones.
func (c *Collection) bumpSequence(r ir.Record) {
	for _, k := range c.schema.PrimaryKeys() {
		if n, ok := r[k].(ir.Int); ok && int64(n) > c.sequence {
			c.sequence = int64(n)
		}
	}
}

func (c *Collection) Update(_ context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	for k, v := range patch {
		f, ok := c.schema.Fields[k]
		if !ok {
			return errs.Validation("unknown field %q in collection %q", k, c.name)
		}
		if _, isColumn := f.(*schema.ColumnSchema); !isColumn {
			return errs.Validation("collection %q cannot write relation %q", c.name, k)
		}
		patch[k] = v
	}
	ids, err := c.matchingIDs(caller, filter)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if ids[c.key(r)] {
			for k, v := range patch {
				r[k] = ir.Clone(v)
			}
		}
	}
	return nil
}

func (c *Collection) Delete(_ context.Context, caller *collection.Caller, filter query.Filter) error {
	ids, err := c.matchingIDs(caller, filter)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.records[:0]
	for _, r := range c.records {
		if !ids[c.key(r)] {
			kept = append(kept, r)
		}
	}
	clear(c.records[len(kept):])
	c.records = kept
	return nil
}

func (c *Collection) matchingIDs(caller *collection.Caller, filter query.Filter) (map[string]bool, error) {
	records, _, err := c.matching(caller, filter, nil)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(records))
	for _, r := range records {
		ids[c.key(r)] = true
	}
	return ids, nil
}

// key identifies a stored record by its primary key, or by its whole
// content when the collection has none.
func (c *Collection) key(r ir.Record) string {
	pks := c.schema.PrimaryKeys()
	if len(pks) == 0 {
		return ir.CanonicalKey(stripRelations(c.schema, r))
	}
	id := make(ir.List, len(pks))
	for i, k := range pks {
		id[i] = r[k]
	}
	return ir.CanonicalKey(id)
}

func stripRelations(s *schema.CollectionSchema, r ir.Record) ir.Record {
	out := ir.Record{}
	for k, v := range r {
		if _, isColumn := s.Fields[k].(*schema.ColumnSchema); isColumn {
			out[k] = v
		}
	}
	return out
}

func (c *Collection) Aggregate(_ context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	records, env, err := c.matching(caller, filter, aggregation.Projection())
	if err != nil {
		return nil, err
	}
	return aggregation.Apply(records, env, limit), nil
}

func (c *Collection) Execute(context.Context, *collection.Caller, string, ir.Record, query.Filter) (collection.ActionResult, error) {
	return collection.ActionResult{}, errs.NotFound("collection %q has no actions", c.name)
}

func (c *Collection) RenderChart(_ context.Context, _ *collection.Caller, chart string, _ []ir.Value) (collection.Chart, error) {
	return collection.Chart{}, errs.NotFound("chart %q not found in collection %q", chart, c.name)
}
