package testutil

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// Call records one verb that reached a spied collection.
type Call struct {
	Collection  string
	Verb        string
	Filter      query.PaginatedFilter
	Projection  query.Projection
	Records     []ir.Record
	Patch       ir.Record
	Aggregation query.Aggregation
}

// SpyDatasource wraps a datasource and records every verb reaching its
// collections.
//
// Thread-safety: all methods are safe for concurrent use.
type SpyDatasource struct {
	child collection.Datasource

	mu      sync.Mutex
	calls   []Call
	wrapped map[string]*SpyCollection
}

// NewSpyDatasource wraps child.
func NewSpyDatasource(child collection.Datasource) *SpyDatasource {
	return &SpyDatasource{child: child, wrapped: map[string]*SpyCollection{}}
}

// Calls returns the recorded calls, oldest first.
func (d *SpyDatasource) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsTo returns the recorded calls of one verb on one collection.
func (d *SpyDatasource) CallsTo(name, verb string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Collection == name && c.Verb == verb {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (d *SpyDatasource) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *SpyDatasource) record(c Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

func (d *SpyDatasource) wrap(c collection.Collection) *SpyCollection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.wrapped[c.Name()]; ok {
		return s
	}
	s := &SpyCollection{child: c, ds: d}
	d.wrapped[c.Name()] = s
	return s
}

func (d *SpyDatasource) Collections() []collection.Collection {
	children := d.child.Collections()
	out := make([]collection.Collection, len(children))
	for i, c := range children {
		out[i] = d.wrap(c)
	}
	return out
}

func (d *SpyDatasource) Collection(name string) (collection.Collection, error) {
	c, err := d.child.Collection(name)
	if err != nil {
		return nil, err
	}
	return d.wrap(c), nil
}

func (d *SpyDatasource) Schema() collection.DatasourceSchema { return d.child.Schema() }

func (d *SpyDatasource) RenderChart(ctx context.Context, caller *collection.Caller, chart string) (collection.Chart, error) {
	return d.child.RenderChart(ctx, caller, chart)
}

func (d *SpyDatasource) NativeQuery(ctx context.Context, connection, q string, params ir.Record) ([]ir.Record, error) {
	return d.child.NativeQuery(ctx, connection, q, params)
}

// SpyCollection records verbs, then forwards them.
type SpyCollection struct {
	child collection.Collection
	ds    *SpyDatasource

	mu       sync.Mutex
	override func(*schema.CollectionSchema)
}

// PatchSchema changes the schema the spy reports, e.g. to narrow filter
// operators.
func (c *SpyCollection) PatchSchema(fn func(*schema.CollectionSchema)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = fn
}

func (c *SpyCollection) Name() string { return c.child.Name() }
func (c *SpyCollection) Datasource() collection.Datasource { return c.ds }

func (c *SpyCollection) Schema() *schema.CollectionSchema {
	c.mu.Lock()
	fn := c.override
	c.mu.Unlock()
	if fn == nil {
		return c.child.Schema()
	}
	s := c.child.Schema().Clone()
	fn(s)
	return s
}

func (c *SpyCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	c.ds.record(Call{Collection: c.Name(), Verb: "list", Filter: filter, Projection: projection})
	return c.child.List(ctx, caller, filter, projection)
}

func (c *SpyCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	c.ds.record(Call{Collection: c.Name(), Verb: "create", Records: records})
	return c.child.Create(ctx, caller, records)
}

func (c *SpyCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	c.ds.record(Call{Collection: c.Name(), Verb: "update", Filter: query.PaginatedFilter{Filter: filter}, Patch: patch})
	return c.child.Update(ctx, caller, filter, patch)
}

func (c *SpyCollection) Delete(ctx context.Context, caller *collection.Caller, filter query.Filter) error {
	c.ds.record(Call{Collection: c.Name(), Verb: "delete", Filter: query.PaginatedFilter{Filter: filter}})
	return c.child.Delete(ctx, caller, filter)
}

func (c *SpyCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	c.ds.record(Call{Collection: c.Name(), Verb: "aggregate", Filter: query.PaginatedFilter{Filter: filter}, Aggregation: aggregation})
	return c.child.Aggregate(ctx, caller, filter, aggregation, limit)
}

func (c *SpyCollection) Execute(ctx context.Context, caller *collection.Caller, action string, form ir.Record, filter query.Filter) (collection.ActionResult, error) {
	c.ds.record(Call{Collection: c.Name(), Verb: "execute", Filter: query.PaginatedFilter{Filter: filter}})
	return c.child.Execute(ctx, caller, action, form, filter)
}

func (c *SpyCollection) RenderChart(ctx context.Context, caller *collection.Caller, chart string, id []ir.Value) (collection.Chart, error) {
	c.ds.record(Call{Collection: c.Name(), Verb: "chart"})
	return c.child.RenderChart(ctx, caller, chart, id)
}
