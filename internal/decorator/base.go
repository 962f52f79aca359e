package decorator

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// SchemaRefiner is implemented by decorators that rewrite the schema of
// their child. The argument is a private clone; it may be modified and
// returned.
type SchemaRefiner interface {
	RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema
}

// FilterRefiner is implemented by decorators that rewrite the filter of
// every verb before it reaches the child.
type FilterRefiner interface {
	RefineFilter(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error)
}

// Observable collections notify subscribers when their schema changes.
type Observable interface {
	MarkSchemaAsDirty()
	Subscribe(fn func())
}

// Base forwards every verb to its child and caches the refined schema.
//
// Decorators embed *Base and pass themselves as self: Base looks up
// SchemaRefiner and FilterRefiner on self, so that forwarded verbs see the
// decorator's refinements.
//
// Thread-safety: the schema cache is guarded by a RWMutex and cold
// recomputation is coalesced with singleflight. A MarkSchemaAsDirty that
// races a recomputation discards its result: readers may see the previous
// schema, never a partially built one.
type Base struct {
	child collection.Collection
	ds    collection.Datasource
	self  any

	mu         sync.RWMutex
	cached     *schema.CollectionSchema
	generation uint64
	group      singleflight.Group

	observersMu sync.Mutex
	observers   []func()
}

// NewBase wraps child and subscribes to its schema changes.
func NewBase(child collection.Collection, ds collection.Datasource, self any) *Base {
	b := &Base{child: child, ds: ds, self: self}
	if o, ok := child.(Observable); ok {
		o.Subscribe(b.MarkSchemaAsDirty)
	}
	return b
}

// Child returns the wrapped collection.
func (b *Base) Child() collection.Collection { return b.child }

func (b *Base) Name() string { return b.child.Name() }

func (b *Base) Datasource() collection.Datasource { return b.ds }

// Schema returns the refined schema, computing it on first use.
func (b *Base) Schema() *schema.CollectionSchema {
	b.mu.RLock()
	s := b.cached
	b.mu.RUnlock()
	if s != nil {
		return s
	}

	v, _, _ := b.group.Do("schema", func() (any, error) {
		b.mu.RLock()
		s, gen := b.cached, b.generation
		b.mu.RUnlock()
		if s != nil {
			return s, nil
		}

		s = b.child.Schema().Clone()
		if r, ok := b.self.(SchemaRefiner); ok {
			s = r.RefineSchema(s)
		}

		b.mu.Lock()
		if b.generation == gen {
			b.cached = s
		}
		b.mu.Unlock()
		return s, nil
	})
	return v.(*schema.CollectionSchema)
}

// MarkSchemaAsDirty drops the cached schema and notifies subscribers.
func (b *Base) MarkSchemaAsDirty() {
	b.mu.Lock()
	b.cached = nil
	b.generation++
	b.mu.Unlock()

	b.observersMu.Lock()
	observers := append([]func(){}, b.observers...)
	b.observersMu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// Subscribe registers fn to be called on every MarkSchemaAsDirty.
func (b *Base) Subscribe(fn func()) {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	b.observers = append(b.observers, fn)
}

// RefinePaginated applies the decorator's FilterRefiner, if any.
func (b *Base) RefinePaginated(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	if r, ok := b.self.(FilterRefiner); ok {
		return r.RefineFilter(ctx, caller, filter)
	}
	return filter, nil
}

// Refine is RefinePaginated for verbs without sort or page.
func (b *Base) Refine(ctx context.Context, caller *collection.Caller, filter query.Filter) (query.Filter, error) {
	refined, err := b.RefinePaginated(ctx, caller, query.PaginatedFilter{Filter: filter})
	if err != nil {
		return query.Filter{}, err
	}
	return refined.Filter, nil
}

func (b *Base) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	refined, err := b.RefinePaginated(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return b.child.List(ctx, caller, refined, projection)
}

func (b *Base) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	return b.child.Create(ctx, caller, records)
}

func (b *Base) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	refined, err := b.Refine(ctx, caller, filter)
	if err != nil {
		return err
	}
	return b.child.Update(ctx, caller, refined, patch)
}

func (b *Base) Delete(ctx context.Context, caller *collection.Caller, filter query.Filter) error {
	refined, err := b.Refine(ctx, caller, filter)
	if err != nil {
		return err
	}
	return b.child.Delete(ctx, caller, refined)
}

func (b *Base) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	refined, err := b.Refine(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return b.child.Aggregate(ctx, caller, refined, aggregation, limit)
}

func (b *Base) Execute(ctx context.Context, caller *collection.Caller, action string, form ir.Record, filter query.Filter) (collection.ActionResult, error) {
	refined, err := b.Refine(ctx, caller, filter)
	if err != nil {
		return collection.ActionResult{}, err
	}
	return b.child.Execute(ctx, caller, action, form, refined)
}

func (b *Base) RenderChart(ctx context.Context, caller *collection.Caller, chart string, id []ir.Value) (collection.Chart, error) {
	return b.child.RenderChart(ctx, caller, chart, id)
}
