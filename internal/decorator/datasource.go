package decorator

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
)

// Factory wraps one child collection. ds is the datasource the decorator
// must report as its own.
type Factory[T collection.Collection] func(child collection.Collection, ds collection.Datasource) T

// Datasource applies one decorator type to every collection of a child
// datasource. Decorators are built on first access and reused.
//
// Datasource decorators that add behavior embed *Datasource[T] and call
// Bind so that collections report the embedding type as their datasource.
type Datasource[T collection.Collection] struct {
	child   collection.Datasource
	factory Factory[T]
	outer   collection.Datasource

	mu      sync.Mutex
	wrapped map[string]T
	order   []string
}

// NewDatasource creates a datasource decorator.
func NewDatasource[T collection.Collection](child collection.Datasource, factory Factory[T]) *Datasource[T] {
	d := &Datasource[T]{child: child, factory: factory, wrapped: map[string]T{}}
	d.outer = d
	return d
}

// Bind sets the datasource handed to decorators. It must be called before
// the first collection is accessed.
func (d *Datasource[T]) Bind(outer collection.Datasource) { d.outer = outer }

// Child returns the decorated datasource.
func (d *Datasource[T]) Child() collection.Datasource { return d.child }

func (d *Datasource[T]) wrap(child collection.Collection) T {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.wrapped[child.Name()]; ok {
		return c
	}
	c := d.factory(child, d.outer)
	d.wrapped[child.Name()] = c
	d.order = append(d.order, child.Name())
	return c
}

// Get returns the decorator wrapping the child collection named name.
func (d *Datasource[T]) Get(name string) (T, error) {
	child, err := d.child.Collection(name)
	if err != nil {
		var zero T
		return zero, err
	}
	return d.wrap(child), nil
}

// All returns the decorators of every child collection.
func (d *Datasource[T]) All() []T {
	children := d.child.Collections()
	out := make([]T, len(children))
	for i, c := range children {
		out[i] = d.wrap(c)
	}
	return out
}

// MarkAllSchemaAsDirty invalidates every decorator built so far.
func (d *Datasource[T]) MarkAllSchemaAsDirty() {
	d.mu.Lock()
	built := make([]T, 0, len(d.order))
	for _, name := range d.order {
		built = append(built, d.wrapped[name])
	}
	d.mu.Unlock()
	for _, c := range built {
		if o, ok := any(c).(Observable); ok {
			o.MarkSchemaAsDirty()
		}
	}
}

func (d *Datasource[T]) Collections() []collection.Collection {
	all := d.All()
	out := make([]collection.Collection, len(all))
	for i, c := range all {
		out[i] = c
	}
	return out
}

func (d *Datasource[T]) Collection(name string) (collection.Collection, error) {
	c, err := d.Get(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Datasource[T]) Schema() collection.DatasourceSchema { return d.child.Schema() }

func (d *Datasource[T]) RenderChart(ctx context.Context, caller *collection.Caller, chart string) (collection.Chart, error) {
	return d.child.RenderChart(ctx, caller, chart)
}

func (d *Datasource[T]) NativeQuery(ctx context.Context, connection, q string, params ir.Record) ([]ir.Record, error) {
	return d.child.NativeQuery(ctx, connection, q, params)
}
