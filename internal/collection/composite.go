package collection

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
)

// CompositeOption configures a datasource added to a Composite.
type CompositeOption func(*compositeEntry)

// Include keeps only the named collections.
func Include(names ...string) CompositeOption {
	return func(e *compositeEntry) { e.include = names }
}

// Exclude hides the named collections.
func Exclude(names ...string) CompositeOption {
	return func(e *compositeEntry) { e.exclude = names }
}

// WithConnections routes native queries on these connection names to the
// datasource.
func WithConnections(names ...string) CompositeOption {
	return func(e *compositeEntry) { e.connections = names }
}

type compositeEntry struct {
	ds          Datasource
	include     []string
	exclude     []string
	connections []string
}

func (e *compositeEntry) visible(name string) bool {
	if len(e.include) > 0 && !slices.Contains(e.include, name) {
		return false
	}
	return !slices.Contains(e.exclude, name)
}

// Composite merges several datasources into one. Collection names must be
// unique across all of them.
type Composite struct {
	mu      sync.RWMutex
	entries []*compositeEntry
}

// NewComposite creates an empty composite datasource.
func NewComposite() *Composite {
	return &Composite{}
}

// Add merges ds into the composite.
func (c *Composite) Add(ds Datasource, opts ...CompositeOption) error {
	entry := &compositeEntry{ds: ds}
	for _, opt := range opts {
		opt(entry)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range append(slices.Clone(entry.include), entry.exclude...) {
		if _, err := ds.Collection(name); err != nil {
			return errs.NotFound("collection %q not found in added datasource", name)
		}
	}
	for _, col := range ds.Collections() {
		if !entry.visible(col.Name()) {
			continue
		}
		if _, err := c.collection(col.Name()); err == nil {
			return errs.Conflict("collection %q already exists", col.Name())
		}
	}
	for _, chart := range ds.Schema().Charts {
		if slices.Contains(c.charts(), chart) {
			return errs.Conflict("chart %q is defined twice", chart)
		}
	}
	for _, conn := range entry.connections {
		for _, other := range c.entries {
			if slices.Contains(other.connections, conn) {
				return errs.Conflict("native query connection %q is already bound", conn)
			}
		}
	}
	c.entries = append(c.entries, entry)
	return nil
}

func (c *Composite) Collections() []Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Collection
	for _, e := range c.entries {
		out = append(out, lo.Filter(e.ds.Collections(), func(col Collection, _ int) bool {
			return e.visible(col.Name())
		})...)
	}
	return out
}

func (c *Composite) Collection(name string) (Collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection(name)
}

func (c *Composite) collection(name string) (Collection, error) {
	for _, e := range c.entries {
		if !e.visible(name) {
			continue
		}
		if col, err := e.ds.Collection(name); err == nil {
			return col, nil
		}
	}
	return nil, errs.NotFound("collection %q not found", name)
}

func (c *Composite) Schema() DatasourceSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return DatasourceSchema{Charts: c.charts()}
}

func (c *Composite) charts() []string {
	charts := []string{}
	for _, e := range c.entries {
		charts = append(charts, e.ds.Schema().Charts...)
	}
	return charts
}

// Leaves returns the datasources added so far, in order.
func (c *Composite) Leaves() []Datasource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Map(c.entries, func(e *compositeEntry, _ int) Datasource { return e.ds })
}

func (c *Composite) RenderChart(ctx context.Context, caller *Caller, chart string) (Chart, error) {
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()
	for _, e := range entries {
		if slices.Contains(e.ds.Schema().Charts, chart) {
			return e.ds.RenderChart(ctx, caller, chart)
		}
	}
	return Chart{}, errs.NotFound("chart %q not found", chart)
}

func (c *Composite) NativeQuery(ctx context.Context, connection, q string, params ir.Record) ([]ir.Record, error) {
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()
	for _, e := range entries {
		if slices.Contains(e.connections, connection) {
			return e.ds.NativeQuery(ctx, connection, q, params)
		}
	}
	return nil, errs.NotFound("native query connection %q not found", connection)
}
