package decorator

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// ChartContext is handed to chart renderers. Collection and RecordID are
// only set for collection charts.
type ChartContext struct {
	Caller     *collection.Caller
	Datasource collection.Datasource
	Collection collection.Collection
	RecordID   []ir.Value
}

// ChartRenderer computes a chart.
type ChartRenderer interface {
	Render(ctx context.Context, cc ChartContext) (collection.Chart, error)
}

// ChartRendererFunc adapts a function to ChartRenderer.
type ChartRendererFunc func(ctx context.Context, cc ChartContext) (collection.Chart, error)

func (f ChartRendererFunc) Render(ctx context.Context, cc ChartContext) (collection.Chart, error) {
	return f(ctx, cc)
}

// ChartCollection adds charts bound to one record of a collection.
type ChartCollection struct {
	*Base

	mu     sync.RWMutex
	charts map[string]ChartRenderer
	order  []string
}

// AddChart declares a chart. Names must be unique within the collection.
func (c *ChartCollection) AddChart(name string, renderer ChartRenderer) error {
	if slices.Contains(c.Schema().Charts, name) {
		return errs.Conflict("chart %q already exists in collection %q", name, c.Name())
	}
	c.mu.Lock()
	c.charts[name] = renderer
	c.order = append(c.order, name)
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *ChartCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s.Charts = append(s.Charts, c.order...)
	return s
}

func (c *ChartCollection) RenderChart(ctx context.Context, caller *collection.Caller, chart string, id []ir.Value) (collection.Chart, error) {
	c.mu.RLock()
	renderer, ok := c.charts[chart]
	c.mu.RUnlock()
	if !ok {
		return c.Child().RenderChart(ctx, caller, chart, id)
	}
	return renderer.Render(ctx, ChartContext{Caller: caller, Datasource: c.Datasource(), Collection: c, RecordID: id})
}

// ChartDatasource adds datasource level charts and applies ChartCollection
// to every collection.
type ChartDatasource struct {
	*Datasource[*ChartCollection]

	mu     sync.RWMutex
	charts map[string]ChartRenderer
	order  []string
}

// NewChartDatasource wraps child.
func NewChartDatasource(child collection.Datasource) *ChartDatasource {
	d := &ChartDatasource{charts: map[string]ChartRenderer{}}
	d.Datasource = NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *ChartCollection {
		cc := &ChartCollection{charts: map[string]ChartRenderer{}}
		cc.Base = NewBase(c, ds, cc)
		return cc
	})
	d.Bind(d)
	return d
}

// AddChart declares a datasource chart.
func (d *ChartDatasource) AddChart(name string, renderer ChartRenderer) error {
	if slices.Contains(d.Schema().Charts, name) {
		return errs.Conflict("chart %q already exists", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.charts[name] = renderer
	d.order = append(d.order, name)
	return nil
}

func (d *ChartDatasource) Schema() collection.DatasourceSchema {
	s := d.Datasource.Schema()
	d.mu.RLock()
	defer d.mu.RUnlock()
	s.Charts = append(append([]string{}, s.Charts...), d.order...)
	return s
}

func (d *ChartDatasource) RenderChart(ctx context.Context, caller *collection.Caller, chart string) (collection.Chart, error) {
	d.mu.RLock()
	renderer, ok := d.charts[chart]
	d.mu.RUnlock()
	if !ok {
		return d.Datasource.RenderChart(ctx, caller, chart)
	}
	return renderer.Render(ctx, ChartContext{Caller: caller, Datasource: d})
}
