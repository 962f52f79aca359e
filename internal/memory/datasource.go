package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// Datasource is an in-memory datasource.
type Datasource struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	order       []string

	clock  clockwork.Clock
	keys   collection.KeyGenerator
	logger *slog.Logger
}

// Option configures a Datasource.
type Option func(*Datasource)

// WithClock sets the clock used for date operators.
func WithClock(c clockwork.Clock) Option {
	return func(d *Datasource) { d.clock = c }
}

// WithKeyGenerator sets the generator for Uuid primary keys.
func WithKeyGenerator(g collection.KeyGenerator) Option {
	return func(d *Datasource) { d.keys = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Datasource) { d.logger = l }
}

// New creates an empty datasource.
func New(opts ...Option) *Datasource {
	d := &Datasource{
		collections: map[string]*Collection{},
		clock:       clockwork.NewRealClock(),
		keys:        collection.UUIDv7Generator{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddCollection registers a collection. Filter operators left empty on
// columns default to every operator allowed for the column type.
func (d *Datasource) AddCollection(name string, s *schema.CollectionSchema) (*Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.collections[name]; exists {
		return nil, errs.Conflict("collection %q already exists", name)
	}
	s = s.Clone()
	for _, f := range s.Fields {
		if col, ok := f.(*schema.ColumnSchema); ok && len(col.FilterOperators) == 0 {
			col.FilterOperators = schema.AllowedOperators(col.ColumnType)
		}
	}
	s.AggregationCapabilities = schema.AggregationCapabilities{
		SupportGroups:           true,
		SupportedDateOperations: []schema.DateOperation{schema.Year, schema.Quarter, schema.Month, schema.Week, schema.Day},
	}
	s.Countable = true

	c := &Collection{ds: d, name: name, schema: s}
	d.collections[name] = c
	d.order = append(d.order, name)
	return c, nil
}

// Seed inserts records as-is, without generating keys.
func (d *Datasource) Seed(name string, records ...ir.Record) error {
	c, err := d.collection(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.records = append(c.records, r.Clone())
		c.bumpSequence(r)
	}
	return nil
}

func (d *Datasource) collection(name string) (*Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collections[name]
	if !ok {
		return nil, errs.NotFound("collection %q not found", name)
	}
	return c, nil
}

func (d *Datasource) Collections() []collection.Collection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]collection.Collection, len(d.order))
	for i, name := range d.order {
		out[i] = d.collections[name]
	}
	return out
}

func (d *Datasource) Collection(name string) (collection.Collection, error) {
	c, err := d.collection(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Datasource) Schema() collection.DatasourceSchema {
	return collection.DatasourceSchema{Charts: []string{}}
}

func (d *Datasource) RenderChart(_ context.Context, _ *collection.Caller, chart string) (collection.Chart, error) {
	return collection.Chart{}, errs.NotFound("chart %q not found", chart)
}

// NativeQuery treats the query as a collection name and params as equality
// conditions. The connection name is ignored: the store has only one.
func (d *Datasource) NativeQuery(ctx context.Context, _ string, q string, params ir.Record) ([]ir.Record, error) {
	c, err := d.collection(q)
	if err != nil {
		return nil, err
	}
	conds := make([]query.ConditionTree, 0, len(params))
	for _, k := range params.SortedKeys() {
		conds = append(conds, query.NewLeaf(k, schema.Equal, params[k]))
	}
	return c.List(ctx, nil, query.NewPaginatedFilter(query.And(conds...)), query.NewProjection(c.schema.ColumnNames()...))
}
