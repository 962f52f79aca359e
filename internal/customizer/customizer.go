package customizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/iancoleman/strcase"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/decorator"
)

// DatasourceFactory builds a leaf datasource. It runs again on every
// reload.
type DatasourceFactory func(ctx context.Context) (collection.Datasource, error)

// DatasourceCustomizer assembles leaf datasources, queues customizations,
// and serves the decorated result.
//
// Customization methods only enqueue; nothing touches the stack until
// Apply, Datasource or Reload drains the queue. Readers always see a
// complete stack: Reload builds the replacement on the side and swaps it
// in one atomic store.
type DatasourceCustomizer struct {
	*state

	// batch is set on the view a running customization gets from Scope.
	batch *children
}

type state struct {
	logger   *slog.Logger
	clock    clockwork.Clock
	defaults []collection.CompositeOption

	queue taskQueue

	// mu serializes Apply and Reload. applied holds the root
	// customizations in the order they ran.
	mu      sync.Mutex
	applied []task

	stack atomic.Pointer[Stack]
}

// Option configures a DatasourceCustomizer.
type Option func(*DatasourceCustomizer)

// WithLogger sets the logger used by the customizer and the decorators.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DatasourceCustomizer) { d.logger = logger }
}

// WithClock sets the clock used to resolve relative date operators.
func WithClock(clock clockwork.Clock) Option {
	return func(d *DatasourceCustomizer) { d.clock = clock }
}

// WithDatasourceOptions sets options applied to every added datasource,
// before the options given to AddDatasource.
func WithDatasourceOptions(opts ...collection.CompositeOption) Option {
	return func(d *DatasourceCustomizer) { d.defaults = append(d.defaults, opts...) }
}

// New creates a customizer with an empty stack.
func New(opts ...Option) *DatasourceCustomizer {
	d := &DatasourceCustomizer{state: &state{
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}}
	for _, opt := range opts {
		opt(d)
	}
	d.stack.Store(NewStack(d.clock, d.logger))
	return d
}

// Enqueue adds a raw customization. label names it in errors and logs.
func (d *DatasourceCustomizer) Enqueue(label string, fn Customization) *DatasourceCustomizer {
	if d.batch != nil {
		d.batch.add(label, fn)
		return d
	}
	d.queue.Enqueue(label, fn)
	return d
}

// Scope returns the customizer a running customization enqueues its
// children through. Children run right after their parent and are
// replayed with it on reload. Outside a customization Scope returns d.
// The returned customizer is only valid while the customization runs.
func (d *DatasourceCustomizer) Scope(ctx context.Context) *DatasourceCustomizer {
	batch, ok := childrenFrom(ctx)
	if !ok {
		return d
	}
	return &DatasourceCustomizer{state: d.state, batch: batch}
}

// AddDatasource adds the datasource built by factory to the composite
// under the stack.
func (d *DatasourceCustomizer) AddDatasource(factory DatasourceFactory, opts ...collection.CompositeOption) *DatasourceCustomizer {
	all := append(append([]collection.CompositeOption{}, d.defaults...), opts...)
	return d.Enqueue("add datasource", func(ctx context.Context, s *Stack) error {
		ds, err := factory(ctx)
		if err != nil {
			return fmt.Errorf("build datasource: %w", err)
		}
		if err := s.Leaves.Add(ds, all...); err != nil {
			closeLeaf(d.logger, ds)
			return err
		}
		d.logger.Debug("datasource added", "collections", len(ds.Collections()))
		return nil
	})
}

// Customize queues customizations of the collection called name. The
// collection is looked up when the queue drains, so it may come from a
// datasource added later in the same batch.
func (d *DatasourceCustomizer) Customize(name string, fn func(c *CollectionCustomizer)) *DatasourceCustomizer {
	return d.Enqueue(name+": customize", func(ctx context.Context, _ *Stack) error {
		fn(&CollectionCustomizer{parent: d.Scope(ctx), name: name})
		return nil
	})
}

// Use installs a plugin on the whole datasource.
func (d *DatasourceCustomizer) Use(p Plugin) *DatasourceCustomizer {
	return d.Enqueue("use plugin", func(ctx context.Context, _ *Stack) error {
		return p.Install(ctx, d.Scope(ctx), nil)
	})
}

// AddChart declares a datasource-level chart.
func (d *DatasourceCustomizer) AddChart(name string, renderer decorator.ChartRenderer) *DatasourceCustomizer {
	return d.Enqueue("add chart "+name, func(_ context.Context, s *Stack) error {
		return s.Chart.AddChart(name, renderer)
	})
}

// RenameCollection exposes the collection current as name.
func (d *DatasourceCustomizer) RenameCollection(current, name string) *DatasourceCustomizer {
	return d.Enqueue("rename collection "+current, func(_ context.Context, s *Stack) error {
		return s.RenameCollection.RenameCollection(current, name)
	})
}

// RemoveCollection hides collections from the result.
func (d *DatasourceCustomizer) RemoveCollection(names ...string) *DatasourceCustomizer {
	return d.Enqueue("remove collections", func(_ context.Context, s *Stack) error {
		return s.Publication.RemoveCollection(lo.Map(names, func(n string, _ int) string { return s.childName(n) })...)
	})
}

// RenameFieldsWith renames every field of every collection present when
// the queue drains. Fields that fn leaves unchanged are skipped.
func (d *DatasourceCustomizer) RenameFieldsWith(fn func(string) string) *DatasourceCustomizer {
	return d.Enqueue("rename fields", func(_ context.Context, s *Stack) error {
		for _, c := range s.RenameField.All() {
			for _, field := range c.Schema().FieldNames() {
				if renamed := fn(field); renamed != field {
					if err := c.RenameField(field, renamed); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

// CamelCaseFields renames snake_case fields to lowerCamelCase.
func (d *DatasourceCustomizer) CamelCaseFields() *DatasourceCustomizer {
	return d.RenameFieldsWith(strcase.ToLowerCamel)
}

// Apply drains the queue onto the current stack. Customizations that ran
// before a failure stay applied; the failing one and everything queued
// after it are dropped. A root customization whose children failed is
// not replayed by Reload.
func (d *DatasourceCustomizer) Apply(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	work := d.queue.Take()
	if len(work) == 0 {
		return nil
	}
	roots, err := drain(ctx, d.stack.Load(), work)
	d.applied = append(d.applied, roots...)
	if err != nil {
		d.logger.Error("customization failed", "error", err)
		return err
	}
	d.logger.Info("customizations applied", "count", len(roots))
	return nil
}

// Datasource applies pending customizations and returns the top of the
// stack.
func (d *DatasourceCustomizer) Datasource(ctx context.Context) (collection.Datasource, error) {
	if err := d.Apply(ctx); err != nil {
		return nil, err
	}
	return d.stack.Load().Datasource, nil
}

// Stack returns the stack readers currently see.
func (d *DatasourceCustomizer) Stack() *Stack {
	return d.stack.Load()
}

// Reload rebuilds every leaf datasource from its factory, replays every
// applied customization plus the pending ones on a fresh stack, and swaps
// it in. On error the previous stack stays visible, pending
// customizations stay queued, and the error is returned.
func (d *DatasourceCustomizer) Reload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.queue.Take()
	work := append(append([]task{}, d.applied...), pending...)

	next := NewStack(d.clock, d.logger)
	roots, err := drain(ctx, next, work)
	if err != nil {
		for _, leaf := range next.Leaves.Leaves() {
			closeLeaf(d.logger, leaf)
		}
		d.queue.Restore(pending)
		d.logger.Error("reload failed, keeping previous stack", "error", err)
		return err
	}

	previous := d.stack.Swap(next)
	d.applied = roots
	for _, leaf := range previous.Leaves.Leaves() {
		closeLeaf(d.logger, leaf)
	}
	d.logger.Info("stack reloaded", "customizations", len(roots))
	return nil
}

// closeLeaf releases leaves that hold resources, such as SQL handles.
func closeLeaf(logger *slog.Logger, ds collection.Datasource) {
	closer, ok := ds.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("closing datasource", "error", err)
	}
}

// resolve finds the decorator of one layer for the collection exposed as
// name.
func resolve[T collection.Collection](s *Stack, layer *decorator.Datasource[T], name string) (T, error) {
	return layer.Get(s.childName(name))
}

// hasColumn reports whether path resolves to a column in c.
func hasColumn(c collection.Collection, path string) bool {
	_, _, err := collection.ResolveColumn(c, path)
	return err == nil
}
