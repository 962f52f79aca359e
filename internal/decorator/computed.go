package decorator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// ComputeContext is handed to computers.
type ComputeContext struct {
	Caller     *collection.Caller
	Collection collection.Collection
}

// Computer derives one value per record. Records hold the dependencies
// of the field, shaped as nested records. The result must have the same
// length as records.
type Computer interface {
	Compute(ctx context.Context, cc ComputeContext, records []ir.Record) ([]ir.Value, error)
}

// ComputerFunc adapts a function to Computer.
type ComputerFunc func(ctx context.Context, cc ComputeContext, records []ir.Record) ([]ir.Value, error)

func (f ComputerFunc) Compute(ctx context.Context, cc ComputeContext, records []ir.Record) ([]ir.Value, error) {
	return f(ctx, cc, records)
}

// ComputedDefinition describes a field computed from other fields.
type ComputedDefinition struct {
	ColumnType   schema.ColumnType
	Dependencies []string
	Computer     Computer
	DefaultValue ir.Value
	EnumValues   []string
}

// ComputedCollection materializes computed fields on List, rewriting
// them into their dependencies before calling the child.
type ComputedCollection struct {
	*Base
	clock  clockwork.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	computeds map[string]ComputedDefinition
}

// NewComputedDatasource applies ComputedCollection to every collection.
func NewComputedDatasource(child collection.Datasource, clock clockwork.Clock, logger *slog.Logger) *Datasource[*ComputedCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *ComputedCollection {
		cc := &ComputedCollection{clock: clock, logger: logger, computeds: map[string]ComputedDefinition{}}
		cc.Base = NewBase(c, ds, cc)
		return cc
	})
}

// RegisterComputed adds a computed field.
//
// Every dependency must resolve to a column, possibly across relations and
// possibly computed itself. Polymorphic relations cannot be crossed.
func (c *ComputedCollection) RegisterComputed(name string, def ComputedDefinition) error {
	if len(def.Dependencies) == 0 {
		return errs.Validation("computed field %q in collection %q must have at least one dependency", name, c.Name())
	}
	if def.Computer == nil {
		return errs.Validation("computed field %q in collection %q has no computer", name, c.Name())
	}
	if _, exists := c.Schema().Fields[name]; exists {
		return errs.Conflict("field %q already exists in collection %q", name, c.Name())
	}
	for _, dep := range def.Dependencies {
		if _, _, err := collection.ResolveColumn(c, dep); err != nil {
			return errs.ValidationWith(
				map[string]any{"collection": c.Name(), "field": name, "dependency": dep},
				"invalid dependency %q of computed field %q: %v", dep, name, err,
			)
		}
	}

	c.mu.Lock()
	c.computeds[name] = def
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *ComputedCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, def := range c.computeds {
		s.Fields[name] = &schema.ColumnSchema{
			ColumnType:      def.ColumnType,
			FilterOperators: schema.NewOperatorSet(),
			IsReadOnly:      true,
			DefaultValue:    def.DefaultValue,
			EnumValues:      def.EnumValues,
		}
	}
	return s
}

func (c *ComputedCollection) computed(name string) (ComputedDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.computeds[name]
	return def, ok
}

// at returns the collection reached by following the relations in prefix.
func (c *ComputedCollection) at(prefix string) (*ComputedCollection, bool) {
	if prefix == "" {
		return c, true
	}
	head, rest, _ := query.SplitPath(prefix)
	field, ok := c.Schema().Fields[head]
	if !ok || !schema.IsRelation(field) {
		return nil, false
	}
	next, err := foreign(c, field)
	if err != nil {
		return nil, false
	}
	cc, ok := next.(*ComputedCollection)
	if !ok {
		return nil, false
	}
	return cc.at(rest)
}

// lookup finds the computed field at path.
func (c *ComputedCollection) lookup(path string) (*ComputedCollection, ComputedDefinition, bool) {
	prefix, name := splitLast(path)
	owner, ok := c.at(prefix)
	if !ok {
		return nil, ComputedDefinition{}, false
	}
	def, ok := owner.computed(name)
	return owner, def, ok
}

func splitLast(path string) (prefix, last string) {
	i := strings.LastIndex(path, query.Separator)
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+len(query.Separator):]
}

// rewriteField replaces a computed path with the paths it depends on,
// transitively.
func (c *ComputedCollection) rewriteField(path string) query.Projection {
	prefix, _ := splitLast(path)
	if _, def, ok := c.lookup(path); ok {
		deps := query.NewProjection(def.Dependencies...)
		if prefix != "" {
			deps = deps.Nest(prefix)
		}
		return deps.Replace(c.rewriteField)
	}
	return query.Projection{path}
}

func (c *ComputedCollection) isComputed(path string) bool {
	_, _, ok := c.lookup(path)
	return ok
}

func (c *ComputedCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	childProjection := projection.Replace(c.rewriteField)
	records, err := c.Child().List(ctx, caller, filter, childProjection)
	if err != nil {
		return nil, err
	}
	if childProjection.Equals(projection) {
		return records, nil
	}
	return c.computeFromRecords(ctx, caller, childProjection, projection, records)
}

// computeFromRecords fills the computed paths of desired from records
// fetched with the recordsProjection.
func (c *ComputedCollection) computeFromRecords(ctx context.Context, caller *collection.Caller, recordsProjection, desired query.Projection, records []ir.Record) ([]ir.Record, error) {
	paths := query.WithNullMarkers(recordsProjection)
	flat := query.Flatten(records, paths)
	columns := make(map[string][]ir.Value, len(paths))
	for i, p := range paths {
		columns[p] = flat[i]
	}

	final := query.WithNullMarkers(desired)
	for _, p := range final {
		if err := c.ensureColumn(ctx, caller, columns, p, len(records)); err != nil {
			return nil, err
		}
	}
	out := make([][]ir.Value, len(final))
	for i, p := range final {
		out[i] = columns[p]
	}
	return query.Unflatten(out, final), nil
}

func undefinedColumn(n int) []ir.Value {
	col := make([]ir.Value, n)
	for i := range col {
		col[i] = ir.Undefined
	}
	return col
}

func (c *ComputedCollection) ensureColumn(ctx context.Context, caller *collection.Caller, columns map[string][]ir.Value, path string, n int) error {
	if _, ok := columns[path]; ok {
		return nil
	}
	owner, def, ok := c.lookup(path)
	if !ok {
		columns[path] = undefinedColumn(n)
		return nil
	}
	prefix, name := splitLast(path)

	deps := query.NewProjection(def.Dependencies...)
	depColumns := make([][]ir.Value, len(deps))
	for i, dep := range deps {
		full := query.JoinPath(prefix, dep)
		if err := c.ensureColumn(ctx, caller, columns, full, n); err != nil {
			return err
		}
		depColumns[i] = columns[full]
	}

	// Rows with identical dependency tuples are computed once.
	rowOf := make([]int, n)
	seen := map[string]int{}
	var unique [][]ir.Value
	for j := 0; j < n; j++ {
		tuple := make([]ir.Value, len(deps))
		defined := false
		for i := range deps {
			tuple[i] = depColumns[i][j]
			if !ir.IsUndefined(tuple[i]) {
				defined = true
			}
		}
		if !defined {
			rowOf[j] = -1
			continue
		}
		h := ir.TupleHash(tuple...)
		idx, ok := seen[h]
		if !ok {
			idx = len(unique)
			seen[h] = idx
			unique = append(unique, tuple)
		}
		rowOf[j] = idx
	}

	values := []ir.Value{}
	if len(unique) > 0 {
		uniqueColumns := make([][]ir.Value, len(deps))
		for i := range deps {
			uniqueColumns[i] = lo.Map(unique, func(row []ir.Value, _ int) ir.Value { return row[i] })
		}
		input := query.Unflatten(uniqueColumns, deps)
		var err error
		values, err = def.Computer.Compute(ctx, ComputeContext{Caller: caller, Collection: owner}, input)
		if err != nil {
			return fmt.Errorf("compute %s.%s: %w", owner.Name(), name, err)
		}
		if len(values) != len(input) {
			return fmt.Errorf("compute %s.%s: got %d values for %d records", owner.Name(), name, len(values), len(input))
		}
	}

	result := make([]ir.Value, n)
	for j, idx := range rowOf {
		switch {
		case idx < 0:
			result[j] = ir.Undefined
		case values[idx] == nil:
			result[j] = ir.Null{}
		default:
			result[j] = values[idx]
		}
	}
	columns[path] = result
	return nil
}

func (c *ComputedCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	if !lo.SomeBy(aggregation.Projection(), c.isComputed) {
		return c.Child().Aggregate(ctx, caller, filter, aggregation, limit)
	}
	c.logger.Debug("aggregating computed fields in memory",
		slog.String("collection", c.Name()),
		slog.String("operation", string(aggregation.Operation)))

	env, err := callerEnv(caller, c.clock)
	if err != nil {
		return nil, err
	}
	records, err := c.List(ctx, caller, query.PaginatedFilter{Filter: filter}, aggregation.Projection())
	if err != nil {
		return nil, err
	}
	return aggregation.Apply(records, env, limit), nil
}
