package decorator

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// EquivalenceCollection advertises every operator that can be rewritten
// into the operators its child supports, and rewrites leaves accordingly.
type EquivalenceCollection struct {
	*Base
	clock clockwork.Clock
}

// NewEquivalenceDatasource applies EquivalenceCollection to every collection.
func NewEquivalenceDatasource(child collection.Datasource, clock clockwork.Clock) *Datasource[*EquivalenceCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *EquivalenceCollection {
		e := &EquivalenceCollection{clock: clock}
		e.Base = NewBase(c, ds, e)
		return e
	})
}

func (c *EquivalenceCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	for _, f := range s.Fields {
		col, ok := f.(*schema.ColumnSchema)
		if !ok || len(col.FilterOperators) == 0 {
			continue
		}
		col.FilterOperators = query.EquivalentOperators(col.FilterOperators, col.ColumnType)
	}
	return s
}

func (c *EquivalenceCollection) RefineFilter(_ context.Context, caller *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	if filter.ConditionTree == nil {
		return filter, nil
	}
	env, err := callerEnv(caller, c.clock)
	if err != nil {
		return filter, err
	}
	tree, err := query.ReplaceLeafs(filter.ConditionTree, func(l query.Leaf) (query.ConditionTree, error) {
		field, _, err := collection.ResolveField(c.Child(), l.Field)
		if err != nil {
			return nil, err
		}
		col, ok := field.(*schema.ColumnSchema)
		if !ok || col.FilterOperators.Has(l.Operator) {
			return l, nil
		}
		return query.Equivalent(l, col.FilterOperators, col.ColumnType, env)
	})
	if err != nil {
		return filter, err
	}
	return filter.WithConditionTree(tree), nil
}
