package decorator

import (
	"context"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
)

// EmptyCollection answers requests whose condition tree provably matches
// nothing without calling the child.
type EmptyCollection struct {
	*Base
}

// NewEmptyDatasource applies EmptyCollection to every collection.
func NewEmptyDatasource(child collection.Datasource) *Datasource[*EmptyCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *EmptyCollection {
		e := &EmptyCollection{}
		e.Base = NewBase(c, ds, e)
		return e
	})
}

func (c *EmptyCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	if query.IsEmpty(filter.ConditionTree) {
		return []ir.Record{}, nil
	}
	return c.Base.List(ctx, caller, filter, projection)
}

func (c *EmptyCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	if query.IsEmpty(filter.ConditionTree) {
		return nil
	}
	return c.Base.Update(ctx, caller, filter, patch)
}

func (c *EmptyCollection) Delete(ctx context.Context, caller *collection.Caller, filter query.Filter) error {
	if query.IsEmpty(filter.ConditionTree) {
		return nil
	}
	return c.Base.Delete(ctx, caller, filter)
}

func (c *EmptyCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	if query.IsEmpty(filter.ConditionTree) {
		return []query.AggregateResult{}, nil
	}
	return c.Base.Aggregate(ctx, caller, filter, aggregation, limit)
}
