package decorator

import (
	"context"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// LazyJoinCollection avoids many-to-one joins when the only field read
// through the relation is the key the local foreign key already holds.
type LazyJoinCollection struct {
	*Base
}

// NewLazyJoinDatasource applies LazyJoinCollection to every collection.
func NewLazyJoinDatasource(child collection.Datasource) *Datasource[*LazyJoinCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *LazyJoinCollection {
		l := &LazyJoinCollection{}
		l.Base = NewBase(c, ds, l)
		return l
	})
}

// avoidable returns the many-to-one relation behind path when path reads
// its foreign key target.
func (c *LazyJoinCollection) avoidable(path string) (*schema.ManyToOneSchema, bool) {
	head, rest, nested := query.SplitPath(path)
	if !nested {
		return nil, false
	}
	rel, ok := c.Schema().Fields[head].(*schema.ManyToOneSchema)
	if !ok || rel.ForeignKeyTarget != rest {
		return nil, false
	}
	return rel, true
}

func (c *LazyJoinCollection) replacePath(path string) string {
	if rel, ok := c.avoidable(path); ok {
		return rel.ForeignKey
	}
	return path
}

func (c *LazyJoinCollection) RefineFilter(_ context.Context, _ *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	filter = filter.WithConditionTree(query.MapLeafs(filter.ConditionTree, func(l query.Leaf) query.ConditionTree {
		l.Field = c.replacePath(l.Field)
		return l
	}))
	if len(filter.Sort) > 0 {
		filter.Sort = filter.Sort.Replace(func(clause query.SortClause) query.Sort {
			clause.Field = c.replacePath(clause.Field)
			return query.Sort{clause}
		})
	}
	return filter, nil
}

func (c *LazyJoinCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	refined, err := c.RefineFilter(ctx, caller, filter)
	if err != nil {
		return nil, err
	}

	relations := projection.Relations()
	lazy := map[string]*schema.ManyToOneSchema{}
	for _, name := range projection.RelationNames() {
		rel, ok := c.Schema().Fields[name].(*schema.ManyToOneSchema)
		if ok && len(relations[name]) == 1 && relations[name][0] == rel.ForeignKeyTarget {
			lazy[name] = rel
		}
	}
	if len(lazy) == 0 {
		return c.Child().List(ctx, caller, refined, projection)
	}

	childProjection := projection.Replace(func(path string) query.Projection {
		head, _, nested := query.SplitPath(path)
		if rel, ok := lazy[head]; ok && nested {
			return query.Projection{rel.ForeignKey}
		}
		return query.Projection{path}
	})
	records, err := c.Child().List(ctx, caller, refined, childProjection)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		for name, rel := range lazy {
			if fk := r[rel.ForeignKey]; ir.IsNull(fk) {
				r[name] = ir.Null{}
			} else {
				r[name] = ir.Record{rel.ForeignKeyTarget: fk}
			}
		}
	}
	return projection.Apply(records), nil
}

func (c *LazyJoinCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	refined, err := c.Refine(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	renamed := map[string]string{}
	childAggregation := aggregation.Replace(func(field string) string {
		replaced := c.replacePath(field)
		if replaced != field {
			renamed[replaced] = field
		}
		return replaced
	})
	results, err := c.Child().Aggregate(ctx, caller, refined, childAggregation, limit)
	if err != nil || len(renamed) == 0 {
		return results, err
	}
	for i, res := range results {
		group := ir.Record{}
		for k, v := range res.Group {
			if original, ok := renamed[k]; ok {
				k = original
			}
			group[k] = v
		}
		results[i].Group = group
	}
	return results, nil
}
