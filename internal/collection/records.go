package collection

import (
	"context"

	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// CompositeID is the primary key of a record, one value per key column in
// schema order.
type CompositeID []ir.Value

// PrimaryKey extracts the primary key of record.
func PrimaryKey(s *schema.CollectionSchema, record ir.Record) (CompositeID, error) {
	keys := s.PrimaryKeys()
	if len(keys) == 0 {
		return nil, errs.Validation("collection has no primary key")
	}
	id := make(CompositeID, len(keys))
	for i, k := range keys {
		v, ok := record[k]
		if !ok || ir.IsNull(v) {
			return nil, errs.Validation("missing primary key %q in record", k)
		}
		id[i] = v
	}
	return id, nil
}

// IDFilter returns a tree matching the records with the given keys.
func IDFilter(s *schema.CollectionSchema, ids []CompositeID) query.ConditionTree {
	keys := s.PrimaryKeys()
	if len(ids) == 0 {
		return query.MatchNone()
	}
	if len(keys) == 1 {
		values := make(ir.List, len(ids))
		for i, id := range ids {
			values[i] = id[0]
		}
		if len(values) == 1 {
			return query.NewLeaf(keys[0], schema.Equal, values[0])
		}
		return query.NewLeaf(keys[0], schema.In, values)
	}
	alternatives := make([]query.ConditionTree, len(ids))
	for i, id := range ids {
		conds := make([]query.ConditionTree, len(keys))
		for j, k := range keys {
			conds[j] = query.NewLeaf(k, schema.Equal, id[j])
		}
		alternatives[i] = query.And(conds...)
	}
	return query.Or(alternatives...)
}

// ListIDs lists the primary keys of the records matching filter.
func ListIDs(ctx context.Context, c Collection, caller *Caller, filter query.Filter) ([]CompositeID, error) {
	keys := c.Schema().PrimaryKeys()
	records, err := c.List(ctx, caller, query.PaginatedFilter{Filter: filter}, query.NewProjection(keys...))
	if err != nil {
		return nil, err
	}
	ids := make([]CompositeID, 0, len(records))
	for _, r := range records {
		id, err := PrimaryKey(c.Schema(), r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListRelation lists the records on the other side of a to-many relation
// for one parent record identified by id.
func ListRelation(ctx context.Context, c Collection, caller *Caller, id CompositeID, relation string, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	field, ok := c.Schema().Fields[relation]
	if !ok {
		return nil, errs.Validation("unknown relation %q in collection %q", relation, c.Name())
	}
	foreignName, ok := schema.ForeignCollection(field)
	if !ok {
		return nil, errs.Validation("relation %q cannot be listed", relation)
	}
	foreign, err := c.Datasource().Collection(foreignName)
	if err != nil {
		return nil, err
	}

	var originKeyTarget string
	var link query.ConditionTree
	switch r := field.(type) {
	case *schema.OneToManySchema:
		originKeyTarget = r.OriginKeyTarget
	case *schema.ManyToManySchema:
		originKeyTarget = r.OriginKeyTarget
	case *schema.PolymorphicOneToManySchema:
		originKeyTarget = r.OriginKeyTarget
		link = query.NewLeaf(r.OriginTypeField, schema.Equal, ir.String(r.OriginTypeValue))
	default:
		return nil, errs.Validation("relation %q is not a to-many relation", relation)
	}

	parents, err := c.List(ctx, caller, query.NewPaginatedFilter(IDFilter(c.Schema(), []CompositeID{id})), query.NewProjection(originKeyTarget))
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return []ir.Record{}, nil
	}
	originValue := parents[0][originKeyTarget]

	switch r := field.(type) {
	case *schema.OneToManySchema:
		link = query.NewLeaf(r.OriginKey, schema.Equal, originValue)
	case *schema.PolymorphicOneToManySchema:
		link = query.And(link, query.NewLeaf(r.OriginKey, schema.Equal, originValue))
	case *schema.ManyToManySchema:
		through, err := c.Datasource().Collection(r.ThroughCollection)
		if err != nil {
			return nil, err
		}
		rows, err := through.List(ctx, caller,
			query.NewPaginatedFilter(query.NewLeaf(r.OriginKey, schema.Equal, originValue)),
			query.NewProjection(r.ForeignKey))
		if err != nil {
			return nil, err
		}
		targets := make(ir.List, 0, len(rows))
		for _, row := range rows {
			if v := row[r.ForeignKey]; !ir.IsNull(v) {
				targets = append(targets, v)
			}
		}
		link = query.NewLeaf(r.ForeignKeyTarget, schema.In, targets)
	}

	return foreign.List(ctx, caller, filter.WithConditionTree(query.And(link, filter.ConditionTree)), projection)
}
