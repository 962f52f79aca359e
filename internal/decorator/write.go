package decorator

import (
	"context"
	"fmt"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// RelationWriteCollection accepts nested to-one records in creates and
// updates, and splits them into writes on the related collections.
type RelationWriteCollection struct {
	*Base
}

// NewRelationWriteDatasource applies RelationWriteCollection to every
// collection.
func NewRelationWriteDatasource(child collection.Datasource) *Datasource[*RelationWriteCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *RelationWriteCollection {
		w := &RelationWriteCollection{}
		w.Base = NewBase(c, ds, w)
		return w
	})
}

// split separates columns from nested relation records.
func (c *RelationWriteCollection) split(record ir.Record) (ir.Record, map[string]ir.Value, error) {
	s := c.Schema()
	columns := ir.Record{}
	relations := map[string]ir.Value{}
	for k, v := range record {
		field, ok := s.Fields[k]
		if !ok {
			return nil, nil, errs.Validation("unknown field %q in collection %q", k, c.Name())
		}
		switch field.(type) {
		case *schema.ColumnSchema:
			columns[k] = v
		case *schema.ManyToOneSchema, *schema.OneToOneSchema:
			relations[k] = v
		default:
			return nil, nil, errs.Validation("relation %q in collection %q cannot be written", k, c.Name())
		}
	}
	return columns, relations, nil
}

// Create runs, in order: creates and updates of many-to-one records, the
// creation of the records themselves, creates of one-to-one records.
func (c *RelationWriteCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	columns := make([]ir.Record, len(records))
	relations := make([]map[string]ir.Value, len(records))
	hasRelations := false
	for i, r := range records {
		var err error
		if columns[i], relations[i], err = c.split(r); err != nil {
			return nil, err
		}
		hasRelations = hasRelations || len(relations[i]) > 0
	}
	if !hasRelations {
		return c.Child().Create(ctx, caller, records)
	}

	s := c.Schema()
	for _, name := range s.FieldNames() {
		rel, ok := s.Fields[name].(*schema.ManyToOneSchema)
		if !ok {
			continue
		}
		if err := c.createManyToOne(ctx, caller, name, rel, columns, relations); err != nil {
			return nil, err
		}
	}

	created, err := c.Child().Create(ctx, caller, columns)
	if err != nil {
		return nil, err
	}

	for _, name := range s.FieldNames() {
		rel, ok := s.Fields[name].(*schema.OneToOneSchema)
		if !ok {
			continue
		}
		if err := c.createOneToOne(ctx, caller, name, rel, created, relations); err != nil {
			return nil, err
		}
	}
	return created, nil
}

func (c *RelationWriteCollection) createManyToOne(ctx context.Context, caller *collection.Caller, name string, rel *schema.ManyToOneSchema, columns []ir.Record, relations []map[string]ir.Value) error {
	target, err := foreign(c, rel)
	if err != nil {
		return err
	}
	var pending []int
	var toCreate []ir.Record
	for i := range columns {
		v, ok := relations[i][name]
		if !ok || ir.IsNull(v) {
			continue
		}
		sub, ok := v.(ir.Record)
		if !ok {
			return errs.Validation("relation %q expects a record", name)
		}
		if fk := columns[i][rel.ForeignKey]; !ir.IsNull(fk) {
			// The record is already linked: update it rather than creating a twin.
			filter := query.Filter{ConditionTree: query.NewLeaf(rel.ForeignKeyTarget, schema.Equal, fk)}
			if err := target.Update(ctx, caller, filter, sub); err != nil {
				return fmt.Errorf("update %s of %s: %w", name, c.Name(), err)
			}
			continue
		}
		pending = append(pending, i)
		toCreate = append(toCreate, sub)
	}
	if len(toCreate) == 0 {
		return nil
	}
	created, err := target.Create(ctx, caller, toCreate)
	if err != nil {
		return fmt.Errorf("create %s of %s: %w", name, c.Name(), err)
	}
	for j, i := range pending {
		columns[i][rel.ForeignKey] = created[j][rel.ForeignKeyTarget]
	}
	return nil
}

func (c *RelationWriteCollection) createOneToOne(ctx context.Context, caller *collection.Caller, name string, rel *schema.OneToOneSchema, created []ir.Record, relations []map[string]ir.Value) error {
	var toCreate []ir.Record
	for i := range created {
		v, ok := relations[i][name]
		if !ok || ir.IsNull(v) {
			continue
		}
		sub, ok := v.(ir.Record)
		if !ok {
			return errs.Validation("relation %q expects a record", name)
		}
		sub = sub.Clone()
		sub[rel.OriginKey] = created[i][rel.OriginKeyTarget]
		toCreate = append(toCreate, sub)
	}
	if len(toCreate) == 0 {
		return nil
	}
	target, err := foreign(c, rel)
	if err != nil {
		return err
	}
	if _, err := target.Create(ctx, caller, toCreate); err != nil {
		return fmt.Errorf("create %s of %s: %w", name, c.Name(), err)
	}
	return nil
}

// Update applies the column part of patch directly, then writes each
// nested relation record for every matching record.
func (c *RelationWriteCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	columns, relations, err := c.split(patch)
	if err != nil {
		return err
	}
	if len(relations) == 0 {
		return c.Child().Update(ctx, caller, filter, patch)
	}

	s := c.Schema()
	var keys []string
	for name, v := range relations {
		if ir.IsNull(v) {
			return errs.Validation("relation %q cannot be set to null: update its key instead", name)
		}
		switch rel := s.Fields[name].(type) {
		case *schema.ManyToOneSchema:
			keys = append(keys, rel.ForeignKey)
		case *schema.OneToOneSchema:
			keys = append(keys, rel.OriginKeyTarget)
		}
	}
	// Select before writing columns: the patch may change what filter matches.
	records, err := c.Child().List(ctx, caller, query.PaginatedFilter{Filter: filter}, withPrimaryKeys(query.NewProjection(keys...), s))
	if err != nil {
		return err
	}
	ids := primaryKeys(s, records)

	if len(columns) > 0 && len(ids) > 0 {
		if err := c.Child().Update(ctx, caller, query.Filter{ConditionTree: collection.IDFilter(s, ids)}, columns); err != nil {
			return err
		}
		// Nested writes follow the keys the patch just wrote.
		for _, key := range keys {
			if v, ok := columns[key]; ok {
				for _, r := range records {
					r[key] = v
				}
			}
		}
	}

	for _, name := range s.FieldNames() {
		v, ok := relations[name]
		if !ok {
			continue
		}
		sub, ok := v.(ir.Record)
		if !ok {
			return errs.Validation("relation %q expects a record", name)
		}
		switch rel := s.Fields[name].(type) {
		case *schema.ManyToOneSchema:
			err = c.updateManyToOne(ctx, caller, name, rel, records, sub)
		case *schema.OneToOneSchema:
			err = c.updateOneToOne(ctx, caller, name, rel, records, sub)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *RelationWriteCollection) updateManyToOne(ctx context.Context, caller *collection.Caller, name string, rel *schema.ManyToOneSchema, records []ir.Record, sub ir.Record) error {
	target, err := foreign(c, rel)
	if err != nil {
		return err
	}
	if linked := distinct(records, rel.ForeignKey); len(linked) > 0 {
		filter := query.Filter{ConditionTree: query.NewLeaf(rel.ForeignKeyTarget, schema.In, linked)}
		if err := target.Update(ctx, caller, filter, sub); err != nil {
			return fmt.Errorf("update %s of %s: %w", name, c.Name(), err)
		}
	}

	// Records without a related record get a fresh one each.
	s := c.Schema()
	for _, r := range records {
		if !ir.IsNull(r[rel.ForeignKey]) {
			continue
		}
		created, err := target.Create(ctx, caller, []ir.Record{sub.Clone()})
		if err != nil {
			return fmt.Errorf("create %s of %s: %w", name, c.Name(), err)
		}
		id, err := collection.PrimaryKey(s, r)
		if err != nil {
			return err
		}
		link := ir.Record{rel.ForeignKey: created[0][rel.ForeignKeyTarget]}
		if err := c.Child().Update(ctx, caller, query.Filter{ConditionTree: collection.IDFilter(s, []collection.CompositeID{id})}, link); err != nil {
			return err
		}
	}
	return nil
}

func (c *RelationWriteCollection) updateOneToOne(ctx context.Context, caller *collection.Caller, name string, rel *schema.OneToOneSchema, records []ir.Record, sub ir.Record) error {
	target, err := foreign(c, rel)
	if err != nil {
		return err
	}
	origins := distinct(records, rel.OriginKeyTarget)
	if len(origins) == 0 {
		return nil
	}
	existing, err := target.List(ctx, caller,
		query.NewPaginatedFilter(query.NewLeaf(rel.OriginKey, schema.In, origins)),
		query.NewProjection(rel.OriginKey))
	if err != nil {
		return err
	}
	linked := distinct(existing, rel.OriginKey)
	if len(linked) > 0 {
		filter := query.Filter{ConditionTree: query.NewLeaf(rel.OriginKey, schema.In, linked)}
		if err := target.Update(ctx, caller, filter, sub); err != nil {
			return fmt.Errorf("update %s of %s: %w", name, c.Name(), err)
		}
	}

	has := map[string]bool{}
	for _, v := range linked {
		has[ir.CanonicalKey(v)] = true
	}
	var toCreate []ir.Record
	for _, origin := range origins {
		if has[ir.CanonicalKey(origin)] {
			continue
		}
		r := sub.Clone()
		r[rel.OriginKey] = origin
		toCreate = append(toCreate, r)
	}
	if len(toCreate) == 0 {
		return nil
	}
	if _, err := target.Create(ctx, caller, toCreate); err != nil {
		return fmt.Errorf("create %s of %s: %w", name, c.Name(), err)
	}
	return nil
}
