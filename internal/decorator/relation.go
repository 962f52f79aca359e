package decorator

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// RelationCollection adds relations the child does not know about, and
// joins them in memory.
type RelationCollection struct {
	*Base
	clock clockwork.Clock

	mu        sync.RWMutex
	relations map[string]schema.FieldSchema
}

// NewRelationDatasource applies RelationCollection to every collection.
func NewRelationDatasource(child collection.Datasource, clock clockwork.Clock) *Datasource[*RelationCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *RelationCollection {
		r := &RelationCollection{clock: clock, relations: map[string]schema.FieldSchema{}}
		r.Base = NewBase(c, ds, r)
		return r
	})
}

// AddRelation declares a relation. Missing key targets default to the
// single primary key of the collection they belong to.
func (c *RelationCollection) AddRelation(name string, field schema.FieldSchema) error {
	if _, exists := c.Schema().Fields[name]; exists {
		return errs.Conflict("field %q already exists in collection %q", name, c.Name())
	}

	var err error
	switch r := field.(type) {
	case *schema.ManyToOneSchema:
		rel := *r
		err = c.checkManyToOne(&rel)
		field = &rel
	case *schema.OneToOneSchema:
		rel := *r
		rel.OriginKeyTarget, err = c.checkOrigin(rel.ForeignCollection, rel.OriginKey, rel.OriginKeyTarget)
		field = &rel
	case *schema.OneToManySchema:
		rel := *r
		rel.OriginKeyTarget, err = c.checkOrigin(rel.ForeignCollection, rel.OriginKey, rel.OriginKeyTarget)
		field = &rel
	case *schema.ManyToManySchema:
		rel := *r
		err = c.checkManyToMany(&rel)
		field = &rel
	default:
		err = errs.Validation("relation %q: only ManyToOne, OneToOne, OneToMany and ManyToMany relations can be added", name)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.relations[name] = field
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *RelationCollection) collectionNamed(name string) (*RelationCollection, error) {
	other, err := c.Datasource().Collection(name)
	if err != nil {
		return nil, err
	}
	rc, ok := other.(*RelationCollection)
	if !ok {
		return nil, errs.Validation("collection %q cannot hold relations", name)
	}
	return rc, nil
}

func singlePrimaryKey(c collection.Collection) (string, error) {
	pks := c.Schema().PrimaryKeys()
	if len(pks) != 1 {
		return "", errs.Validation("collection %q must have exactly one primary key", c.Name())
	}
	return pks[0], nil
}

// checkKeys verifies that two columns exist and have the same type.
func checkKeys(a collection.Collection, aField string, b collection.Collection, bField string) error {
	aCol, ok := a.Schema().Column(aField)
	if !ok {
		return errs.Validation("column %q not found in collection %q", aField, a.Name())
	}
	bCol, ok := b.Schema().Column(bField)
	if !ok {
		return errs.Validation("column %q not found in collection %q", bField, b.Name())
	}
	if aCol.ColumnType.String() != bCol.ColumnType.String() {
		return errs.ValidationWith(
			map[string]any{"left": a.Name() + "." + aField, "right": b.Name() + "." + bField},
			"types of %s.%s (%s) and %s.%s (%s) do not match",
			a.Name(), aField, aCol.ColumnType, b.Name(), bField, bCol.ColumnType,
		)
	}
	return nil
}

func (c *RelationCollection) checkManyToOne(r *schema.ManyToOneSchema) error {
	target, err := c.collectionNamed(r.ForeignCollection)
	if err != nil {
		return err
	}
	if r.ForeignKeyTarget == "" {
		if r.ForeignKeyTarget, err = singlePrimaryKey(target); err != nil {
			return err
		}
	}
	return checkKeys(c, r.ForeignKey, target, r.ForeignKeyTarget)
}

func (c *RelationCollection) checkOrigin(foreignName, originKey, originKeyTarget string) (string, error) {
	target, err := c.collectionNamed(foreignName)
	if err != nil {
		return "", err
	}
	if originKeyTarget == "" {
		if originKeyTarget, err = singlePrimaryKey(c); err != nil {
			return "", err
		}
	}
	return originKeyTarget, checkKeys(target, originKey, c, originKeyTarget)
}

func (c *RelationCollection) checkManyToMany(r *schema.ManyToManySchema) error {
	through, err := c.collectionNamed(r.ThroughCollection)
	if err != nil {
		return err
	}
	target, err := c.collectionNamed(r.ForeignCollection)
	if err != nil {
		return err
	}
	if r.OriginKeyTarget == "" {
		if r.OriginKeyTarget, err = singlePrimaryKey(c); err != nil {
			return err
		}
	}
	if r.ForeignKeyTarget == "" {
		if r.ForeignKeyTarget, err = singlePrimaryKey(target); err != nil {
			return err
		}
	}
	if err := checkKeys(through, r.OriginKey, c, r.OriginKeyTarget); err != nil {
		return err
	}
	return checkKeys(through, r.ForeignKey, target, r.ForeignKeyTarget)
}

func (c *RelationCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, rel := range c.relations {
		s.Fields[name] = rel
	}
	return s
}

func (c *RelationCollection) emulated(name string) (schema.FieldSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rel, ok := c.relations[name]
	return rel, ok
}

// touchesEmulated reports whether path crosses an emulated relation.
func (c *RelationCollection) touchesEmulated(path string) bool {
	head, rest, nested := query.SplitPath(path)
	if !nested {
		return false
	}
	if _, ok := c.emulated(head); ok {
		return true
	}
	field, ok := c.Schema().Fields[head]
	if !ok {
		return false
	}
	next, err := foreign(c, field)
	if err != nil {
		return false
	}
	rc, ok := next.(*RelationCollection)
	return ok && rc.touchesEmulated(rest)
}

// rewriteField replaces paths through emulated relations with the local
// key the join needs.
func (c *RelationCollection) rewriteField(path string) query.Projection {
	head, rest, nested := query.SplitPath(path)
	if !nested {
		return query.Projection{path}
	}
	if rel, ok := c.emulated(head); ok {
		switch r := rel.(type) {
		case *schema.ManyToOneSchema:
			return query.Projection{r.ForeignKey}
		case *schema.OneToOneSchema:
			return query.Projection{r.OriginKeyTarget}
		case *schema.OneToManySchema:
			return query.Projection{r.OriginKeyTarget}
		case *schema.ManyToManySchema:
			return query.Projection{r.OriginKeyTarget}
		}
		return nil
	}
	field, ok := c.Schema().Fields[head]
	if !ok || schema.IsPolymorphic(field) {
		return query.Projection{path}
	}
	next, err := foreign(c, field)
	if err != nil {
		return query.Projection{path}
	}
	rc, ok := next.(*RelationCollection)
	if !ok {
		return query.Projection{path}
	}
	return rc.rewriteField(rest).Nest(head)
}

func (c *RelationCollection) RefineFilter(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	tree, err := query.ReplaceLeafs(filter.ConditionTree, func(l query.Leaf) (query.ConditionTree, error) {
		return c.rewriteLeaf(ctx, caller, l)
	})
	if err != nil {
		return filter, err
	}
	filter = filter.WithConditionTree(tree)
	if len(filter.Sort) > 0 {
		filter.Sort = filter.Sort.Replace(func(clause query.SortClause) query.Sort {
			return lo.Map(c.rewriteField(clause.Field), func(f string, _ int) query.SortClause {
				return query.SortClause{Field: f, Ascending: clause.Ascending}
			})
		})
	}
	return filter, nil
}

// rewriteLeaf turns a leaf through an emulated relation into a leaf on
// the local key, by querying the foreign collection.
func (c *RelationCollection) rewriteLeaf(ctx context.Context, caller *collection.Caller, l query.Leaf) (query.ConditionTree, error) {
	head, rest, nested := query.SplitPath(l.Field)
	if !nested {
		return l, nil
	}
	field, ok := c.Schema().Fields[head]
	if !ok || schema.IsPolymorphic(field) {
		return l, nil
	}
	next, err := foreign(c, field)
	if err != nil {
		return nil, err
	}
	sub := l
	sub.Field = rest

	rel, emulated := c.emulated(head)
	if !emulated {
		rc, ok := next.(*RelationCollection)
		if !ok {
			return l, nil
		}
		tree, err := rc.rewriteLeaf(ctx, caller, sub)
		if err != nil {
			return nil, err
		}
		return query.NestTree(tree, head), nil
	}

	list := func(key string) (ir.List, error) {
		records, err := next.List(ctx, caller, query.NewPaginatedFilter(sub), query.NewProjection(key))
		if err != nil {
			return nil, err
		}
		return distinct(records, key), nil
	}
	switch r := rel.(type) {
	case *schema.ManyToOneSchema:
		values, err := list(r.ForeignKeyTarget)
		if err != nil {
			return nil, err
		}
		return query.NewLeaf(r.ForeignKey, schema.In, values), nil
	case *schema.OneToOneSchema:
		values, err := list(r.OriginKey)
		if err != nil {
			return nil, err
		}
		return query.NewLeaf(r.OriginKeyTarget, schema.In, values), nil
	case *schema.OneToManySchema:
		values, err := list(r.OriginKey)
		if err != nil {
			return nil, err
		}
		return query.NewLeaf(r.OriginKeyTarget, schema.In, values), nil
	case *schema.ManyToManySchema:
		targets, err := list(r.ForeignKeyTarget)
		if err != nil {
			return nil, err
		}
		through, err := c.Datasource().Collection(r.ThroughCollection)
		if err != nil {
			return nil, err
		}
		links, err := through.List(ctx, caller,
			query.NewPaginatedFilter(query.NewLeaf(r.ForeignKey, schema.In, targets)),
			query.NewProjection(r.OriginKey))
		if err != nil {
			return nil, err
		}
		return query.NewLeaf(r.OriginKeyTarget, schema.In, distinct(links, r.OriginKey)), nil
	}
	return l, nil
}

func (c *RelationCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	refined, err := c.RefineFilter(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	childProjection := projection.Replace(c.rewriteField)
	records, err := c.Child().List(ctx, caller, refined, childProjection)
	if err != nil {
		return nil, err
	}
	if childProjection.Equals(projection) {
		return records, nil
	}
	if err := c.reproject(ctx, caller, records, projection); err != nil {
		return nil, err
	}
	return projection.Apply(records), nil
}

// reproject fetches the emulated relations of projection into records.
func (c *RelationCollection) reproject(ctx context.Context, caller *collection.Caller, records []ir.Record, projection query.Projection) error {
	relations := projection.Relations()
	for _, name := range projection.RelationNames() {
		sub := relations[name]
		field, ok := c.Schema().Fields[name]
		if !ok || schema.IsPolymorphic(field) {
			continue
		}
		next, err := foreign(c, field)
		if err != nil {
			return err
		}
		if _, emulated := c.emulated(name); emulated {
			if err := c.join(ctx, caller, records, name, field, next, sub); err != nil {
				return err
			}
			continue
		}
		rc, ok := next.(*RelationCollection)
		if !ok {
			continue
		}
		related := lo.FilterMap(records, func(r ir.Record, _ int) (ir.Record, bool) {
			rec, ok := r[name].(ir.Record)
			return rec, ok
		})
		if err := rc.reproject(ctx, caller, related, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *RelationCollection) join(ctx context.Context, caller *collection.Caller, records []ir.Record, name string, field schema.FieldSchema, next collection.Collection, sub query.Projection) error {
	var localKey, foreignKey string
	switch r := field.(type) {
	case *schema.ManyToOneSchema:
		localKey, foreignKey = r.ForeignKey, r.ForeignKeyTarget
	case *schema.OneToOneSchema:
		localKey, foreignKey = r.OriginKeyTarget, r.OriginKey
	default:
		return errs.Validation("relation %q cannot be projected: it is not a to-one relation", name)
	}

	values := distinct(records, localKey)
	byKey := map[string]ir.Record{}
	if len(values) > 0 {
		related, err := next.List(ctx, caller,
			query.NewPaginatedFilter(query.NewLeaf(foreignKey, schema.In, values)),
			sub.Union(query.NewProjection(foreignKey)))
		if err != nil {
			return err
		}
		for _, r := range related {
			byKey[ir.CanonicalKey(r[foreignKey])] = r
		}
	}
	for _, r := range records {
		v := r[localKey]
		if ir.IsNull(v) {
			r[name] = ir.Null{}
			continue
		}
		if related, ok := byKey[ir.CanonicalKey(v)]; ok {
			r[name] = related
		} else {
			r[name] = ir.Null{}
		}
	}
	return nil
}

func (c *RelationCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	if !lo.SomeBy(aggregation.Projection(), c.touchesEmulated) {
		return c.Base.Aggregate(ctx, caller, filter, aggregation, limit)
	}
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
