package decorator

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// RenameFieldCollection exposes fields under new names. Relation keys that
// point at renamed fields are renamed everywhere.
type RenameFieldCollection struct {
	*Base

	mu        sync.RWMutex
	toChild   map[string]string
	fromChild map[string]string
}

// NewRenameFieldDatasource applies RenameFieldCollection to every
// collection.
func NewRenameFieldDatasource(child collection.Datasource) *Datasource[*RenameFieldCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *RenameFieldCollection {
		r := &RenameFieldCollection{toChild: map[string]string{}, fromChild: map[string]string{}}
		r.Base = NewBase(c, ds, r)
		return r
	})
}

// RenameField renames current to name. A field already renamed can be
// renamed again; renaming it back to its original name drops the rename.
func (c *RenameFieldCollection) RenameField(current, name string) error {
	s := c.Schema()
	if _, ok := s.Fields[current]; !ok {
		return errs.ValidationWith(
			map[string]any{"collection": c.Name(), "field": current},
			"cannot rename unknown field %q in collection %q", current, c.Name(),
		)
	}
	if current == name {
		return nil
	}
	if _, exists := s.Fields[name]; exists {
		return errs.Conflict("field %q already exists in collection %q", name, c.Name())
	}

	c.mu.Lock()
	original := current
	if o, ok := c.toChild[current]; ok {
		original = o
		delete(c.toChild, current)
		delete(c.fromChild, original)
	}
	if original != name {
		c.toChild[name] = original
		c.fromChild[original] = name
	}
	c.mu.Unlock()

	if all, ok := c.Datasource().(interface{ MarkAllSchemaAsDirty() }); ok {
		all.MarkAllSchemaAsDirty()
	} else {
		c.MarkSchemaAsDirty()
	}
	return nil
}

// Config lookups only: schemas of other collections are never read here.
func (c *RenameFieldCollection) childName(public string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n, ok := c.toChild[public]; ok {
		return n
	}
	return public
}

func (c *RenameFieldCollection) publicName(child string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n, ok := c.fromChild[child]; ok {
		return n
	}
	return child
}

func (c *RenameFieldCollection) renamer(foreignCollection string) *RenameFieldCollection {
	other, err := c.Datasource().Collection(foreignCollection)
	if err != nil {
		return nil
	}
	r, _ := other.(*RenameFieldCollection)
	return r
}

// foreignPublic renames field of foreignCollection, or keeps it when the
// collection is not reachable.
func (c *RenameFieldCollection) foreignPublic(foreignCollection, field string) string {
	if r := c.renamer(foreignCollection); r != nil {
		return r.publicName(field)
	}
	return field
}

func (c *RenameFieldCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	fields := make(map[string]schema.FieldSchema, len(s.Fields))
	for name, f := range s.Fields {
		switch r := f.(type) {
		case *schema.ManyToOneSchema:
			r.ForeignKey = c.publicName(r.ForeignKey)
			r.ForeignKeyTarget = c.foreignPublic(r.ForeignCollection, r.ForeignKeyTarget)
		case *schema.OneToOneSchema:
			r.OriginKeyTarget = c.publicName(r.OriginKeyTarget)
			r.OriginKey = c.foreignPublic(r.ForeignCollection, r.OriginKey)
		case *schema.OneToManySchema:
			r.OriginKeyTarget = c.publicName(r.OriginKeyTarget)
			r.OriginKey = c.foreignPublic(r.ForeignCollection, r.OriginKey)
		case *schema.ManyToManySchema:
			r.OriginKeyTarget = c.publicName(r.OriginKeyTarget)
			r.ForeignKeyTarget = c.foreignPublic(r.ForeignCollection, r.ForeignKeyTarget)
			r.OriginKey = c.foreignPublic(r.ThroughCollection, r.OriginKey)
			r.ForeignKey = c.foreignPublic(r.ThroughCollection, r.ForeignKey)
		case *schema.PolymorphicManyToOneSchema:
			r.ForeignKey = c.publicName(r.ForeignKey)
			r.ForeignKeyTypeField = c.publicName(r.ForeignKeyTypeField)
			targets := make(map[string]string, len(r.ForeignKeyTargets))
			for coll, target := range r.ForeignKeyTargets {
				targets[coll] = c.foreignPublic(coll, target)
			}
			r.ForeignKeyTargets = targets
		case *schema.PolymorphicOneToOneSchema:
			r.OriginKeyTarget = c.publicName(r.OriginKeyTarget)
			r.OriginKey = c.foreignPublic(r.ForeignCollection, r.OriginKey)
			r.OriginTypeField = c.foreignPublic(r.ForeignCollection, r.OriginTypeField)
		case *schema.PolymorphicOneToManySchema:
			r.OriginKeyTarget = c.publicName(r.OriginKeyTarget)
			r.OriginKey = c.foreignPublic(r.ForeignCollection, r.OriginKey)
			r.OriginTypeField = c.foreignPublic(r.ForeignCollection, r.OriginTypeField)
		}
		fields[c.publicName(name)] = f
	}
	s.Fields = fields
	return s
}

// next returns the rename decorator behind relation childField.
func (c *RenameFieldCollection) next(childField string) *RenameFieldCollection {
	f, ok := c.Child().Schema().Fields[childField]
	if !ok {
		return nil
	}
	name, ok := schema.ForeignCollection(f)
	if !ok {
		return nil
	}
	return c.renamer(name)
}

func (c *RenameFieldCollection) toChildPath(path string) string {
	head, rest, nested := query.SplitPath(path)
	head = c.childName(head)
	if !nested {
		return head
	}
	if n := c.next(head); n != nil {
		rest = n.toChildPath(rest)
	}
	return query.JoinPath(head, rest)
}

func (c *RenameFieldCollection) fromChildPath(path string) string {
	head, rest, nested := query.SplitPath(path)
	public := c.publicName(head)
	if !nested {
		return public
	}
	if n := c.next(head); n != nil {
		rest = n.fromChildPath(rest)
	}
	return query.JoinPath(public, rest)
}

func (c *RenameFieldCollection) recordToChild(record ir.Record) ir.Record {
	if record == nil {
		return nil
	}
	out := make(ir.Record, len(record))
	for k, v := range record {
		child := c.childName(k)
		if sub, ok := v.(ir.Record); ok {
			if n := c.next(child); n != nil {
				v = n.recordToChild(sub)
			}
		}
		out[child] = v
	}
	return out
}

func (c *RenameFieldCollection) recordFromChild(record ir.Record) ir.Record {
	if record == nil {
		return nil
	}
	out := make(ir.Record, len(record))
	for k, v := range record {
		if sub, ok := v.(ir.Record); ok {
			if n := c.next(k); n != nil {
				v = n.recordFromChild(sub)
			}
		}
		out[c.publicName(k)] = v
	}
	return out
}

func (c *RenameFieldCollection) projectionToChild(p query.Projection) query.Projection {
	return p.Replace(func(path string) query.Projection {
		return query.Projection{c.toChildPath(path)}
	})
}

func (c *RenameFieldCollection) RefineFilter(_ context.Context, _ *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	filter = filter.WithConditionTree(query.MapLeafs(filter.ConditionTree, func(l query.Leaf) query.ConditionTree {
		l.Field = c.toChildPath(l.Field)
		return l
	}))
	if len(filter.Sort) > 0 {
		filter.Sort = filter.Sort.Replace(func(clause query.SortClause) query.Sort {
			clause.Field = c.toChildPath(clause.Field)
			return query.Sort{clause}
		})
	}
	return filter, nil
}

func (c *RenameFieldCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	records, err := c.Base.List(ctx, caller, filter, c.projectionToChild(projection))
	if err != nil {
		return nil, err
	}
	out := make([]ir.Record, len(records))
	for i, r := range records {
		out[i] = c.recordFromChild(r)
	}
	return out, nil
}

func (c *RenameFieldCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	renamed := make([]ir.Record, len(records))
	for i, r := range records {
		renamed[i] = c.recordToChild(r)
	}
	created, err := c.Child().Create(ctx, caller, renamed)
	if err != nil {
		return nil, err
	}
	out := make([]ir.Record, len(created))
	for i, r := range created {
		out[i] = c.recordFromChild(r)
	}
	return out, nil
}

func (c *RenameFieldCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	return c.Base.Update(ctx, caller, filter, c.recordToChild(patch))
}

func (c *RenameFieldCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	results, err := c.Base.Aggregate(ctx, caller, filter, aggregation.Replace(c.toChildPath), limit)
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		group := make(ir.Record, len(r.Group))
		for path, v := range r.Group {
			group[c.fromChildPath(path)] = v
		}
		results[i].Group = group
	}
	return results, nil
}

// RenameCollectionCollection reports its public name and rewrites the
// collection names in its relations.
type RenameCollectionCollection struct {
	*Base

	renames *RenameCollectionDatasource
}

func (c *RenameCollectionCollection) Name() string {
	return c.renames.publicName(c.Child().Name())
}

func (c *RenameCollectionCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	public := c.renames.publicName
	for _, f := range s.Fields {
		switch r := f.(type) {
		case *schema.ManyToOneSchema:
			r.ForeignCollection = public(r.ForeignCollection)
		case *schema.OneToOneSchema:
			r.ForeignCollection = public(r.ForeignCollection)
		case *schema.OneToManySchema:
			r.ForeignCollection = public(r.ForeignCollection)
		case *schema.ManyToManySchema:
			r.ForeignCollection = public(r.ForeignCollection)
			r.ThroughCollection = public(r.ThroughCollection)
		case *schema.PolymorphicManyToOneSchema:
			names := make([]string, len(r.ForeignCollections))
			targets := make(map[string]string, len(r.ForeignKeyTargets))
			for i, n := range r.ForeignCollections {
				names[i] = public(n)
			}
			for n, target := range r.ForeignKeyTargets {
				targets[public(n)] = target
			}
			r.ForeignCollections, r.ForeignKeyTargets = names, targets
		case *schema.PolymorphicOneToOneSchema:
			r.ForeignCollection = public(r.ForeignCollection)
		case *schema.PolymorphicOneToManySchema:
			r.ForeignCollection = public(r.ForeignCollection)
		}
	}
	return s
}

// RenameCollectionDatasource exposes collections under new names.
type RenameCollectionDatasource struct {
	*Datasource[*RenameCollectionCollection]

	mu        sync.RWMutex
	toChild   map[string]string
	fromChild map[string]string
}

// NewRenameCollectionDatasource wraps child.
func NewRenameCollectionDatasource(child collection.Datasource) *RenameCollectionDatasource {
	d := &RenameCollectionDatasource{toChild: map[string]string{}, fromChild: map[string]string{}}
	d.Datasource = NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *RenameCollectionCollection {
		r := &RenameCollectionCollection{renames: d}
		r.Base = NewBase(c, ds, r)
		return r
	})
	d.Bind(d)
	return d
}

func (d *RenameCollectionDatasource) publicName(child string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n, ok := d.fromChild[child]; ok {
		return n
	}
	return child
}

// ChildName returns the name the child datasource uses for the collection
// exposed as name.
func (d *RenameCollectionDatasource) ChildName(name string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n, ok := d.toChild[name]; ok {
		return n
	}
	return name
}

// RenameCollection renames current to name. Renaming twice keeps only
// the last name.
func (d *RenameCollectionDatasource) RenameCollection(current, name string) error {
	c, err := d.Collection(current)
	if err != nil {
		return err
	}
	if current == name {
		return nil
	}
	if _, err := d.Collection(name); err == nil {
		return errs.Conflict("collection %q already exists", name)
	}

	original := c.(*RenameCollectionCollection).Child().Name()
	d.mu.Lock()
	delete(d.toChild, current)
	delete(d.fromChild, original)
	if original != name {
		d.toChild[name] = original
		d.fromChild[original] = name
	}
	d.mu.Unlock()

	d.Datasource.All()
	d.MarkAllSchemaAsDirty()
	return nil
}

func (d *RenameCollectionDatasource) Collection(name string) (collection.Collection, error) {
	d.mu.RLock()
	child, renamed := d.toChild[name]
	_, hidden := d.fromChild[name]
	d.mu.RUnlock()
	if hidden && !renamed {
		return nil, errs.NotFound("collection %q not found", name)
	}
	if !renamed {
		child = name
	}
	return d.Datasource.Collection(child)
}
