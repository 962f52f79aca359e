package decorator

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// PublicationCollection hides fields. Relations whose keys are hidden, or
// whose foreign collection was removed, are hidden too.
type PublicationCollection struct {
	*Base

	mu     sync.RWMutex
	hidden map[string]bool
}

// ChangeFieldVisibility shows or hides field. Primary keys cannot be
// hidden.
func (c *PublicationCollection) ChangeFieldVisibility(field string, visible bool) error {
	f, ok := c.Child().Schema().Fields[field]
	if !ok {
		return errs.ValidationWith(
			map[string]any{"collection": c.Name(), "field": field},
			"unknown field %q in collection %q", field, c.Name(),
		)
	}
	if col, ok := f.(*schema.ColumnSchema); ok && col.IsPrimaryKey && !visible {
		return errs.Validation("cannot hide primary key %q of collection %q", field, c.Name())
	}
	c.mu.Lock()
	if visible {
		delete(c.hidden, field)
	} else {
		c.hidden[field] = true
	}
	c.mu.Unlock()

	// Relations of other collections may point at this field.
	if pd, ok := c.Datasource().(*PublicationDatasource); ok {
		pd.MarkAllSchemaAsDirty()
	} else {
		c.MarkSchemaAsDirty()
	}
	return nil
}

// isHidden reads configuration only, never schemas.
func (c *PublicationCollection) isHidden(field string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hidden[field]
}

func (c *PublicationCollection) publication() (*PublicationDatasource, bool) {
	pd, ok := c.Datasource().(*PublicationDatasource)
	return pd, ok
}

// hiddenIn reports whether any of fields is hidden in collection name, or
// whether that collection is removed.
func (c *PublicationCollection) hiddenIn(name string, fields ...string) bool {
	pd, ok := c.publication()
	if !ok {
		return false
	}
	if pd.isRemoved(name) {
		return true
	}
	other, err := pd.Get(name)
	if err != nil {
		return true
	}
	return slices.ContainsFunc(fields, other.isHidden)
}

func (c *PublicationCollection) isVisible(name string, field schema.FieldSchema) bool {
	if c.isHidden(name) {
		return false
	}
	switch f := field.(type) {
	case *schema.ColumnSchema:
		return true
	case *schema.ManyToOneSchema:
		return !c.isHidden(f.ForeignKey) && !c.hiddenIn(f.ForeignCollection, f.ForeignKeyTarget)
	case *schema.OneToOneSchema:
		return !c.isHidden(f.OriginKeyTarget) && !c.hiddenIn(f.ForeignCollection, f.OriginKey)
	case *schema.OneToManySchema:
		return !c.isHidden(f.OriginKeyTarget) && !c.hiddenIn(f.ForeignCollection, f.OriginKey)
	case *schema.ManyToManySchema:
		return !c.isHidden(f.OriginKeyTarget) &&
			!c.hiddenIn(f.ForeignCollection, f.ForeignKeyTarget) &&
			!c.hiddenIn(f.ThroughCollection, f.OriginKey, f.ForeignKey)
	case *schema.PolymorphicManyToOneSchema:
		return !c.isHidden(f.ForeignKey) && !c.isHidden(f.ForeignKeyTypeField)
	case *schema.PolymorphicOneToOneSchema:
		return !c.isHidden(f.OriginKeyTarget) && !c.hiddenIn(f.ForeignCollection, f.OriginKey, f.OriginTypeField)
	case *schema.PolymorphicOneToManySchema:
		return !c.isHidden(f.OriginKeyTarget) && !c.hiddenIn(f.ForeignCollection, f.OriginKey, f.OriginTypeField)
	}
	return true
}

func (c *PublicationCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	for _, name := range s.FieldNames() {
		if !c.isVisible(name, s.Fields[name]) {
			delete(s.Fields, name)
			continue
		}
		// Removed collections drop out of polymorphic targets.
		if poly, ok := s.Fields[name].(*schema.PolymorphicManyToOneSchema); ok {
			if pd, ok := c.publication(); ok {
				poly.ForeignCollections = slices.DeleteFunc(poly.ForeignCollections, pd.isRemoved)
			}
		}
	}
	return s
}

func (c *PublicationCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	s := c.Schema()
	for _, r := range records {
		for k := range r {
			if _, ok := s.Fields[k]; !ok {
				return nil, errs.Validation("unknown field %q in collection %q", k, c.Name())
			}
		}
	}
	created, err := c.Child().Create(ctx, caller, records)
	if err != nil {
		return nil, err
	}
	for _, r := range created {
		for k := range r {
			if _, ok := s.Fields[k]; !ok {
				delete(r, k)
			}
		}
	}
	return created, nil
}

// PublicationDatasource removes collections and applies
// PublicationCollection to the others.
type PublicationDatasource struct {
	*Datasource[*PublicationCollection]

	mu      sync.RWMutex
	removed map[string]bool
}

// NewPublicationDatasource wraps child.
func NewPublicationDatasource(child collection.Datasource) *PublicationDatasource {
	d := &PublicationDatasource{removed: map[string]bool{}}
	d.Datasource = NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *PublicationCollection {
		p := &PublicationCollection{hidden: map[string]bool{}}
		p.Base = NewBase(c, ds, p)
		return p
	})
	d.Bind(d)
	return d
}

// RemoveCollection hides whole collections.
func (d *PublicationDatasource) RemoveCollection(names ...string) error {
	for _, name := range names {
		if _, err := d.Datasource.Get(name); err != nil {
			return err
		}
	}
	d.mu.Lock()
	for _, name := range names {
		d.removed[name] = true
	}
	d.mu.Unlock()
	d.MarkAllSchemaAsDirty()
	return nil
}

func (d *PublicationDatasource) isRemoved(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.removed[name]
}

// MarkAllSchemaAsDirty builds every decorator first, so that none keeps a
// stale relation after a removal.
func (d *PublicationDatasource) MarkAllSchemaAsDirty() {
	d.Datasource.All()
	d.Datasource.MarkAllSchemaAsDirty()
}

func (d *PublicationDatasource) Collections() []collection.Collection {
	var out []collection.Collection
	for _, c := range d.Datasource.All() {
		if !d.isRemoved(c.Name()) {
			out = append(out, c)
		}
	}
	return out
}

func (d *PublicationDatasource) Collection(name string) (collection.Collection, error) {
	if d.isRemoved(name) {
		return nil, errs.NotFound("collection %q not found", name)
	}
	return d.Datasource.Collection(name)
}
