package customizer

import (
	"context"
	"fmt"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/decorator"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// CollectionCustomizer queues customizations of one collection. Every
// method returns the customizer so calls chain.
type CollectionCustomizer struct {
	parent *DatasourceCustomizer
	name   string
}

// Name returns the collection name the customizer was created with.
func (c *CollectionCustomizer) Name() string { return c.name }

func (c *CollectionCustomizer) enqueue(label string, fn Customization) *CollectionCustomizer {
	c.parent.Enqueue(c.name+": "+label, fn)
	return c
}

// AddField adds a computed field. It is computed below the emulated
// relations when every dependency already exists there, above them
// otherwise.
func (c *CollectionCustomizer) AddField(name string, def decorator.ComputedDefinition) *CollectionCustomizer {
	return c.enqueue("add field "+name, func(_ context.Context, s *Stack) error {
		target, err := c.computedLayer(s, def.Dependencies)
		if err != nil {
			return err
		}
		return target.RegisterComputed(name, def)
	})
}

func (c *CollectionCustomizer) computedLayer(s *Stack, dependencies []string) (*decorator.ComputedCollection, error) {
	early, err := resolve(s, s.EarlyComputed, c.name)
	if err != nil {
		return nil, err
	}
	for _, dep := range dependencies {
		if !hasColumn(early, dep) {
			return resolve(s, s.LateComputed, c.name)
		}
	}
	return early, nil
}

// ImportField copies the column at path, through to-one relations, into a
// field of this collection. Unless readOnly, writes to the field are
// forwarded to the related record.
func (c *CollectionCustomizer) ImportField(name, path string, readOnly bool) *CollectionCustomizer {
	return c.enqueue("import field "+name, func(_ context.Context, s *Stack) error {
		target, err := c.computedLayer(s, []string{path})
		if err != nil {
			return err
		}
		col, _, err := collection.ResolveColumn(target, path)
		if err != nil {
			return err
		}
		err = target.RegisterComputed(name, decorator.ComputedDefinition{
			ColumnType:   col.ColumnType,
			Dependencies: []string{path},
			DefaultValue: col.DefaultValue,
			EnumValues:   col.EnumValues,
			Computer: decorator.ComputerFunc(func(_ context.Context, _ decorator.ComputeContext, records []ir.Record) ([]ir.Value, error) {
				out := make([]ir.Value, len(records))
				for i, r := range records {
					out[i] = query.GetValue(r, path)
				}
				return out, nil
			}),
		})
		if err != nil || readOnly {
			return err
		}
		writer, err := resolve(s, s.WriteReplace, c.name)
		if err != nil {
			return err
		}
		return writer.ReplaceFieldWriting(name, decorator.WriteReplacerFunc(func(_ context.Context, _ decorator.WriteContext, v ir.Value) (ir.Record, error) {
			patch := ir.Record{}
			query.SetValue(patch, path, v)
			return patch, nil
		}))
	})
}

// RemoveField hides fields.
func (c *CollectionCustomizer) RemoveField(fields ...string) *CollectionCustomizer {
	return c.enqueue("remove fields", func(_ context.Context, s *Stack) error {
		p, err := s.Publication.Get(s.childName(c.name))
		if err != nil {
			return err
		}
		for _, f := range fields {
			if err := p.ChangeFieldVisibility(f, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// RenameField exposes field current as name.
func (c *CollectionCustomizer) RenameField(current, name string) *CollectionCustomizer {
	return c.enqueue("rename field "+current, func(_ context.Context, s *Stack) error {
		r, err := resolve(s, s.RenameField, c.name)
		if err != nil {
			return err
		}
		return r.RenameField(current, name)
	})
}

// ReplaceFieldWriting turns writes to field into the patch replacer
// returns.
func (c *CollectionCustomizer) ReplaceFieldWriting(field string, replacer decorator.WriteReplacer) *CollectionCustomizer {
	return c.enqueue("replace writing of "+field, func(_ context.Context, s *Stack) error {
		w, err := resolve(s, s.WriteReplace, c.name)
		if err != nil {
			return err
		}
		return w.ReplaceFieldWriting(field, replacer)
	})
}

// AddFieldValidation rejects writes to field that do not satisfy
// operator and value.
func (c *CollectionCustomizer) AddFieldValidation(field string, operator schema.Operator, value ir.Value) *CollectionCustomizer {
	return c.enqueue(fmt.Sprintf("add validation %s on %s", operator, field), func(_ context.Context, s *Stack) error {
		v, err := resolve(s, s.Validation, c.name)
		if err != nil {
			return err
		}
		return v.AddValidation(field, schema.ValidationRule{Operator: operator, Value: value})
	})
}

func (c *CollectionCustomizer) emulateLayer(s *Stack, field string) (*decorator.OperatorEmulateCollection, error) {
	early, err := resolve(s, s.EarlyEmulate, c.name)
	if err != nil {
		return nil, err
	}
	if _, ok := early.Schema().Fields[field]; ok {
		return early, nil
	}
	return resolve(s, s.LateEmulate, c.name)
}

// EmulateFieldOperator evaluates operator on field in memory.
func (c *CollectionCustomizer) EmulateFieldOperator(field string, operator schema.Operator) *CollectionCustomizer {
	return c.enqueue(fmt.Sprintf("emulate %s on %s", operator, field), func(_ context.Context, s *Stack) error {
		e, err := c.emulateLayer(s, field)
		if err != nil {
			return err
		}
		return e.EmulateFieldOperator(field, operator)
	})
}

// EmulateFieldFiltering emulates every operator the column type allows.
func (c *CollectionCustomizer) EmulateFieldFiltering(field string) *CollectionCustomizer {
	return c.enqueue("emulate filtering on "+field, func(_ context.Context, s *Stack) error {
		e, err := c.emulateLayer(s, field)
		if err != nil {
			return err
		}
		return e.EmulateFieldFiltering(field)
	})
}

// ReplaceFieldOperator rewrites leaves using operator on field.
func (c *CollectionCustomizer) ReplaceFieldOperator(field string, operator schema.Operator, replacer decorator.OperatorReplacer) *CollectionCustomizer {
	return c.enqueue(fmt.Sprintf("replace %s on %s", operator, field), func(_ context.Context, s *Stack) error {
		e, err := c.emulateLayer(s, field)
		if err != nil {
			return err
		}
		return e.ReplaceFieldOperator(field, operator, replacer)
	})
}

// AddRelation declares an emulated relation. Collection names in field
// may be public names.
func (c *CollectionCustomizer) AddRelation(name string, field schema.FieldSchema) *CollectionCustomizer {
	return c.enqueue("add relation "+name, func(_ context.Context, s *Stack) error {
		r, err := resolve(s, s.Relation, c.name)
		if err != nil {
			return err
		}
		return r.AddRelation(name, childRelation(s, field))
	})
}

// AddManyToOneRelation links foreignKey to the primary key of
// foreignCollection.
func (c *CollectionCustomizer) AddManyToOneRelation(name, foreignCollection, foreignKey string) *CollectionCustomizer {
	return c.AddRelation(name, &schema.ManyToOneSchema{ForeignCollection: foreignCollection, ForeignKey: foreignKey})
}

// AddOneToManyRelation links the primary key of this collection to
// originKey in foreignCollection.
func (c *CollectionCustomizer) AddOneToManyRelation(name, foreignCollection, originKey string) *CollectionCustomizer {
	return c.AddRelation(name, &schema.OneToManySchema{ForeignCollection: foreignCollection, OriginKey: originKey})
}

// AddOneToOneRelation links the primary key of this collection to
// originKey in foreignCollection.
func (c *CollectionCustomizer) AddOneToOneRelation(name, foreignCollection, originKey string) *CollectionCustomizer {
	return c.AddRelation(name, &schema.OneToOneSchema{ForeignCollection: foreignCollection, OriginKey: originKey})
}

// AddManyToManyRelation links both primary keys through throughCollection.
func (c *CollectionCustomizer) AddManyToManyRelation(name, foreignCollection, throughCollection, originKey, foreignKey string) *CollectionCustomizer {
	return c.AddRelation(name, &schema.ManyToManySchema{
		ForeignCollection: foreignCollection,
		ThroughCollection: throughCollection,
		OriginKey:         originKey,
		ForeignKey:        foreignKey,
	})
}

// childRelation maps the collection names of field to child names.
func childRelation(s *Stack, field schema.FieldSchema) schema.FieldSchema {
	switch r := field.(type) {
	case *schema.ManyToOneSchema:
		cp := *r
		cp.ForeignCollection = s.childName(r.ForeignCollection)
		return &cp
	case *schema.OneToOneSchema:
		cp := *r
		cp.ForeignCollection = s.childName(r.ForeignCollection)
		return &cp
	case *schema.OneToManySchema:
		cp := *r
		cp.ForeignCollection = s.childName(r.ForeignCollection)
		return &cp
	case *schema.ManyToManySchema:
		cp := *r
		cp.ForeignCollection = s.childName(r.ForeignCollection)
		cp.ThroughCollection = s.childName(r.ThroughCollection)
		return &cp
	}
	return field
}

// ReplaceSearch replaces the default search.
func (c *CollectionCustomizer) ReplaceSearch(searcher decorator.Searcher) *CollectionCustomizer {
	return c.enqueue("replace search", func(_ context.Context, s *Stack) error {
		sc, err := resolve(s, s.Search, c.name)
		if err != nil {
			return err
		}
		sc.ReplaceSearch(searcher)
		return nil
	})
}

// AddSegment declares a named segment.
func (c *CollectionCustomizer) AddSegment(name string, generator decorator.SegmentGenerator) *CollectionCustomizer {
	return c.enqueue("add segment "+name, func(_ context.Context, s *Stack) error {
		sc, err := resolve(s, s.Segment, c.name)
		if err != nil {
			return err
		}
		return sc.AddSegment(name, generator)
	})
}

// EmulateFieldSorting sorts on field in memory.
func (c *CollectionCustomizer) EmulateFieldSorting(field string) *CollectionCustomizer {
	return c.enqueue("emulate sorting on "+field, func(_ context.Context, s *Stack) error {
		sc, err := resolve(s, s.Sort, c.name)
		if err != nil {
			return err
		}
		return sc.EmulateFieldSorting(field)
	})
}

// ReplaceFieldSorting sorts on equivalent whenever field is requested.
func (c *CollectionCustomizer) ReplaceFieldSorting(field string, equivalent query.Sort) *CollectionCustomizer {
	return c.enqueue("replace sorting on "+field, func(_ context.Context, s *Stack) error {
		sc, err := resolve(s, s.Sort, c.name)
		if err != nil {
			return err
		}
		return sc.ReplaceFieldSorting(field, equivalent)
	})
}

// DisableFieldSorting marks field as not sortable.
func (c *CollectionCustomizer) DisableFieldSorting(field string) *CollectionCustomizer {
	return c.enqueue("disable sorting on "+field, func(_ context.Context, s *Stack) error {
		sc, err := resolve(s, s.Sort, c.name)
		if err != nil {
			return err
		}
		return sc.DisableFieldSorting(field)
	})
}

// AddChart declares a record-level chart.
func (c *CollectionCustomizer) AddChart(name string, renderer decorator.ChartRenderer) *CollectionCustomizer {
	return c.enqueue("add chart "+name, func(_ context.Context, s *Stack) error {
		cc, err := s.Chart.Get(s.childName(c.name))
		if err != nil {
			return err
		}
		return cc.AddChart(name, renderer)
	})
}

// AddAction declares an action.
func (c *CollectionCustomizer) AddAction(name string, def decorator.ActionDefinition) *CollectionCustomizer {
	return c.enqueue("add action "+name, func(_ context.Context, s *Stack) error {
		ac, err := resolve(s, s.Action, c.name)
		if err != nil {
			return err
		}
		return ac.AddAction(name, def)
	})
}

// DisableCount marks the collection as not countable.
func (c *CollectionCustomizer) DisableCount() *CollectionCustomizer {
	return c.enqueue("disable count", func(_ context.Context, s *Stack) error {
		so, err := resolve(s, s.SchemaOverride, c.name)
		if err != nil {
			return err
		}
		countable := false
		so.OverrideSchema(decorator.SchemaPatch{Countable: &countable})
		return nil
	})
}

// AddHook runs hook before or after verb.
func (c *CollectionCustomizer) AddHook(position decorator.HookPosition, verb decorator.HookVerb, hook decorator.Hook) *CollectionCustomizer {
	return c.enqueue(fmt.Sprintf("add %s %s hook", position, verb), func(_ context.Context, s *Stack) error {
		h, err := resolve(s, s.Hook, c.name)
		if err != nil {
			return err
		}
		return h.AddHook(position, verb, hook)
	})
}

// ReplaceFieldBinaryMode sets how a binary field is exposed.
func (c *CollectionCustomizer) ReplaceFieldBinaryMode(field string, mode decorator.BinaryMode) *CollectionCustomizer {
	return c.enqueue("binary mode of "+field, func(_ context.Context, s *Stack) error {
		b, err := resolve(s, s.Binary, c.name)
		if err != nil {
			return err
		}
		return b.SetBinaryMode(field, mode)
	})
}

// OverrideCreate replaces record creation.
func (c *CollectionCustomizer) OverrideCreate(h decorator.CreateHandler) *CollectionCustomizer {
	return c.enqueue("override create", func(_ context.Context, s *Stack) error {
		o, err := resolve(s, s.Override, c.name)
		if err != nil {
			return err
		}
		o.AddCreateHandler(h)
		return nil
	})
}

// OverrideUpdate replaces record updates.
func (c *CollectionCustomizer) OverrideUpdate(h decorator.UpdateHandler) *CollectionCustomizer {
	return c.enqueue("override update", func(_ context.Context, s *Stack) error {
		o, err := resolve(s, s.Override, c.name)
		if err != nil {
			return err
		}
		o.AddUpdateHandler(h)
		return nil
	})
}

// OverrideDelete replaces record deletion.
func (c *CollectionCustomizer) OverrideDelete(h decorator.DeleteHandler) *CollectionCustomizer {
	return c.enqueue("override delete", func(_ context.Context, s *Stack) error {
		o, err := resolve(s, s.Override, c.name)
		if err != nil {
			return err
		}
		o.AddDeleteHandler(h)
		return nil
	})
}

// Use installs a plugin on this collection.
func (c *CollectionCustomizer) Use(p Plugin) *CollectionCustomizer {
	return c.enqueue("use plugin", func(ctx context.Context, _ *Stack) error {
		scoped := c.parent.Scope(ctx)
		return p.Install(ctx, scoped, &CollectionCustomizer{parent: scoped, name: c.name})
	})
}
