package decorator

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// SegmentGenerator returns the condition tree of a segment.
type SegmentGenerator interface {
	Generate(ctx context.Context, caller *collection.Caller) (query.ConditionTree, error)
}

// SegmentGeneratorFunc adapts a function to SegmentGenerator.
type SegmentGeneratorFunc func(ctx context.Context, caller *collection.Caller) (query.ConditionTree, error)

func (f SegmentGeneratorFunc) Generate(ctx context.Context, caller *collection.Caller) (query.ConditionTree, error) {
	return f(ctx, caller)
}

// StaticSegment is a segment with a fixed condition tree.
func StaticSegment(tree query.ConditionTree) SegmentGenerator {
	return SegmentGeneratorFunc(func(context.Context, *collection.Caller) (query.ConditionTree, error) {
		return tree, nil
	})
}

// SegmentCollection adds named filters.
type SegmentCollection struct {
	*Base

	mu       sync.RWMutex
	segments map[string]SegmentGenerator
	order    []string
}

// NewSegmentDatasource applies SegmentCollection to every collection.
func NewSegmentDatasource(child collection.Datasource) *Datasource[*SegmentCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *SegmentCollection {
		s := &SegmentCollection{segments: map[string]SegmentGenerator{}}
		s.Base = NewBase(c, ds, s)
		return s
	})
}

// AddSegment declares a segment.
func (c *SegmentCollection) AddSegment(name string, generator SegmentGenerator) error {
	c.mu.Lock()
	if _, exists := c.segments[name]; exists {
		c.mu.Unlock()
		return errs.Conflict("segment %q already exists in collection %q", name, c.Name())
	}
	c.segments[name] = generator
	c.order = append(c.order, name)
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *SegmentCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s.Segments = append(s.Segments, c.order...)
	return s
}

func (c *SegmentCollection) RefineFilter(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	if filter.Segment == "" {
		return filter, nil
	}
	c.mu.RLock()
	generator, ok := c.segments[filter.Segment]
	c.mu.RUnlock()
	if !ok {
		return filter, nil
	}

	tree, err := generator.Generate(ctx, caller)
	if err != nil {
		return filter, err
	}
	if err := collection.ValidateConditionTree(c, tree); err != nil {
		return filter, err
	}
	filter.Segment = ""
	return filter.WithConditionTree(query.And(filter.ConditionTree, tree)), nil
}
