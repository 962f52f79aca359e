package decorator

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

type sortMode int

const (
	sortEmulated sortMode = iota + 1
	sortReplaced
	sortDisabled
)

type sortRule struct {
	mode        sortMode
	replacement query.Sort
}

// SortCollection changes how fields sort: in memory, through an
// equivalent sort, or not at all.
type SortCollection struct {
	*Base

	mu    sync.RWMutex
	rules map[string]sortRule
}

// NewSortDatasource applies SortCollection to every collection.
func NewSortDatasource(child collection.Datasource) *Datasource[*SortCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *SortCollection {
		s := &SortCollection{rules: map[string]sortRule{}}
		s.Base = NewBase(c, ds, s)
		return s
	})
}

// EmulateFieldSorting sorts field in memory.
func (c *SortCollection) EmulateFieldSorting(field string) error {
	return c.setRule(field, sortRule{mode: sortEmulated})
}

// ReplaceFieldSorting sorts field by another sort. Clauses of the
// replacement are flipped when field sorts descending.
func (c *SortCollection) ReplaceFieldSorting(field string, equivalent query.Sort) error {
	if err := collection.ValidateSort(c.Child(), equivalent); err != nil {
		return err
	}
	return c.setRule(field, sortRule{mode: sortReplaced, replacement: equivalent})
}

// DisableFieldSorting marks field as not sortable.
func (c *SortCollection) DisableFieldSorting(field string) error {
	return c.setRule(field, sortRule{mode: sortDisabled})
}

func (c *SortCollection) setRule(field string, rule sortRule) error {
	if _, ok := c.Child().Schema().Column(field); !ok {
		return errs.ValidationWith(
			map[string]any{"collection": c.Name(), "field": field},
			"cannot change sorting of %q in collection %q: not a column", field, c.Name(),
		)
	}
	c.mu.Lock()
	c.rules[field] = rule
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *SortCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for field, rule := range c.rules {
		if col, ok := s.Column(field); ok {
			col.IsSortable = rule.mode != sortDisabled
		}
	}
	return s
}

func (c *SortCollection) rule(field string) (sortRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rules[field]
	return r, ok
}

// at returns the sort decorator owning the last segment of path.
func (c *SortCollection) at(path string) (*SortCollection, string, bool) {
	head, rest, nested := query.SplitPath(path)
	if !nested {
		return c, path, true
	}
	field, ok := c.Schema().Fields[head]
	if !ok || !schema.IsToOne(field) || schema.IsPolymorphic(field) {
		return nil, "", false
	}
	next, err := foreign(c, field)
	if err != nil {
		return nil, "", false
	}
	sc, ok := next.(*SortCollection)
	if !ok {
		return nil, "", false
	}
	return sc.at(rest)
}

func (c *SortCollection) rewriteSort(sort query.Sort) query.Sort {
	return sort.Replace(func(clause query.SortClause) query.Sort {
		owner, field, ok := c.at(clause.Field)
		if !ok {
			return query.Sort{clause}
		}
		rule, ok := owner.rule(field)
		if !ok || rule.mode != sortReplaced {
			return query.Sort{clause}
		}
		prefix, _ := splitLast(clause.Field)
		replacement := rule.replacement
		if prefix != "" {
			replacement = replacement.Nest(prefix)
		}
		if !clause.Ascending {
			replacement = replacement.Inverse()
		}
		return replacement
	})
}

func (c *SortCollection) isEmulated(path string) bool {
	owner, field, ok := c.at(path)
	if !ok {
		return false
	}
	rule, ok := owner.rule(field)
	return ok && rule.mode == sortEmulated
}

func (c *SortCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	filter.Sort = c.rewriteSort(filter.Sort)
	if !lo.SomeBy(filter.Sort.Projection(), c.isEmulated) {
		return c.Child().List(ctx, caller, filter, projection)
	}

	// Sort the keys of every matching record, then fetch the page.
	s := c.Schema()
	unpaged := query.PaginatedFilter{Filter: filter.Filter}
	reference, err := c.Child().List(ctx, caller, unpaged, withPrimaryKeys(filter.Sort.Projection(), s))
	if err != nil {
		return nil, err
	}
	reference = filter.Page.Apply(filter.Sort.Apply(reference))
	ids := primaryKeys(s, reference)
	if len(ids) == 0 {
		return []ir.Record{}, nil
	}

	records, err := c.Child().List(ctx, caller,
		query.NewPaginatedFilter(collection.IDFilter(s, ids)),
		withPrimaryKeys(projection, s))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]ir.Record, len(records))
	for _, r := range records {
		if id, err := collection.PrimaryKey(s, r); err == nil {
			byID[ir.CanonicalKey(ir.List(id))] = r
		}
	}
	ordered := make([]ir.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[ir.CanonicalKey(ir.List(id))]; ok {
			ordered = append(ordered, r)
		}
	}
	return projection.Apply(ordered), nil
}
