package decorator

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// Searcher turns a free-text search into a condition tree.
type Searcher interface {
	Search(ctx context.Context, caller *collection.Caller, c collection.Collection, search string, extended bool) (query.ConditionTree, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, caller *collection.Caller, c collection.Collection, search string, extended bool) (query.ConditionTree, error)

func (f SearcherFunc) Search(ctx context.Context, caller *collection.Caller, c collection.Collection, search string, extended bool) (query.ConditionTree, error) {
	return f(ctx, caller, c, search, extended)
}

// SearchCollection makes every collection searchable. Collections whose
// child searches natively are left alone unless a Searcher replaces it.
type SearchCollection struct {
	*Base

	mu       sync.RWMutex
	searcher Searcher
}

// NewSearchDatasource applies SearchCollection to every collection.
func NewSearchDatasource(child collection.Datasource) *Datasource[*SearchCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *SearchCollection {
		s := &SearchCollection{}
		s.Base = NewBase(c, ds, s)
		return s
	})
}

// ReplaceSearch sets the searcher. nil restores the default search.
func (c *SearchCollection) ReplaceSearch(s Searcher) {
	c.mu.Lock()
	c.searcher = s
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
}

func (c *SearchCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	s.Searchable = true
	return s
}

func (c *SearchCollection) RefineFilter(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	if filter.Search == "" {
		return filter, nil
	}
	c.mu.RLock()
	searcher := c.searcher
	c.mu.RUnlock()
	if searcher == nil && c.Child().Schema().Searchable {
		return filter, nil
	}

	var (
		tree query.ConditionTree
		err  error
	)
	if searcher != nil {
		tree, err = searcher.Search(ctx, caller, c, filter.Search, filter.SearchExtended)
	} else {
		tree = DefaultSearch(c.Child(), filter.Search, filter.SearchExtended)
	}
	if err != nil {
		return filter, err
	}
	filter.Search = ""
	filter.SearchExtended = false
	return filter.WithConditionTree(query.And(filter.ConditionTree, tree)), nil
}

// DefaultSearch matches every word of search against the searchable
// columns of c: every word must match at least one column. Extended search
// also looks at the columns of to-one relations.
func DefaultSearch(c collection.Collection, search string, extended bool) query.ConditionTree {
	words := strings.Fields(search)
	if len(words) == 0 {
		return nil
	}
	fields := searchableFields(c, "")
	if extended {
		for _, name := range c.Schema().FieldNames() {
			field := c.Schema().Fields[name]
			if !schema.IsToOne(field) || schema.IsPolymorphic(field) {
				continue
			}
			if related, err := foreign(c, field); err == nil {
				fields = append(fields, searchableFields(related, name)...)
			}
		}
	}

	perWord := make([]query.ConditionTree, 0, len(words))
	for _, word := range words {
		var alternatives []query.ConditionTree
		for _, f := range fields {
			if leaf, ok := searchLeaf(f, word); ok {
				alternatives = append(alternatives, leaf)
			}
		}
		perWord = append(perWord, query.Or(alternatives...))
	}
	return query.And(perWord...)
}

type searchField struct {
	path   string
	column *schema.ColumnSchema
}

func searchableFields(c collection.Collection, prefix string) []searchField {
	s := c.Schema()
	var out []searchField
	for _, name := range s.ColumnNames() {
		col, _ := s.Column(name)
		if !col.ColumnType.IsPrimitive() {
			continue
		}
		out = append(out, searchField{path: query.JoinPath(prefix, name), column: col})
	}
	return out
}

func searchLeaf(f searchField, word string) (query.ConditionTree, bool) {
	ops := f.column.FilterOperators
	switch f.column.ColumnType.Primitive {
	case schema.String:
		switch {
		case ops.Has(schema.IContains):
			return query.NewLeaf(f.path, schema.IContains, ir.String(word)), true
		case ops.Has(schema.Contains):
			return query.NewLeaf(f.path, schema.Contains, ir.String(word)), true
		}
	case schema.Enum:
		if ops.Has(schema.Equal) {
			for _, v := range f.column.EnumValues {
				if strings.EqualFold(v, word) {
					return query.NewLeaf(f.path, schema.Equal, ir.String(v)), true
				}
			}
		}
	case schema.Number:
		if n, err := strconv.ParseFloat(word, 64); err == nil && ops.Has(schema.Equal) {
			if n == float64(int64(n)) {
				return query.NewLeaf(f.path, schema.Equal, ir.Int(int64(n))), true
			}
			return query.NewLeaf(f.path, schema.Equal, ir.Float(n)), true
		}
	case schema.UUID:
		if _, err := uuid.Parse(word); err == nil && ops.Has(schema.Equal) {
			return query.NewLeaf(f.path, schema.Equal, ir.String(word)), true
		}
	}
	return nil, false
}
