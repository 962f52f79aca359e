package query

import (
	"github.com/roach88/strata/internal/ir"
)

// Filter selects records. The zero value matches everything.
//
// Filters are values: the With* methods return modified copies.
type Filter struct {
	ConditionTree  ConditionTree
	Search         string
	SearchExtended bool
	Segment        string
}

// WithConditionTree returns a copy using tree.
func (f Filter) WithConditionTree(tree ConditionTree) Filter {
	f.ConditionTree = tree
	return f
}

// WithSearch returns a copy with a search string.
func (f Filter) WithSearch(search string, extended bool) Filter {
	f.Search = search
	f.SearchExtended = extended
	return f
}

// WithSegment returns a copy scoped to a segment.
func (f Filter) WithSegment(segment string) Filter {
	f.Segment = segment
	return f
}

// IsNestable reports whether the filter can be moved across a relation.
// Search and segments only make sense on the collection they target.
func (f Filter) IsNestable() bool {
	return f.Search == "" && f.Segment == ""
}

// Nest prefixes every path in the filter. The filter must be nestable.
func (f Filter) Nest(prefix string) Filter {
	f.ConditionTree = NestTree(f.ConditionTree, prefix)
	return f
}

// Paginated wraps the filter with sort and page.
func (f Filter) Paginated(sort Sort, page *Page) PaginatedFilter {
	return PaginatedFilter{Filter: f, Sort: sort, Page: page}
}

// PaginatedFilter is a Filter with ordering and pagination.
type PaginatedFilter struct {
	Filter
	Sort Sort
	Page *Page
}

// NewPaginatedFilter wraps tree without sort or page.
func NewPaginatedFilter(tree ConditionTree) PaginatedFilter {
	return PaginatedFilter{Filter: Filter{ConditionTree: tree}}
}

// WithConditionTree returns a copy using tree.
func (f PaginatedFilter) WithConditionTree(tree ConditionTree) PaginatedFilter {
	f.ConditionTree = tree
	return f
}

// WithSort returns a copy using sort.
func (f PaginatedFilter) WithSort(sort Sort) PaginatedFilter {
	f.Sort = sort
	return f
}

// WithPage returns a copy using page.
func (f PaginatedFilter) WithPage(page *Page) PaginatedFilter {
	f.Page = page
	return f
}

// Nest prefixes every path in the filter and its sort.
func (f PaginatedFilter) Nest(prefix string) PaginatedFilter {
	f.Filter = f.Filter.Nest(prefix)
	f.Sort = f.Sort.Nest(prefix)
	return f
}

// Page selects a window of records.
type Page struct {
	Skip  int
	Limit int
}

// Apply returns the records inside the window. A zero limit means no limit.
func (p *Page) Apply(records []ir.Record) []ir.Record {
	if p == nil {
		return records
	}
	if p.Skip >= len(records) {
		return []ir.Record{}
	}
	out := records[p.Skip:]
	if p.Limit > 0 && p.Limit < len(out) {
		out = out[:p.Limit]
	}
	return out
}
