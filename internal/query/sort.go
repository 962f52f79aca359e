package query

import (
	"slices"
	"strings"

	"github.com/roach88/strata/internal/ir"
)

// SortClause orders by one field path.
type SortClause struct {
	Field     string
	Ascending bool
}

// Sort is a list of clauses applied in order.
type Sort []SortClause

// Projection returns the fields the sort reads.
func (s Sort) Projection() Projection {
	fields := make([]string, len(s))
	for i, c := range s {
		fields[i] = c.Field
	}
	return NewProjection(fields...)
}

// Nest prefixes every field.
func (s Sort) Nest(prefix string) Sort {
	if prefix == "" || s == nil {
		return s
	}
	out := make(Sort, len(s))
	for i, c := range s {
		out[i] = SortClause{Field: prefix + Separator + c.Field, Ascending: c.Ascending}
	}
	return out
}

// Unnest strips the first segment of every field.
func (s Sort) Unnest() Sort {
	out := make(Sort, len(s))
	for i, c := range s {
		_, rest, ok := strings.Cut(c.Field, Separator)
		if !ok {
			rest = c.Field
		}
		out[i] = SortClause{Field: rest, Ascending: c.Ascending}
	}
	return out
}

// Replace substitutes each clause with the clauses fn returns.
func (s Sort) Replace(fn func(SortClause) Sort) Sort {
	out := make(Sort, 0, len(s))
	for _, c := range s {
		out = append(out, fn(c)...)
	}
	return out
}

// Inverse flips the direction of every clause.
func (s Sort) Inverse() Sort {
	out := make(Sort, len(s))
	for i, c := range s {
		out[i] = SortClause{Field: c.Field, Ascending: !c.Ascending}
	}
	return out
}

// Apply sorts a copy of records. Nulls and unreachable values sort first
// in ascending order. The sort is stable.
func (s Sort) Apply(records []ir.Record) []ir.Record {
	out := slices.Clone(records)
	if len(s) == 0 {
		return out
	}
	slices.SortStableFunc(out, func(a, b ir.Record) int {
		for _, c := range s {
			cmp := compareForSort(GetValue(a, c.Field), GetValue(b, c.Field))
			if cmp == 0 {
				continue
			}
			if !c.Ascending {
				cmp = -cmp
			}
			return cmp
		}
		return 0
	})
	return out
}

func compareForSort(a, b ir.Value) int {
	aMissing := ir.IsNull(a) || ir.IsUndefined(a)
	bMissing := ir.IsNull(b) || ir.IsUndefined(b)
	switch {
	case aMissing && bMissing:
		return 0
	case aMissing:
		return -1
	case bMissing:
		return 1
	}
	if cmp, ok := ir.Compare(a, b); ok {
		return cmp
	}
	return strings.Compare(ir.CanonicalKey(a), ir.CanonicalKey(b))
}
