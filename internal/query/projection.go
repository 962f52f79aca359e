package query

import (
	"slices"
	"strings"

	"github.com/roach88/strata/internal/ir"
)

// Projection is an ordered, duplicate-free set of field paths.
type Projection []string

// NewProjection creates a projection, dropping duplicates and empty paths.
func NewProjection(fields ...string) Projection {
	seen := make(map[string]bool, len(fields))
	out := make(Projection, 0, len(fields))
	for _, f := range fields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Contains reports whether path is in the projection.
func (p Projection) Contains(path string) bool {
	return slices.Contains(p, path)
}

// Columns returns the paths that do not cross a relation.
func (p Projection) Columns() []string {
	var out []string
	for _, f := range p {
		if !strings.Contains(f, Separator) {
			out = append(out, f)
		}
	}
	return out
}

// RelationNames returns the relations crossed, in order of first appearance.
func (p Projection) RelationNames() []string {
	var names []string
	seen := map[string]bool{}
	for _, f := range p {
		if head, _, ok := strings.Cut(f, Separator); ok && !seen[head] {
			seen[head] = true
			names = append(names, head)
		}
	}
	return names
}

// Relations groups sub-paths by the first relation they cross.
func (p Projection) Relations() map[string]Projection {
	out := map[string]Projection{}
	for _, f := range p {
		if head, rest, ok := strings.Cut(f, Separator); ok {
			out[head] = NewProjection(append(out[head], rest)...)
		}
	}
	return out
}

// Nest prefixes every path.
func (p Projection) Nest(prefix string) Projection {
	if prefix == "" {
		return p
	}
	out := make(Projection, len(p))
	for i, f := range p {
		out[i] = prefix + Separator + f
	}
	return out
}

// Unnest strips the first segment of every path; columns are dropped.
func (p Projection) Unnest() Projection {
	var out []string
	for _, f := range p {
		if _, rest, ok := strings.Cut(f, Separator); ok {
			out = append(out, rest)
		}
	}
	return NewProjection(out...)
}

// Union merges projections preserving order.
func (p Projection) Union(others ...Projection) Projection {
	all := append(Projection{}, p...)
	for _, o := range others {
		all = append(all, o...)
	}
	return NewProjection(all...)
}

// Replace maps each path to zero or more paths.
func (p Projection) Replace(fn func(path string) Projection) Projection {
	var out []string
	for _, f := range p {
		out = append(out, fn(f)...)
	}
	return NewProjection(out...)
}

// Equals reports whether both projections hold the same paths, in any order.
func (p Projection) Equals(other Projection) bool {
	if len(p) != len(other) {
		return false
	}
	for _, f := range p {
		if !other.Contains(f) {
			return false
		}
	}
	return true
}

// Apply keeps only the projected paths of each record.
//
// Null relations stay null; present relations are kept as records even
// when none of their projected fields are present.
func (p Projection) Apply(records []ir.Record) []ir.Record {
	out := make([]ir.Record, len(records))
	for i, rec := range records {
		out[i] = p.applyOne(rec)
	}
	return out
}

func (p Projection) applyOne(record ir.Record) ir.Record {
	if record == nil {
		return nil
	}
	out := ir.Record{}
	for _, col := range p.Columns() {
		if v, ok := record[col]; ok {
			if v == nil {
				v = ir.Null{}
			}
			out[col] = v
		}
	}
	relations := p.Relations()
	for _, name := range p.RelationNames() {
		v, ok := record[name]
		if !ok {
			continue
		}
		switch rel := v.(type) {
		case ir.Record:
			out[name] = relations[name].applyOne(rel)
		case nil, ir.Null:
			out[name] = ir.Null{}
		}
	}
	return out
}
