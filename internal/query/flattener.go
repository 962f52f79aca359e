package query

import (
	"strings"

	"github.com/roach88/strata/internal/ir"
)

// NullMarker is the last segment of synthetic paths that record whether a
// to-one relation is null, e.g. "author:__null_marker".
const NullMarker = "__null_marker"

// WithNullMarkers adds a marker path for every relation the projection
// crosses, at every depth.
func WithNullMarkers(p Projection) Projection {
	var markers []string
	for _, f := range p {
		parts := strings.Split(f, Separator)
		for i := 1; i < len(parts); i++ {
			if parts[i-1] == NullMarker {
				break
			}
			markers = append(markers, strings.Join(parts[:i], Separator)+Separator+NullMarker)
		}
	}
	return p.Union(markers)
}

// StripNullMarkers removes marker paths.
func StripNullMarkers(p Projection) Projection {
	var out []string
	for _, f := range p {
		if !isMarker(f) {
			out = append(out, f)
		}
	}
	return NewProjection(out...)
}

func isMarker(path string) bool {
	return path == NullMarker || strings.HasSuffix(path, Separator+NullMarker)
}

// Flatten turns records into one column per projected path.
//
// columns[i][j] is the value of projection[i] on records[j]:
//   - the stored value, including ir.Null
//   - ir.Undefined when the path is absent or crosses a null relation
//
// Marker paths hold ir.Null when the relation is null, an empty ir.Record
// when it is present, and ir.Undefined otherwise.
func Flatten(records []ir.Record, projection Projection) [][]ir.Value {
	columns := make([][]ir.Value, len(projection))
	for i, path := range projection {
		column := make([]ir.Value, len(records))
		for j, rec := range records {
			column[j] = flattenCell(rec, path)
		}
		columns[i] = column
	}
	return columns
}

func flattenCell(record ir.Record, path string) ir.Value {
	if isMarker(path) {
		relation := strings.TrimSuffix(strings.TrimSuffix(path, NullMarker), Separator)
		switch walk(record, relation).(type) {
		case nil, ir.Null:
			return ir.Null{}
		case ir.Record:
			return ir.Record{}
		default:
			return ir.Undefined
		}
	}
	return walk(record, path)
}

// walk follows to-one relations only; anything else is Undefined.
func walk(record ir.Record, path string) ir.Value {
	parts := strings.Split(path, Separator)
	current := record
	for i, part := range parts {
		v, ok := current[part]
		if !ok {
			return ir.Undefined
		}
		if i == len(parts)-1 {
			if v == nil {
				return ir.Null{}
			}
			return v
		}
		next, ok := v.(ir.Record)
		if !ok {
			return ir.Undefined
		}
		current = next
	}
	return ir.Undefined
}

// Unflatten rebuilds records from Flatten output.
//
// Undefined cells are skipped, Null cells are written, and markers
// materialize null or empty relations. With markers present:
//
//	Unflatten(Flatten(R, WithNullMarkers(P)), WithNullMarkers(P)) == P.Apply(R)
func Unflatten(columns [][]ir.Value, projection Projection) []ir.Record {
	count := 0
	if len(columns) > 0 {
		count = len(columns[0])
	}
	records := make([]ir.Record, count)
	for j := range records {
		rec := ir.Record{}
		for i, path := range projection {
			value := columns[i][j]
			if ir.IsUndefined(value) {
				continue
			}
			if isMarker(path) {
				relation := strings.TrimSuffix(strings.TrimSuffix(path, NullMarker), Separator)
				if ir.IsNull(value) {
					parent, last := ensureParent(rec, relation)
					if _, isRecord := parent[last].(ir.Record); !isRecord {
						parent[last] = ir.Null{}
					}
				} else {
					parent, last := ensureParent(rec, relation)
					if _, isRecord := parent[last].(ir.Record); !isRecord {
						parent[last] = ir.Record{}
					}
				}
				continue
			}
			parent, last := ensureParent(rec, path)
			parent[last] = value
		}
		records[j] = rec
	}
	return records
}

// ensureParent creates the records leading to path and returns the
// innermost one along with the last segment.
func ensureParent(record ir.Record, path string) (ir.Record, string) {
	parts := strings.Split(path, Separator)
	current := record
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(ir.Record)
		if !ok {
			next = ir.Record{}
			current[part] = next
		}
		current = next
	}
	return current, parts[len(parts)-1]
}
