package query

import (
	"strings"

	"github.com/roach88/strata/internal/ir"
)

// GetValue reads the value at path on record.
//
// Returns ir.Undefined when a segment is absent, and when the path goes
// through a null relation. Crossing a List (to-many relation) collects the
// values of every element into a List.
func GetValue(record ir.Record, path string) ir.Value {
	head, rest, nested := strings.Cut(path, Separator)
	v, ok := record[head]
	if !ok {
		return ir.Undefined
	}
	if !nested {
		if v == nil {
			return ir.Null{}
		}
		return v
	}
	switch val := v.(type) {
	case ir.Record:
		return GetValue(val, rest)
	case ir.List:
		out := make(ir.List, 0, len(val))
		for _, elem := range val {
			if rec, ok := elem.(ir.Record); ok {
				if sub := GetValue(rec, rest); !ir.IsUndefined(sub) {
					out = append(out, sub)
				}
			}
		}
		return out
	default:
		return ir.Undefined
	}
}

// SetValue writes v at path, creating intermediate records.
// Writing through a null or non-record intermediate replaces it.
func SetValue(record ir.Record, path string, v ir.Value) {
	head, rest, nested := strings.Cut(path, Separator)
	if !nested {
		record[head] = v
		return
	}
	child, ok := record[head].(ir.Record)
	if !ok {
		child = ir.Record{}
		record[head] = child
	}
	SetValue(child, rest, v)
}

// DeleteValue removes the value at path. Relations left empty stay.
func DeleteValue(record ir.Record, path string) {
	head, rest, nested := strings.Cut(path, Separator)
	if !nested {
		delete(record, head)
		return
	}
	if child, ok := record[head].(ir.Record); ok {
		DeleteValue(child, rest)
	}
}

// SplitPath returns the first segment and the remaining path.
func SplitPath(path string) (head, rest string, nested bool) {
	return strings.Cut(path, Separator)
}

// JoinPath joins segments with Separator, skipping empty ones.
func JoinPath(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, Separator)
}
