package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PrimitiveType is a scalar column type.
type PrimitiveType string

const (
	Boolean  PrimitiveType = "Boolean"
	Binary   PrimitiveType = "Binary"
	Date     PrimitiveType = "Date"
	Dateonly PrimitiveType = "Dateonly"
	Enum     PrimitiveType = "Enum"
	JSON     PrimitiveType = "Json"
	Number   PrimitiveType = "Number"
	Point    PrimitiveType = "Point"
	String   PrimitiveType = "String"
	Time     PrimitiveType = "Time"
	Timeonly PrimitiveType = "Timeonly"
	UUID     PrimitiveType = "Uuid"
)

// PrimitiveTypes lists every primitive type.
var PrimitiveTypes = []PrimitiveType{
	Boolean, Binary, Date, Dateonly, Enum, JSON, Number, Point, String, Time, Timeonly, UUID,
}

// ColumnType is either a primitive, an array of a column type, or an
// object whose keys map to column types.
// Exactly one of Primitive, Array, Object is set.
type ColumnType struct {
	Primitive PrimitiveType
	Array     *ColumnType
	Object    map[string]ColumnType
}

// Primitive creates a primitive column type.
func Primitive(p PrimitiveType) ColumnType {
	return ColumnType{Primitive: p}
}

// ArrayOf creates an array column type.
func ArrayOf(elem ColumnType) ColumnType {
	return ColumnType{Array: &elem}
}

// ObjectOf creates a nested object column type.
func ObjectOf(fields map[string]ColumnType) ColumnType {
	return ColumnType{Object: fields}
}

// IsPrimitive reports whether the type is a scalar.
func (t ColumnType) IsPrimitive() bool {
	return t.Primitive != ""
}

// Is reports whether the type is the given primitive.
func (t ColumnType) Is(p PrimitiveType) bool {
	return t.Primitive == p
}

// IsArray reports whether the type is an array.
func (t ColumnType) IsArray() bool {
	return t.Array != nil
}

// String renders the type compactly, e.g. "Number", "[String]", "{a:Number}".
func (t ColumnType) String() string {
	switch {
	case t.Primitive != "":
		return string(t.Primitive)
	case t.Array != nil:
		return "[" + t.Array.String() + "]"
	default:
		keys := make([]string, 0, len(t.Object))
		for k := range t.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += k + ":" + t.Object[k].String()
		}
		return out + "}"
	}
}

// MarshalJSON encodes primitives as strings, arrays as one-element lists
// and objects as maps.
func (t ColumnType) MarshalJSON() ([]byte, error) {
	switch {
	case t.Primitive != "":
		return json.Marshal(string(t.Primitive))
	case t.Array != nil:
		return json.Marshal([]ColumnType{*t.Array})
	default:
		return json.Marshal(t.Object)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *ColumnType) UnmarshalJSON(data []byte) error {
	var prim string
	if err := json.Unmarshal(data, &prim); err == nil {
		*t = Primitive(PrimitiveType(prim))
		return nil
	}
	var arr []ColumnType
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) != 1 {
			return fmt.Errorf("array column type needs exactly one element type, got %d", len(arr))
		}
		*t = ArrayOf(arr[0])
		return nil
	}
	var obj map[string]ColumnType
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid column type %s: %w", string(data), err)
	}
	*t = ObjectOf(obj)
	return nil
}
