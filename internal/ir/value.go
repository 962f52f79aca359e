package ir

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Value is a sealed interface representing record values.
// Only Null, String, Int, Float, Bool, Bytes, List, Record and the
// Undefined sentinel implement it.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Null represents a present-but-empty value.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string value.
// Dates, times and uuids travel as strings.
type String string

func (String) irValue() {}

// Int represents an integer value.
type Int int64

func (Int) irValue() {}

// Float represents a floating point value (averages, decimal columns).
type Float float64

func (Float) irValue() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) irValue() {}

// Bytes represents raw binary content.
type Bytes []byte

func (Bytes) irValue() {}

// List represents an ordered list of values (to-many relations, In operands).
type List []Value

func (List) irValue() {}

// Record represents a map of field names to values.
// Nested Records hold to-one relations.
type Record map[string]Value

func (Record) irValue() {}

// undefined is the type of the Undefined sentinel.
type undefined struct{}

func (undefined) irValue() {}

// Undefined marks a cell that was not present on a record.
// It is distinct from Null, which means "present and empty".
// Undefined never appears in records handed to callers.
var Undefined Value = undefined{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v Value) bool {
	_, ok := v.(undefined)
	return ok
}

// IsNull reports whether v is Null.
// A nil interface is treated as Null so zero-valued fields behave.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// NewList creates a List from values.
func NewList(vals ...Value) List {
	return List(vals)
}

// Pair is a key-value pair for typed Record construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: NewRecord(O("title", String("Foundation")), O("id", Int(1)))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewRecord creates a Record from pairs.
func NewRecord(pairs ...Pair) Record {
	rec := make(Record, len(pairs))
	for _, p := range pairs {
		rec[p.Key] = p.Value
	}
	return rec
}

// SortedKeys returns the record keys in lexical order.
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = Clone(v)
	}
	return out
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case List:
		out := make(List, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Bytes:
		return Bytes(slices.Clone([]byte(val)))
	default:
		return v
	}
}

// FromAny converts a Go value (decoded JSON, YAML, SQL scan) into a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case []byte:
		return Bytes(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return Int(val), nil
	case float32:
		return numberFromFloat(float64(val)), nil
	case float64:
		return numberFromFloat(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Float(f), nil
	case time.Time:
		return String(val.Format(time.RFC3339Nano)), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			item, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			list[i] = item
		}
		return list, nil
	case map[string]any:
		rec := make(Record, len(val))
		for k, elem := range val {
			item, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("record[%q]: %w", k, err)
			}
			rec[k] = item
		}
		return rec, nil
	case map[any]any:
		rec := make(Record, len(val))
		for k, elem := range val {
			item, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("record[%v]: %w", k, err)
			}
			rec[fmt.Sprint(k)] = item
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MustFromAny is like FromAny but panics on error.
// Use only in tests or with known inputs.
func MustFromAny(v any) Value {
	out, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return out
}

// RecordFromMap converts a plain map into a Record.
func RecordFromMap(m map[string]any) (Record, error) {
	v, err := FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(Record), nil
}

// numberFromFloat keeps integral floats as Int so decoded JSON compares
// equal to values produced by stores.
func numberFromFloat(f float64) Value {
	if f == float64(int64(f)) && f < 1<<53 && f > -(1<<53) {
		return Int(int64(f))
	}
	return Float(f)
}

// ToAny converts a Value back into plain Go values.
// Undefined converts to nil.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null, undefined:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Bytes:
		return []byte(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Record:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// AsString returns the string content of String values.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// AsFloat returns the numeric content of Int and Float values.
func AsFloat(v Value) (float64, bool) {
	switch val := v.(type) {
	case Int:
		return float64(val), true
	case Float:
		return float64(val), true
	default:
		return 0, false
	}
}

// Equal reports deep equality. Int and Float compare numerically.
func Equal(a, b Value) bool {
	if IsUndefined(a) || IsUndefined(b) {
		return IsUndefined(a) && IsUndefined(b)
	}
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if fa, ok := AsFloat(a); ok {
		fb, ok := AsFloat(b)
		return ok && fa == fb
	}
	switch va := a.(type) {
	case String:
		vb, ok := b.(String)
		return ok && va == vb
	case Bool:
		vb, ok := b.(Bool)
		return ok && va == vb
	case Bytes:
		vb, ok := b.(Bytes)
		return ok && bytes.Equal(va, vb)
	case List:
		vb, ok := b.(List)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !Equal(va[i], vb[i]) {
				return false
			}
		}
		return true
	case Record:
		vb, ok := b.(Record)
		if !ok || len(va) != len(vb) {
			return false
		}
		for k, v := range va {
			other, ok := vb[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values of comparable kinds.
// The second result is false when the values cannot be ordered
// (mixed kinds, nulls, lists, records).
func Compare(a, b Value) (int, bool) {
	if fa, ok := AsFloat(a); ok {
		fb, ok := AsFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	switch va := a.(type) {
	case String:
		vb, ok := b.(String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(va), string(vb)), true
	case Bool:
		vb, ok := b.(Bool)
		if !ok {
			return 0, false
		}
		switch {
		case va == vb:
			return 0, true
		case !bool(va):
			return -1, true
		default:
			return 1, true
		}
	case Bytes:
		vb, ok := b.(Bytes)
		if !ok {
			return 0, false
		}
		return bytes.Compare(va, vb), true
	}
	return 0, false
}

// MarshalJSON implements json.Marshaler for Record with sorted keys.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, k := range r.SortedKeys() {
		if IsUndefined(r[k]) {
			continue
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := MarshalValue(r[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for List.
func (l List) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalValue marshals a Value to JSON bytes.
// Bytes are encoded as base64 strings.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null, undefined:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		return json.Marshal(float64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Bytes:
		return json.Marshal(base64.StdEncoding.EncodeToString(val))
	case List:
		return val.MarshalJSON()
	case Record:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes JSON into a Value, keeping integers as Int.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// UnmarshalJSON implements json.Unmarshaler for Record.
func (r *Record) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	rec, ok := v.(Record)
	if !ok {
		return fmt.Errorf("expected object, got %T", v)
	}
	*r = rec
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for List.
func (l *List) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	list, ok := v.(List)
	if !ok {
		return fmt.Errorf("expected array, got %T", v)
	}
	*l = list
	return nil
}
