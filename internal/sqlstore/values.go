package sqlstore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// toParam converts v to a driver argument. Lists and records are stored
// as JSON text.
func toParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return nil, nil
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Float:
		return float64(val), nil
	case ir.Bool:
		return bool(val), nil
	case ir.Bytes:
		return []byte(val), nil
	case ir.List, ir.Record:
		data, err := ir.MarshalValue(val)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}

// columnParam converts v for a column. Json columns store every non-null
// value as JSON text.
func columnParam(col *schema.ColumnSchema, v ir.Value) (any, error) {
	if col != nil && (col.ColumnType.Is(schema.JSON) || !col.ColumnType.IsPrimitive()) && !ir.IsNull(v) {
		data, err := ir.MarshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	}
	return toParam(v)
}

// fromColumn converts a scanned value to the ir value of a column type.
func fromColumn(t schema.ColumnType, src any) (ir.Value, error) {
	if src == nil {
		return ir.Null{}, nil
	}
	switch {
	case t.Is(schema.Boolean):
		switch v := src.(type) {
		case bool:
			return ir.Bool(v), nil
		case int64:
			return ir.Bool(v != 0), nil
		}
	case t.Is(schema.Number):
		switch v := src.(type) {
		case int64:
			return ir.Int(v), nil
		case float64:
			return ir.Float(v), nil
		case string:
			return parseNumber(v)
		case []byte:
			return parseNumber(string(v))
		}
	case t.Is(schema.Binary):
		switch v := src.(type) {
		case []byte:
			return ir.Bytes(append([]byte{}, v...)), nil
		case string:
			return ir.Bytes(v), nil
		}
	case t.Is(schema.JSON), !t.IsPrimitive():
		text, ok := asText(src)
		if !ok {
			return fromNative(src), nil
		}
		v, err := ir.UnmarshalValue([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("decode json column: %w", err)
		}
		return v, nil
	default:
		if text, ok := asText(src); ok {
			return ir.String(text), nil
		}
	}
	return fromNative(src), nil
}

// fromNative converts a scanned value by its Go type. Native queries use
// it since their result columns have no schema.
func fromNative(src any) ir.Value {
	switch v := src.(type) {
	case nil:
		return ir.Null{}
	case int64:
		return ir.Int(v)
	case float64:
		return ir.Float(v)
	case bool:
		return ir.Bool(v)
	case string:
		return ir.String(v)
	case []byte:
		return ir.Bytes(append([]byte{}, v...))
	case time.Time:
		return ir.String(v.Format(time.RFC3339Nano))
	default:
		return ir.String(fmt.Sprint(v))
	}
}

func asText(src any) (string, bool) {
	switch v := src.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case time.Time:
		return v.Format(time.RFC3339Nano), true
	}
	return "", false
}

func parseNumber(s string) (ir.Value, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ir.Int(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return ir.Float(f), nil
}

// sqlType returns the declared type of a column.
func sqlType(t schema.ColumnType) string {
	switch {
	case t.Is(schema.Boolean):
		return "INTEGER"
	case t.Is(schema.Number):
		return "NUMERIC"
	case t.Is(schema.Binary):
		return "BLOB"
	default:
		return "TEXT"
	}
}
