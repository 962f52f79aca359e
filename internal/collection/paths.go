package collection

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// Wildcard, as the last path segment, stands for any column.
const Wildcard = "*"

// ResolveField follows path through the relation chain starting at c and
// returns the last field with the collection that owns it.
//
// Every segment but the last must name a relation. Polymorphic many-to-one
// relations cannot be crossed: the target collection depends on the record.
func ResolveField(c Collection, path string) (schema.FieldSchema, Collection, error) {
	head, rest, nested := strings.Cut(path, query.Separator)
	if !nested && head == Wildcard {
		return nil, c, nil
	}
	field, ok := c.Schema().Fields[head]
	if !ok {
		return nil, nil, errs.ValidationWith(
			map[string]any{"collection": c.Name(), "field": head},
			"unknown field %q in collection %q", head, c.Name(),
		)
	}
	if !nested {
		return field, c, nil
	}
	if !schema.IsRelation(field) {
		return nil, nil, errs.Validation("unexpected path %q: %q in collection %q is a column, not a relation", path, head, c.Name())
	}
	foreignName, ok := schema.ForeignCollection(field)
	if !ok {
		return nil, nil, errs.Validation("unexpected path %q: polymorphic relation %q cannot be crossed", path, head)
	}
	foreign, err := c.Datasource().Collection(foreignName)
	if err != nil {
		return nil, nil, err
	}
	return ResolveField(foreign, rest)
}

// ResolveColumn is ResolveField for paths that must end on a column.
func ResolveColumn(c Collection, path string) (*schema.ColumnSchema, Collection, error) {
	field, owner, err := ResolveField(c, path)
	if err != nil {
		return nil, nil, err
	}
	col, ok := field.(*schema.ColumnSchema)
	if !ok {
		return nil, nil, errs.Validation("unexpected field type for %q: expected a column", path)
	}
	return col, owner, nil
}

// ValidateProjection checks that every path ends on a column reachable
// through to-one relations.
func ValidateProjection(c Collection, projection query.Projection) error {
	for _, path := range projection {
		if err := validateToOnePath(c, path); err != nil {
			return err
		}
	}
	return nil
}

func validateToOnePath(c Collection, path string) error {
	head, rest, nested := strings.Cut(path, query.Separator)
	if !nested {
		_, _, err := ResolveColumn(c, path)
		return err
	}
	field, ok := c.Schema().Fields[head]
	if !ok {
		return errs.Validation("unknown field %q in collection %q", head, c.Name())
	}
	if !schema.IsToOne(field) {
		return errs.Validation("unexpected path %q: %q is not a to-one relation", path, head)
	}
	if _, isPoly := field.(*schema.PolymorphicManyToOneSchema); isPoly {
		// The target varies per record; only the wildcard is accepted.
		if rest != Wildcard {
			return errs.Validation("unexpected path %q: polymorphic relation %q only accepts %q", path, head, Wildcard)
		}
		return nil
	}
	foreignName, _ := schema.ForeignCollection(field)
	foreign, err := c.Datasource().Collection(foreignName)
	if err != nil {
		return err
	}
	if rest == Wildcard {
		return nil
	}
	return validateToOnePath(foreign, rest)
}

// ValidateSort checks that every sorted path resolves to a sortable column.
func ValidateSort(c Collection, sort query.Sort) error {
	for _, clause := range sort {
		col, _, err := ResolveColumn(c, clause.Field)
		if err != nil {
			return err
		}
		if !col.IsSortable {
			return errs.Validation("field %q is not sortable", clause.Field)
		}
	}
	return nil
}

// ValidateConditionTree checks that every leaf names a reachable column,
// that the column supports the operator, and that the operand fits.
func ValidateConditionTree(c Collection, tree query.ConditionTree) error {
	var firstErr error
	query.ForEachLeaf(tree, func(l query.Leaf) {
		if firstErr != nil {
			return
		}
		firstErr = validateLeaf(c, l)
	})
	return firstErr
}

func validateLeaf(c Collection, l query.Leaf) error {
	field, _, err := ResolveField(c, l.Field)
	if err != nil {
		return err
	}
	if field == nil {
		return nil
	}
	col, ok := field.(*schema.ColumnSchema)
	if !ok {
		return errs.Validation("cannot filter on relation %q", l.Field)
	}
	if !col.FilterOperators.Has(l.Operator) {
		return errs.ValidationWith(
			map[string]any{"field": l.Field, "operator": string(l.Operator), "columnType": col.ColumnType.String()},
			"the given operator %q is not supported by the column %q", l.Operator, l.Field,
		)
	}
	return validateOperand(l, col)
}

func validateOperand(l query.Leaf, col *schema.ColumnSchema) error {
	switch schema.OperatorValueKind(l.Operator) {
	case schema.ValueNone:
		return nil
	case schema.ValueInteger:
		if f, ok := ir.AsFloat(l.Value); !ok || f < 0 || f != float64(int64(f)) {
			return errs.Validation("the operator %q on %q expects a non-negative integer", l.Operator, l.Field)
		}
		return nil
	case schema.ValueString:
		if _, ok := l.Value.(ir.String); !ok {
			return errs.Validation("the operator %q on %q expects a string", l.Operator, l.Field)
		}
		return nil
	case schema.ValueList:
		list, ok := l.Value.(ir.List)
		if !ok {
			return errs.Validation("the operator %q on %q expects a list", l.Operator, l.Field)
		}
		elem := col.ColumnType
		if elem.IsArray() {
			elem = *elem.Array
		}
		for _, item := range list {
			if err := ValidateValue(l.Field, elem, col.EnumValues, item); err != nil {
				return err
			}
		}
		return nil
	default:
		if ir.IsNull(l.Value) {
			return nil
		}
		return ValidateValue(l.Field, col.ColumnType, col.EnumValues, l.Value)
	}
}

// ValidateValue checks that v can be stored in a column of type ct.
// Null fits every type.
func ValidateValue(field string, ct schema.ColumnType, enumValues []string, v ir.Value) error {
	if ir.IsNull(v) {
		return nil
	}
	if err := checkType(ct, enumValues, v); err != nil {
		return errs.ValidationWith(
			map[string]any{"field": field, "columnType": ct.String()},
			"wrong type for %q: %v", field, err,
		)
	}
	return nil
}

func checkType(ct schema.ColumnType, enumValues []string, v ir.Value) error {
	switch {
	case ct.IsArray():
		list, ok := v.(ir.List)
		if !ok {
			return fmt.Errorf("expected a list, got %T", v)
		}
		for i, item := range list {
			if ir.IsNull(item) {
				continue
			}
			if err := checkType(*ct.Array, enumValues, item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case !ct.IsPrimitive():
		rec, ok := v.(ir.Record)
		if !ok {
			return fmt.Errorf("expected an object, got %T", v)
		}
		for name, sub := range ct.Object {
			item, present := rec[name]
			if !present || ir.IsNull(item) {
				continue
			}
			if err := checkType(sub, nil, item); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	}

	switch ct.Primitive {
	case schema.Boolean:
		if _, ok := v.(ir.Bool); !ok {
			return fmt.Errorf("expected a boolean, got %T", v)
		}
	case schema.Number:
		if _, ok := ir.AsFloat(v); !ok {
			return fmt.Errorf("expected a number, got %T", v)
		}
	case schema.Binary:
		switch v.(type) {
		case ir.Bytes, ir.String:
		default:
			return fmt.Errorf("expected binary data, got %T", v)
		}
	case schema.String, schema.Time, schema.Timeonly:
		if _, ok := v.(ir.String); !ok {
			return fmt.Errorf("expected a string, got %T", v)
		}
	case schema.Date, schema.Dateonly:
		if _, ok := query.ParseDate(v, nil); !ok {
			return fmt.Errorf("expected a date, got %s", describe(v))
		}
	case schema.Enum:
		s, ok := v.(ir.String)
		if !ok {
			return fmt.Errorf("expected an enum value, got %T", v)
		}
		for _, allowed := range enumValues {
			if allowed == string(s) {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %v", s, enumValues)
	case schema.UUID:
		s, ok := v.(ir.String)
		if !ok {
			return fmt.Errorf("expected a uuid, got %T", v)
		}
		if _, err := uuid.Parse(string(s)); err != nil {
			return fmt.Errorf("invalid uuid %q: %w", s, err)
		}
	case schema.Point:
		list, ok := v.(ir.List)
		if !ok || len(list) != 2 {
			return fmt.Errorf("expected a [x, y] point, got %s", describe(v))
		}
		for _, coord := range list {
			if _, ok := ir.AsFloat(coord); !ok {
				return fmt.Errorf("expected numeric coordinates, got %s", describe(v))
			}
		}
	case schema.JSON:
	}
	return nil
}

func describe(v ir.Value) string {
	b, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	return string(b)
}

// ValidateAggregation checks the aggregated field and group fields.
func ValidateAggregation(c Collection, agg query.Aggregation) error {
	if err := agg.Validate(); err != nil {
		return errs.Validation("%v", err)
	}
	if agg.Field != "" {
		if _, _, err := ResolveColumn(c, agg.Field); err != nil {
			return err
		}
	}
	for _, g := range agg.Groups {
		col, _, err := ResolveColumn(c, g.Field)
		if err != nil {
			return err
		}
		if g.Operation != "" && !col.ColumnType.Is(schema.Date) && !col.ColumnType.Is(schema.Dateonly) {
			return errs.Validation("date operation %s on non-date field %q", g.Operation, g.Field)
		}
	}
	return nil
}

// ValidateRecord checks every field written by a create or update patch.
// Relations accept nested records and are validated recursively.
func ValidateRecord(c Collection, record ir.Record) error {
	for name, v := range record {
		field, ok := c.Schema().Fields[name]
		if !ok {
			return errs.ValidationWith(
				map[string]any{"collection": c.Name(), "field": name},
				"unknown field %q in collection %q", name, c.Name(),
			)
		}
		switch f := field.(type) {
		case *schema.ColumnSchema:
			if f.IsReadOnly {
				return errs.Validation("field %q in collection %q is read-only", name, c.Name())
			}
			if err := ValidateValue(name, f.ColumnType, f.EnumValues, v); err != nil {
				return err
			}
		case *schema.ManyToOneSchema, *schema.OneToOneSchema:
			if ir.IsNull(v) {
				continue
			}
			sub, ok := v.(ir.Record)
			if !ok {
				return errs.Validation("relation %q expects a record, got %s", name, describe(v))
			}
			foreignName, _ := schema.ForeignCollection(f)
			foreign, err := c.Datasource().Collection(foreignName)
			if err != nil {
				return err
			}
			if err := ValidateRecord(foreign, sub); err != nil {
				return err
			}
		default:
			return errs.Validation("relation %q in collection %q cannot be written", name, c.Name())
		}
	}
	return nil
}
