package sqlstore

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// nativeOperators are the operators the compiler translates. Columns only
// advertise these; the decorators emulate the rest.
var nativeOperators = schema.NewOperatorSet(
	schema.Present, schema.Blank, schema.Missing,
	schema.Equal, schema.NotEqual, schema.In, schema.NotIn,
	schema.LessThan, schema.GreaterThan, schema.LessThanOrEqual, schema.GreaterThanOrEqual,
	schema.Contains, schema.NotContains, schema.StartsWith,
)

// selected is one column of a compiled SELECT.
type selected struct {
	path   string
	column *schema.ColumnSchema
}

// selectQuery is a SELECT over one collection under construction. Every
// to-one relation a path crosses becomes a LEFT JOIN, shared by all paths
// through the same relation.
//
// All values are parameterized, never interpolated.
type selectQuery struct {
	root    *Collection
	aliases map[string]string
	owners  map[string]*Collection
	joins   []string
	params  []any
}

func newSelect(c *Collection) *selectQuery {
	return &selectQuery{
		root:    c,
		aliases: map[string]string{"": "t0"},
		owners:  map[string]*Collection{"": c},
	}
}

// quote quotes an identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// from returns the FROM clause with every join added so far.
func (q *selectQuery) from() string {
	parts := append([]string{quote(q.root.name) + " AS t0"}, q.joins...)
	return strings.Join(parts, " ")
}

// column resolves a column path to an SQL expression.
func (q *selectQuery) column(path string) (string, *schema.ColumnSchema, error) {
	prefix, owner, rest := "", q.root, path
	for {
		head, tail, nested := query.SplitPath(rest)
		field, ok := owner.schema.Fields[head]
		if !ok {
			return "", nil, errs.Validation("unknown field %q in collection %q", head, owner.name)
		}
		if !nested {
			col, ok := field.(*schema.ColumnSchema)
			if !ok {
				return "", nil, errs.Validation("field %q of collection %q is not a column", head, owner.name)
			}
			return q.aliases[prefix] + "." + quote(head), col, nil
		}
		next, err := q.join(prefix, owner, head, field)
		if err != nil {
			return "", nil, err
		}
		prefix, owner, rest = query.JoinPath(prefix, head), next, tail
	}
}

// join adds the LEFT JOIN for relation name of owner, reached at prefix.
func (q *selectQuery) join(prefix string, owner *Collection, name string, field schema.FieldSchema) (*Collection, error) {
	path := query.JoinPath(prefix, name)
	if c, ok := q.owners[path]; ok {
		return c, nil
	}
	foreignName, ok := schema.ForeignCollection(field)
	if !ok || !schema.IsToOne(field) || schema.IsPolymorphic(field) {
		return nil, errs.Validation("relation %q of collection %q cannot be joined", name, owner.name)
	}
	foreign, err := owner.ds.collection(foreignName)
	if err != nil {
		return nil, err
	}

	parent := q.aliases[prefix]
	alias := fmt.Sprintf("t%d", len(q.aliases))
	var on string
	switch r := field.(type) {
	case *schema.ManyToOneSchema:
		target, err := keyOrPrimary(foreign, r.ForeignKeyTarget)
		if err != nil {
			return nil, err
		}
		on = fmt.Sprintf("%s.%s = %s.%s", alias, quote(target), parent, quote(r.ForeignKey))
	case *schema.OneToOneSchema:
		target, err := keyOrPrimary(owner, r.OriginKeyTarget)
		if err != nil {
			return nil, err
		}
		on = fmt.Sprintf("%s.%s = %s.%s", alias, quote(r.OriginKey), parent, quote(target))
	}

	q.aliases[path] = alias
	q.owners[path] = foreign
	q.joins = append(q.joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s", quote(foreign.name), alias, on))
	return foreign, nil
}

// keyOrPrimary returns key, or the single primary key of c when key is
// empty.
func keyOrPrimary(c *Collection, key string) (string, error) {
	if key != "" {
		return key, nil
	}
	pks := c.schema.PrimaryKeys()
	if len(pks) != 1 {
		return "", errs.Validation("collection %q needs exactly one primary key to be joined", c.name)
	}
	return pks[0], nil
}

// where compiles a condition tree. A nil tree is true.
func (q *selectQuery) where(tree query.ConditionTree) (string, error) {
	switch t := tree.(type) {
	case nil:
		return "1 = 1", nil
	case query.Leaf:
		return q.leaf(t)
	case query.Branch:
		if len(t.Conditions) == 0 {
			if t.Aggregator == query.AggregatorOr {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		parts := make([]string, len(t.Conditions))
		for i, cond := range t.Conditions {
			sql, err := q.where(cond)
			if err != nil {
				return "", err
			}
			parts[i] = sql
		}
		sep := " AND "
		if t.Aggregator == query.AggregatorOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	default:
		return "", fmt.Errorf("unsupported condition tree type: %T", tree)
	}
}

func (q *selectQuery) param(col *schema.ColumnSchema, v ir.Value) error {
	p, err := columnParam(col, v)
	if err != nil {
		return errs.Validation("%v", err)
	}
	q.params = append(q.params, p)
	return nil
}

// leaf compiles one condition. Null handling follows the in-memory
// matcher: NotEqual, NotIn and NotContains match null values.
func (q *selectQuery) leaf(l query.Leaf) (string, error) {
	expr, col, err := q.column(l.Field)
	if err != nil {
		return "", err
	}
	switch l.Operator {
	case schema.Present:
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", expr, expr), nil
	case schema.Blank:
		return fmt.Sprintf("(%s IS NULL OR %s = '')", expr, expr), nil
	case schema.Missing:
		return expr + " IS NULL", nil
	case schema.Equal:
		if ir.IsNull(l.Value) {
			return expr + " IS NULL", nil
		}
		return expr + " = ?", q.param(col, l.Value)
	case schema.NotEqual:
		if ir.IsNull(l.Value) {
			return expr + " IS NOT NULL", nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s <> ?)", expr, expr), q.param(col, l.Value)
	case schema.LessThan, schema.GreaterThan, schema.LessThanOrEqual, schema.GreaterThanOrEqual:
		return fmt.Sprintf("%s %s ?", expr, comparison[l.Operator]), q.param(col, l.Value)
	case schema.In, schema.NotIn:
		return q.in(expr, col, l)
	case schema.Contains:
		return fmt.Sprintf("instr(%s, ?) > 0", expr), q.param(col, l.Value)
	case schema.NotContains:
		return fmt.Sprintf("(%s IS NULL OR instr(%s, ?) = 0)", expr, expr), q.param(col, l.Value)
	case schema.StartsWith:
		if err := q.param(col, l.Value); err != nil {
			return "", err
		}
		return fmt.Sprintf("substr(%s, 1, length(?)) = ?", expr), q.param(col, l.Value)
	default:
		return "", errs.Validation("operator %s is not supported on %q", l.Operator, l.Field)
	}
}

var comparison = map[schema.Operator]string{
	schema.LessThan:           "<",
	schema.GreaterThan:        ">",
	schema.LessThanOrEqual:    "<=",
	schema.GreaterThanOrEqual: ">=",
}

func (q *selectQuery) in(expr string, col *schema.ColumnSchema, l query.Leaf) (string, error) {
	list, ok := l.Value.(ir.List)
	if !ok {
		list = ir.List{l.Value}
	}
	hasNull := false
	var placeholders []string
	for _, v := range list {
		if ir.IsNull(v) {
			hasNull = true
			continue
		}
		if err := q.param(col, v); err != nil {
			return "", err
		}
		placeholders = append(placeholders, "?")
	}

	in := "1 = 0"
	if len(placeholders) > 0 {
		in = fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", "))
	}
	if l.Operator == schema.In {
		if hasNull {
			return fmt.Sprintf("(%s OR %s IS NULL)", in, expr), nil
		}
		return in, nil
	}
	if hasNull {
		return fmt.Sprintf("(%s IS NOT NULL AND NOT %s)", expr, in), nil
	}
	return fmt.Sprintf("(%s IS NULL OR NOT %s)", expr, in), nil
}

// orderBy compiles sort and appends the stable order key.
func (q *selectQuery) orderBy(sort query.Sort) (string, error) {
	parts := make([]string, 0, len(sort)+1)
	for _, clause := range sort {
		expr, _, err := q.column(clause.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if !clause.Ascending {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s COLLATE BINARY %s", expr, dir))
	}
	parts = append(parts, stableOrderKey)
	return strings.Join(parts, ", "), nil
}

// stableOrderKey breaks ties by insertion order.
const stableOrderKey = "t0.rowid ASC"

// compileList compiles a List call. The returned columns are in SELECT
// order; a trailing null marker follows for every relation crossed by the
// projection.
func (c *Collection) compileList(filter query.PaginatedFilter, projection query.Projection) (string, []any, []selected, []string, error) {
	q := newSelect(c)

	cols := make([]string, 0, len(projection))
	sel := make([]selected, 0, len(projection))
	for _, path := range projection {
		expr, col, err := q.column(path)
		if err != nil {
			return "", nil, nil, nil, err
		}
		cols = append(cols, expr)
		sel = append(sel, selected{path: path, column: col})
	}
	relations := relationPrefixes(projection)
	for _, prefix := range relations {
		cols = append(cols, q.aliases[prefix]+".rowid IS NULL")
	}
	if len(cols) == 0 {
		cols = append(cols, "t0.rowid")
	}

	where, err := q.where(filter.ConditionTree)
	if err != nil {
		return "", nil, nil, nil, err
	}
	order, err := q.orderBy(filter.Sort)
	if err != nil {
		return "", nil, nil, nil, err
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s", strings.Join(cols, ", "), q.from(), where, order)
	if p := filter.Page; p != nil && (p.Limit > 0 || p.Skip > 0) {
		limit := p.Limit
		if limit <= 0 {
			limit = -1
		}
		stmt += " LIMIT ? OFFSET ?"
		q.params = append(q.params, limit, p.Skip)
	}
	return stmt, q.params, sel, relations, nil
}

// relationPrefixes returns every relation path the projection crosses,
// deepest first.
func relationPrefixes(projection query.Projection) []string {
	seen := map[string]bool{}
	var out []string
	for _, path := range projection {
		parts := strings.Split(path, query.Separator)
		for i := 1; i < len(parts); i++ {
			prefix := strings.Join(parts[:i], query.Separator)
			if !seen[prefix] {
				seen[prefix] = true
				out = append(out, prefix)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return strings.Count(b, query.Separator) - strings.Count(a, query.Separator)
	})
	return out
}

// compileRowIDs compiles a sub-select of the rowids matching filter, for
// UPDATE and DELETE.
func (c *Collection) compileRowIDs(filter query.Filter) (string, []any, error) {
	q := newSelect(c)
	where, err := q.where(filter.ConditionTree)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT t0.rowid FROM %s WHERE %s", q.from(), where), q.params, nil
}

// compileAggregate compiles an aggregation without date groups. The first
// column is the value, then one column per group.
func (c *Collection) compileAggregate(filter query.Filter, agg query.Aggregation) (string, []any, *schema.ColumnSchema, []selected, error) {
	q := newSelect(c)

	value := "COUNT(*)"
	var valueColumn *schema.ColumnSchema
	if agg.Field != "" {
		expr, col, err := q.column(agg.Field)
		if err != nil {
			return "", nil, nil, nil, err
		}
		valueColumn = col
		switch agg.Operation {
		case query.Count:
			value = fmt.Sprintf("COUNT(%s)", expr)
		case query.Sum:
			value = fmt.Sprintf("COALESCE(SUM(%s), 0)", expr)
		case query.Avg:
			value = fmt.Sprintf("AVG(%s)", expr)
		case query.Min:
			value = fmt.Sprintf("MIN(%s)", expr)
		case query.Max:
			value = fmt.Sprintf("MAX(%s)", expr)
		default:
			return "", nil, nil, nil, errs.Validation("unknown aggregate operation %q", agg.Operation)
		}
	}

	cols := []string{value}
	groups := make([]string, 0, len(agg.Groups))
	sel := make([]selected, 0, len(agg.Groups))
	for _, g := range agg.Groups {
		expr, col, err := q.column(g.Field)
		if err != nil {
			return "", nil, nil, nil, err
		}
		cols = append(cols, expr)
		groups = append(groups, expr)
		sel = append(sel, selected{path: g.Field, column: col})
	}

	where, err := q.where(filter.ConditionTree)
	if err != nil {
		return "", nil, nil, nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), q.from(), where)
	if len(groups) > 0 {
		stmt += " GROUP BY " + strings.Join(groups, ", ")
	}
	return stmt, q.params, valueColumn, sel, nil
}
