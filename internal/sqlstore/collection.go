package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// Collection is one table.
type Collection struct {
	ds     *Datasource
	name   string
	schema *schema.CollectionSchema
}

func (c *Collection) Name() string { return c.name }
func (c *Collection) Datasource() collection.Datasource { return c.ds }
func (c *Collection) Schema() *schema.CollectionSchema { return c.schema }

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *Collection) checkFilter(filter query.Filter) error {
	if filter.Search != "" {
		return errs.Validation("collection %q does not support search", c.name)
	}
	if filter.Segment != "" {
		return errs.Validation("collection %q has no segment %q", c.name, filter.Segment)
	}
	return nil
}

func (c *Collection) List(ctx context.Context, _ *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	if err := c.checkFilter(filter.Filter); err != nil {
		return nil, err
	}
	stmt, params, sel, relations, err := c.compileList(filter, projection)
	if err != nil {
		return nil, err
	}
	c.ds.logger.Debug("list", "collection", c.name, "sql", stmt)
	return c.scan(ctx, c.ds.db, stmt, params, sel, relations)
}

// scan runs a compiled SELECT and rebuilds nested records from its
// columns and null markers.
func (c *Collection) scan(ctx context.Context, db queryer, stmt string, params []any, sel []selected, relations []string) ([]ir.Record, error) {
	rows, err := db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	width := len(sel) + len(relations)
	if width == 0 {
		width = 1
	}
	out := []ir.Record{}
	for rows.Next() {
		raw := make([]any, width)
		ptrs := make([]any, width)
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", c.name, err)
		}
		r := ir.Record{}
		for i, s := range sel {
			v, err := fromColumn(s.column.ColumnType, raw[i])
			if err != nil {
				return nil, fmt.Errorf("read %s.%s: %w", c.name, s.path, err)
			}
			query.SetValue(r, s.path, v)
		}
		// Deepest first, so a null parent overwrites its children.
		for i, prefix := range relations {
			if missing, _ := raw[len(sel)+i].(int64); missing != 0 {
				query.SetValue(r, prefix, ir.Null{})
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *Collection) Create(ctx context.Context, _ *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	tx, err := c.ds.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	created := make([]ir.Record, 0, len(records))
	for _, input := range records {
		for k := range input {
			if _, known := c.schema.Fields[k]; !known {
				return nil, errs.Validation("unknown field %q in collection %q", k, c.name)
			}
		}
		r := ir.Record{}
		for _, name := range c.schema.ColumnNames() {
			col, _ := c.schema.Column(name)
			if v, present := input[name]; present {
				r[name] = v
				continue
			}
			switch {
			case col.IsPrimaryKey && col.ColumnType.Is(schema.UUID):
				r[name] = ir.String(c.ds.keys.Generate())
			case col.DefaultValue != nil:
				r[name] = ir.Clone(col.DefaultValue)
			}
		}
		rowid, err := c.insert(ctx, tx, r)
		if err != nil {
			return nil, err
		}
		stored, err := c.readRow(ctx, tx, rowid)
		if err != nil {
			return nil, err
		}
		created = append(created, stored)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}
	return created, nil
}

// insert writes the columns of r and returns the new rowid. Relation
// values are ignored.
func (c *Collection) insert(ctx context.Context, db queryer, r ir.Record) (int64, error) {
	var (
		names  []string
		marks  []string
		params []any
	)
	for _, name := range r.SortedKeys() {
		col, ok := c.schema.Column(name)
		if !ok {
			continue
		}
		p, err := columnParam(col, r[name])
		if err != nil {
			return 0, errs.Validation("field %q: %v", name, err)
		}
		names = append(names, quote(name))
		marks = append(marks, "?")
		params = append(params, p)
	}
	stmt := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(c.name))
	if len(names) > 0 {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(c.name), strings.Join(names, ", "), strings.Join(marks, ", "))
	}
	c.ds.logger.Debug("insert", "collection", c.name, "sql", stmt)
	res, err := db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return 0, translate(err)
	}
	return res.LastInsertId()
}

func (c *Collection) readRow(ctx context.Context, db queryer, rowid int64) (ir.Record, error) {
	names := c.schema.ColumnNames()
	cols := make([]string, len(names))
	sel := make([]selected, len(names))
	for i, name := range names {
		col, _ := c.schema.Column(name)
		cols[i] = "t0." + quote(name)
		sel[i] = selected{path: name, column: col}
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s AS t0 WHERE t0.rowid = ?", strings.Join(cols, ", "), quote(c.name))
	records, err := c.scan(ctx, db, stmt, []any{rowid}, sel, nil)
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, fmt.Errorf("read back %s row %d: found %d rows", c.name, rowid, len(records))
	}
	return records[0], nil
}

func (c *Collection) Update(ctx context.Context, _ *collection.Caller, filter query.Filter, patch ir.Record) error {
	if err := c.checkFilter(filter); err != nil {
		return err
	}
	var (
		sets   []string
		params []any
	)
	for _, k := range patch.SortedKeys() {
		f, ok := c.schema.Fields[k]
		if !ok {
			return errs.Validation("unknown field %q in collection %q", k, c.name)
		}
		col, isColumn := f.(*schema.ColumnSchema)
		if !isColumn {
			return errs.Validation("collection %q cannot write relation %q", c.name, k)
		}
		p, err := columnParam(col, patch[k])
		if err != nil {
			return errs.Validation("field %q: %v", k, err)
		}
		sets = append(sets, quote(k)+" = ?")
		params = append(params, p)
	}
	if len(sets) == 0 {
		return nil
	}
	ids, idParams, err := c.compileRowIDs(filter)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE rowid IN (%s)", quote(c.name), strings.Join(sets, ", "), ids)
	c.ds.logger.Debug("update", "collection", c.name, "sql", stmt)
	if _, err := c.ds.db.ExecContext(ctx, stmt, append(params, idParams...)...); err != nil {
		return translate(err)
	}
	return nil
}

func (c *Collection) Delete(ctx context.Context, _ *collection.Caller, filter query.Filter) error {
	if err := c.checkFilter(filter); err != nil {
		return err
	}
	ids, params, err := c.compileRowIDs(filter)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE rowid IN (%s)", quote(c.name), ids)
	c.ds.logger.Debug("delete", "collection", c.name, "sql", stmt)
	if _, err := c.ds.db.ExecContext(ctx, stmt, params...); err != nil {
		return translate(err)
	}
	return nil
}

// Aggregate groups in SQL. Date groups are computed in memory over the
// matching rows, in the caller's timezone.
func (c *Collection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, agg query.Aggregation, limit int) ([]query.AggregateResult, error) {
	if err := c.checkFilter(filter); err != nil {
		return nil, err
	}
	for _, g := range agg.Groups {
		if g.Operation != "" {
			return c.aggregateInMemory(ctx, caller, filter, agg, limit)
		}
	}

	stmt, params, valueColumn, sel, err := c.compileAggregate(filter, agg)
	if err != nil {
		return nil, err
	}
	c.ds.logger.Debug("aggregate", "collection", c.name, "sql", stmt)
	rows, err := c.ds.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	results := []query.AggregateResult{}
	for rows.Next() {
		raw := make([]any, len(sel)+1)
		ptrs := make([]any, len(raw))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s aggregate: %w", c.name, err)
		}
		value := fromNative(raw[0])
		if (agg.Operation == query.Min || agg.Operation == query.Max) && valueColumn != nil {
			if value, err = fromColumn(valueColumn.ColumnType, raw[0]); err != nil {
				return nil, err
			}
		}
		if agg.Operation == query.Avg {
			if f, ok := ir.AsFloat(value); ok {
				value = ir.Float(f)
			}
		}
		group := ir.Record{}
		for i, s := range sel {
			v, err := fromColumn(s.column.ColumnType, raw[i+1])
			if err != nil {
				return nil, err
			}
			group[s.path] = v
		}
		results = append(results, query.AggregateResult{Value: value, Group: group})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	query.SortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (c *Collection) aggregateInMemory(ctx context.Context, caller *collection.Caller, filter query.Filter, agg query.Aggregation, limit int) ([]query.AggregateResult, error) {
	env, err := caller.Env(c.ds.clock)
	if err != nil {
		return nil, errs.Validation("%v", err)
	}
	records, err := c.List(ctx, caller, query.PaginatedFilter{Filter: filter}, agg.Projection())
	if err != nil {
		return nil, err
	}
	return agg.Apply(records, env, limit), nil
}

func (c *Collection) Execute(context.Context, *collection.Caller, string, ir.Record, query.Filter) (collection.ActionResult, error) {
	return collection.ActionResult{}, errs.NotFound("collection %q has no actions", c.name)
}

func (c *Collection) RenderChart(_ context.Context, _ *collection.Caller, chart string, _ []ir.Value) (collection.Chart, error) {
	return collection.Chart{}, errs.NotFound("chart %q not found in collection %q", chart, c.name)
}
