package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// Datasource is a SQLite-backed datasource.
type Datasource struct {
	db *sql.DB

	mu          sync.RWMutex
	collections map[string]*Collection
	order       []string

	clock  clockwork.Clock
	keys   collection.KeyGenerator
	logger *slog.Logger
}

// Option configures a Datasource.
type Option func(*Datasource)

// WithClock sets the clock used for date grouping.
func WithClock(c clockwork.Clock) Option {
	return func(d *Datasource) { d.clock = c }
}

// WithKeyGenerator sets the generator for Uuid primary keys.
func WithKeyGenerator(g collection.KeyGenerator) Option {
	return func(d *Datasource) { d.keys = g }
}

// WithLogger sets the logger compiled statements are logged to.
func WithLogger(l *slog.Logger) Option {
	return func(d *Datasource) { d.logger = l }
}

// Open creates or opens a SQLite database at path. ":memory:" opens a
// private in-memory database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection, so in-memory databases are shared by every call
func Open(path string, opts ...Option) (*Datasource, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	d := &Datasource{
		db:          db,
		collections: map[string]*Collection{},
		clock:       clockwork.NewRealClock(),
		keys:        collection.UUIDv7Generator{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Close closes the database connection.
func (d *Datasource) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// DB returns the underlying sql.DB.
func (d *Datasource) DB() *sql.DB {
	return d.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (d *Datasource) verifyPragma(name, expected string) error {
	var value string
	if err := d.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// AddCollection registers a collection and creates its table if it does
// not exist. Filter operators are narrowed to those the compiler
// translates; left empty, they default to every such operator allowed for
// the column type.
func (d *Datasource) AddCollection(name string, s *schema.CollectionSchema) (*Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.collections[name]; exists {
		return nil, errs.Conflict("collection %q already exists", name)
	}
	s = s.Clone()
	for _, f := range s.Fields {
		col, ok := f.(*schema.ColumnSchema)
		if !ok {
			continue
		}
		ops := col.FilterOperators
		if len(ops) == 0 {
			ops = schema.AllowedOperators(col.ColumnType)
		}
		col.FilterOperators = schema.NewOperatorSet()
		for op := range ops {
			if nativeOperators.Has(op) {
				col.FilterOperators.Add(op)
			}
		}
	}
	s.AggregationCapabilities = schema.AggregationCapabilities{
		SupportGroups:           true,
		SupportedDateOperations: []schema.DateOperation{schema.Year, schema.Quarter, schema.Month, schema.Week, schema.Day},
	}
	s.Countable = true

	if _, err := d.db.Exec(createTable(name, s)); err != nil {
		return nil, fmt.Errorf("create table %q: %w", name, err)
	}

	c := &Collection{ds: d, name: name, schema: s}
	d.collections[name] = c
	d.order = append(d.order, name)
	return c, nil
}

// createTable returns the DDL of a collection. A single Number primary key
// becomes the rowid alias, so omitted keys are generated by SQLite.
func createTable(name string, s *schema.CollectionSchema) string {
	pks := s.PrimaryKeys()
	rowidKey := ""
	if len(pks) == 1 {
		if col, _ := s.Column(pks[0]); col.ColumnType.Is(schema.Number) {
			rowidKey = pks[0]
		}
	}

	var defs []string
	for _, field := range s.ColumnNames() {
		col, _ := s.Column(field)
		if field == rowidKey {
			defs = append(defs, quote(field)+" INTEGER PRIMARY KEY")
			continue
		}
		defs = append(defs, quote(field)+" "+sqlType(col.ColumnType))
	}
	if rowidKey == "" && len(pks) > 0 {
		quoted := make([]string, len(pks))
		for i, pk := range pks {
			quoted[i] = quote(pk)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(name), strings.Join(defs, ", "))
}

// Seed inserts records as-is, without generating keys.
func (d *Datasource) Seed(name string, records ...ir.Record) error {
	c, err := d.collection(name)
	if err != nil {
		return err
	}
	ctx := context.Background()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()
	for _, r := range records {
		if _, err := c.insert(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *Datasource) collection(name string) (*Collection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collections[name]
	if !ok {
		return nil, errs.NotFound("collection %q not found", name)
	}
	return c, nil
}

func (d *Datasource) Collections() []collection.Collection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]collection.Collection, len(d.order))
	for i, name := range d.order {
		out[i] = d.collections[name]
	}
	return out
}

func (d *Datasource) Collection(name string) (collection.Collection, error) {
	c, err := d.collection(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Datasource) Schema() collection.DatasourceSchema {
	return collection.DatasourceSchema{Charts: []string{}}
}

func (d *Datasource) RenderChart(_ context.Context, _ *collection.Caller, chart string) (collection.Chart, error) {
	return collection.Chart{}, errs.NotFound("chart %q not found", chart)
}

// NativeQuery runs q as SQL. Params bind to named parameters (:name). The
// connection name is ignored: the store has only one.
func (d *Datasource) NativeQuery(ctx context.Context, _ string, q string, params ir.Record) ([]ir.Record, error) {
	args := make([]any, 0, len(params))
	for _, k := range params.SortedKeys() {
		p, err := toParam(params[k])
		if err != nil {
			return nil, errs.Validation("parameter %q: %v", k, err)
		}
		args = append(args, sql.Named(k, p))
	}
	d.logger.Debug("native query", "sql", q, "params", len(args))

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []ir.Record{}
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan native query row: %w", err)
		}
		r := make(ir.Record, len(names))
		for i, name := range names {
			r[name] = fromNative(raw[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// translate maps constraint violations to business errors.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey,
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return errs.Conflict("%s", sqliteErr.Error()).WithCause(err)
	case sqliteErr.Code == sqlite3.ErrConstraint:
		return errs.Validation("%s", sqliteErr.Error()).WithCause(err)
	case sqliteErr.Code == sqlite3.ErrError:
		return errs.Validation("%s", sqliteErr.Error()).WithCause(err)
	}
	return err
}
