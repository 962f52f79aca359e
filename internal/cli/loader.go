package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/customizer"
	"github.com/roach88/strata/internal/definition"
	"github.com/roach88/strata/internal/memory"
	"github.com/roach88/strata/internal/sqlstore"
)

// Error codes for loading (E001-E099)
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeBadFlag       = "E002" // Invalid flag value
	ErrCodeLoadFailed    = "E004" // Definition or fixtures failed to load
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // Datasource could not be built
	ErrCodeInvalidSchema = "E008" // Definition failed validation
)

// Stores accepted by --store.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// LoadError represents an error that occurred while loading a definition
// or building its datasource.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SourceOptions select how a definition is served.
type SourceOptions struct {
	Fixtures  string // YAML fixture file, optional
	Store     string // "memory" | "sqlite"
	Database  string // SQLite path
	CamelCase bool   // expose snake_case fields as lowerCamelCase
}

func (o *SourceOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Fixtures, "fixtures", "", "YAML fixture file seeded into the store")
	cmd.Flags().StringVar(&o.Store, "store", StoreMemory, "backing store (memory|sqlite)")
	cmd.Flags().StringVar(&o.Database, "db", ":memory:", "SQLite database path")
	cmd.Flags().BoolVar(&o.CamelCase, "camel-case", false, "expose fields in lowerCamelCase")
}

// Source is a decorated datasource built from a definition.
type Source struct {
	Definition *definition.Definition
	Datasource collection.Datasource

	leaf io.Closer
}

// Close releases the backing store.
func (s *Source) Close() error {
	if s.leaf == nil {
		return nil
	}
	return s.leaf.Close()
}

// LoadDefinition compiles and validates the definition at path.
func LoadDefinition(path string) (*definition.Definition, error) {
	def, err := definition.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definition not found: %s", path), Err: err}
		}
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), Err: err}
	}
	if problems := definition.Validate(def); len(problems) > 0 {
		return nil, &LoadError{
			Code:    ErrCodeInvalidSchema,
			Message: fmt.Sprintf("definition has %d problem(s), first: %s", len(problems), problems[0].Error()),
		}
	}
	return def, nil
}

// OpenSource loads the definition and fixtures, seeds the chosen store and
// serves it through a customizer.
func OpenSource(ctx context.Context, path string, opts SourceOptions, logger *slog.Logger) (*Source, error) {
	if opts.Store != StoreMemory && opts.Store != StoreSQLite {
		return nil, &LoadError{Code: ErrCodeBadFlag, Message: fmt.Sprintf("invalid store %q: must be %s or %s", opts.Store, StoreMemory, StoreSQLite)}
	}
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	var fixtures definition.Fixtures
	if opts.Fixtures != "" {
		fixtures, err = definition.LoadFixtures(opts.Fixtures, def)
		if err != nil {
			code := ErrCodeLoadFailed
			if errors.Is(err, fs.ErrNotExist) {
				code = ErrCodeNotFound
			}
			return nil, &LoadError{Code: code, Message: err.Error(), Err: err}
		}
	}

	src := &Source{Definition: def}
	dc := customizer.New(customizer.WithLogger(logger)).
		AddDatasource(func(context.Context) (collection.Datasource, error) {
			leaf, err := openLeaf(def, opts, logger)
			if err != nil {
				return nil, err
			}
			if err := fixtures.Seed(leaf); err != nil {
				if c, ok := leaf.(io.Closer); ok {
					c.Close()
				}
				return nil, err
			}
			if c, ok := leaf.(io.Closer); ok {
				src.leaf = c
			}
			return leaf, nil
		})
	if opts.CamelCase {
		dc.CamelCaseFields()
	}

	ds, err := dc.Datasource(ctx)
	if err != nil {
		src.Close()
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: err.Error(), Err: err}
	}
	src.Datasource = ds
	logger.Debug("datasource ready",
		slog.String("definition", path),
		slog.String("store", opts.Store),
		slog.Int("collections", len(ds.Collections())))
	return src, nil
}

// leafStore is a datasource that accepts fixture records.
type leafStore interface {
	collection.Datasource
	definition.Seeder
}

func openLeaf(def *definition.Definition, opts SourceOptions, logger *slog.Logger) (leafStore, error) {
	if opts.Store == StoreSQLite {
		return def.SQLite(opts.Database, sqlstore.WithLogger(logger))
	}
	return def.Memory(memory.WithLogger(logger))
}

// loadFailure reports a LoadError and maps it to an exit error.
func loadFailure(f *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = f.Error(loadErr.Code, loadErr.Message, nil)
		code := ExitCommandError
		if loadErr.Code == ErrCodeInvalidSchema {
			code = ExitFailure
		}
		return NewExitError(code, loadErr.Error())
	}
	_ = f.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitCommandError, "load failed", err)
}
