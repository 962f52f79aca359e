package definition

import (
	"fmt"

	"github.com/roach88/strata/internal/memory"
	"github.com/roach88/strata/internal/sqlstore"
)

// Memory creates an in-memory datasource holding every collection.
func (d *Definition) Memory(opts ...memory.Option) (*memory.Datasource, error) {
	ds := memory.New(opts...)
	for _, c := range d.Collections {
		if _, err := ds.AddCollection(c.Name, c.Schema); err != nil {
			return nil, fmt.Errorf("add collection %q: %w", c.Name, err)
		}
	}
	return ds, nil
}

// SQLite opens the database at path and creates missing tables.
func (d *Definition) SQLite(path string, opts ...sqlstore.Option) (*sqlstore.Datasource, error) {
	ds, err := sqlstore.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	for _, c := range d.Collections {
		if _, err := ds.AddCollection(c.Name, c.Schema); err != nil {
			ds.Close()
			return nil, fmt.Errorf("add collection %q: %w", c.Name, err)
		}
	}
	return ds, nil
}
