package decorator

import (
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/schema"
)

// SchemaPatch overrides collection level flags. Nil fields are left as the
// child reports them.
type SchemaPatch struct {
	Countable  *bool
	Searchable *bool
}

// SchemaOverrideCollection applies a SchemaPatch.
type SchemaOverrideCollection struct {
	*Base

	mu    sync.RWMutex
	patch SchemaPatch
}

// NewSchemaOverrideDatasource applies SchemaOverrideCollection to every
// collection.
func NewSchemaOverrideDatasource(child collection.Datasource) *Datasource[*SchemaOverrideCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *SchemaOverrideCollection {
		s := &SchemaOverrideCollection{}
		s.Base = NewBase(c, ds, s)
		return s
	})
}

// OverrideSchema merges patch into the current override.
func (c *SchemaOverrideCollection) OverrideSchema(patch SchemaPatch) {
	c.mu.Lock()
	if patch.Countable != nil {
		c.patch.Countable = patch.Countable
	}
	if patch.Searchable != nil {
		c.patch.Searchable = patch.Searchable
	}
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
}

func (c *SchemaOverrideCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.patch.Countable != nil {
		s.Countable = *c.patch.Countable
	}
	if c.patch.Searchable != nil {
		s.Searchable = *c.patch.Searchable
	}
	return s
}
