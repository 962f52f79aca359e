package decorator

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
)

// CreateHandler replaces Create. child is the collection below the
// override, for handlers that still want the default behavior.
type CreateHandler interface {
	Create(ctx context.Context, caller *collection.Caller, child collection.Collection, records []ir.Record) ([]ir.Record, error)
}

// UpdateHandler replaces Update.
type UpdateHandler interface {
	Update(ctx context.Context, caller *collection.Caller, child collection.Collection, filter query.Filter, patch ir.Record) error
}

// DeleteHandler replaces Delete.
type DeleteHandler interface {
	Delete(ctx context.Context, caller *collection.Caller, child collection.Collection, filter query.Filter) error
}

// CreateHandlerFunc adapts a function to CreateHandler.
type CreateHandlerFunc func(ctx context.Context, caller *collection.Caller, child collection.Collection, records []ir.Record) ([]ir.Record, error)

func (f CreateHandlerFunc) Create(ctx context.Context, caller *collection.Caller, child collection.Collection, records []ir.Record) ([]ir.Record, error) {
	return f(ctx, caller, child, records)
}

// UpdateHandlerFunc adapts a function to UpdateHandler.
type UpdateHandlerFunc func(ctx context.Context, caller *collection.Caller, child collection.Collection, filter query.Filter, patch ir.Record) error

func (f UpdateHandlerFunc) Update(ctx context.Context, caller *collection.Caller, child collection.Collection, filter query.Filter, patch ir.Record) error {
	return f(ctx, caller, child, filter, patch)
}

// DeleteHandlerFunc adapts a function to DeleteHandler.
type DeleteHandlerFunc func(ctx context.Context, caller *collection.Caller, child collection.Collection, filter query.Filter) error

func (f DeleteHandlerFunc) Delete(ctx context.Context, caller *collection.Caller, child collection.Collection, filter query.Filter) error {
	return f(ctx, caller, child, filter)
}

// OverrideCollection replaces write verbs with handlers.
type OverrideCollection struct {
	*Base

	mu     sync.RWMutex
	create CreateHandler
	update UpdateHandler
	delete DeleteHandler
}

// NewOverrideDatasource applies OverrideCollection to every collection.
func NewOverrideDatasource(child collection.Datasource) *Datasource[*OverrideCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *OverrideCollection {
		o := &OverrideCollection{}
		o.Base = NewBase(c, ds, o)
		return o
	})
}

func (c *OverrideCollection) AddCreateHandler(h CreateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.create = h
}

func (c *OverrideCollection) AddUpdateHandler(h UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.update = h
}

func (c *OverrideCollection) AddDeleteHandler(h DeleteHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delete = h
}

func (c *OverrideCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	c.mu.RLock()
	h := c.create
	c.mu.RUnlock()
	if h == nil {
		return c.Base.Create(ctx, caller, records)
	}
	return h.Create(ctx, caller, c.Child(), records)
}

func (c *OverrideCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	c.mu.RLock()
	h := c.update
	c.mu.RUnlock()
	if h == nil {
		return c.Base.Update(ctx, caller, filter, patch)
	}
	return h.Update(ctx, caller, c.Child(), filter, patch)
}

func (c *OverrideCollection) Delete(ctx context.Context, caller *collection.Caller, filter query.Filter) error {
	c.mu.RLock()
	h := c.delete
	c.mu.RUnlock()
	if h == nil {
		return c.Base.Delete(ctx, caller, filter)
	}
	return h.Delete(ctx, caller, c.Child(), filter)
}
