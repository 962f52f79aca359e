package decorator

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
)

// HookPosition is Before or After.
type HookPosition string

const (
	Before HookPosition = "before"
	After  HookPosition = "after"
)

// HookVerb names the verb a hook runs around.
type HookVerb string

const (
	HookList      HookVerb = "list"
	HookCreate    HookVerb = "create"
	HookUpdate    HookVerb = "update"
	HookDelete    HookVerb = "delete"
	HookAggregate HookVerb = "aggregate"
)

// HookContext is shared by the before and after hooks of one call. Before
// hooks may change the request fields; after hooks may change the result
// fields.
type HookContext struct {
	Caller     *collection.Caller
	Collection collection.Collection
	Verb       HookVerb

	// Request.
	Filter      query.PaginatedFilter
	Projection  query.Projection
	Records     []ir.Record
	Patch       ir.Record
	Aggregation query.Aggregation
	Limit       int

	// Result. Records is reused for List and Create results.
	Results []query.AggregateResult
}

// Hook runs before or after a verb. A non-nil error aborts the call.
type Hook interface {
	Run(ctx context.Context, hc *HookContext) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, hc *HookContext) error

func (f HookFunc) Run(ctx context.Context, hc *HookContext) error { return f(ctx, hc) }

type hookKey struct {
	position HookPosition
	verb     HookVerb
}

// HookCollection runs hooks around the data verbs.
type HookCollection struct {
	*Base

	mu    sync.RWMutex
	hooks map[hookKey][]Hook
}

// NewHookDatasource applies HookCollection to every collection.
func NewHookDatasource(child collection.Datasource) *Datasource[*HookCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *HookCollection {
		h := &HookCollection{hooks: map[hookKey][]Hook{}}
		h.Base = NewBase(c, ds, h)
		return h
	})
}

// AddHook registers hook. Hooks of the same position and verb run in
// registration order.
func (c *HookCollection) AddHook(position HookPosition, verb HookVerb, hook Hook) error {
	switch position {
	case Before, After:
	default:
		return errs.Validation("unknown hook position %q", position)
	}
	switch verb {
	case HookList, HookCreate, HookUpdate, HookDelete, HookAggregate:
	default:
		return errs.Validation("unknown hook verb %q", verb)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := hookKey{position, verb}
	c.hooks[key] = append(c.hooks[key], hook)
	return nil
}

func (c *HookCollection) run(ctx context.Context, position HookPosition, hc *HookContext) error {
	c.mu.RLock()
	hooks := append([]Hook(nil), c.hooks[hookKey{position, hc.Verb}]...)
	c.mu.RUnlock()
	for _, h := range hooks {
		if err := h.Run(ctx, hc); err != nil {
			return err
		}
	}
	return nil
}

func (c *HookCollection) newContext(caller *collection.Caller, verb HookVerb) *HookContext {
	return &HookContext{Caller: caller, Collection: c, Verb: verb}
}

func (c *HookCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	hc := c.newContext(caller, HookList)
	hc.Filter, hc.Projection = filter, projection
	if err := c.run(ctx, Before, hc); err != nil {
		return nil, err
	}
	records, err := c.Child().List(ctx, caller, hc.Filter, hc.Projection)
	if err != nil {
		return nil, err
	}
	hc.Records = records
	if err := c.run(ctx, After, hc); err != nil {
		return nil, err
	}
	return hc.Records, nil
}

func (c *HookCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	hc := c.newContext(caller, HookCreate)
	hc.Records = records
	if err := c.run(ctx, Before, hc); err != nil {
		return nil, err
	}
	created, err := c.Child().Create(ctx, caller, hc.Records)
	if err != nil {
		return nil, err
	}
	hc.Records = created
	if err := c.run(ctx, After, hc); err != nil {
		return nil, err
	}
	return hc.Records, nil
}

func (c *HookCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	hc := c.newContext(caller, HookUpdate)
	hc.Filter, hc.Patch = query.PaginatedFilter{Filter: filter}, patch
	if err := c.run(ctx, Before, hc); err != nil {
		return err
	}
	if err := c.Child().Update(ctx, caller, hc.Filter.Filter, hc.Patch); err != nil {
		return err
	}
	return c.run(ctx, After, hc)
}

func (c *HookCollection) Delete(ctx context.Context, caller *collection.Caller, filter query.Filter) error {
	hc := c.newContext(caller, HookDelete)
	hc.Filter = query.PaginatedFilter{Filter: filter}
	if err := c.run(ctx, Before, hc); err != nil {
		return err
	}
	if err := c.Child().Delete(ctx, caller, hc.Filter.Filter); err != nil {
		return err
	}
	return c.run(ctx, After, hc)
}

func (c *HookCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	hc := c.newContext(caller, HookAggregate)
	hc.Filter, hc.Aggregation, hc.Limit = query.PaginatedFilter{Filter: filter}, aggregation, limit
	if err := c.run(ctx, Before, hc); err != nil {
		return nil, err
	}
	results, err := c.Child().Aggregate(ctx, caller, hc.Filter.Filter, hc.Aggregation, hc.Limit)
	if err != nil {
		return nil, err
	}
	hc.Results = results
	if err := c.run(ctx, After, hc); err != nil {
		return nil, err
	}
	return hc.Results, nil
}
