package decorator

import (
	"context"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// FormField is one input of an action form.
type FormField struct {
	Label        string
	Type         schema.PrimitiveType
	IsRequired   bool
	DefaultValue ir.Value
}

// ActionContext is handed to action executors.
type ActionContext struct {
	Caller     *collection.Caller
	Collection collection.Collection
	Form       ir.Record
	Filter     query.Filter
}

// Records lists the records the action targets.
func (ac ActionContext) Records(ctx context.Context, projection query.Projection) ([]ir.Record, error) {
	return ac.Collection.List(ctx, ac.Caller, query.PaginatedFilter{Filter: ac.Filter}, projection)
}

// ActionExecutor runs an action.
type ActionExecutor interface {
	Execute(ctx context.Context, ac ActionContext) (collection.ActionResult, error)
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, ac ActionContext) (collection.ActionResult, error)

func (f ActionExecutorFunc) Execute(ctx context.Context, ac ActionContext) (collection.ActionResult, error) {
	return f(ctx, ac)
}

// ActionDefinition describes a custom action.
type ActionDefinition struct {
	Scope        schema.ActionScope
	GenerateFile bool
	Description  string
	Form         []FormField
	Executor     ActionExecutor
}

// ActionCollection adds custom actions.
type ActionCollection struct {
	*Base

	mu      sync.RWMutex
	actions map[string]ActionDefinition
}

// NewActionDatasource applies ActionCollection to every collection.
func NewActionDatasource(child collection.Datasource) *Datasource[*ActionCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *ActionCollection {
		a := &ActionCollection{actions: map[string]ActionDefinition{}}
		a.Base = NewBase(c, ds, a)
		return a
	})
}

// AddAction declares an action.
func (c *ActionCollection) AddAction(name string, def ActionDefinition) error {
	if def.Executor == nil {
		return errs.Validation("action %q in collection %q has no executor", name, c.Name())
	}
	if _, exists := c.Schema().Actions[name]; exists {
		return errs.Conflict("action %q already exists in collection %q", name, c.Name())
	}
	if def.Scope == "" {
		def.Scope = schema.ScopeSingle
	}
	c.mu.Lock()
	c.actions[name] = def
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *ActionCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s.Actions == nil {
		s.Actions = map[string]schema.ActionSchema{}
	}
	for name, def := range c.actions {
		s.Actions[name] = schema.ActionSchema{
			Scope:        def.Scope,
			GenerateFile: def.GenerateFile,
			StaticForm:   true,
			Description:  def.Description,
		}
	}
	return s
}

func (c *ActionCollection) Execute(ctx context.Context, caller *collection.Caller, action string, form ir.Record, filter query.Filter) (collection.ActionResult, error) {
	c.mu.RLock()
	def, ok := c.actions[action]
	c.mu.RUnlock()
	if !ok {
		return c.Base.Execute(ctx, caller, action, form, filter)
	}

	values := ir.Record{}
	for _, field := range def.Form {
		v, present := form[field.Label]
		if !present || ir.IsNull(v) {
			if field.IsRequired && field.DefaultValue == nil {
				return collection.ActionResult{}, errs.ValidationWith(
					map[string]any{"action": action, "field": field.Label},
					"action %q: field %q is required", action, field.Label,
				)
			}
			if field.DefaultValue != nil {
				v = field.DefaultValue
			} else {
				v = ir.Null{}
			}
		}
		values[field.Label] = v
	}
	for k, v := range form {
		if _, set := values[k]; !set {
			values[k] = v
		}
	}

	return def.Executor.Execute(ctx, ActionContext{Caller: caller, Collection: c, Form: values, Filter: filter})
}
