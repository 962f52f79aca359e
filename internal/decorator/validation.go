package decorator

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// ValidationCollection rejects writes that break per-field rules, and reads
// whose projection or aggregation names fields the collection lacks.
type ValidationCollection struct {
	*Base

	clock clockwork.Clock

	mu    sync.RWMutex
	rules map[string][]schema.ValidationRule
}

// NewValidationDatasource applies ValidationCollection to every collection.
func NewValidationDatasource(child collection.Datasource, clock clockwork.Clock) *Datasource[*ValidationCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *ValidationCollection {
		v := &ValidationCollection{clock: clock, rules: map[string][]schema.ValidationRule{}}
		v.Base = NewBase(c, ds, v)
		return v
	})
}

// AddValidation adds rule to field. The field must be a writable column
// that supports the rule's operator.
func (c *ValidationCollection) AddValidation(field string, rule schema.ValidationRule) error {
	col, ok := c.Child().Schema().Column(field)
	if !ok {
		return errs.ValidationWith(
			map[string]any{"collection": c.Name(), "field": field},
			"cannot add validation on %q in collection %q: not a column", field, c.Name(),
		)
	}
	if col.IsReadOnly {
		return errs.Validation("cannot add validation on read-only field %q in collection %q", field, c.Name())
	}
	if !col.FilterOperators.Has(rule.Operator) {
		return errs.ValidationWith(
			map[string]any{"field": field, "operator": string(rule.Operator)},
			"the operator %q is not supported by the column %q", rule.Operator, field,
		)
	}
	c.mu.Lock()
	c.rules[field] = append(c.rules[field], rule)
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *ValidationCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for field, rules := range c.rules {
		if col, ok := s.Column(field); ok {
			col.Validation = append(append([]schema.ValidationRule{}, col.Validation...), rules...)
		}
	}
	return s
}

func (c *ValidationCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	for _, r := range records {
		if err := c.validate(caller, r); err != nil {
			return nil, err
		}
	}
	return c.Child().Create(ctx, caller, records)
}

func (c *ValidationCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	if err := c.validate(caller, patch); err != nil {
		return err
	}
	return c.Base.Update(ctx, caller, filter, patch)
}

func (c *ValidationCollection) List(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error) {
	if err := collection.ValidateProjection(c, projection); err != nil {
		return nil, err
	}
	return c.Base.List(ctx, caller, filter, projection)
}

func (c *ValidationCollection) Aggregate(ctx context.Context, caller *collection.Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error) {
	if err := collection.ValidateAggregation(c, aggregation); err != nil {
		return nil, err
	}
	return c.Base.Aggregate(ctx, caller, filter, aggregation, limit)
}

func (c *ValidationCollection) validate(caller *collection.Caller, record ir.Record) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.rules) == 0 {
		return nil
	}
	env, err := callerEnv(caller, c.clock)
	if err != nil {
		return err
	}
	for field, rules := range c.rules {
		v, present := record[field]
		if !present {
			continue
		}
		for _, rule := range rules {
			// Null only fails a Present rule.
			if ir.IsNull(v) && rule.Operator != schema.Present {
				continue
			}
			if query.MatchValue(rule.Operator, v, rule.Value, env) {
				continue
			}
			details := map[string]any{"field": field, "operator": string(rule.Operator)}
			if rule.Value != nil {
				details["value"] = ir.ToAny(rule.Value)
			}
			return errs.Unprocessable(details, "%q failed validation rule %s", field, rule.Operator)
		}
	}
	return nil
}
