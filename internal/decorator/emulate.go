package decorator

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// OperatorReplacer rewrites a leaf into a tree on other fields of the same
// collection. value is the operand of the replaced leaf.
type OperatorReplacer interface {
	Replace(ctx context.Context, caller *collection.Caller, value ir.Value) (query.ConditionTree, error)
}

// OperatorReplacerFunc adapts a function to OperatorReplacer.
type OperatorReplacerFunc func(ctx context.Context, caller *collection.Caller, value ir.Value) (query.ConditionTree, error)

func (f OperatorReplacerFunc) Replace(ctx context.Context, caller *collection.Caller, value ir.Value) (query.ConditionTree, error) {
	return f(ctx, caller, value)
}

// OperatorEmulateCollection makes operators available on fields whose
// child does not support them.
//
// An emulated leaf is evaluated by listing the field for every record,
// matching in memory, and replacing the leaf with a primary key filter. A
// replaced leaf is rewritten with an OperatorReplacer, then refined again.
type OperatorEmulateCollection struct {
	*Base
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	fields map[string]map[schema.Operator]OperatorReplacer
}

// NewOperatorEmulateDatasource applies OperatorEmulateCollection to every
// collection.
func NewOperatorEmulateDatasource(child collection.Datasource, clock clockwork.Clock, logger *slog.Logger) *Datasource[*OperatorEmulateCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *OperatorEmulateCollection {
		e := &OperatorEmulateCollection{clock: clock, logger: logger, fields: map[string]map[schema.Operator]OperatorReplacer{}}
		e.Base = NewBase(c, ds, e)
		return e
	})
}

// EmulateFieldOperator evaluates op on field in memory.
func (c *OperatorEmulateCollection) EmulateFieldOperator(field string, op schema.Operator) error {
	return c.ReplaceFieldOperator(field, op, nil)
}

// EmulateFieldFiltering emulates every operator allowed for the column type
// that the child does not support.
func (c *OperatorEmulateCollection) EmulateFieldFiltering(field string) error {
	col, err := c.checkField(field)
	if err != nil {
		return err
	}
	for _, op := range schema.AllowedOperators(col.ColumnType).Slice() {
		if col.FilterOperators.Has(op) {
			continue
		}
		if err := c.ReplaceFieldOperator(field, op, nil); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceFieldOperator rewrites op on field with replacer. A nil replacer
// emulates the operator.
func (c *OperatorEmulateCollection) ReplaceFieldOperator(field string, op schema.Operator, replacer OperatorReplacer) error {
	if _, err := c.checkField(field); err != nil {
		return err
	}
	c.mu.Lock()
	if c.fields[field] == nil {
		c.fields[field] = map[schema.Operator]OperatorReplacer{}
	}
	c.fields[field][op] = replacer
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *OperatorEmulateCollection) checkField(field string) (*schema.ColumnSchema, error) {
	if len(c.Child().Schema().PrimaryKeys()) == 0 {
		return nil, errs.Validation("cannot emulate operators on collection %q: it has no primary key", c.Name())
	}
	col, ok := c.Child().Schema().Column(field)
	if !ok {
		return nil, errs.ValidationWith(
			map[string]any{"collection": c.Name(), "field": field},
			"cannot replace operators on %q in collection %q: not a column", field, c.Name(),
		)
	}
	return col, nil
}

func (c *OperatorEmulateCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for field, ops := range c.fields {
		col, ok := s.Column(field)
		if !ok {
			continue
		}
		if col.FilterOperators == nil {
			col.FilterOperators = schema.NewOperatorSet()
		}
		for op := range ops {
			col.FilterOperators.Add(op)
		}
	}
	return s
}

func (c *OperatorEmulateCollection) replacement(field string, op schema.Operator) (OperatorReplacer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.fields[field][op]
	return r, ok
}

func (c *OperatorEmulateCollection) RefineFilter(ctx context.Context, caller *collection.Caller, filter query.PaginatedFilter) (query.PaginatedFilter, error) {
	tree, err := c.rewrite(ctx, caller, filter.ConditionTree, nil)
	if err != nil {
		return filter, err
	}
	return filter.WithConditionTree(tree), nil
}

func (c *OperatorEmulateCollection) rewrite(ctx context.Context, caller *collection.Caller, tree query.ConditionTree, replacing []string) (query.ConditionTree, error) {
	return query.ReplaceLeafs(tree, func(l query.Leaf) (query.ConditionTree, error) {
		return c.rewriteLeaf(ctx, caller, l, replacing)
	})
}

func (c *OperatorEmulateCollection) rewriteLeaf(ctx context.Context, caller *collection.Caller, l query.Leaf, replacing []string) (query.ConditionTree, error) {
	head, rest, nested := query.SplitPath(l.Field)
	if nested {
		field, ok := c.Schema().Fields[head]
		if !ok || schema.IsPolymorphic(field) {
			return l, nil
		}
		next, err := foreign(c, field)
		if err != nil {
			return nil, err
		}
		related, ok := next.(*OperatorEmulateCollection)
		if !ok {
			return l, nil
		}
		sub := l
		sub.Field = rest
		tree, err := related.rewriteLeaf(ctx, caller, sub, replacing)
		if err != nil {
			return nil, err
		}
		return query.NestTree(tree, head), nil
	}

	replacer, ok := c.replacement(l.Field, l.Operator)
	if !ok {
		return l, nil
	}
	if replacer == nil {
		return c.emulate(ctx, caller, l)
	}

	key := c.Name() + "." + l.Field + "[" + string(l.Operator) + "]"
	if slices.Contains(replacing, key) {
		return nil, errs.Validation("operator replacement cycle: %v", append(replacing, key))
	}
	tree, err := replacer.Replace(ctx, caller, l.Value)
	if err != nil {
		return nil, err
	}
	if err := collection.ValidateConditionTree(c, tree); err != nil {
		return nil, err
	}
	return c.rewrite(ctx, caller, tree, append(replacing, key))
}

func (c *OperatorEmulateCollection) emulate(ctx context.Context, caller *collection.Caller, l query.Leaf) (query.ConditionTree, error) {
	c.logger.Debug("emulating filter",
		slog.String("collection", c.Name()),
		slog.String("field", l.Field),
		slog.String("operator", string(l.Operator)))

	env, err := callerEnv(caller, c.clock)
	if err != nil {
		return nil, err
	}
	s := c.Child().Schema()
	records, err := c.Child().List(ctx, caller, query.PaginatedFilter{}, withPrimaryKeys(query.NewProjection(l.Field), s))
	if err != nil {
		return nil, err
	}
	matching := query.FilterRecords(l, records, env)
	return collection.IDFilter(s, primaryKeys(s, matching)), nil
}
