package decorator

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// WriteAction tells a WriteReplacer which verb is running.
type WriteAction string

const (
	WriteCreate WriteAction = "create"
	WriteUpdate WriteAction = "update"
)

// WriteContext is handed to write replacers. Record is the whole record or
// patch being written, before any replacement.
type WriteContext struct {
	Caller     *collection.Caller
	Collection collection.Collection
	Action     WriteAction
	Record     ir.Record
}

// WriteReplacer turns the value written to one field into a patch. The
// patch may target any field, including relations and other replaced
// fields.
type WriteReplacer interface {
	Replace(ctx context.Context, wc WriteContext, value ir.Value) (ir.Record, error)
}

// WriteReplacerFunc adapts a function to WriteReplacer.
type WriteReplacerFunc func(ctx context.Context, wc WriteContext, value ir.Value) (ir.Record, error)

func (f WriteReplacerFunc) Replace(ctx context.Context, wc WriteContext, value ir.Value) (ir.Record, error) {
	return f(ctx, wc, value)
}

// WriteReplaceCollection rewrites writes to some fields into patches.
type WriteReplaceCollection struct {
	*Base

	mu       sync.RWMutex
	handlers map[string]WriteReplacer
}

// NewWriteReplaceDatasource applies WriteReplaceCollection to every
// collection.
func NewWriteReplaceDatasource(child collection.Datasource) *Datasource[*WriteReplaceCollection] {
	return NewDatasource(child, func(c collection.Collection, ds collection.Datasource) *WriteReplaceCollection {
		w := &WriteReplaceCollection{handlers: map[string]WriteReplacer{}}
		w.Base = NewBase(c, ds, w)
		return w
	})
}

// ReplaceFieldWriting intercepts writes to field. The field becomes
// writable even if the child reports it read-only. A nil replacer makes
// the field read-only.
func (c *WriteReplaceCollection) ReplaceFieldWriting(field string, replacer WriteReplacer) error {
	if _, ok := c.Child().Schema().Column(field); !ok {
		return errs.ValidationWith(
			map[string]any{"collection": c.Name(), "field": field},
			"cannot replace writing of %q in collection %q: not a column", field, c.Name(),
		)
	}
	c.mu.Lock()
	c.handlers[field] = replacer
	c.mu.Unlock()
	c.MarkSchemaAsDirty()
	return nil
}

func (c *WriteReplaceCollection) RefineSchema(s *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for field, h := range c.handlers {
		if col, ok := s.Column(field); ok {
			col.IsReadOnly = h == nil
		}
	}
	return s
}

func (c *WriteReplaceCollection) handler(field string) (WriteReplacer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[field]
	return h, ok
}

func (c *WriteReplaceCollection) Create(ctx context.Context, caller *collection.Caller, records []ir.Record) ([]ir.Record, error) {
	rewritten := make([]ir.Record, len(records))
	for i, r := range records {
		var err error
		if rewritten[i], err = c.rewritePatch(ctx, caller, WriteCreate, r, nil); err != nil {
			return nil, err
		}
	}
	return c.Child().Create(ctx, caller, rewritten)
}

func (c *WriteReplaceCollection) Update(ctx context.Context, caller *collection.Caller, filter query.Filter, patch ir.Record) error {
	rewritten, err := c.rewritePatch(ctx, caller, WriteUpdate, patch, nil)
	if err != nil {
		return err
	}
	return c.Child().Update(ctx, caller, filter, rewritten)
}

// rewritePatch applies handlers recursively. used holds the handlers
// already on the stack, to reject cycles.
func (c *WriteReplaceCollection) rewritePatch(ctx context.Context, caller *collection.Caller, action WriteAction, record ir.Record, used []string) (ir.Record, error) {
	patches := make([]ir.Record, 0, len(record))
	for _, key := range record.SortedKeys() {
		patch, err := c.rewriteKey(ctx, caller, action, record, key, used)
		if err != nil {
			return nil, err
		}
		patches = append(patches, patch)
	}
	return mergePatches(c.Name(), patches)
}

func (c *WriteReplaceCollection) rewriteKey(ctx context.Context, caller *collection.Caller, action WriteAction, record ir.Record, key string, used []string) (ir.Record, error) {
	value := record[key]
	if h, ok := c.handler(key); ok {
		if h == nil {
			return nil, errs.Validation("field %q in collection %q is read-only", key, c.Name())
		}
		name := c.Name() + "." + key
		if slices.Contains(used, name) {
			return nil, errs.Validation("cycle detected when writing %q: %v", name, append(used, name))
		}
		patch, err := h.Replace(ctx, WriteContext{Caller: caller, Collection: c, Action: action, Record: record}, value)
		if err != nil {
			return nil, err
		}
		if patch == nil {
			return ir.Record{}, nil
		}
		return c.rewritePatch(ctx, caller, action, patch, append(used, name))
	}

	field, ok := c.Schema().Fields[key]
	sub, isRecord := value.(ir.Record)
	if !ok || !schema.IsToOne(field) || schema.IsPolymorphic(field) || !isRecord {
		return ir.Record{key: value}, nil
	}
	next, err := foreign(c, field)
	if err != nil {
		return nil, err
	}
	related, ok := next.(*WriteReplaceCollection)
	if !ok {
		return ir.Record{key: value}, nil
	}
	rewritten, err := related.rewritePatch(ctx, caller, action, sub, used)
	if err != nil {
		return nil, err
	}
	return ir.Record{key: rewritten}, nil
}

// mergePatches deep-merges patches. Two different values for the same
// field are a conflict.
func mergePatches(collectionName string, patches []ir.Record) (ir.Record, error) {
	out := ir.Record{}
	for _, p := range patches {
		if err := mergeInto(collectionName, "", out, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func mergeInto(collectionName, prefix string, dst, src ir.Record) error {
	for k, v := range src {
		path := query.JoinPath(prefix, k)
		existing, present := dst[k]
		if !present {
			dst[k] = v
			continue
		}
		existingRecord, ok1 := existing.(ir.Record)
		newRecord, ok2 := v.(ir.Record)
		if ok1 && ok2 {
			merged := existingRecord.Clone()
			if err := mergeInto(collectionName, path, merged, newRecord); err != nil {
				return err
			}
			dst[k] = merged
			continue
		}
		if !ir.Equal(existing, v) {
			return errs.Conflict("conflicting writes to %q in collection %q", path, collectionName)
		}
	}
	return nil
}
