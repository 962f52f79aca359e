package decorator

import (
	"github.com/jonboulle/clockwork"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

func callerEnv(caller *collection.Caller, clock clockwork.Clock) (query.Env, error) {
	env, err := caller.Env(clock)
	if err != nil {
		return query.Env{}, errs.Validation("invalid caller timezone: %v", err)
	}
	return env, nil
}

// foreign returns the collection a relation points to, at the layer of c.
func foreign(c collection.Collection, field schema.FieldSchema) (collection.Collection, error) {
	name, ok := schema.ForeignCollection(field)
	if !ok {
		return nil, errs.Validation("polymorphic relations have no single foreign collection")
	}
	return c.Datasource().Collection(name)
}

// withPrimaryKeys adds the primary keys of s to p.
func withPrimaryKeys(p query.Projection, s *schema.CollectionSchema) query.Projection {
	return p.Union(query.NewProjection(s.PrimaryKeys()...))
}

// primaryKeys extracts the key of every record, skipping records without one.
func primaryKeys(s *schema.CollectionSchema, records []ir.Record) []collection.CompositeID {
	ids := make([]collection.CompositeID, 0, len(records))
	for _, r := range records {
		if id, err := collection.PrimaryKey(s, r); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// distinct returns the non-null values of column in records, first
// occurrence order.
func distinct(records []ir.Record, column string) ir.List {
	seen := map[string]bool{}
	out := ir.List{}
	for _, r := range records {
		v := query.GetValue(r, column)
		if ir.IsNull(v) || ir.IsUndefined(v) {
			continue
		}
		key := ir.CanonicalKey(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
