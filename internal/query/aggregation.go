package query

import (
	"fmt"
	"sort"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// AggregateOperation reduces values.
type AggregateOperation string

const (
	Count AggregateOperation = "Count"
	Sum   AggregateOperation = "Sum"
	Avg   AggregateOperation = "Avg"
	Max   AggregateOperation = "Max"
	Min   AggregateOperation = "Min"
)

// AggregationGroup groups by a field, optionally truncating dates.
type AggregationGroup struct {
	Field     string
	Operation schema.DateOperation
}

// Aggregation describes a reduction over records. An empty Field is only
// valid with Count, which then counts records.
type Aggregation struct {
	Operation AggregateOperation
	Field     string
	Groups    []AggregationGroup
}

// AggregateResult is one group of an aggregation. Group is keyed by the
// group field paths.
type AggregateResult struct {
	Value ir.Value
	Group ir.Record
}

// Projection returns the fields the aggregation reads.
func (a Aggregation) Projection() Projection {
	fields := []string{a.Field}
	for _, g := range a.Groups {
		fields = append(fields, g.Field)
	}
	return NewProjection(fields...)
}

// Nest prefixes the field and every group.
func (a Aggregation) Nest(prefix string) Aggregation {
	return a.Replace(func(field string) string { return prefix + Separator + field })
}

// Replace rewrites the field and every group field with fn.
func (a Aggregation) Replace(fn func(field string) string) Aggregation {
	out := Aggregation{Operation: a.Operation}
	if a.Field != "" {
		out.Field = fn(a.Field)
	}
	for _, g := range a.Groups {
		out.Groups = append(out.Groups, AggregationGroup{Field: fn(g.Field), Operation: g.Operation})
	}
	return out
}

// Validate checks structural consistency.
func (a Aggregation) Validate() error {
	switch a.Operation {
	case Count:
	case Sum, Avg, Max, Min:
		if a.Field == "" {
			return fmt.Errorf("aggregation %s requires a field", a.Operation)
		}
	default:
		return fmt.Errorf("unknown aggregation operation %q", a.Operation)
	}
	return nil
}

type aggregateGroup struct {
	key    ir.Record
	values []ir.Value
	count  int
}

// Apply computes the aggregation in memory. Results are sorted by value,
// largest first, and truncated to limit when limit > 0.
func (a Aggregation) Apply(records []ir.Record, env Env, limit int) []AggregateResult {
	groups := map[string]*aggregateGroup{}
	var order []string
	for _, rec := range records {
		key := ir.Record{}
		for _, g := range a.Groups {
			key[g.Field] = a.groupValue(rec, g, env)
		}
		hash := ir.GroupHash(key)
		group, ok := groups[hash]
		if !ok {
			group = &aggregateGroup{key: key}
			groups[hash] = group
			order = append(order, hash)
		}
		group.count++
		if a.Field != "" {
			v := GetValue(rec, a.Field)
			if !ir.IsNull(v) && !ir.IsUndefined(v) {
				group.values = append(group.values, v)
			}
		}
	}

	if len(order) == 0 && len(a.Groups) == 0 {
		return []AggregateResult{{Value: a.reduce(&aggregateGroup{}), Group: ir.Record{}}}
	}

	results := make([]AggregateResult, 0, len(order))
	for _, hash := range order {
		g := groups[hash]
		results = append(results, AggregateResult{Value: a.reduce(g), Group: g.key})
	}
	SortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (a Aggregation) groupValue(rec ir.Record, g AggregationGroup, env Env) ir.Value {
	v := GetValue(rec, g.Field)
	if ir.IsUndefined(v) {
		return ir.Null{}
	}
	if g.Operation == "" {
		return v
	}
	t, ok := ParseDate(v, env.Location)
	if !ok {
		return ir.Null{}
	}
	return TruncateDate(t.In(env.now().Location()), g.Operation)
}

func (a Aggregation) reduce(g *aggregateGroup) ir.Value {
	switch a.Operation {
	case Count:
		if a.Field == "" {
			return ir.Int(g.count)
		}
		return ir.Int(len(g.values))
	case Sum, Avg:
		if len(g.values) == 0 {
			if a.Operation == Sum {
				return ir.Int(0)
			}
			return ir.Null{}
		}
		total := 0.0
		allInts := true
		for _, v := range g.values {
			f, _ := ir.AsFloat(v)
			total += f
			if _, isInt := v.(ir.Int); !isInt {
				allInts = false
			}
		}
		if a.Operation == Avg {
			return ir.Float(total / float64(len(g.values)))
		}
		if allInts {
			return ir.Int(int64(total))
		}
		return ir.Float(total)
	case Max, Min:
		var best ir.Value = ir.Null{}
		for _, v := range g.values {
			if ir.IsNull(best) {
				best = v
				continue
			}
			cmp, ok := ir.Compare(v, best)
			if !ok {
				continue
			}
			if (a.Operation == Max && cmp > 0) || (a.Operation == Min && cmp < 0) {
				best = v
			}
		}
		return best
	}
	return ir.Null{}
}

// SortResults orders results by value, largest first, nulls last. Ties keep
// their order.
func SortResults(results []AggregateResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Value, results[j].Value
		if ir.IsNull(b) {
			return !ir.IsNull(a)
		}
		if ir.IsNull(a) {
			return false
		}
		cmp, ok := ir.Compare(a, b)
		return ok && cmp > 0
	})
}
