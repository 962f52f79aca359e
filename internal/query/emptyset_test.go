package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

func in(field string, values ...any) Leaf {
	list := make(ir.List, len(values))
	for i, v := range values {
		list[i] = ir.MustFromAny(v)
	}
	return NewLeaf(field, schema.In, list)
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		tree ConditionTree
		want bool
	}{
		{"nil", nil, false},
		{"empty in", in("id"), true},
		{"in", in("id", 1), false},
		{"empty or", Or(), true},
		{"or of empties", Branch{Aggregator: AggregatorOr, Conditions: []ConditionTree{in("id"), in("name")}}, true},
		{"or with one satisfiable", Or(in("id"), eq("id", 1)), false},
		{"and with empty child", And(eq("title", "x"), in("id")), true},
		{"disjoint equals", And(eq("id", 1), eq("id", 2)), true},
		{"same equals", And(eq("id", 1), eq("id", 1)), false},
		{"equals on different fields", And(eq("id", 1), eq("other", 2)), false},
		{"overlapping ins", And(in("id", 1, 2), in("id", 2, 3)), false},
		{"disjoint ins", And(in("id", 1, 2), in("id", 3, 4)), true},
		{"equal outside in", And(in("id", 1, 2), eq("id", 3)), true},
		{"three-way intersection", And(in("id", 1, 2, 3), in("id", 2, 3), eq("id", 1)), true},
		{"int and float are one value", And(eq("n", 1), eq("n", 1.0)), false},
		{"unrelated operators are ignored", And(NewLeaf("id", schema.GreaterThan, ir.Int(5)), NewLeaf("id", schema.LessThan, ir.Int(1))), false},
		{"one instant spelled twice", And(eq("published", "1951-06-01"), eq("published", "1951-06-01T00:00:00")), false},
		{"date in list", And(in("published", "1951-06-01T00:00:00Z"), eq("published", "1951-06-01")), false},
		{"dates skip the field only", And(eq("published", "1951-06-01"), eq("id", 1), eq("id", 2)), true},
		{"nested or is not analysed", And(eq("id", 1), Or(eq("id", 2), eq("x", 1))), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEmpty(tt.tree), String(tt.tree))
		})
	}
}
