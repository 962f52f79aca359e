package query

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

type treeJSON struct {
	Aggregator Aggregator        `json:"aggregator,omitempty"`
	Conditions []json.RawMessage `json:"conditions,omitempty"`
	Field      string            `json:"field,omitempty"`
	Operator   schema.Operator   `json:"operator,omitempty"`
	Value      json.RawMessage   `json:"value,omitempty"`
}

// MarshalConditionTree encodes a tree as
//
//	{"field":"title","operator":"Equal","value":"Foundation"}
//	{"aggregator":"And","conditions":[...]}
//
// A nil tree encodes as JSON null.
func MarshalConditionTree(tree ConditionTree) ([]byte, error) {
	switch t := tree.(type) {
	case nil:
		return []byte("null"), nil
	case Leaf:
		out := treeJSON{Field: t.Field, Operator: t.Operator}
		if schema.OperatorValueKind(t.Operator) != schema.ValueNone {
			v, err := ir.MarshalValue(t.Value)
			if err != nil {
				return nil, fmt.Errorf("leaf %s: %w", t.Field, err)
			}
			out.Value = v
		}
		return json.Marshal(out)
	case Branch:
		out := treeJSON{Aggregator: t.Aggregator, Conditions: []json.RawMessage{}}
		for _, c := range t.Conditions {
			b, err := MarshalConditionTree(c)
			if err != nil {
				return nil, err
			}
			out.Conditions = append(out.Conditions, b)
		}
		return json.Marshal(struct {
			Aggregator Aggregator        `json:"aggregator"`
			Conditions []json.RawMessage `json:"conditions"`
		}{out.Aggregator, out.Conditions})
	}
	return nil, fmt.Errorf("unknown condition tree type: %T", tree)
}

// UnmarshalConditionTree decodes the format written by MarshalConditionTree.
func UnmarshalConditionTree(data []byte) (ConditionTree, error) {
	var raw *treeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode condition tree: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	if raw.Aggregator != "" {
		if raw.Aggregator != AggregatorAnd && raw.Aggregator != AggregatorOr {
			return nil, fmt.Errorf("unknown aggregator %q", raw.Aggregator)
		}
		conds := make([]ConditionTree, 0, len(raw.Conditions))
		for i, c := range raw.Conditions {
			sub, err := UnmarshalConditionTree(c)
			if err != nil {
				return nil, fmt.Errorf("conditions[%d]: %w", i, err)
			}
			if sub == nil {
				continue
			}
			conds = append(conds, sub)
		}
		return Branch{Aggregator: raw.Aggregator, Conditions: conds}, nil
	}
	if raw.Field == "" || raw.Operator == "" {
		return nil, fmt.Errorf("condition tree leaf needs field and operator")
	}
	var value ir.Value
	if len(raw.Value) > 0 {
		v, err := ir.UnmarshalValue(raw.Value)
		if err != nil {
			return nil, fmt.Errorf("leaf %s value: %w", raw.Field, err)
		}
		value = v
	}
	return NewLeaf(raw.Field, raw.Operator, value), nil
}
