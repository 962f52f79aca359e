package query

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// fold normalizes s for case-insensitive comparison. Casers are stateful,
// so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// Match evaluates tree against record in memory.
//
// Paths crossing a to-many relation match when any related record matches.
// Unknown operators never match.
func Match(tree ConditionTree, record ir.Record, env Env) bool {
	switch t := tree.(type) {
	case nil:
		return true
	case Leaf:
		return matchPath(record, strings.Split(t.Field, Separator), t, env)
	case Branch:
		if t.Aggregator == AggregatorOr {
			for _, c := range t.Conditions {
				if Match(c, record, env) {
					return true
				}
			}
			return false
		}
		for _, c := range t.Conditions {
			if !Match(c, record, env) {
				return false
			}
		}
		return true
	}
	return false
}

// FilterRecords returns the records matching tree.
func FilterRecords(tree ConditionTree, records []ir.Record, env Env) []ir.Record {
	if tree == nil {
		return records
	}
	out := make([]ir.Record, 0, len(records))
	for _, r := range records {
		if Match(tree, r, env) {
			out = append(out, r)
		}
	}
	return out
}

func matchPath(record ir.Record, parts []string, leaf Leaf, env Env) bool {
	v, ok := record[parts[0]]
	if len(parts) == 1 {
		if !ok || v == nil {
			v = ir.Null{}
		}
		return MatchValue(leaf.Operator, v, leaf.Value, env)
	}
	switch val := v.(type) {
	case ir.Record:
		return matchPath(val, parts[1:], leaf, env)
	case ir.List:
		for _, elem := range val {
			if rec, ok := elem.(ir.Record); ok && matchPath(rec, parts[1:], leaf, env) {
				return true
			}
		}
		return false
	default:
		// A null relation behaves as a related record with null fields.
		return matchPath(ir.Record{}, parts[1:], leaf, env)
	}
}

// MatchValue applies op to a stored value and an operand.
func MatchValue(op schema.Operator, v, operand ir.Value, env Env) bool {
	switch op {
	case schema.Present:
		return !isBlank(v)
	case schema.Blank:
		return isBlank(v)
	case schema.Missing:
		return ir.IsNull(v)
	case schema.Equal:
		return valuesEqual(v, operand, env)
	case schema.NotEqual:
		return !valuesEqual(v, operand, env)
	case schema.In:
		return inList(v, operand, env)
	case schema.NotIn:
		return !inList(v, operand, env)
	case schema.LessThan, schema.Before:
		c, ok := compareValues(v, operand, env)
		return ok && c < 0
	case schema.GreaterThan, schema.After:
		c, ok := compareValues(v, operand, env)
		return ok && c > 0
	case schema.LessThanOrEqual:
		c, ok := compareValues(v, operand, env)
		return ok && c <= 0
	case schema.GreaterThanOrEqual:
		c, ok := compareValues(v, operand, env)
		return ok && c >= 0
	case schema.Match:
		return matchRegexp(v, operand)
	case schema.Like:
		return matchLike(v, operand, false)
	case schema.ILike:
		return matchLike(v, operand, true)
	case schema.Contains, schema.StartsWith, schema.EndsWith,
		schema.IContains, schema.IStartsWith, schema.IEndsWith:
		return matchSubstring(op, v, operand)
	case schema.NotContains:
		return !matchSubstring(schema.Contains, v, operand)
	case schema.NotIContains:
		return !matchSubstring(schema.IContains, v, operand)
	case schema.LongerThan, schema.ShorterThan:
		s, ok := v.(ir.String)
		n, okN := intOperand(operand)
		if !ok || !okN {
			return false
		}
		length := utf8.RuneCountInString(string(s))
		if op == schema.LongerThan {
			return length > n
		}
		return length < n
	case schema.IncludesAll, schema.IncludesNone:
		return matchIncludes(op, v, operand)
	case schema.Past, schema.Future:
		t, ok := ParseDate(v, env.Location)
		if !ok {
			return false
		}
		if op == schema.Past {
			return t.Before(env.now())
		}
		return t.After(env.now())
	case schema.BeforeXHoursAgo, schema.AfterXHoursAgo:
		t, ok := ParseDate(v, env.Location)
		n, okN := intOperand(operand)
		if !ok || !okN {
			return false
		}
		limit := env.now().Add(-time.Duration(n) * time.Hour)
		if op == schema.BeforeXHoursAgo {
			return t.Before(limit)
		}
		return t.After(limit)
	}
	n, _ := intOperand(operand)
	if start, end, ok := Interval(op, n, env); ok {
		t, ok := ParseDate(v, env.Location)
		return ok && !t.Before(start) && t.Before(end)
	}
	return false
}

func isBlank(v ir.Value) bool {
	if ir.IsNull(v) || ir.IsUndefined(v) {
		return true
	}
	s, ok := v.(ir.String)
	return ok && s == ""
}

func valuesEqual(a, b ir.Value, env Env) bool {
	if ir.Equal(a, b) {
		return true
	}
	ta, okA := ParseDate(a, env.Location)
	tb, okB := ParseDate(b, env.Location)
	return okA && okB && ta.Equal(tb)
}

func compareValues(a, b ir.Value, env Env) (int, bool) {
	ta, okA := ParseDate(a, env.Location)
	tb, okB := ParseDate(b, env.Location)
	if okA && okB {
		return ta.Compare(tb), true
	}
	return ir.Compare(a, b)
}

func inList(v, operand ir.Value, env Env) bool {
	list, ok := operand.(ir.List)
	if !ok {
		return valuesEqual(v, operand, env)
	}
	for _, item := range list {
		if valuesEqual(v, item, env) {
			return true
		}
	}
	return false
}

func matchRegexp(v, operand ir.Value) bool {
	s, ok := v.(ir.String)
	pattern, okP := operand.(ir.String)
	if !ok || !okP {
		return false
	}
	re, err := regexp.Compile(string(pattern))
	return err == nil && re.MatchString(string(s))
}

func matchLike(v, operand ir.Value, insensitive bool) bool {
	pattern, ok := operand.(ir.String)
	if !ok {
		return false
	}
	return matchRegexp(v, ir.String(LikeToRegexp(string(pattern), insensitive)))
}

// LikeToRegexp converts a LIKE pattern (% and _ wildcards) to an anchored
// regular expression.
func LikeToRegexp(pattern string, insensitive bool) string {
	var b strings.Builder
	if insensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

func matchSubstring(op schema.Operator, v, operand ir.Value) bool {
	s, ok := v.(ir.String)
	needle, okN := operand.(ir.String)
	if !ok || !okN {
		return false
	}
	hay, sub := norm.NFC.String(string(s)), norm.NFC.String(string(needle))
	switch op {
	case schema.IContains, schema.IStartsWith, schema.IEndsWith:
		hay, sub = fold(hay), fold(sub)
	}
	switch op {
	case schema.StartsWith, schema.IStartsWith:
		return strings.HasPrefix(hay, sub)
	case schema.EndsWith, schema.IEndsWith:
		return strings.HasSuffix(hay, sub)
	default:
		return strings.Contains(hay, sub)
	}
}

func matchIncludes(op schema.Operator, v, operand ir.Value) bool {
	stored, ok := v.(ir.List)
	if !ok {
		stored = nil
	}
	wanted, ok := operand.(ir.List)
	if !ok {
		wanted = ir.List{operand}
	}
	for _, w := range wanted {
		found := false
		for _, s := range stored {
			if ir.Equal(s, w) {
				found = true
				break
			}
		}
		if op == schema.IncludesAll && !found {
			return false
		}
		if op == schema.IncludesNone && found {
			return false
		}
	}
	return true
}
