package schema

import (
	"encoding/json"
	"sort"
)

// Operator is a logical filter operator.
type Operator string

const (
	Present            Operator = "Present"
	Blank              Operator = "Blank"
	Missing            Operator = "Missing"
	Equal              Operator = "Equal"
	NotEqual           Operator = "NotEqual"
	LessThan           Operator = "LessThan"
	GreaterThan        Operator = "GreaterThan"
	LessThanOrEqual    Operator = "LessThanOrEqual"
	GreaterThanOrEqual Operator = "GreaterThanOrEqual"
	In                 Operator = "In"
	NotIn              Operator = "NotIn"
	Match              Operator = "Match"
	Like               Operator = "Like"
	ILike              Operator = "ILike"
	Contains           Operator = "Contains"
	NotContains        Operator = "NotContains"
	IContains          Operator = "IContains"
	NotIContains       Operator = "NotIContains"
	StartsWith         Operator = "StartsWith"
	EndsWith           Operator = "EndsWith"
	IStartsWith        Operator = "IStartsWith"
	IEndsWith          Operator = "IEndsWith"
	LongerThan         Operator = "LongerThan"
	ShorterThan        Operator = "ShorterThan"
	IncludesAll        Operator = "IncludesAll"
	IncludesNone       Operator = "IncludesNone"

	Before                Operator = "Before"
	After                 Operator = "After"
	Past                  Operator = "Past"
	Future                Operator = "Future"
	Today                 Operator = "Today"
	Yesterday             Operator = "Yesterday"
	BeforeXHoursAgo       Operator = "BeforeXHoursAgo"
	AfterXHoursAgo        Operator = "AfterXHoursAgo"
	PreviousXDays         Operator = "PreviousXDays"
	PreviousXDaysToDate   Operator = "PreviousXDaysToDate"
	PreviousWeek          Operator = "PreviousWeek"
	PreviousWeekToDate    Operator = "PreviousWeekToDate"
	PreviousMonth         Operator = "PreviousMonth"
	PreviousMonthToDate   Operator = "PreviousMonthToDate"
	PreviousQuarter       Operator = "PreviousQuarter"
	PreviousQuarterToDate Operator = "PreviousQuarterToDate"
	PreviousYear          Operator = "PreviousYear"
	PreviousYearToDate    Operator = "PreviousYearToDate"
)

// AllOperators lists every logical operator.
var AllOperators = []Operator{
	Present, Blank, Missing, Equal, NotEqual, LessThan, GreaterThan, LessThanOrEqual,
	GreaterThanOrEqual, In, NotIn, Match, Like, ILike, Contains, NotContains, IContains,
	NotIContains, StartsWith, EndsWith, IStartsWith, IEndsWith, LongerThan, ShorterThan,
	IncludesAll, IncludesNone, Before, After, Past, Future, Today, Yesterday, BeforeXHoursAgo,
	AfterXHoursAgo, PreviousXDays, PreviousXDaysToDate, PreviousWeek, PreviousWeekToDate,
	PreviousMonth, PreviousMonthToDate, PreviousQuarter, PreviousQuarterToDate, PreviousYear,
	PreviousYearToDate,
}

// IntervalOperators are date operators that denote a time window relative
// to now.
var IntervalOperators = []Operator{
	Today, Yesterday, PreviousXDays, PreviousXDaysToDate, PreviousWeek, PreviousWeekToDate,
	PreviousMonth, PreviousMonthToDate, PreviousQuarter, PreviousQuarterToDate, PreviousYear,
	PreviousYearToDate,
}

// ValueKind describes the operand an operator expects.
type ValueKind int

const (
	// ValueNone means the operator takes no value (Present, Today, ...).
	ValueNone ValueKind = iota
	// ValueSingle means a value of the column type.
	ValueSingle
	// ValueList means a list of values of the column type.
	ValueList
	// ValueInteger means a non-negative integer (PreviousXDays, LongerThan, ...).
	ValueInteger
	// ValueString means a string pattern or regexp.
	ValueString
)

// OperatorValueKind returns the operand kind for op.
func OperatorValueKind(op Operator) ValueKind {
	switch op {
	case Present, Blank, Missing, Past, Future, Today, Yesterday, PreviousWeek,
		PreviousWeekToDate, PreviousMonth, PreviousMonthToDate, PreviousQuarter,
		PreviousQuarterToDate, PreviousYear, PreviousYearToDate:
		return ValueNone
	case In, NotIn, IncludesAll, IncludesNone:
		return ValueList
	case LongerThan, ShorterThan, PreviousXDays, PreviousXDaysToDate, BeforeXHoursAgo, AfterXHoursAgo:
		return ValueInteger
	case Match, Like, ILike, Contains, NotContains, IContains, NotIContains, StartsWith,
		EndsWith, IStartsWith, IEndsWith:
		return ValueString
	default:
		return ValueSingle
	}
}

// OperatorSet is an unordered set of operators.
type OperatorSet map[Operator]struct{}

// NewOperatorSet creates a set from operators.
func NewOperatorSet(ops ...Operator) OperatorSet {
	set := make(OperatorSet, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}

// Has reports whether op is in the set. A nil set is empty.
func (s OperatorSet) Has(op Operator) bool {
	_, ok := s[op]
	return ok
}

// Add inserts operators in place.
func (s OperatorSet) Add(ops ...Operator) {
	for _, op := range ops {
		s[op] = struct{}{}
	}
}

// Clone returns a copy of the set.
func (s OperatorSet) Clone() OperatorSet {
	out := make(OperatorSet, len(s))
	for op := range s {
		out[op] = struct{}{}
	}
	return out
}

// Slice returns the operators sorted by name.
func (s OperatorSet) Slice() []Operator {
	out := make([]Operator, 0, len(s))
	for op := range s {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted list.
func (s OperatorSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a list of operators.
func (s *OperatorSet) UnmarshalJSON(data []byte) error {
	var ops []Operator
	if err := json.Unmarshal(data, &ops); err != nil {
		return err
	}
	*s = NewOperatorSet(ops...)
	return nil
}

var (
	baseOperators     = []Operator{Present, Blank, Missing, Equal, NotEqual, In, NotIn}
	orderingOperators = []Operator{LessThan, GreaterThan, LessThanOrEqual, GreaterThanOrEqual}
	stringOperators   = []Operator{
		Match, Like, ILike, Contains, NotContains, IContains, NotIContains, StartsWith, EndsWith,
		IStartsWith, IEndsWith, LongerThan, ShorterThan,
	}
	dateOperators = []Operator{
		Before, After, Past, Future, Today, Yesterday, BeforeXHoursAgo, AfterXHoursAgo,
		PreviousXDays, PreviousXDaysToDate, PreviousWeek, PreviousWeekToDate, PreviousMonth,
		PreviousMonthToDate, PreviousQuarter, PreviousQuarterToDate, PreviousYear, PreviousYearToDate,
	}
)

// AllowedOperators returns the operators that make sense for a column type.
// Stores advertise a subset of these as natively supported.
func AllowedOperators(t ColumnType) OperatorSet {
	set := NewOperatorSet(Present, Blank, Missing, Equal, NotEqual)
	switch {
	case t.IsArray():
		set.Add(IncludesAll, IncludesNone)
		return set
	case !t.IsPrimitive():
		return set
	}

	set.Add(In, NotIn)
	switch t.Primitive {
	case Number, Time, Timeonly:
		set.Add(orderingOperators...)
	case String:
		set.Add(orderingOperators...)
		set.Add(stringOperators...)
	case Date, Dateonly:
		set.Add(orderingOperators...)
		set.Add(dateOperators...)
	case JSON, Point:
		return NewOperatorSet(Present, Blank, Missing, Equal, NotEqual)
	}
	return set
}

// BaseOperators returns a set with the operators every scalar column supports.
func BaseOperators() OperatorSet {
	return NewOperatorSet(baseOperators...)
}
