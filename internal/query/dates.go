package query

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// Env carries the time context for date operators: the current instant and
// the caller's timezone. Day, week and month boundaries are computed in
// Location.
type Env struct {
	Now      time.Time
	Location *time.Location
}

// NewEnv reads the current time from clock and resolves timezone.
// An empty timezone means UTC.
func NewEnv(clock clockwork.Clock, timezone string) (Env, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return Env{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		loc = l
	}
	return Env{Now: clock.Now().In(loc), Location: loc}, nil
}

func (e Env) now() time.Time {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	if e.Now.IsZero() {
		return time.Now().In(loc)
	}
	return e.Now.In(loc)
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseDate reads a date from a String value. Dates without an offset are
// read in loc.
func ParseDate(v ir.Value, loc *time.Location) (time.Time, bool) {
	s, ok := v.(ir.String)
	if !ok {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, string(s), loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders t the way a column of type t stores dates.
func FormatDate(t time.Time, columnType schema.ColumnType) ir.Value {
	if columnType.Is(schema.Dateonly) {
		return ir.String(t.Format("2006-01-02"))
	}
	return ir.String(t.UTC().Format(time.RFC3339))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday starting t's ISO week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func startOfQuarter(t time.Time) time.Time {
	y, m, _ := t.Date()
	first := time.Month((int(m)-1)/3*3 + 1)
	return time.Date(y, first, 1, 0, 0, 0, 0, t.Location())
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

// Interval returns the half-open window [start, end) an interval operator
// denotes. n is the operand of PreviousXDays and PreviousXDaysToDate.
func Interval(op schema.Operator, n int, env Env) (start, end time.Time, ok bool) {
	now := env.now()
	today := startOfDay(now)
	switch op {
	case schema.Today:
		return today, today.AddDate(0, 0, 1), true
	case schema.Yesterday:
		return today.AddDate(0, 0, -1), today, true
	case schema.PreviousXDays:
		return today.AddDate(0, 0, -n), today, true
	case schema.PreviousXDaysToDate:
		return today.AddDate(0, 0, -n), now, true
	case schema.PreviousWeek:
		w := startOfWeek(now)
		return w.AddDate(0, 0, -7), w, true
	case schema.PreviousWeekToDate:
		return startOfWeek(now), now, true
	case schema.PreviousMonth:
		m := startOfMonth(now)
		return m.AddDate(0, -1, 0), m, true
	case schema.PreviousMonthToDate:
		return startOfMonth(now), now, true
	case schema.PreviousQuarter:
		q := startOfQuarter(now)
		return q.AddDate(0, -3, 0), q, true
	case schema.PreviousQuarterToDate:
		return startOfQuarter(now), now, true
	case schema.PreviousYear:
		y := startOfYear(now)
		return y.AddDate(-1, 0, 0), y, true
	case schema.PreviousYearToDate:
		return startOfYear(now), now, true
	}
	return time.Time{}, time.Time{}, false
}

// TruncateDate buckets t for date grouping and returns the bucket start as
// a "2006-01-02" string.
func TruncateDate(t time.Time, op schema.DateOperation) ir.Value {
	var bucket time.Time
	switch op {
	case schema.Year:
		bucket = startOfYear(t)
	case schema.Quarter:
		bucket = startOfQuarter(t)
	case schema.Month:
		bucket = startOfMonth(t)
	case schema.Week:
		bucket = startOfWeek(t)
	default:
		bucket = startOfDay(t)
	}
	return ir.String(bucket.Format("2006-01-02"))
}

func intOperand(v ir.Value) (int, bool) {
	f, ok := ir.AsFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
