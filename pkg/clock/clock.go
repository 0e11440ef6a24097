// Package clock is the single source of "now" and "today". All day-level
// comparisons go through StartOfDay in the same zone.
package clock

import "time"

// Clock reports the current instant and the server-local zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// New returns a wall clock reporting time in loc.
func New(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c systemClock) Location() *time.Location { return c.loc }

// Fixed is a clock frozen at T. Tests advance it by assigning T.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }

func (f *Fixed) Location() *time.Location { return f.T.Location() }

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Today is midnight of the current day.
func Today(c Clock) time.Time {
	return StartOfDay(c.Now(), c.Location())
}

// Yesterday is midnight of the previous day.
func Yesterday(c Clock) time.Time {
	return Today(c).AddDate(0, 0, -1)
}

// MonthBounds returns midnight of the first day and midnight of the last
// day of month/year in loc.
func MonthBounds(year, month int, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, -1)
	return start, end
}

// DaysInMonth is 28 to 31.
func DaysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Days lists every midnight in [start, end], inclusive.
func Days(start, end time.Time) []time.Time {
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// DaysBetween counts whole days from a to b, floored at zero.
func DaysBetween(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}
	return int(b.Sub(a) / (24 * time.Hour))
}
