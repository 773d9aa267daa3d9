package timeutil

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	DateLayout      = "2006-01-02"
	DefaultTimezone = "Asia/Taipei"
)

// LoadLocation resolves the clinic-operating timezone, falling back to
// DefaultTimezone when name is empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// DateOf returns midnight of t's calendar date in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DateFromYMD re-anchors a date-only value (as scanned from a DATE column,
// typically UTC midnight) onto loc without shifting the calendar day.
func DateFromYMD(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return d, nil
}

func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// Weekday numbers days Monday=0 through Sunday=6.
func Weekday(d time.Time) int {
	return (int(d.Weekday()) + 6) % 7
}

// Combine produces the absolute instant of a wall-clock time on date in loc.
// Only the calendar day of date is used; 24:00 is the next midnight.
func Combine(date time.Time, t TimeOfDay, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// Split breaks an instant into its clinic date and wall-clock time.
func Split(t time.Time, loc *time.Location) (time.Time, TimeOfDay) {
	t = t.In(loc)
	return DateOf(t, loc), NewTimeOfDay(t.Hour(), t.Minute())
}

func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DateRange lists every date from..to inclusive.
func DateRange(from, to time.Time) []time.Time {
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
