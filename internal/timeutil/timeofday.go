package timeutil

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MinutesPerDay is the exclusive upper bound of a TimeOfDay inside one day.
const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
// Values past MinutesPerDay only appear as computed interval ends.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "15:04" or "15:04:05". Seconds are truncated.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimeOfDay(t.Hour(), t.Minute()), nil
		}
	}
	if s == "24:00" {
		return MinutesPerDay, nil
	}
	return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

func (t TimeOfDay) Before(o TimeOfDay) bool { return t < o }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time of day must be a string: %w", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Duration converts the offset from midnight into a time.Duration.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

// Interval is a half-open wall-clock range [Start, End).
type Interval struct {
	Start TimeOfDay `json:"start_time"`
	End   TimeOfDay `json:"end_time"`
}

// WholeDay covers every minute of a calendar day.
var WholeDay = Interval{Start: 0, End: MinutesPerDay}

func NewInterval(start, end TimeOfDay) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("start %s must be before end %s", start, end)
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

// Extend returns the interval with minutes appended to its end.
func (i Interval) Extend(minutes int) Interval {
	return Interval{Start: i.Start, End: i.End.Add(minutes)}
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

// Merge sorts intervals and joins those that overlap or touch.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start < sorted[b].Start })

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// CoveredBy reports whether iv is fully contained in the union of intervals.
func CoveredBy(iv Interval, union []Interval) bool {
	for _, u := range Merge(union) {
		if u.Contains(iv) {
			return true
		}
	}
	return false
}

// FirstOverlap returns the index of the first pair of overlapping intervals,
// or -1, -1 when the set is disjoint.
func FirstOverlap(intervals []Interval) (int, int) {
	for a := 0; a < len(intervals); a++ {
		for b := a + 1; b < len(intervals); b++ {
			if intervals[a].Overlaps(intervals[b]) {
				return a, b
			}
		}
	}
	return -1, -1
}
