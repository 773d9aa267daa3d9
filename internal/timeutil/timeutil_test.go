package timeutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"09:00", NewTimeOfDay(9, 0), false},
		{"16:45:30", NewTimeOfDay(16, 45), false},
		{"24:00", MinutesPerDay, false},
		{"9am", 0, true},
		{"25:00", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	data, err := json.Marshal(NewTimeOfDay(7, 5))
	require.NoError(t, err)
	assert.Equal(t, `"07:05"`, string(data))

	var tod TimeOfDay
	require.NoError(t, json.Unmarshal([]byte(`"13:30"`), &tod))
	assert.Equal(t, NewTimeOfDay(13, 30), tod)
	assert.Error(t, json.Unmarshal([]byte(`1330`), &tod))
}

func TestIntervalOverlapIsSymmetricAndHalfOpen(t *testing.T) {
	a := Interval{Start: NewTimeOfDay(10, 0), End: NewTimeOfDay(10, 30)}
	cases := []struct {
		name string
		b    Interval
		want bool
	}{
		{"touching after", Interval{NewTimeOfDay(10, 30), NewTimeOfDay(11, 0)}, false},
		{"touching before", Interval{NewTimeOfDay(9, 30), NewTimeOfDay(10, 0)}, false},
		{"inside", Interval{NewTimeOfDay(10, 10), NewTimeOfDay(10, 20)}, true},
		{"straddle start", Interval{NewTimeOfDay(9, 45), NewTimeOfDay(10, 15)}, true},
		{"identical", a, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, a.Overlaps(tc.b))
			assert.Equal(t, a.Overlaps(tc.b), tc.b.Overlaps(a))
		})
	}
}

func TestCoveredByMergesAdjacentSessions(t *testing.T) {
	union := []Interval{
		{NewTimeOfDay(13, 0), NewTimeOfDay(17, 0)},
		{NewTimeOfDay(9, 0), NewTimeOfDay(13, 0)},
	}
	assert.True(t, CoveredBy(Interval{NewTimeOfDay(12, 30), NewTimeOfDay(13, 30)}, union))
	assert.True(t, CoveredBy(Interval{NewTimeOfDay(9, 0), NewTimeOfDay(17, 0)}, union))
	assert.False(t, CoveredBy(Interval{NewTimeOfDay(16, 45), NewTimeOfDay(17, 15)}, union))

	split := []Interval{
		{NewTimeOfDay(9, 0), NewTimeOfDay(12, 0)},
		{NewTimeOfDay(13, 0), NewTimeOfDay(17, 0)},
	}
	assert.False(t, CoveredBy(Interval{NewTimeOfDay(11, 45), NewTimeOfDay(13, 15)}, split))
}

func TestFirstOverlap(t *testing.T) {
	a, b := FirstOverlap([]Interval{
		{NewTimeOfDay(9, 0), NewTimeOfDay(12, 0)},
		{NewTimeOfDay(12, 0), NewTimeOfDay(13, 0)},
	})
	assert.Equal(t, -1, a)
	assert.Equal(t, -1, b)

	a, b = FirstOverlap([]Interval{
		{NewTimeOfDay(9, 0), NewTimeOfDay(12, 0)},
		{NewTimeOfDay(14, 0), NewTimeOfDay(15, 0)},
		{NewTimeOfDay(11, 0), NewTimeOfDay(13, 0)},
	})
	assert.Equal(t, 0, a)
	assert.Equal(t, 2, b)
}

func TestWeekdayStartsMonday(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)

	monday, err := ParseDate("2026-10-19", loc)
	require.NoError(t, err)
	assert.Equal(t, 0, Weekday(monday))
	assert.Equal(t, 6, Weekday(monday.AddDate(0, 0, 6)))
}

func TestCombineAndSplit(t *testing.T) {
	loc, err := LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	date, err := ParseDate("2026-10-19", loc)
	require.NoError(t, err)

	instant := Combine(date, NewTimeOfDay(9, 30), loc)
	assert.Equal(t, time.Date(2026, 10, 19, 1, 30, 0, 0, time.UTC), instant.UTC())

	d, tod := Split(instant.UTC(), loc)
	assert.True(t, SameDate(date, d))
	assert.Equal(t, NewTimeOfDay(9, 30), tod)
}

func TestCombineKeepsWallClockAcrossDSTChange(t *testing.T) {
	loc, err := LoadLocation("America/New_York")
	require.NoError(t, err)

	// clocks jump from 02:00 to 03:00 on this date
	date, err := ParseDate("2026-03-08", loc)
	require.NoError(t, err)

	instant := Combine(date, NewTimeOfDay(9, 30), loc)
	assert.Equal(t, 9, instant.Hour())
	assert.Equal(t, 30, instant.Minute())
	assert.Equal(t, time.Date(2026, 3, 8, 13, 30, 0, 0, time.UTC), instant.UTC())

	d, tod := Split(instant, loc)
	assert.True(t, SameDate(date, d))
	assert.Equal(t, NewTimeOfDay(9, 30), tod)
}

func TestDateFromYMDKeepsCalendarDay(t *testing.T) {
	loc, err := LoadLocation("Asia/Taipei")
	require.NoError(t, err)
	scanned := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-19", FormatDate(DateFromYMD(scanned, loc)))
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	clock := NewFixedClock(start)
	clock.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), clock.Now())
}
