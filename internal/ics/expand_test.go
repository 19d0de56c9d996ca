package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dates(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format(DateLayout)
	}
	return out
}

func TestExpand_BiweeklyInsideWindow(t *testing.T) {
	x := NewExpander(0)
	got, err := x.Expand(day(2025, 1, 6), RecurrencePattern{Frequency: Weekly, Interval: 2}, nil, day(2025, 1, 1), day(2025, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06", "2025-01-20", "2025-02-03", "2025-02-17"}, dates(got))
}

func TestExpand_UnboundedStaysInsideWindow(t *testing.T) {
	x := NewExpander(0)
	start := time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC)
	from, to := day(2026, 1, 1), day(2026, 2, 1)

	for _, f := range []Frequency{Daily, Weekly, Monthly} {
		got, err := x.Expand(start, RecurrencePattern{Frequency: f, Interval: 1}, nil, from, to)
		require.NoError(t, err)
		require.NotEmpty(t, got, "frequency %s", f)
		for _, ts := range got {
			assert.False(t, ts.Before(from), "%s before window", ts)
			assert.False(t, ts.After(to), "%s after window", ts)
			assert.Equal(t, "09:30", ts.Format("15:04"))
		}
	}
}

func TestExpand_CountLimitsSeries(t *testing.T) {
	x := NewExpander(0)
	got, err := x.Expand(day(2025, 1, 1), RecurrencePattern{Frequency: Daily, Interval: 1, Count: 3}, nil, day(2024, 1, 1), day(2026, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02", "2025-01-03"}, dates(got))
}

func TestExpand_UntilIsInclusive(t *testing.T) {
	x := NewExpander(0)
	until := day(2025, 1, 15)
	got, err := x.Expand(day(2025, 1, 1), RecurrencePattern{Frequency: Weekly, Interval: 1, Until: &until}, nil, day(2024, 1, 1), day(2026, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01", "2025-01-08", "2025-01-15"}, dates(got))
}

func TestExpand_CountAndUntilRunToTheLater(t *testing.T) {
	x := NewExpander(0)
	until := day(2025, 1, 3)
	got, err := x.Expand(day(2025, 1, 1), RecurrencePattern{Frequency: Daily, Interval: 1, Count: 5, Until: &until}, nil, day(2024, 1, 1), day(2026, 1, 1))
	require.NoError(t, err)
	assert.Len(t, got, 5)

	until = day(2025, 1, 7)
	got, err = x.Expand(day(2025, 1, 1), RecurrencePattern{Frequency: Daily, Interval: 1, Count: 2, Until: &until}, nil, day(2024, 1, 1), day(2026, 1, 1))
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestExpand_SkipsExceptionDates(t *testing.T) {
	x := NewExpander(0)
	ex := NewDateSet(day(2025, 1, 20), day(2025, 2, 17))
	got, err := x.Expand(day(2025, 1, 6), RecurrencePattern{Frequency: Weekly, Interval: 2}, ex, day(2025, 1, 1), day(2025, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06", "2025-02-03"}, dates(got))
}

func TestExpand_SafetyCap(t *testing.T) {
	x := NewExpander(10)
	got, err := x.Expand(day(2025, 1, 1), RecurrencePattern{Frequency: Daily, Interval: 1, Count: 1000}, nil, day(2024, 1, 1), day(2030, 1, 1))
	require.NoError(t, err)
	assert.Len(t, got, 10)

	got, err = x.Expand(day(2025, 1, 1), RecurrencePattern{Frequency: Daily, Interval: 1}, nil, day(2024, 1, 1), day(2030, 1, 1))
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestExpand_CapCountsFromSeriesStart(t *testing.T) {
	x := NewExpander(5)
	got, err := x.Expand(day(2025, 1, 1), RecurrencePattern{Frequency: Daily, Interval: 1}, nil, day(2025, 1, 3), day(2025, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-03", "2025-01-04", "2025-01-05"}, dates(got))

	// a weekly series started in 2010 used up its 520 occurrences before 2025
	x = NewExpander(DefaultOccurrenceCap)
	got, err = x.Expand(day(2010, 1, 4), RecurrencePattern{Frequency: Weekly, Interval: 1}, nil, day(2025, 1, 1), day(2025, 3, 1))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = x.Expand(day(2016, 1, 4), RecurrencePattern{Frequency: Weekly, Interval: 1}, nil, day(2025, 1, 1), day(2025, 3, 1))
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestExpand_MonthlySkipsShortMonths(t *testing.T) {
	x := NewExpander(0)
	got, err := x.Expand(day(2025, 1, 31), RecurrencePattern{Frequency: Monthly, Interval: 1}, nil, day(2025, 1, 1), day(2025, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-31", "2025-03-31", "2025-05-31"}, dates(got))
}

func TestExpand_EmptyWindow(t *testing.T) {
	x := NewExpander(0)
	got, err := x.Expand(day(2025, 1, 1), RecurrencePattern{Frequency: Daily, Interval: 1}, nil, day(2025, 2, 1), day(2025, 1, 1))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMonthsHorizon(t *testing.T) {
	now := time.Date(2025, 5, 15, 13, 0, 0, 0, time.UTC)
	from, to := MonthsHorizon{Back: 1, Ahead: 6}.Window(now)
	assert.Equal(t, day(2025, 4, 15), from)
	assert.Equal(t, "2025-11-15 23:59", to.Format("2006-01-02 15:04"))
}
