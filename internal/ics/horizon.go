package ics

import "time"

// Horizon decides which part of an unbounded series an import run
// materializes.
type Horizon interface {
	Window(now time.Time) (from, to time.Time)
}

// MonthsHorizon is a window relative to the run clock, from the start of
// the day Back months ago to the end of the day Ahead months from now.
type MonthsHorizon struct {
	Back  int
	Ahead int
}

func (h MonthsHorizon) Window(now time.Time) (time.Time, time.Time) {
	from := startOfDay(now.AddDate(0, -h.Back, 0))
	to := startOfDay(now.AddDate(0, h.Ahead, 0)).Add(24*time.Hour - time.Nanosecond)
	return from, to
}

// FixedHorizon ignores the clock.
type FixedHorizon struct {
	From time.Time
	To   time.Time
}

func (h FixedHorizon) Window(time.Time) (time.Time, time.Time) {
	return h.From, h.To
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
