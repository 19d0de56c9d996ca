package ics

import (
	"sort"
	"time"
)

// DateLayout is the canonical date key used for exception sets and
// appointment dates.
const DateLayout = "2006-01-02"

// CalendarEvent is one VEVENT block that carried the fields needed for
// import. It is never mutated after parsing.
type CalendarEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RecurrenceRule string
	ExceptionDates DateSet
	Created        *time.Time

	Organizer string
	Attendees []string
	Status    string
}

// IsRecurring reports whether the event carries an RRULE.
func (e CalendarEvent) IsRecurring() bool {
	return e.RecurrenceRule != ""
}

// DateSet is a set of calendar dates keyed by DateLayout.
type DateSet map[string]struct{}

// NewDateSet builds a set from the given instants, using each instant's own
// location to pick the date.
func NewDateSet(ts ...time.Time) DateSet {
	s := make(DateSet, len(ts))
	for _, t := range ts {
		s.Add(t)
	}
	return s
}

func (s DateSet) Add(t time.Time) {
	s[t.Format(DateLayout)] = struct{}{}
}

// Has reports whether t falls on one of the dates in the set.
func (s DateSet) Has(t time.Time) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[t.Format(DateLayout)]
	return ok
}

// Sorted returns the dates in ascending order.
func (s DateSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Frequency is the step unit of a recurrence.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// RecurrencePattern is the subset of RRULE this importer understands.
type RecurrencePattern struct {
	Frequency Frequency
	Interval  int
	Count     int // 0 means absent
	Until     *time.Time
}

// Bounded reports whether the pattern itself limits the series.
func (p RecurrencePattern) Bounded() bool {
	return p.Count > 0 || p.Until != nil
}
