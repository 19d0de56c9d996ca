package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultOccurrenceCap bounds a single event's expansion: about ten years of
// weekly occurrences.
const DefaultOccurrenceCap = 520

// Expander turns a start instant and a RecurrencePattern into concrete
// occurrence instants. It holds no state besides its cap and is safe for
// concurrent use.
type Expander struct {
	cap int
}

func NewExpander(occurrenceCap int) *Expander {
	if occurrenceCap <= 0 {
		occurrenceCap = DefaultOccurrenceCap
	}
	return &Expander{cap: occurrenceCap}
}

// Cap returns the safety cap applied to every expansion.
func (x *Expander) Cap() int {
	return x.cap
}

// Expand returns the occurrences of the series inside [windowStart,
// windowEnd] whose date is not in exceptions, in ascending order.
//
// When both Count and Until are set the series runs to whichever ends
// later. The cap is counted from start: occurrences past the cap-th are
// never produced, whatever the window.
func (x *Expander) Expand(start time.Time, p RecurrencePattern, exceptions DateSet, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if windowEnd.Before(windowStart) {
		return nil, nil
	}
	freq, err := toRRuleFrequency(p.Frequency)
	if err != nil {
		return nil, err
	}
	interval := p.Interval
	if interval < 1 {
		interval = 1
	}

	limit := windowEnd
	if p.Count > 0 {
		count := p.Count
		if count > x.cap {
			count = x.cap
		}
		r, err := rrule.NewRRule(rrule.ROption{
			Freq:     freq,
			Interval: interval,
			Count:    count,
			Dtstart:  start,
		})
		if err != nil {
			return nil, fmt.Errorf("build count rule: %w", err)
		}
		all := r.All()
		if len(all) == 0 {
			return nil, nil
		}
		countEnd := all[len(all)-1]
		if p.Until == nil || !p.Until.After(countEnd) {
			return filterOccurrences(all, exceptions, windowStart, windowEnd, x.cap), nil
		}
		limit = minTime(windowEnd, *p.Until)
	} else if p.Until != nil {
		limit = minTime(windowEnd, *p.Until)
	}

	if limit.Before(windowStart) {
		return nil, nil
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     freq,
		Interval: interval,
		Count:    x.cap,
		Dtstart:  start,
		Until:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("build rule: %w", err)
	}
	return filterOccurrences(r.Between(windowStart, limit, true), exceptions, windowStart, windowEnd, x.cap), nil
}

func filterOccurrences(in []time.Time, exceptions DateSet, from, to time.Time, limit int) []time.Time {
	out := make([]time.Time, 0, len(in))
	for _, t := range in {
		if t.Before(from) || t.After(to) {
			continue
		}
		if exceptions.Has(t) {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func toRRuleFrequency(f Frequency) (rrule.Frequency, error) {
	switch f {
	case Daily:
		return rrule.DAILY, nil
	case Weekly:
		return rrule.WEEKLY, nil
	case Monthly:
		return rrule.MONTHLY, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, f)
	}
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
