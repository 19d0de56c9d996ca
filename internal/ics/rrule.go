package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnsupportedFrequency = errors.New("unsupported recurrence frequency")
	ErrInvalidRule          = errors.New("invalid recurrence rule")
)

// ParseRule reads FREQ, INTERVAL, COUNT and UNTIL from an RRULE value.
// Other keys are ignored. A leading "RRULE:" is tolerated.
func ParseRule(raw string, loc *time.Location) (RecurrencePattern, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 6 && strings.EqualFold(raw[:6], "RRULE:") {
		raw = raw[6:]
	}
	if raw == "" {
		return RecurrencePattern{}, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}

	p := RecurrencePattern{Interval: 1}
	for _, part := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			switch strings.ToUpper(value) {
			case "DAILY":
				p.Frequency = Daily
			case "WEEKLY":
				p.Frequency = Weekly
			case "MONTHLY":
				p.Frequency = Monthly
			default:
				return RecurrencePattern{}, fmt.Errorf("%w: %s", ErrUnsupportedFrequency, value)
			}
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return RecurrencePattern{}, fmt.Errorf("%w: INTERVAL=%s", ErrInvalidRule, value)
			}
			p.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return RecurrencePattern{}, fmt.Errorf("%w: COUNT=%s", ErrInvalidRule, value)
			}
			p.Count = n
		case "UNTIL":
			t, err := ParseICSTime(value, false, loc)
			if err != nil {
				return RecurrencePattern{}, fmt.Errorf("%w: UNTIL=%s", ErrInvalidRule, value)
			}
			// A date-only UNTIL covers the whole day.
			if !strings.Contains(value, "T") {
				t = t.Add(24*time.Hour - time.Second)
			}
			p.Until = &t
		}
	}

	if p.Frequency == "" {
		return RecurrencePattern{}, fmt.Errorf("%w: missing FREQ", ErrInvalidRule)
	}
	return p, nil
}
