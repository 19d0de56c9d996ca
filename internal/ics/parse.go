package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/rs/zerolog"
)

// ErrUnreadableDocument is returned when the input cannot be tokenized as a
// calendar at all. No event is returned alongside it.
var ErrUnreadableDocument = errors.New("unreadable calendar document")

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";")

// Parser turns a calendar document into CalendarEvents. Floating and TZID
// times are read in loc; UTC times are converted into loc.
type Parser struct {
	loc *time.Location
	log zerolog.Logger
}

func NewParser(loc *time.Location, log zerolog.Logger) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc, log: log}
}

// Parse consumes the whole document. Blocks missing UID, SUMMARY or a
// parseable DTSTART are dropped; only a document that cannot be read
// yields an error.
func (p *Parser) Parse(r io.Reader) ([]CalendarEvent, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	return p.ParseBytes(body)
}

// ParseBytes reads the envelope itself and hands every VEVENT block to
// golang-ical on its own, so one malformed block cannot take the rest of
// the document down with it.
func (p *Parser) ParseBytes(body []byte) ([]CalendarEvent, error) {
	lines := unfold(body)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnreadableDocument)
	}
	if !strings.EqualFold(strings.TrimSpace(lines[0]), "BEGIN:VCALENDAR") {
		return nil, fmt.Errorf("%w: expected BEGIN:VCALENDAR", ErrUnreadableDocument)
	}

	blocks, unterminated := splitEvents(lines[1:])

	events := make([]CalendarEvent, 0, len(blocks))
	dropped := unterminated
	for _, block := range blocks {
		ve, err := parseBlock(block)
		if err != nil {
			dropped++
			p.log.Debug().Err(err).Msg("dropping malformed event block")
			continue
		}
		ev, ok := p.parseVEvent(ve)
		if !ok {
			dropped++
			continue
		}
		events = append(events, ev)
	}

	p.log.Debug().
		Int("event_count", len(events)).
		Int("dropped", dropped).
		Msg("calendar parsed")
	return events, nil
}

// unfold joins continuation lines and drops blank ones.
func unfold(body []byte) []string {
	text := strings.TrimPrefix(string(body), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line == "" || (len(out) == 0 && strings.TrimSpace(line) == "") {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += line[1:]
			continue
		}
		out = append(out, line)
	}
	return out
}

// splitEvents collects the BEGIN:VEVENT..END:VEVENT blocks. A block cut
// short by another BEGIN:VEVENT, END:VCALENDAR or the end of input is
// counted as unterminated and left out.
func splitEvents(lines []string) (blocks [][]string, unterminated int) {
	var cur []string
	open := false
	for _, line := range lines {
		switch strings.ToUpper(strings.TrimSpace(line)) {
		case "BEGIN:VEVENT":
			if open {
				unterminated++
			}
			cur = []string{"BEGIN:VEVENT"}
			open = true
		case "END:VEVENT":
			if open {
				blocks = append(blocks, append(cur, "END:VEVENT"))
				cur, open = nil, false
			}
		case "END:VCALENDAR":
			if open {
				unterminated++
				cur, open = nil, false
			}
		default:
			if open {
				cur = append(cur, line)
			}
		}
	}
	if open {
		unterminated++
	}
	return blocks, unterminated
}

// parseBlock wraps one event block in a minimal calendar for golang-ical.
func parseBlock(block []string) (*ical.VEvent, error) {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calsync//event//EN\r\n")
	for _, line := range block {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")

	cal, err := ical.ParseCalendar(strings.NewReader(b.String()))
	if err != nil {
		return nil, err
	}
	events := cal.Events()
	if len(events) != 1 {
		return nil, fmt.Errorf("expected one event in block, got %d", len(events))
	}
	return events[0], nil
}

// property is a case-normalized view of one content line.
type property struct {
	name   string
	params map[string]string
	value  string
}

func normalizeProperties(ve *ical.VEvent) map[string][]property {
	out := make(map[string][]property)
	for _, raw := range ve.Properties {
		name := strings.ToUpper(strings.TrimSpace(raw.IANAToken))
		prop := property{name: name, value: raw.Value}
		for k, vs := range raw.ICalParameters {
			if len(vs) == 0 {
				continue
			}
			if prop.params == nil {
				prop.params = make(map[string]string)
			}
			prop.params[strings.ToUpper(k)] = vs[0]
		}
		out[name] = append(out[name], prop)
	}
	return out
}

func first(props map[string][]property, name string) (property, bool) {
	ps := props[name]
	if len(ps) == 0 {
		return property{}, false
	}
	return ps[0], true
}

func (p *Parser) parseVEvent(ve *ical.VEvent) (CalendarEvent, bool) {
	props := normalizeProperties(ve)

	var ev CalendarEvent
	if uid, ok := first(props, "UID"); ok {
		ev.UID = strings.TrimSpace(uid.value)
	}
	if s, ok := first(props, "SUMMARY"); ok {
		ev.Summary = strings.TrimSpace(unescapeText(s.value))
	}
	if ev.UID == "" || ev.Summary == "" {
		return CalendarEvent{}, false
	}

	dtStart, ok := first(props, "DTSTART")
	if !ok {
		return CalendarEvent{}, false
	}
	ev.AllDay = isDateValue(dtStart)
	start, err := p.parseTime(dtStart.value, ev.AllDay)
	if err != nil {
		p.log.Debug().Str("uid", ev.UID).Err(err).Msg("dropping event with unparseable DTSTART")
		return CalendarEvent{}, false
	}
	ev.Start = start

	if dtEnd, ok := first(props, "DTEND"); ok {
		if end, err := p.parseTime(dtEnd.value, isDateValue(dtEnd)); err == nil {
			ev.End = end
		}
	}
	if d, ok := first(props, "DESCRIPTION"); ok {
		ev.Description = strings.TrimSpace(unescapeText(d.value))
	}
	if l, ok := first(props, "LOCATION"); ok {
		ev.Location = strings.TrimSpace(unescapeText(l.value))
	}
	if o, ok := first(props, "ORGANIZER"); ok {
		ev.Organizer = stripMailto(o.value)
	}
	for _, a := range props["ATTENDEE"] {
		if addr := stripMailto(a.value); addr != "" {
			ev.Attendees = append(ev.Attendees, addr)
		}
	}
	if s, ok := first(props, "STATUS"); ok {
		ev.Status = strings.ToUpper(strings.TrimSpace(s.value))
	}
	if c, ok := first(props, "CREATED"); ok {
		if t, err := p.parseTime(c.value, false); err == nil {
			ev.Created = &t
		}
	}
	if r, ok := first(props, "RRULE"); ok {
		ev.RecurrenceRule = strings.TrimSpace(r.value)
	}

	ev.ExceptionDates = make(DateSet)
	for _, ex := range props["EXDATE"] {
		allDay := isDateValue(ex)
		for _, part := range strings.Split(ex.value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := p.parseTime(part, allDay); err == nil {
				ev.ExceptionDates.Add(t)
			}
		}
	}

	return ev, true
}

// isDateValue detects the all-day marker: VALUE=DATE or a bare YYYYMMDD.
func isDateValue(prop property) bool {
	if strings.EqualFold(prop.params["VALUE"], "DATE") {
		return true
	}
	return !strings.Contains(prop.value, "T")
}

// parseTime reads the DATE / DATE-TIME forms used by DTSTART, DTEND,
// EXDATE and CREATED.
func (p *Parser) parseTime(v string, allDay bool) (time.Time, error) {
	return ParseICSTime(v, allDay, p.loc)
}

// ParseICSTime parses YYYYMMDD, YYYYMMDDTHHMMSS and YYYYMMDDTHHMMSSZ values.
// UTC values are converted into loc; everything else is read in loc.
func ParseICSTime(v string, allDay bool, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}

	if allDay || !strings.Contains(v, "T") {
		if len(v) < 8 {
			return time.Time{}, fmt.Errorf("invalid date %q", v)
		}
		return time.ParseInLocation("20060102", v[:8], loc)
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}

	return time.ParseInLocation("20060102T150405", v, loc)
}

func unescapeText(v string) string {
	return textUnescaper.Replace(v)
}

func stripMailto(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return strings.TrimSpace(v)
}
