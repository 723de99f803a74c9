package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "tradein/internal/log"
	"tradein/internal/model"
)

// ParsedEvent is one VEVENT before recurrence expansion.
type ParsedEvent struct {
	Source Source

	UID     string
	Seq     int
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time
	IsOverride bool

	// Cancelled and Transparent events never block a slot.
	Cancelled   bool
	Transparent bool
}

// Busy reports whether the event occupies time.
func (e ParsedEvent) Busy() bool { return !e.Cancelled && !e.Transparent }

// ParseICS parses one feed body. Floating times and all-day dates are read
// in loc. A VEVENT whose times cannot be read fails the whole feed with a
// *model.TimeFormatError; dropping it would hide a busy interval.
func ParseICS(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("ics: source %s: empty body", src.ID)
	}
	if loc == nil {
		loc = time.UTC
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: source %s: %w", src.ID, err)
	}

	events := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve, loc)
		if err != nil {
			appLog.Error("ics vevent rejected", err, "id", src.ID, "url", redactURL(src.URL))
			return nil, err
		}
		events = append(events, ev)
	}
	appLog.Debug("ics parsed", "id", src.ID, "events", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return out, &model.TimeFormatError{Field: "UID", Err: errors.New("missing UID")}
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), string(ical.ObjectStatusCancelled))
	}
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil {
		out.Transparent = strings.EqualFold(strings.TrimSpace(p.Value), string(ical.TransparencyTransparent))
	}

	start := ve.GetProperty(ical.ComponentPropertyDtStart)
	if start == nil {
		return out, &model.TimeFormatError{EventID: out.UID, Field: "DTSTART", Err: errors.New("missing DTSTART")}
	}
	s, allDay, err := parseTimeValue(start.Value, start.ICalParameters, loc)
	if err != nil {
		return out, &model.TimeFormatError{EventID: out.UID, Field: "DTSTART", Value: start.Value, Err: err}
	}
	out.Start, out.AllDay = s, allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		e, _, err := parseTimeValue(p.Value, p.ICalParameters, loc)
		if err != nil {
			return out, &model.TimeFormatError{EventID: out.UID, Field: "DTEND", Value: p.Value, Err: err}
		}
		out.End = e
	case ve.GetProperty(ical.ComponentPropertyDuration) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDuration)
		days, d, err := parseDuration(p.Value)
		if err != nil {
			return out, &model.TimeFormatError{EventID: out.UID, Field: "DURATION", Value: p.Value, Err: err}
		}
		out.End = out.Start.AddDate(0, 0, days).Add(d)
	case allDay:
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start
	}
	if out.End.Before(out.Start) {
		return out, &model.TimeFormatError{
			EventID: out.UID, Field: "DTEND", Value: out.End.Format(time.RFC3339),
			Err: errors.New("end is before start"),
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseTimeValue(part, p.ICalParameters, loc)
			if err != nil {
				return out, &model.TimeFormatError{EventID: out.UID, Field: "EXDATE", Value: part, Err: err}
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		t, _, err := parseTimeValue(p.Value, p.ICalParameters, loc)
		if err != nil {
			return out, &model.TimeFormatError{EventID: out.UID, Field: "RECURRENCE-ID", Value: p.Value, Err: err}
		}
		out.Recurrence = &t
		out.IsOverride = true
	}
	return out, nil
}

const (
	layoutUTC      = "20060102T150405Z"
	layoutFloating = "20060102T150405"
	layoutDate     = "20060102"
)

// parseTimeValue reads a DATE or DATE-TIME honoring VALUE and TZID.
func parseTimeValue(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty value")
	}
	if tz := param(params, "TZID"); tz != "" {
		l, err := time.LoadLocation(strings.Trim(tz, `"`))
		if err != nil {
			return time.Time{}, false, fmt.Errorf("unknown TZID %q: %w", tz, err)
		}
		loc = l
	}
	isDate := strings.EqualFold(param(params, "VALUE"), "DATE") || !strings.Contains(v, "T")
	switch {
	case isDate:
		t, err := time.ParseInLocation(layoutDate, strings.TrimSuffix(v, "Z"), loc)
		return t, true, err
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(layoutUTC, v)
		return t, false, err
	default:
		t, err := time.ParseInLocation(layoutFloating, v, loc)
		return t, false, err
	}
}

func param(params map[string][]string, key string) string {
	if vs := params[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

var durationRE = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration reads an RFC 5545 DURATION. Day parts are returned
// separately so they can be applied as calendar days across DST.
func parseDuration(raw string) (days int, d time.Duration, err error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	m := durationRE.FindStringSubmatch(v)
	if m == nil || strings.HasSuffix(v, "P") || strings.HasSuffix(v, "T") {
		return 0, 0, fmt.Errorf("malformed duration %q", raw)
	}
	n := func(s string) int {
		if s == "" {
			return 0
		}
		i, _ := strconv.Atoi(s)
		return i
	}
	days = n(m[2])*7 + n(m[3])
	d = time.Duration(n(m[4]))*time.Hour + time.Duration(n(m[5]))*time.Minute + time.Duration(n(m[6]))*time.Second
	if m[1] == "-" {
		days, d = -days, -d
	}
	return days, d, nil
}
