package model

import (
	"fmt"
	"strings"
	"time"
)

// CalendarEvent is a busy interval read from a calendar provider. Start and
// End are absolute instants; the scanner treats the pair as [Start, End).
type CalendarEvent struct {
	ID      string
	Summary string
	AllDay  bool

	Start time.Time
	End   time.Time
}

// BookingRequest is the provider-facing write request for one confirmed
// slot. Times are always UTC; see booking.NewRequest.
type BookingRequest struct {
	// RequestID is stable for one logical booking so provider retries
	// can be deduplicated.
	RequestID string

	StartUTC time.Time
	EndUTC   time.Time

	AttendeeEmail string
	AttendeeName  string

	Subject     string
	Description string
}

// CreatedEvent is the provider's answer to a successful write.
type CreatedEvent struct {
	EventID  string
	Status   string
	HTMLLink string
}

// TimeFormatError reports a provider timestamp that could not be turned
// into an instant. It aborts a scan rather than letting the event vanish.
type TimeFormatError struct {
	EventID string
	Field   string
	Value   string
	Err     error
}

func (e *TimeFormatError) Error() string {
	id := e.EventID
	if id == "" {
		id = "<unknown>"
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s: invalid %s %q: %v", id, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("event %s: invalid %s %q", id, e.Field, e.Value)
}

func (e *TimeFormatError) Unwrap() error { return e.Err }

// Layouts accepted from providers, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp parses a provider timestamp. Values without an offset are
// read as wall-clock time in loc. Date-only values return midnight in loc
// and allDay=true.
func ParseTimestamp(value string, loc *time.Location) (t time.Time, allDay bool, err error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(v) == len("2006-01-02") {
		d, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		return d, true, nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, v, loc)
		if err == nil {
			return t, false, nil
		}
		lastErr = err
	}
	return time.Time{}, false, lastErr
}

// NewCalendarEvent builds an event from raw provider strings, returning a
// *TimeFormatError for anything that does not parse or ends before it starts.
func NewCalendarEvent(id, summary, start, end string, loc *time.Location) (CalendarEvent, error) {
	s, allDay, err := ParseTimestamp(start, loc)
	if err != nil {
		return CalendarEvent{}, &TimeFormatError{EventID: id, Field: "start", Value: start, Err: err}
	}
	e, _, err := ParseTimestamp(end, loc)
	if err != nil {
		return CalendarEvent{}, &TimeFormatError{EventID: id, Field: "end", Value: end, Err: err}
	}
	ev := CalendarEvent{ID: id, Summary: summary, AllDay: allDay, Start: s, End: e}
	if err := ev.Validate(); err != nil {
		return CalendarEvent{}, err
	}
	return ev, nil
}

// Validate reports a *TimeFormatError for zero or inverted intervals.
// Zero-length events are valid.
func (e CalendarEvent) Validate() error {
	switch {
	case e.Start.IsZero():
		return &TimeFormatError{EventID: e.ID, Field: "start", Value: ""}
	case e.End.IsZero():
		return &TimeFormatError{EventID: e.ID, Field: "end", Value: ""}
	case e.End.Before(e.Start):
		return &TimeFormatError{
			EventID: e.ID,
			Field:   "end",
			Value:   e.End.Format(time.RFC3339),
			Err:     fmt.Errorf("end is before start %s", e.Start.Format(time.RFC3339)),
		}
	}
	return nil
}
