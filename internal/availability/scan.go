package availability

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	appLog "tradein/internal/log"
	"tradein/internal/model"
)

var ErrInvalidWindow = errors.New("availability: invalid search window")

// Window is the range of calendar days searched for slots. Day 1 is
// Reference+StartOffset; day indexes count every calendar day, including
// closed ones.
type Window struct {
	Reference   civil.Date
	StartOffset int
	HorizonDays int
}

func (w Window) Validate() error {
	if !w.Reference.IsValid() {
		return fmt.Errorf("%w: reference date %v", ErrInvalidWindow, w.Reference)
	}
	if w.HorizonDays < 1 {
		return fmt.Errorf("%w: horizon %d", ErrInvalidWindow, w.HorizonDays)
	}
	if w.StartOffset < 0 {
		return fmt.Errorf("%w: start offset %d", ErrInvalidWindow, w.StartOffset)
	}
	return nil
}

// Day returns the date of the 1-based day index i.
func (w Window) Day(i int) civil.Date { return w.Reference.AddDays(w.StartOffset + i - 1) }

// Bounds is [first day 00:00, day after last 00:00) in loc.
func (w Window) Bounds(loc *time.Location) (time.Time, time.Time) {
	return w.Day(1).In(loc), w.Day(w.HorizonDays + 1).In(loc)
}

type DayStatus string

const (
	StatusAvailable DayStatus = "available"
	StatusBooked    DayStatus = "booked"
	StatusExcluded  DayStatus = "excluded"
)

// Candidate is the earliest free slot on one day.
type Candidate struct {
	// Index is the 1-based day position inside the window.
	Index      int
	Date       civil.Date
	StartLocal civil.Time
	// Start and End are UTC.
	Start time.Time
	End   time.Time
	// Zone is set by Select.
	Zone Zone
}

// DayReport is the scan outcome for one window day.
type DayReport struct {
	Index  int
	Date   civil.Date
	Status DayStatus
	Reason string
	Slot   *Candidate
}

// Report holds every day of one scan in window order.
type Report struct {
	Window Window
	Days   []DayReport
}

// Candidates returns the per-day slots in window order.
func (r Report) Candidates() []Candidate {
	out := make([]Candidate, 0, len(r.Days))
	for _, d := range r.Days {
		if d.Slot != nil {
			out = append(out, *d.Slot)
		}
	}
	return out
}

type Scanner struct {
	rules Rules
}

func NewScanner(r Rules) (*Scanner, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Scanner{rules: r}, nil
}

func (s *Scanner) Rules() Rules { return s.rules }

// Scan finds the earliest conflict-free start on each business day of w.
// Any malformed event aborts the scan with a *model.TimeFormatError.
func (s *Scanner) Scan(w Window, events []model.CalendarEvent) (Report, error) {
	if err := w.Validate(); err != nil {
		return Report{}, err
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return Report{}, err
		}
	}

	winStart, winEnd := w.Bounds(s.rules.Location)
	relevant := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if Overlaps(ev, winStart, winEnd) {
			relevant = append(relevant, ev)
		}
	}

	report := Report{Window: w, Days: make([]DayReport, 0, w.HorizonDays)}
	available := 0
	for i := 1; i <= w.HorizonDays; i++ {
		d := w.Day(i)
		day := DayReport{Index: i, Date: d}
		if reason, closed := s.rules.closedReason(d); closed {
			day.Status = StatusExcluded
			day.Reason = reason
			report.Days = append(report.Days, day)
			continue
		}
		day.Status = StatusBooked
		for _, tod := range s.rules.BusinessHourStarts(d) {
			start := s.rules.At(d, tod)
			end := start.Add(s.rules.SlotDuration)
			if len(Conflicts(relevant, start, end)) > 0 {
				continue
			}
			day.Status = StatusAvailable
			day.Slot = &Candidate{
				Index:      i,
				Date:       d,
				StartLocal: tod,
				Start:      start.UTC(),
				End:        end.UTC(),
			}
			available++
			break
		}
		report.Days = append(report.Days, day)
	}

	appLog.Debug("availability scan completed",
		"reference", w.Reference.String(),
		"horizon_days", w.HorizonDays,
		"events", len(relevant),
		"available_days", available,
	)
	return report, nil
}

// Overlaps reports whether ev intersects [start, end) using half-open
// intervals; touching endpoints do not overlap.
func Overlaps(ev model.CalendarEvent, start, end time.Time) bool {
	return start.Before(ev.End) && end.After(ev.Start)
}

// Conflicts returns the events that overlap [start, end).
func Conflicts(events []model.CalendarEvent, start, end time.Time) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, ev := range events {
		if Overlaps(ev, start, end) {
			out = append(out, ev)
		}
	}
	return out
}
