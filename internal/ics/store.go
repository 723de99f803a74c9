package ics

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"

	"tradein/internal/model"
)

const productID = "-//tradein//appointments//EN"

// Store is a single iCalendar file that receives bookings when no remote
// provider accepts writes. It doubles as a feed so booked slots read back
// as busy.
type Store struct {
	path string
	name string
	now  func() time.Time

	mu sync.Mutex
}

func NewStore(path, name string) *Store {
	return &Store{path: path, name: name, now: time.Now}
}

// Source describes the store as a feed for ParseICS.
func (s *Store) Source() Source {
	return Source{ID: "local", URL: "file://" + s.path, Name: s.name}
}

// Body returns the stored calendar, or an empty calendar if nothing was
// booked yet.
func (s *Store) Body() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, err := s.load()
	if err != nil {
		return nil, err
	}
	return []byte(cal.Serialize()), nil
}

// Add appends a VEVENT for req under uid. Writing the same uid twice
// returns the stored event without touching the file.
func (s *Store) Add(uid string, req model.BookingRequest) (model.CreatedEvent, bool, error) {
	if uid == "" {
		return model.CreatedEvent{}, false, errors.New("ics: store: empty uid")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return model.CreatedEvent{}, false, err
	}
	for _, ev := range cal.Events() {
		if p := ev.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value == uid {
			return model.CreatedEvent{EventID: uid, Status: "confirmed"}, true, nil
		}
	}

	now := s.now().UTC()
	ev := cal.AddEvent(uid)
	ev.SetDtStampTime(now)
	ev.SetCreatedTime(now)
	ev.SetStartAt(req.StartUTC)
	ev.SetEndAt(req.EndUTC)
	ev.SetSummary(req.Subject)
	if req.Description != "" {
		ev.SetDescription(req.Description)
	}
	ev.SetStatus(ical.ObjectStatusConfirmed)
	ev.AddAttendee(req.AttendeeEmail,
		ical.WithCN(req.AttendeeName),
		ical.WithRSVP(true),
	)

	email := ev.AddAlarm()
	email.SetAction(ical.ActionEmail)
	email.SetTrigger("-PT24H")
	email.SetSummary(req.Subject)
	email.SetDescription("Reminder: " + req.Subject)
	email.AddAttendee(req.AttendeeEmail)

	popup := ev.AddAlarm()
	popup.SetAction(ical.ActionDisplay)
	popup.SetTrigger("-PT30M")
	popup.SetDescription(req.Subject)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return model.CreatedEvent{}, false, fmt.Errorf("ics: store: %w", err)
	}
	if err := writeFileAtomic(s.path, []byte(cal.Serialize()), 0o600); err != nil {
		return model.CreatedEvent{}, false, fmt.Errorf("ics: store: %w", err)
	}
	return model.CreatedEvent{EventID: uid, Status: "confirmed", HTMLLink: "file://" + s.path}, false, nil
}

func (s *Store) load() (*ical.Calendar, error) {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s.newCalendar(), nil
	case err != nil:
		return nil, fmt.Errorf("ics: store: %w", err)
	case len(bytes.TrimSpace(data)) == 0:
		return s.newCalendar(), nil
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ics: store %s: %w", s.path, err)
	}
	return cal, nil
}

func (s *Store) newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if s.name != "" {
		cal.SetName(s.name)
		cal.SetXWRCalName(s.name)
	}
	return cal
}
