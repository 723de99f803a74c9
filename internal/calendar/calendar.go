// Package calendar holds the calendar-provider collaborators: Google
// Calendar and ICS feeds with a local booking store.
package calendar

import (
	"context"
	"errors"
	"strings"
	"time"

	"tradein/internal/model"
)

var (
	ErrNotConfigured = errors.New("calendar: provider not configured")
	ErrNoCredentials = errors.New("calendar: no credentials")
	ErrReadOnly      = errors.New("calendar: provider is read-only")
)

// Reader lists events overlapping [start, end).
type Reader interface {
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error)
}

// Writer creates one event per call. Implementations may retry transient
// failures internally but must not create duplicates for one request id.
type Writer interface {
	CreateEvent(ctx context.Context, calendarID string, req model.BookingRequest) (model.CreatedEvent, error)
}

type Provider interface {
	Reader
	Writer
	Name() string
}

// EventID derives a provider event id from a booking request id. Google
// accepts lowercase hex, so the uuid loses its dashes.
func EventID(requestID string) string {
	return strings.ToLower(strings.ReplaceAll(requestID, "-", ""))
}
