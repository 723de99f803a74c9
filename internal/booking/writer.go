package booking

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradein/internal/availability"
	appLog "tradein/internal/log"
	"tradein/internal/model"
)

// EventLister reads busy intervals for the pre-write re-check.
type EventLister interface {
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error)
}

// EventCreator performs the single provider write. Retries, if any,
// belong to the implementation.
type EventCreator interface {
	CreateEvent(ctx context.Context, calendarID string, req model.BookingRequest) (model.CreatedEvent, error)
}

// Draft is a booking as collected from the conversation.
type Draft struct {
	// Start is an absolute instant in any location.
	Start time.Time
	// End defaults to Start plus the slot duration.
	End time.Time
	// TimeZone must stay empty; it exists so that a label arriving next
	// to an absolute time is caught rather than forwarded.
	TimeZone string

	AttendeeName  string
	AttendeeEmail string
	Subject       string
	Description   string
}

// NewRequest normalizes a draft into a UTC-only provider request.
func NewRequest(calendarID string, d Draft, slot time.Duration) (model.BookingRequest, error) {
	if strings.TrimSpace(d.TimeZone) != "" {
		return model.BookingRequest{}, fmt.Errorf("%w: %q with %s", ErrTimeZoneConflict, d.TimeZone, d.Start.Format(time.RFC3339))
	}
	if d.Start.IsZero() {
		return model.BookingRequest{}, fmt.Errorf("%w: missing start", ErrInvalidInterval)
	}
	end := d.End
	if end.IsZero() {
		end = d.Start.Add(slot)
	}
	if !end.After(d.Start) {
		return model.BookingRequest{}, fmt.Errorf("%w: end %s not after start %s", ErrInvalidInterval, end, d.Start)
	}

	name := strings.TrimSpace(d.AttendeeName)
	if name == "" {
		return model.BookingRequest{}, fmt.Errorf("%w: name is required", ErrInvalidAttendee)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(d.AttendeeEmail))
	if err != nil {
		return model.BookingRequest{}, fmt.Errorf("%w: email %q: %v", ErrInvalidAttendee, d.AttendeeEmail, err)
	}

	start := d.Start.UTC()
	subject := strings.TrimSpace(d.Subject)
	if subject == "" {
		subject = "Sales Appointment - " + name
	}
	key := strings.Join([]string{calendarID, start.Format(time.RFC3339), strings.ToLower(addr.Address)}, "|")
	return model.BookingRequest{
		RequestID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String(),
		StartUTC:      start,
		EndUTC:        end.UTC(),
		AttendeeEmail: addr.Address,
		AttendeeName:  name,
		Subject:       subject,
		Description:   d.Description,
	}, nil
}

type Options struct {
	CalendarID string
	// VerifyBeforeWrite re-reads the slot interval right before writing.
	VerifyBeforeWrite bool
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Writer turns a confirmed request into exactly one provider write.
type Writer struct {
	creator EventCreator
	lister  EventLister
	rules   availability.Rules
	opts    Options
}

func NewWriter(creator EventCreator, lister EventLister, rules availability.Rules, opts Options) *Writer {
	return &Writer{creator: creator, lister: lister, rules: rules, opts: opts}
}

// Book validates req against the business rules, optionally re-checks the
// slot, then writes once. Errors are *StaleSlotError, *WriteError or a
// validation error; none are retried here.
func (w *Writer) Book(ctx context.Context, req model.BookingRequest) (model.CreatedEvent, error) {
	if req.StartUTC.Location() != time.UTC || req.EndUTC.Location() != time.UTC {
		return model.CreatedEvent{}, fmt.Errorf("%w: request times must be UTC", ErrTimeZoneConflict)
	}
	if err := w.rules.Admits(req.StartUTC); err != nil {
		return model.CreatedEvent{}, err
	}

	if w.opts.VerifyBeforeWrite && w.lister != nil {
		if err := w.recheck(ctx, req); err != nil {
			return model.CreatedEvent{}, err
		}
	}

	wctx, cancel := withTimeout(ctx, w.opts.WriteTimeout)
	defer cancel()
	started := time.Now()
	created, err := w.creator.CreateEvent(wctx, w.opts.CalendarID, req)
	if err != nil {
		appLog.Error("booking write failed", err,
			"calendar_id", w.opts.CalendarID,
			"start", req.StartUTC.Format(time.RFC3339),
			"elapsed", time.Since(started).String(),
		)
		return model.CreatedEvent{}, &WriteError{CalendarID: w.opts.CalendarID, Start: req.StartUTC, Err: err}
	}
	appLog.Info("booking created",
		"calendar_id", w.opts.CalendarID,
		"event_id", created.EventID,
		"status", created.Status,
		"start", req.StartUTC.Format(time.RFC3339),
	)
	return created, nil
}

func (w *Writer) recheck(ctx context.Context, req model.BookingRequest) error {
	rctx, cancel := withTimeout(ctx, w.opts.ReadTimeout)
	defer cancel()
	events, err := w.lister.ListEvents(rctx, w.opts.CalendarID, req.StartUTC, req.EndUTC)
	if err != nil {
		return fmt.Errorf("booking: re-check availability: %w", err)
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return err
		}
	}
	if conflicts := availability.Conflicts(events, req.StartUTC, req.EndUTC); len(conflicts) > 0 {
		appLog.Warn("booking slot went stale",
			"start", req.StartUTC.Format(time.RFC3339),
			"conflicts", len(conflicts),
		)
		return &StaleSlotError{Start: req.StartUTC, End: req.EndUTC, Conflicts: conflicts}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
