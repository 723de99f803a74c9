package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "tradein/internal/log"
	"tradein/internal/model"
)

const (
	eventStatusCancelled  = "cancelled"
	transparencyAvailable = "transparent"
)

type GoogleOptions struct {
	// Location reads date-only (all-day) events.
	Location *time.Location
	// Attempts bounds transient-error retries per API call.
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// Google is the Google Calendar provider.
type Google struct {
	svc  *gcal.Service
	opts GoogleOptions
}

// NewGoogle builds the provider. Callers pass option.WithHTTPClient with an
// authorized client, or option.WithEndpoint in tests.
func NewGoogle(ctx context.Context, opts GoogleOptions, clientOpts ...option.ClientOption) (*Google, error) {
	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	return &Google{svc: svc, opts: opts}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	started := time.Now()
	var out []model.CalendarEvent
	pageToken := ""
	for {
		var page *gcal.Events
		err := g.do(ctx, "events.list", func() error {
			call := g.svc.Events.List(calendarID).
				TimeMin(start.Format(time.RFC3339)).
				TimeMax(end.Format(time.RFC3339)).
				SingleEvents(true).
				OrderBy("startTime").
				MaxResults(250).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			page, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("calendar: list %s: %w", calendarID, err)
		}
		for _, item := range page.Items {
			if item.Status == eventStatusCancelled || item.Transparency == transparencyAvailable {
				continue
			}
			ev, err := convertEvent(item, g.opts.Location)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	appLog.Info("calendar events listed",
		"provider", "google",
		"calendar_id", calendarID,
		"start", start.UTC().Format(time.RFC3339),
		"end", end.UTC().Format(time.RFC3339),
		"count", len(out),
		"elapsed", time.Since(started).String(),
	)
	return out, nil
}

func convertEvent(item *gcal.Event, loc *time.Location) (model.CalendarEvent, error) {
	if item.Start == nil || item.End == nil {
		return model.CalendarEvent{}, &model.TimeFormatError{EventID: item.Id, Field: "start", Err: errors.New("missing start or end")}
	}
	return model.NewCalendarEvent(item.Id, item.Summary, dateOrDateTime(item.Start), dateOrDateTime(item.End), loc)
}

func dateOrDateTime(dt *gcal.EventDateTime) string {
	if dt.DateTime != "" {
		return dt.DateTime
	}
	return dt.Date
}

// CreateEvent inserts the booking with a deterministic event id. A 409 on
// a retried insert means an earlier attempt landed, so the existing event
// is returned.
func (g *Google) CreateEvent(ctx context.Context, calendarID string, req model.BookingRequest) (model.CreatedEvent, error) {
	ev := newGoogleEvent(req)
	var created *gcal.Event
	err := g.do(ctx, "events.insert", func() error {
		var err error
		created, err = g.svc.Events.Insert(calendarID, ev).
			SendUpdates("all").
			ConferenceDataVersion(1).
			Context(ctx).
			Do()
		if statusCode(err) == http.StatusConflict {
			created, err = g.svc.Events.Get(calendarID, ev.Id).Context(ctx).Do()
			if err == nil {
				appLog.Warn("calendar event already existed", "calendar_id", calendarID, "event_id", ev.Id)
			}
		}
		return err
	})
	if err != nil {
		return model.CreatedEvent{}, fmt.Errorf("calendar: insert into %s: %w", calendarID, err)
	}
	return model.CreatedEvent{EventID: created.Id, Status: created.Status, HTMLLink: created.HtmlLink}, nil
}

// newGoogleEvent carries times as UTC RFC 3339 only; no TimeZone field is
// set next to them.
func newGoogleEvent(req model.BookingRequest) *gcal.Event {
	return &gcal.Event{
		Id:          EventID(req.RequestID),
		Summary:     req.Subject,
		Description: req.Description,
		Start:       &gcal.EventDateTime{DateTime: req.StartUTC.UTC().Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: req.EndUTC.UTC().Format(time.RFC3339)},
		Attendees: []*gcal.EventAttendee{
			{Email: req.AttendeeEmail, DisplayName: req.AttendeeName},
		},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 30},
			},
			ForceSendFields: []string{"UseDefault"},
		},
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId:             req.RequestID,
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
}

// do retries fn on 429 and 5xx responses only.
func (g *Google) do(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		func() error {
			err := fn()
			if err == nil {
				return nil
			}
			if !transient(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(g.opts.Attempts),
		retry.Delay(g.opts.Delay),
		retry.MaxDelay(g.opts.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			appLog.Debug("retrying google calendar call", "op", op, "attempt", n+1, "error", err.Error())
		}),
	)
}

func transient(err error) bool {
	code := statusCode(err)
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return true
	}
	// The API reports quota exhaustion as 403 rateLimitExceeded.
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && code == http.StatusForbidden {
		for _, item := range gerr.Errors {
			if strings.Contains(item.Reason, "RateLimitExceeded") || item.Reason == "rateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
