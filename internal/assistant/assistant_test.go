package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tradein/internal/a2ui"
	"tradein/internal/availability"
	"tradein/internal/booking"
	"tradein/internal/ics"
	"tradein/internal/model"
	"tradein/internal/router"
	"tradein/internal/session"
)

type fakeCalendar struct {
	mu        sync.Mutex
	events    []model.CalendarEvent
	feed      []ics.ParsedEvent
	created   []model.BookingRequest
	createErr error
	listErr   error
}

func (f *fakeCalendar) ListEvents(_ context.Context, _ string, start, end time.Time) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]model.CalendarEvent(nil), f.events...)
	if len(f.feed) > 0 {
		expanded, err := ics.Expand(f.feed, ics.ExpandConfig{RangeStart: start, RangeEnd: end})
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, req model.BookingRequest) (model.CreatedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return model.CreatedEvent{}, f.createErr
	}
	return model.CreatedEvent{EventID: "evt-1", Status: "confirmed"}, nil
}

func (f *fakeCalendar) busy(start, end time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, model.CalendarEvent{ID: start.Format(time.RFC3339), Start: start, End: end})
}

type fakeNarrator struct {
	reply string
	err   error
}

func (f fakeNarrator) Reply(context.Context, string) (string, error) { return f.reply, f.err }

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation() error = %v", err)
	}
	return loc
}

// newTestAssistant fixes "now" at Monday 2026-01-12 10:00 in New York, so
// the seven-day window runs Tuesday 13th to Monday 19th with Sunday 18th
// closed.
func newTestAssistant(t *testing.T, cal *fakeCalendar, narrator Narrator) (*Assistant, *session.Session) {
	t.Helper()
	loc := newYork(t)
	rules := availability.Rules{
		Location:         loc,
		OpenHour:         9,
		CloseHour:        17,
		SlotDuration:     time.Hour,
		ExcludedWeekdays: availability.NewWeekdaySet(time.Sunday),
	}
	scanner, err := availability.NewScanner(rules)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	writer := booking.NewWriter(cal, cal, rules, booking.Options{CalendarID: "sales", VerifyBeforeWrite: true})
	now := time.Date(2026, time.January, 12, 10, 0, 0, 0, loc)
	a, err := New(Config{
		CalendarID:   "sales",
		StartOffset:  1,
		HorizonDays:  7,
		ContactPhone: "303-269-1421",
	}, Deps{
		Scanner:  scanner,
		Events:   cal,
		Writer:   writer,
		Narrator: narrator,
		Clock:    ClockFunc(func() time.Time { return now }),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sess, _ := session.NewStore(0).GetOrCreate("")
	return a, sess
}

func handle(t *testing.T, a *Assistant, sess *session.Session, in Inbound) Reply {
	t.Helper()
	r, err := a.Handle(context.Background(), sess, in)
	if err != nil {
		t.Fatalf("Handle(%+v) error = %v", in, err)
	}
	return r
}

func action(name, surface string, kv ...any) *a2ui.UserAction {
	ctx := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		ctx[kv[i].(string)] = kv[i+1]
	}
	return &a2ui.UserAction{Name: name, SurfaceID: surface, Context: ctx}
}

func dataOf(t *testing.T, sess *session.Session, surfaceID, path string) any {
	t.Helper()
	s, ok := sess.Surfaces.Surface(surfaceID)
	if !ok {
		t.Fatalf("surface %q not registered", surfaceID)
	}
	v, _ := s.Lookup(path)
	return v
}

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestShowAvailability(t *testing.T) {
	t.Parallel()
	cal := &fakeCalendar{}
	// Tuesday is fully booked in the morning; Wednesday is booked all day.
	cal.busy(utc("2026-01-13T14:00:00Z"), utc("2026-01-13T16:00:00Z"))
	cal.busy(utc("2026-01-14T14:00:00Z"), utc("2026-01-14T22:00:00Z"))
	a, sess := newTestAssistant(t, cal, nil)

	r := handle(t, a, sess, Inbound{Text: "What appointment times are available?"})
	if r.Intent != router.ShowAvailability {
		t.Fatalf("Intent = %v, want show_availability", r.Intent)
	}
	if sess.Surfaces.State(SurfaceCalendar) != a2ui.StateRendering {
		t.Fatalf("calendar surface state = %v", sess.Surfaces.State(SurfaceCalendar))
	}

	type slot struct{ Display, DateTime, Zone any }
	var got []slot
	for _, key := range []string{"slot1", "slot2", "slot3"} {
		got = append(got, slot{
			dataOf(t, sess, SurfaceCalendar, "/"+key+"/display"),
			dataOf(t, sess, SurfaceCalendar, "/"+key+"/dateTime"),
			dataOf(t, sess, SurfaceCalendar, "/"+key+"/zone"),
		})
	}
	want := []slot{
		{"Tuesday, January 13, 2026 at 11:00 AM", "2026-01-13T16:00:00Z", "NEAR"},
		{"Thursday, January 15, 2026 at 09:00 AM", "2026-01-15T14:00:00Z", "MID"},
		{"Monday, January 19, 2026 at 09:00 AM", "2026-01-19T14:00:00Z", "FAR"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("slots mismatch (-got +want):\n%s", diff)
	}

	env, err := r.Envelope()
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	text, msgs, err := a2ui.ParseResponse(env)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if text != r.Text || len(msgs) != 3 {
		t.Errorf("round trip text=%q messages=%d", text, len(msgs))
	}
}

func TestShowAvailabilityHonorsMovedRecurrence(t *testing.T) {
	t.Parallel()
	// The Monday staff meeting of January 5th was moved to Tuesday the
	// 13th at 9:00, inside the window, while its series stays outside it.
	body := strings.ReplaceAll("BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//test//EN\n"+
		"BEGIN:VEVENT\nUID:staff\nDTSTART;TZID=America/New_York:20260105T090000\n"+
		"DTEND;TZID=America/New_York:20260105T100000\nRRULE:FREQ=WEEKLY;COUNT=2\nEND:VEVENT\n"+
		"BEGIN:VEVENT\nUID:staff\nRECURRENCE-ID;TZID=America/New_York:20260105T090000\n"+
		"DTSTART;TZID=America/New_York:20260113T090000\nDTEND;TZID=America/New_York:20260113T100000\nEND:VEVENT\n"+
		"END:VCALENDAR\n", "\n", "\r\n")
	parsed, err := ics.ParseICS(ics.Source{ID: "staff"}, []byte(body), newYork(t))
	if err != nil {
		t.Fatalf("ParseICS() error = %v", err)
	}
	cal := &fakeCalendar{feed: parsed}
	a, sess := newTestAssistant(t, cal, nil)

	handle(t, a, sess, Inbound{Text: "What appointment times are available?"})
	if got, want := dataOf(t, sess, SurfaceCalendar, "/slot1/dateTime"), "2026-01-13T15:00:00Z"; got != want {
		t.Errorf("NEAR slot = %v, want %v after the moved meeting", got, want)
	}
}

func TestShowAvailabilityEmpty(t *testing.T) {
	t.Parallel()
	cal := &fakeCalendar{}
	cal.busy(utc("2026-01-13T00:00:00Z"), utc("2026-01-21T00:00:00Z"))
	a, sess := newTestAssistant(t, cal, nil)

	r := handle(t, a, sess, Inbound{Text: "show availability"})
	wantText := "I'm sorry, there are no appointment slots available for the next 7 business days. " +
		"Please call: 303-269-1421 to discuss alternatives."
	if r.Text != wantText {
		t.Errorf("Text = %q, want %q", r.Text, wantText)
	}
	s, ok := sess.Surfaces.Surface(SurfaceCalendar)
	if !ok {
		t.Fatal("empty state surface not rendered")
	}
	for id, c := range s.Components {
		if c.Props.Kind() == a2ui.KindButton {
			t.Errorf("empty state has a button %q", id)
		}
	}
}

func TestShowAvailabilityProviderFailure(t *testing.T) {
	t.Parallel()
	cal := &fakeCalendar{listErr: context.DeadlineExceeded}
	a, sess := newTestAssistant(t, cal, nil)
	_, err := a.Handle(context.Background(), sess, Inbound{Text: "availability"})
	if !errors.Is(err, ErrCalendarRead) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Handle() error = %v, want a calendar read failure", err)
	}
}

func TestBookingFlow(t *testing.T) {
	t.Parallel()
	cal := &fakeCalendar{}
	a, sess := newTestAssistant(t, cal, nil)

	handle(t, a, sess, Inbound{Text: "show availability"})

	r := handle(t, a, sess, Inbound{Action: action(router.ActionSelectTimeSlot, SurfaceCalendar,
		"dateTime", a2ui.PathRef{Path: "/slot2/dateTime"})})
	if r.Intent != router.ShowBookingForm {
		t.Fatalf("Intent = %v, want show_booking_form", r.Intent)
	}
	if sess.SelectedSlot != "2026-01-15T14:00:00Z" {
		t.Errorf("SelectedSlot = %q", sess.SelectedSlot)
	}
	if got := dataOf(t, sess, SurfaceBooking, "/booking/display"); got != "Thursday, January 15, 2026 at 09:00 AM" {
		t.Errorf("booking display = %v", got)
	}

	r = handle(t, a, sess, Inbound{Action: action(router.ActionSubmitBooking, SurfaceBooking,
		"name", "Ada Lovelace", "email", "ada@example.com", "dateTime", "2026-01-15T14:00:00Z")})
	if r.Intent != router.SubmitBooking {
		t.Fatalf("Intent = %v, want submit_booking", r.Intent)
	}
	if len(cal.created) != 1 {
		t.Fatalf("provider writes = %d, want 1", len(cal.created))
	}
	req := cal.created[0]
	if req.Subject != "Sales Appointment - Ada Lovelace" || !req.StartUTC.Equal(utc("2026-01-15T14:00:00Z")) {
		t.Errorf("request = %+v", req)
	}
	wantDetails := "Thursday, January 15, 2026 at 09:00 AM with Ada Lovelace"
	if got := dataOf(t, sess, SurfaceConfirm, "/confirm/details"); got != wantDetails {
		t.Errorf("confirm details = %v, want %q", got, wantDetails)
	}
	for _, id := range []string{SurfaceBooking, SurfaceCalendar} {
		if st := sess.Surfaces.State(id); st != a2ui.StateUndefined {
			t.Errorf("surface %s state after booking = %v, want deleted", id, st)
		}
	}

	r = handle(t, a, sess, Inbound{Text: "can I see my appointment confirmation?"})
	if r.Intent != router.ShowConfirmation || !strings.Contains(r.Text, wantDetails) {
		t.Errorf("confirmation reply = %+v", r)
	}
}

func TestBookingWithVehicle(t *testing.T) {
	t.Parallel()
	cal := &fakeCalendar{}
	a, sess := newTestAssistant(t, cal, nil)

	r := handle(t, a, sess, Inbound{Text: "hi, I want to trade in my car"})
	if r.Intent != router.ShowVehicleForm || sess.Surfaces.State(SurfaceVehicle) != a2ui.StateRendering {
		t.Fatalf("vehicle form not rendered: %+v", r)
	}

	r = handle(t, a, sess, Inbound{Action: action(router.ActionSubmitVehicle, SurfaceVehicle,
		"year", float64(2019), "make", "Honda", "model", "Civic", "mileage", "45,000", "condition", "good")})
	if !strings.Contains(r.Text, "$10,000 - $15,000") {
		t.Errorf("valuation text = %q", r.Text)
	}
	if got := dataOf(t, sess, SurfaceValuation, "/valuation/range"); got != "$10,000 - $15,000" {
		t.Errorf("valuation range = %v", got)
	}

	r = handle(t, a, sess, Inbound{Action: action(router.ActionScheduleAppraise, SurfaceValuation)})
	if r.Intent != router.ShowAvailability {
		t.Fatalf("Intent = %v, want show_availability", r.Intent)
	}

	handle(t, a, sess, Inbound{Action: action(router.ActionSubmitBooking, "",
		"name", "Ada", "email", "ada@example.com", "dateTime", "2026-01-13T14:00:00Z")})
	if len(cal.created) != 1 {
		t.Fatalf("provider writes = %d, want 1", len(cal.created))
	}
	req := cal.created[0]
	if req.Subject != "Vehicle Trade-In Appraisal - Ada" {
		t.Errorf("Subject = %q", req.Subject)
	}
	for _, want := range []string{"2019 Honda Civic, 45,000 miles, Good condition", "$10,000 - $15,000"} {
		if !strings.Contains(req.Description, want) {
			t.Errorf("Description %q missing %q", req.Description, want)
		}
	}
}

func TestSubmitVehicleInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		kv   []any
		want string
	}{
		{
			name: "missing fields",
			kv:   []any{"year", "2019", "make", "Honda"},
			want: "Please fill in condition, mileage, model",
		},
		{
			name: "future year",
			kv:   []any{"year", "2031", "make", "Honda", "model", "Civic", "mileage", "10", "condition", "Good"},
			want: "year 2031 outside 1980-2027",
		},
		{
			name: "bad condition",
			kv:   []any{"year", "2019", "make", "Honda", "model", "Civic", "mileage", "10", "condition", "mint"},
			want: "couldn't read those vehicle details",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, sess := newTestAssistant(t, &fakeCalendar{}, nil)
			r := handle(t, a, sess, Inbound{Action: action(router.ActionSubmitVehicle, SurfaceVehicle, tt.kv...)})
			if !strings.Contains(r.Text, tt.want) {
				t.Errorf("Text = %q, want it to contain %q", r.Text, tt.want)
			}
			if sess.HasVehicle() {
				t.Error("invalid vehicle stored on the session")
			}
			if sess.Surfaces.State(SurfaceVehicle) != a2ui.StateRendering {
				t.Error("vehicle form not re-rendered")
			}
		})
	}
}

func TestSubmitBookingFromText(t *testing.T) {
	t.Parallel()
	cal := &fakeCalendar{}
	a, sess := newTestAssistant(t, cal, nil)
	r := handle(t, a, sess, Inbound{Text: "Please book the appointment for Ada Lovelace (ada@example.com) at 2026-01-13T09:00. Vehicle: 2019 Honda Civic"})
	if r.Intent != router.SubmitBooking || len(cal.created) != 1 {
		t.Fatalf("reply = %+v, writes = %d", r, len(cal.created))
	}
	req := cal.created[0]
	if !req.StartUTC.Equal(utc("2026-01-13T14:00:00Z")) {
		t.Errorf("StartUTC = %s", req.StartUTC)
	}
	if !strings.Contains(req.Description, "Vehicle interest: 2019 Honda Civic.") {
		t.Errorf("Description = %q", req.Description)
	}
}

func TestSubmitBookingRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		prepare   func(cal *fakeCalendar)
		kv        []any
		wantText  string
		wantSurf  string
		wantWrite int
	}{
		{
			name:     "invalid email",
			kv:       []any{"name", "Ada", "email", "not-an-email", "dateTime", "2026-01-13T14:00:00Z"},
			wantText: "Please check your name and email address.",
			wantSurf: SurfaceBooking,
		},
		{
			name:     "missing name",
			kv:       []any{"email", "ada@example.com", "dateTime", "2026-01-13T14:00:00Z"},
			wantText: "Please enter both your name and email.",
			wantSurf: SurfaceBooking,
		},
		{
			name: "slot taken meanwhile",
			prepare: func(cal *fakeCalendar) {
				cal.busy(utc("2026-01-13T14:00:00Z"), utc("2026-01-13T15:00:00Z"))
			},
			kv:       []any{"name", "Ada", "email", "ada@example.com", "dateTime", "2026-01-13T14:00:00Z"},
			wantText: "Sorry, that time was just taken.",
			wantSurf: SurfaceCalendar,
		},
		{
			name:     "outside business hours",
			kv:       []any{"name", "Ada", "email", "ada@example.com", "dateTime", "2026-01-13T23:00:00Z"},
			wantText: "That time is outside our appraisal hours.",
			wantSurf: SurfaceCalendar,
		},
		{
			name:     "unparseable time",
			kv:       []any{"name", "Ada", "email", "ada@example.com", "dateTime", "next week"},
			wantText: "I couldn't tell which time you picked.",
			wantSurf: SurfaceCalendar,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cal := &fakeCalendar{}
			a, sess := newTestAssistant(t, cal, nil)
			if tt.prepare != nil {
				tt.prepare(cal)
			}
			r := handle(t, a, sess, Inbound{Action: action(router.ActionSubmitBooking, SurfaceBooking, tt.kv...)})
			if !strings.HasPrefix(r.Text, tt.wantText) {
				t.Errorf("Text = %q, want prefix %q", r.Text, tt.wantText)
			}
			if sess.Surfaces.State(tt.wantSurf) != a2ui.StateRendering {
				t.Errorf("surface %s not rendered", tt.wantSurf)
			}
			if len(cal.created) != tt.wantWrite {
				t.Errorf("provider writes = %d, want %d", len(cal.created), tt.wantWrite)
			}
			if sess.Confirmation != "" {
				t.Errorf("Confirmation = %q after a rejected booking", sess.Confirmation)
			}
		})
	}
}

func TestSubmitBookingWriteFailure(t *testing.T) {
	t.Parallel()
	cal := &fakeCalendar{createErr: errors.New("backend unavailable")}
	a, sess := newTestAssistant(t, cal, nil)
	_, err := a.Handle(context.Background(), sess, Inbound{Action: action(router.ActionSubmitBooking, SurfaceBooking,
		"name", "Ada", "email", "ada@example.com", "dateTime", "2026-01-13T14:00:00Z")})
	var we *booking.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("Handle() error = %v, want *booking.WriteError", err)
	}
	if len(cal.created) != 1 {
		t.Errorf("provider writes = %d, want exactly 1", len(cal.created))
	}
}

func TestShowBookingFormFallsBackToAvailability(t *testing.T) {
	t.Parallel()
	a, sess := newTestAssistant(t, &fakeCalendar{}, nil)
	r := handle(t, a, sess, Inbound{Text: "can you book something for my car"})
	if !strings.HasPrefix(r.Text, "Which time would you like?") {
		t.Errorf("Text = %q", r.Text)
	}
	if sess.Surfaces.State(SurfaceCalendar) != a2ui.StateRendering {
		t.Error("slot picker not rendered")
	}
}

func TestUnresolvedPathAgainstUnknownSurface(t *testing.T) {
	t.Parallel()
	a, sess := newTestAssistant(t, &fakeCalendar{}, nil)
	_, err := a.Handle(context.Background(), sess, Inbound{Action: action(router.ActionSelectTimeSlot, "",
		"dateTime", a2ui.PathRef{Path: "/slot1/dateTime"})})
	if !errors.Is(err, a2ui.ErrProtocol) {
		t.Errorf("Handle() error = %v, want protocol error", err)
	}
}

func TestUnrecognized(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		narrator Narrator
		want     string
	}{
		{name: "no narrator", want: router.FallbackPrompt},
		{name: "narrator answers", narrator: fakeNarrator{reply: "We're open until 5pm."}, want: "We're open until 5pm."},
		{name: "narrator fails", narrator: fakeNarrator{err: errors.New("quota")}, want: router.FallbackPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, sess := newTestAssistant(t, &fakeCalendar{}, tt.narrator)
			r := handle(t, a, sess, Inbound{Text: "what is the weather like?"})
			if r.Intent != router.Unrecognized || r.Text != tt.want || len(r.Messages) != 0 {
				t.Errorf("reply = %+v, want text %q", r, tt.want)
			}
		})
	}
}

func TestShowConfirmationWithoutBooking(t *testing.T) {
	t.Parallel()
	a, sess := newTestAssistant(t, &fakeCalendar{}, nil)
	r := handle(t, a, sess, Inbound{Action: action(router.ActionShowConfirmation, "")})
	if len(r.Messages) != 0 || !strings.Contains(r.Text, "don't have a confirmed appointment") {
		t.Errorf("reply = %+v", r)
	}
}

func TestNewValidatesZones(t *testing.T) {
	t.Parallel()
	cal := &fakeCalendar{}
	scanner, err := availability.NewScanner(availability.Rules{Location: time.UTC, OpenHour: 9, CloseHour: 17, SlotDuration: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	writer := booking.NewWriter(cal, cal, scanner.Rules(), booking.Options{})
	_, err = New(Config{HorizonDays: 7, Zones: []availability.ZoneRange{{Zone: availability.ZoneNear, FirstDay: 1, LastDay: 3}}},
		Deps{Scanner: scanner, Events: cal, Writer: writer})
	if !errors.Is(err, availability.ErrZoneCoverage) {
		t.Errorf("New() error = %v, want ErrZoneCoverage", err)
	}
}
