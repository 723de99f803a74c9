// Package assistant runs one conversational turn: it classifies the
// inbound text or UI action, consults availability or the booking writer,
// and answers with a text preamble plus the surface messages to render.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"tradein/internal/a2ui"
	"tradein/internal/availability"
	"tradein/internal/booking"
	appLog "tradein/internal/log"
	"tradein/internal/router"
	"tradein/internal/session"
	"tradein/internal/valuation"
)

// ErrCalendarRead marks a failed provider read; callers answer 502.
var ErrCalendarRead = errors.New("assistant: calendar read failed")

// Clock supplies the reference instant for availability windows.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Narrator answers turns the router could not classify.
type Narrator interface {
	Reply(ctx context.Context, text string) (string, error)
}

type Config struct {
	CalendarID   string
	StartOffset  int
	HorizonDays  int
	Zones        []availability.ZoneRange
	ContactPhone string
	ReadTimeout  time.Duration
}

type Deps struct {
	Scanner  *availability.Scanner
	Events   booking.EventLister
	Writer   *booking.Writer
	Router   *router.Router
	Narrator Narrator
	Clock    Clock
}

type Assistant struct {
	cfg      Config
	rules    availability.Rules
	scanner  *availability.Scanner
	events   booking.EventLister
	writer   *booking.Writer
	router   *router.Router
	narrator Narrator
	clock    Clock
}

func New(cfg Config, deps Deps) (*Assistant, error) {
	if deps.Scanner == nil || deps.Events == nil || deps.Writer == nil {
		return nil, errors.New("assistant: scanner, event reader and writer are required")
	}
	if cfg.HorizonDays < 1 {
		return nil, fmt.Errorf("%w: horizon %d", availability.ErrInvalidWindow, cfg.HorizonDays)
	}
	if len(cfg.Zones) == 0 {
		cfg.Zones = availability.DefaultZones(cfg.HorizonDays)
	}
	if err := availability.ValidateZones(cfg.Zones, cfg.HorizonDays); err != nil {
		return nil, err
	}
	if deps.Router == nil {
		deps.Router = router.New()
	}
	if deps.Clock == nil {
		deps.Clock = ClockFunc(time.Now)
	}
	return &Assistant{
		cfg:      cfg,
		rules:    deps.Scanner.Rules(),
		scanner:  deps.Scanner,
		events:   deps.Events,
		writer:   deps.Writer,
		router:   deps.Router,
		narrator: deps.Narrator,
		clock:    deps.Clock,
	}, nil
}

// Inbound is one turn from the client: free text, a UI action, or both
// (the action wins).
type Inbound struct {
	Text   string
	Action *a2ui.UserAction
}

type Reply struct {
	Text     string
	Messages []a2ui.Message
	Intent   router.Intent
}

// Envelope is the text preamble, the delimiter and the JSON message array.
func (r Reply) Envelope() (string, error) {
	return a2ui.FormatResponse(r.Text, r.Messages)
}

// Handle runs one turn for sess. Turns on one session are serialized.
// Errors are protocol failures (*a2ui.ValidationError), provider read
// failures or *booking.WriteError; everything the customer can fix is
// answered in the Reply instead.
func (a *Assistant) Handle(ctx context.Context, sess *session.Session, in Inbound) (Reply, error) {
	sess.Lock()
	defer sess.Unlock()

	started := time.Now()
	route, err := a.classify(sess, in)
	if err != nil {
		return Reply{}, err
	}
	reply, err := a.dispatch(ctx, sess, route, in.Text)
	if err != nil {
		return Reply{}, err
	}
	reply.Intent = route.Intent
	if len(reply.Messages) > 0 {
		if err := sess.Surfaces.Apply(reply.Messages...); err != nil {
			appLog.Error("surface messages rejected", err, "session_id", sess.ID, "intent", route.Intent.String())
			return Reply{}, err
		}
	}
	appLog.Info("turn handled",
		"session_id", sess.ID,
		"intent", route.Intent.String(),
		"trigger", route.Trigger,
		"messages", len(reply.Messages),
		"elapsed", time.Since(started).String(),
	)
	return reply, nil
}

func (a *Assistant) classify(sess *session.Session, in Inbound) (router.Route, error) {
	if in.Action == nil {
		return a.router.Classify(in.Text), nil
	}
	act := *in.Action
	if act.Unresolved() {
		id := act.SurfaceID
		if id == "" {
			id = surfaceForAction[act.Name]
		}
		surface, _ := sess.Surfaces.Surface(id)
		resolved, err := act.Resolve(surface)
		if err != nil {
			return router.Route{}, err
		}
		act = resolved
	}
	return a.router.ClassifyAction(act), nil
}

func (a *Assistant) dispatch(ctx context.Context, sess *session.Session, route router.Route, text string) (Reply, error) {
	switch route.Intent {
	case router.ShowVehicleForm:
		return a.showVehicleForm(vehicleForm{})
	case router.SubmitVehicle:
		return a.submitVehicle(sess, route)
	case router.ShowAvailability:
		return a.showAvailability(ctx, "")
	case router.ShowBookingForm:
		return a.showBookingForm(ctx, sess, route)
	case router.SubmitBooking:
		return a.submitBooking(ctx, sess, route)
	case router.ShowConfirmation:
		return a.showConfirmation(sess)
	default:
		return a.unrecognized(ctx, text), nil
	}
}

func (a *Assistant) showVehicleForm(f vehicleForm) (Reply, error) {
	msgs, err := vehicleView(f)
	if err != nil {
		return Reply{}, err
	}
	text := "I can give you a quick trade-in estimate. Tell me about your vehicle."
	if f.Error != "" {
		text = f.Error
	}
	return Reply{Text: text, Messages: msgs}, nil
}

func (a *Assistant) submitVehicle(sess *session.Session, route router.Route) (Reply, error) {
	form := vehicleForm{
		Year:      route.Field("year"),
		Make:      route.Field("make"),
		Model:     route.Field("model"),
		Mileage:   route.Field("mileage"),
		Condition: route.Field("condition"),
	}
	if !route.Complete() {
		form.Error = "Please fill in " + strings.Join(route.Missing, ", ") + " so I can estimate your trade-in."
		return a.showVehicleForm(form)
	}
	year := a.rules.ToLocal(a.clock.Now()).Year()
	v, err := valuation.ParseVehicle(form.Year, form.Make, form.Model, form.Mileage, form.Condition)
	if err == nil {
		err = v.Validate(year)
	}
	if err != nil {
		form.Error = "I couldn't read those vehicle details (" + strings.TrimPrefix(err.Error(), "valuation: ") + "). Please check them and try again."
		return a.showVehicleForm(form)
	}
	est, err := valuation.Appraise(v, year)
	if err != nil {
		return Reply{}, err
	}
	sess.Vehicle = &v
	sess.Estimate = &est

	msgs, err := valuationView(v, est)
	if err != nil {
		return Reply{}, err
	}
	appLog.Info("vehicle appraised", "session_id", sess.ID, "year", v.Year, "condition", v.Condition.String(), "low", est.Low, "high", est.High)
	return Reply{
		Text: fmt.Sprintf("Based on what you told me, your %d %s %s is worth roughly %s as a trade-in. "+
			"Schedule an in-person appraisal to get a firm offer.", v.Year, v.Make, v.Model, est),
		Messages: msgs,
	}, nil
}

// Availability scans the window that starts after ref and selects up to
// one slot per zone.
func (a *Assistant) Availability(ctx context.Context, ref civil.Date) (availability.Report, availability.Selection, error) {
	w := availability.Window{Reference: ref, StartOffset: a.cfg.StartOffset, HorizonDays: a.cfg.HorizonDays}
	if err := w.Validate(); err != nil {
		return availability.Report{}, availability.Selection{}, err
	}
	start, end := w.Bounds(a.rules.Location)

	rctx, cancel := ctx, context.CancelFunc(func() {})
	if a.cfg.ReadTimeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, a.cfg.ReadTimeout)
	}
	defer cancel()
	events, err := a.events.ListEvents(rctx, a.cfg.CalendarID, start.UTC(), end.UTC())
	if err != nil {
		return availability.Report{}, availability.Selection{}, fmt.Errorf("%w: %w", ErrCalendarRead, err)
	}
	report, err := a.scanner.Scan(w, events)
	if err != nil {
		return availability.Report{}, availability.Selection{}, err
	}
	candidates := report.Candidates()
	sel := availability.Select(candidates, a.cfg.Zones)
	appLog.Info("availability scanned",
		"reference", ref.String(),
		"days", len(report.Days),
		"candidates", len(candidates),
		"selected", len(sel.Slots),
	)
	return report, sel, nil
}

// Rules are the business-hour rules of the scanner.
func (a *Assistant) Rules() availability.Rules { return a.rules }

// Today is the business-local date of the clock.
func (a *Assistant) Today() civil.Date {
	return a.rules.DateOf(a.clock.Now())
}

func (a *Assistant) showAvailability(ctx context.Context, note string) (Reply, error) {
	_, sel, err := a.Availability(ctx, a.Today())
	if err != nil {
		return Reply{}, err
	}
	prefix := ""
	if note != "" {
		prefix = note + " "
	}
	if sel.Empty() {
		msgs, err := emptyView(a.cfg.HorizonDays, a.cfg.ContactPhone)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: prefix + emptyMessage(a.cfg.HorizonDays, a.cfg.ContactPhone), Messages: msgs}, nil
	}
	msgs, err := slotsView(a.rules, sel)
	if err != nil {
		return Reply{}, err
	}
	text := "Here are the next available appraisal times. Pick the one that works best for you."
	if len(sel.Slots) == 1 {
		text = "Here is the next available appraisal time."
	}
	return Reply{Text: prefix + text, Messages: msgs}, nil
}

func (a *Assistant) showBookingForm(ctx context.Context, sess *session.Session, route router.Route) (Reply, error) {
	start, err := a.rules.ParseSlotTime(route.Field("dateTime"))
	if err != nil {
		return a.showAvailability(ctx, "Which time would you like?")
	}
	if err := a.rules.Admits(start); err != nil {
		return a.showAvailability(ctx, "That time is outside our appraisal hours.")
	}
	sess.SelectedSlot = canonical(start)
	display := a.rules.Display(start)
	msgs, err := bookingView(bookingForm{Display: display, DateTime: sess.SelectedSlot})
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text:     fmt.Sprintf("Great choice! Please enter your name and email to book %s.", display),
		Messages: msgs,
	}, nil
}

func (a *Assistant) submitBooking(ctx context.Context, sess *session.Session, route router.Route) (Reply, error) {
	dateTime := route.Field("dateTime")
	if dateTime == "" {
		dateTime = sess.SelectedSlot
	}
	start, err := a.rules.ParseSlotTime(dateTime)
	if err != nil {
		return a.showAvailability(ctx, "I couldn't tell which time you picked.")
	}
	form := bookingForm{
		Display:  a.rules.Display(start),
		DateTime: canonical(start),
		Name:     route.Field("name"),
		Email:    route.Field("email"),
	}
	if form.Name == "" || form.Email == "" {
		form.Error = "Please enter both your name and email."
		return a.bookingFormAgain(form)
	}

	draft := booking.Draft{
		Start:         start,
		AttendeeName:  form.Name,
		AttendeeEmail: form.Email,
	}
	draft.Subject, draft.Description = bookingText(sess, form.Name, route.Field("vehicle"))
	req, err := booking.NewRequest(a.cfg.CalendarID, draft, a.rules.SlotDuration)
	if err != nil {
		if errors.Is(err, booking.ErrInvalidAttendee) {
			form.Error = "Please check your name and email address."
			return a.bookingFormAgain(form)
		}
		return Reply{}, err
	}

	created, err := a.writer.Book(ctx, req)
	var stale *booking.StaleSlotError
	switch {
	case errors.As(err, &stale):
		return a.showAvailability(ctx, "Sorry, that time was just taken.")
	case errors.Is(err, booking.ErrOutsideBusinessHours):
		return a.showAvailability(ctx, "That time is outside our appraisal hours.")
	case err != nil:
		return Reply{}, err
	}

	details := fmt.Sprintf("%s with %s", form.Display, req.AttendeeName)
	sess.Confirmation = details
	sess.SelectedSlot = ""
	msgs, err := confirmView(details)
	if err != nil {
		return Reply{}, err
	}
	msgs = append(deleteIfPresent(sess, SurfaceBooking, SurfaceCalendar), msgs...)
	appLog.Info("appointment confirmed", "session_id", sess.ID, "event_id", created.EventID)
	return Reply{
		Text: fmt.Sprintf("You're all set! Your appointment is confirmed for %s. "+
			"A calendar invitation has been sent to %s.", form.Display, req.AttendeeEmail),
		Messages: msgs,
	}, nil
}

func (a *Assistant) bookingFormAgain(f bookingForm) (Reply, error) {
	msgs, err := bookingView(f)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: f.Error, Messages: msgs}, nil
}

// bookingText picks the event subject and description. A session with an
// appraised vehicle books a trade-in appraisal; otherwise it is a plain
// sales appointment.
func bookingText(sess *session.Session, name, vehicleNote string) (subject, description string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Sales appointment with %s.", name)
	switch {
	case sess.Vehicle != nil:
		subject = "Vehicle Trade-In Appraisal - " + name
		fmt.Fprintf(&b, " Vehicle interest: %s.", sess.Vehicle.Summary())
		if sess.Estimate != nil {
			fmt.Fprintf(&b, " Estimated trade-in value: %s.", sess.Estimate)
		}
	case vehicleNote != "":
		subject = "Sales Appointment - " + name
		fmt.Fprintf(&b, " Vehicle interest: %s.", vehicleNote)
	default:
		subject = "Sales Appointment - " + name
	}
	return subject, b.String()
}

func (a *Assistant) showConfirmation(sess *session.Session) (Reply, error) {
	if sess.Confirmation == "" {
		return Reply{Text: "You don't have a confirmed appointment yet. Ask me for available times to book one."}, nil
	}
	msgs, err := confirmView(sess.Confirmation)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: "Your appointment is confirmed for " + sess.Confirmation + ".", Messages: msgs}, nil
}

func (a *Assistant) unrecognized(ctx context.Context, text string) Reply {
	if a.narrator == nil || strings.TrimSpace(text) == "" {
		return Reply{Text: router.FallbackPrompt}
	}
	answer, err := a.narrator.Reply(ctx, text)
	if err != nil {
		appLog.Warn("narrator failed, using fallback prompt", "error", err.Error())
		return Reply{Text: router.FallbackPrompt}
	}
	return Reply{Text: answer}
}

func deleteIfPresent(sess *session.Session, ids ...string) []a2ui.Message {
	var out []a2ui.Message
	for _, id := range ids {
		if sess.Surfaces.State(id) != a2ui.StateUndefined {
			out = append(out, a2ui.Message{DeleteSurface: &a2ui.DeleteSurface{SurfaceID: id}})
		}
	}
	return out
}

// canonical is the RFC 3339 UTC form sent to and accepted from clients.
func canonical(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
