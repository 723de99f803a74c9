// Package router classifies an inbound turn into an intent using fixed
// trigger tables for UI actions and free text.
package router

import (
	"regexp"
	"slices"
	"strings"

	"tradein/internal/a2ui"
)

type Intent int

const (
	Unrecognized Intent = iota
	ShowVehicleForm
	SubmitVehicle
	ShowAvailability
	ShowBookingForm
	SubmitBooking
	ShowConfirmation
)

var intentNames = [...]string{
	Unrecognized:     "unrecognized",
	ShowVehicleForm:  "show_vehicle_form",
	SubmitVehicle:    "submit_vehicle",
	ShowAvailability: "show_availability",
	ShowBookingForm:  "show_booking_form",
	SubmitBooking:    "submit_booking",
	ShowConfirmation: "show_confirmation",
}

func (i Intent) String() string {
	if int(i) >= 0 && int(i) < len(intentNames) {
		return intentNames[i]
	}
	return "unknown"
}

// Action names declared by the rendered surfaces.
const (
	ActionSelectTimeSlot   = "SELECT_TIME_SLOT"
	ActionSubmitBooking    = "SUBMIT_BOOKING"
	ActionSubmitVehicle    = "submit_vehicle_info"
	ActionScheduleAppraise = "schedule_appraisal"
	ActionShowConfirmation = "SHOW_CONFIRMATION"
)

// FallbackPrompt answers an Unrecognized turn when no narrator is available.
const FallbackPrompt = "I can estimate your trade-in value and book an in-person appraisal. " +
	"Tell me about your vehicle, or ask to see available appointment times."

// Route is the classification of one turn. Fields carries the action
// context or the text captures, stringified.
type Route struct {
	Intent  Intent
	Trigger string
	Fields  map[string]string
	// Missing lists required fields the trigger did not supply.
	Missing []string
}

func (r Route) Field(key string) string { return r.Fields[key] }

// Complete reports whether every required field was supplied.
func (r Route) Complete() bool { return len(r.Missing) == 0 }

type actionTrigger struct {
	intent   Intent
	required []string
}

type textTrigger struct {
	name     string
	intent   Intent
	re       *regexp.Regexp
	required []string
}

type Router struct {
	actions map[string]actionTrigger
	text    []textTrigger
}

var actionTable = map[string]actionTrigger{
	ActionScheduleAppraise: {intent: ShowAvailability},
	ActionSelectTimeSlot:   {intent: ShowBookingForm, required: []string{"dateTime"}},
	ActionSubmitBooking:    {intent: SubmitBooking, required: []string{"name", "email", "dateTime"}},
	ActionSubmitVehicle:    {intent: SubmitVehicle, required: []string{"year", "make", "model", "mileage", "condition"}},
	ActionShowConfirmation: {intent: ShowConfirmation},
}

// Text triggers are tried in order; the first match wins.
var textTable = []textTrigger{
	{
		name:     "submit_booking",
		intent:   SubmitBooking,
		re:       regexp.MustCompile(`(?i)please book the appointment for\s+(?P<name>.+?)\s*\((?P<email>[^)\s]+)\)\s*at\s+(?P<dateTime>.+?)(?:\.\s*vehicle:\s*(?P<vehicle>.*?))?\s*$`),
		required: []string{"name", "email", "dateTime"},
	},
	{
		name:     "book_at",
		intent:   ShowBookingForm,
		re:       regexp.MustCompile(`(?i)\bbook\b.*?\b(?:at|for)\s+(?P<dateTime>.+?)\s*$`),
		required: []string{"dateTime"},
	},
	{
		name:   "confirmation",
		intent: ShowConfirmation,
		re:     regexp.MustCompile(`(?i)\b(?:confirmation|my booking|my appointment)\b`),
	},
	{
		name:   "availability",
		intent: ShowAvailability,
		re:     regexp.MustCompile(`(?i)\b(?:available|availability|schedule|appointments?|appraisal|open times|slots?)\b`),
	},
	{
		name:   "trade_in",
		intent: ShowVehicleForm,
		re:     regexp.MustCompile(`(?i)\b(?:trade[- ]?in|my car|vehicle|hello|hi)\b`),
	},
}

func New() *Router {
	return &Router{actions: actionTable, text: textTable}
}

// ClassifyAction maps a decoded UI action. Unknown names route to
// Unrecognized rather than failing.
func (r *Router) ClassifyAction(a a2ui.UserAction) Route {
	fields := make(map[string]string, len(a.Context))
	for k := range a.Context {
		fields[k] = strings.TrimSpace(a.String(k))
	}
	trig, ok := r.lookupAction(a.Name)
	if !ok {
		return Route{Intent: Unrecognized, Trigger: a.Name, Fields: fields}
	}
	return Route{
		Intent:  trig.intent,
		Trigger: a.Name,
		Fields:  fields,
		Missing: missing(fields, trig.required),
	}
}

func (r *Router) lookupAction(name string) (actionTrigger, bool) {
	if t, ok := r.actions[name]; ok {
		return t, true
	}
	for k, t := range r.actions {
		if strings.EqualFold(k, name) {
			return t, true
		}
	}
	return actionTrigger{}, false
}

// Classify maps free text against the ordered text triggers.
func (r *Router) Classify(text string) Route {
	text = strings.TrimSpace(text)
	fields := map[string]string{}
	if text == "" {
		return Route{Intent: Unrecognized, Fields: fields}
	}
	for _, t := range r.text {
		m := t.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for i, name := range t.re.SubexpNames() {
			if name == "" || m[i] == "" {
				continue
			}
			fields[name] = strings.TrimRight(strings.TrimSpace(m[i]), ".")
		}
		return Route{
			Intent:  t.intent,
			Trigger: t.name,
			Fields:  fields,
			Missing: missing(fields, t.required),
		}
	}
	return Route{Intent: Unrecognized, Fields: fields}
}

func missing(fields map[string]string, required []string) []string {
	var out []string
	for _, k := range required {
		if fields[k] == "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
