package assistant

import (
	"fmt"

	"tradein/internal/a2ui"
	"tradein/internal/availability"
	"tradein/internal/router"
	"tradein/internal/valuation"
)

// Surface ids rendered by the assistant.
const (
	SurfaceCalendar  = "calendar"
	SurfaceBooking   = "booking"
	SurfaceConfirm   = "confirm"
	SurfaceVehicle   = "vehicle"
	SurfaceValuation = "valuation"
)

// surfaceForAction names the surface whose data model backs an action's
// path references when the client omits surfaceId.
var surfaceForAction = map[string]string{
	router.ActionSelectTimeSlot:   SurfaceCalendar,
	router.ActionSubmitBooking:    SurfaceBooking,
	router.ActionSubmitVehicle:    SurfaceVehicle,
	router.ActionScheduleAppraise: SurfaceValuation,
}

func heading(s string) *a2ui.Text {
	return &a2ui.Text{Text: a2ui.Literal(s), UsageHint: "h2"}
}

func label(s string) *a2ui.Text {
	return &a2ui.Text{Text: a2ui.Literal(s)}
}

func bound(path string) *a2ui.Text {
	return &a2ui.Text{Text: a2ui.Path(path)}
}

func field(lbl, path, typ string) *a2ui.TextField {
	text := a2ui.Path(path)
	return &a2ui.TextField{Label: a2ui.Literal(lbl), Text: &text, TextFieldType: typ}
}

// slotsView renders one card per selected slot, ids s1..sN.
func slotsView(rules availability.Rules, sel availability.Selection) ([]a2ui.Message, error) {
	b := a2ui.NewSurface(SurfaceCalendar)
	children := []string{"title"}
	for i := range sel.Slots {
		children = append(children, fmt.Sprintf("s%d", i+1))
	}
	b.Add("root", &a2ui.Column{Children: a2ui.ChildList(children...)})
	b.Add("title", heading("Available Appointment Times"))

	for i, slot := range sel.Slots {
		n := i + 1
		key := fmt.Sprintf("slot%d", n)
		b.Add(fmt.Sprintf("s%d", n), &a2ui.Card{Child: fmt.Sprintf("r%d", n)})
		b.Add(fmt.Sprintf("r%d", n), &a2ui.Row{
			Children:     a2ui.ChildList(fmt.Sprintf("t%d", n), fmt.Sprintf("b%d", n)),
			Distribution: "spaceBetween",
		})
		b.Add(fmt.Sprintf("t%d", n), bound("/"+key+"/display"))
		b.Add(fmt.Sprintf("b%d", n), &a2ui.Button{
			Child: fmt.Sprintf("bt%d", n),
			Action: a2ui.Action{
				Name:    router.ActionSelectTimeSlot,
				Context: []a2ui.ContextEntry{{Key: "dateTime", Value: a2ui.Path("/" + key + "/dateTime")}},
			},
		})
		b.Add(fmt.Sprintf("bt%d", n), label("Select"))
		b.Data(a2ui.Map(key,
			a2ui.String("display", rules.Display(slot.Start)),
			a2ui.String("dateTime", canonical(slot.Start)),
			a2ui.String("zone", string(slot.Zone)),
		))
	}
	return b.Messages()
}

func emptyMessage(horizon int, phone string) string {
	return fmt.Sprintf("I'm sorry, there are no appointment slots available for the next %d business days. "+
		"Please call: %s to discuss alternatives.", horizon, phone)
}

// emptyView is the no-availability card; it carries no slot picker.
func emptyView(horizon int, phone string) ([]a2ui.Message, error) {
	return a2ui.NewSurface(SurfaceCalendar).
		Add("root", &a2ui.Card{Child: "content"}).
		Add("content", &a2ui.Column{Children: a2ui.ChildList("title", "message")}).
		Add("title", heading("No Appointments Available")).
		Add("message", bound("/empty/message")).
		Data(a2ui.Map("empty", a2ui.String("message", emptyMessage(horizon, phone)))).
		Messages()
}

type bookingForm struct {
	Display  string
	DateTime string
	Name     string
	Email    string
	Error    string
}

func bookingView(f bookingForm) ([]a2ui.Message, error) {
	children := []string{"title", "slot"}
	if f.Error != "" {
		children = append(children, "error")
	}
	children = append(children, "name_f", "email_f", "submit")

	b := a2ui.NewSurface(SurfaceBooking).
		Add("root", &a2ui.Column{Children: a2ui.ChildList(children...)}).
		Add("title", heading("Complete Your Booking")).
		Add("slot", bound("/booking/display"))
	if f.Error != "" {
		b.Add("error", bound("/booking/error"))
	}
	b.Add("name_f", field("Full Name", "/booking/name", "shortText")).
		Add("email_f", field("Email", "/booking/email", "email")).
		Add("submit", &a2ui.Button{
			Child:   "sub_t",
			Primary: true,
			Action: a2ui.Action{
				Name: router.ActionSubmitBooking,
				Context: []a2ui.ContextEntry{
					{Key: "name", Value: a2ui.Path("/booking/name")},
					{Key: "email", Value: a2ui.Path("/booking/email")},
					{Key: "dateTime", Value: a2ui.Path("/booking/dateTime")},
				},
			},
		}).
		Add("sub_t", label("Confirm Booking"))

	entries := []a2ui.DataEntry{
		a2ui.String("name", f.Name),
		a2ui.String("email", f.Email),
		a2ui.String("dateTime", f.DateTime),
		a2ui.String("display", f.Display),
	}
	if f.Error != "" {
		entries = append(entries, a2ui.String("error", f.Error))
	}
	return b.Data(a2ui.Map("booking", entries...)).Messages()
}

func confirmView(details string) ([]a2ui.Message, error) {
	return a2ui.NewSurface(SurfaceConfirm).
		Add("root", &a2ui.Card{Child: "content"}).
		Add("content", &a2ui.Column{Children: a2ui.ChildList("msg", "details", "email_note")}).
		Add("msg", heading("Appointment Confirmed!")).
		Add("details", bound("/confirm/details")).
		Add("email_note", label("A calendar invitation has been sent to your email.")).
		Data(a2ui.Map("confirm", a2ui.String("details", details))).
		Messages()
}

type vehicleForm struct {
	Year, Make, Model, Mileage, Condition string
	Error                                 string
}

func vehicleView(f vehicleForm) ([]a2ui.Message, error) {
	if f.Condition == "" {
		f.Condition = valuation.Good.String()
	}
	var options []a2ui.Option
	for _, c := range valuation.Conditions() {
		options = append(options, a2ui.Option{Label: a2ui.Literal(c.String()), Value: c.String()})
	}

	children := []string{"title"}
	if f.Error != "" {
		children = append(children, "error")
	}
	children = append(children, "year_f", "make_f", "model_f", "mileage_f", "condition_f", "submit")

	b := a2ui.NewSurface(SurfaceVehicle).
		Add("root", &a2ui.Column{Children: a2ui.ChildList(children...)}).
		Add("title", heading("Tell Us About Your Vehicle"))
	if f.Error != "" {
		b.Add("error", bound("/vehicle/error"))
	}
	b.Add("year_f", field("Year", "/vehicle/year", "number")).
		Add("make_f", field("Make", "/vehicle/make", "shortText")).
		Add("model_f", field("Model", "/vehicle/model", "shortText")).
		Add("mileage_f", field("Mileage", "/vehicle/mileage", "number")).
		Add("condition_f", &a2ui.Dropdown{
			Label:     a2ui.Literal("Condition"),
			Options:   options,
			Selection: a2ui.Path("/vehicle/condition"),
		}).
		Add("submit", &a2ui.Button{
			Child:   "sub_t",
			Primary: true,
			Action: a2ui.Action{
				Name: router.ActionSubmitVehicle,
				Context: []a2ui.ContextEntry{
					{Key: "year", Value: a2ui.Path("/vehicle/year")},
					{Key: "make", Value: a2ui.Path("/vehicle/make")},
					{Key: "model", Value: a2ui.Path("/vehicle/model")},
					{Key: "mileage", Value: a2ui.Path("/vehicle/mileage")},
					{Key: "condition", Value: a2ui.Path("/vehicle/condition")},
				},
			},
		}).
		Add("sub_t", label("Get Estimate"))

	entries := []a2ui.DataEntry{
		a2ui.String("year", f.Year),
		a2ui.String("make", f.Make),
		a2ui.String("model", f.Model),
		a2ui.String("mileage", f.Mileage),
		a2ui.String("condition", f.Condition),
	}
	if f.Error != "" {
		entries = append(entries, a2ui.String("error", f.Error))
	}
	return b.Data(a2ui.Map("vehicle", entries...)).Messages()
}

func valuationView(v valuation.Vehicle, est valuation.Estimate) ([]a2ui.Message, error) {
	return a2ui.NewSurface(SurfaceValuation).
		Add("root", &a2ui.Card{Child: "content"}).
		Add("content", &a2ui.Column{Children: a2ui.ChildList("title", "vehicle", "range", "note", "schedule")}).
		Add("title", heading("Your Trade-In Estimate")).
		Add("vehicle", bound("/valuation/vehicle")).
		Add("range", &a2ui.Text{Text: a2ui.Path("/valuation/range"), UsageHint: "h3"}).
		Add("note", label("Final value is confirmed at an in-person appraisal.")).
		Add("schedule", &a2ui.Button{
			Child:   "sched_t",
			Primary: true,
			Action:  a2ui.Action{Name: router.ActionScheduleAppraise},
		}).
		Add("sched_t", label("Schedule Appraisal")).
		Data(a2ui.Map("valuation",
			a2ui.String("vehicle", v.Summary()),
			a2ui.String("range", est.String()),
			a2ui.Number("low", float64(est.Low)),
			a2ui.Number("high", float64(est.High)),
		)).
		Messages()
}
