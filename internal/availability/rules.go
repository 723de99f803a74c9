package availability

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/civil"
)

// DisplayLayout is how a slot is shown to the customer.
const DisplayLayout = "Monday, January 02, 2006 at 03:04 PM"

var (
	ErrInvalidRules = errors.New("availability: invalid business rules")
	ErrNotBookable  = errors.New("availability: time is not a bookable slot")
)

// WeekdaySet is a set of weekdays stored as a bitmask.
type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

func (s WeekdaySet) With(d time.Weekday) WeekdaySet { return s | 1<<uint(d) }

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) String() string {
	var names []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			names = append(names, strings.ToLower(d.String()))
		}
	}
	return strings.Join(names, ",")
}

// ParseWeekdays accepts full or three-letter English day names.
func ParseWeekdays(names []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, n := range names {
		d, ok := parseWeekday(n)
		if !ok {
			return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidRules, n)
		}
		s = s.With(d)
	}
	return s, nil
}

func parseWeekday(n string) (time.Weekday, bool) {
	n = strings.ToLower(strings.TrimSpace(n))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if n == full || n == full[:3] {
			return d, true
		}
	}
	return 0, false
}

// Rules are the business-hour constraints applied to one calendar.
type Rules struct {
	// Location is the business timezone. Hours, dates and display
	// strings are all interpreted here.
	Location *time.Location

	OpenHour     int
	CloseHour    int
	SlotDuration time.Duration

	ExcludedWeekdays WeekdaySet
	// Holidays are closed dates with a human label.
	Holidays map[civil.Date]string
}

// Validate checks that at least one full slot fits in a business day.
func (r Rules) Validate() error {
	if r.Location == nil {
		return fmt.Errorf("%w: location is nil", ErrInvalidRules)
	}
	if r.OpenHour < 0 || r.CloseHour > 24 || r.OpenHour >= r.CloseHour {
		return fmt.Errorf("%w: hours %d-%d", ErrInvalidRules, r.OpenHour, r.CloseHour)
	}
	if r.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration %s", ErrInvalidRules, r.SlotDuration)
	}
	if time.Duration(r.OpenHour)*time.Hour+r.SlotDuration > time.Duration(r.CloseHour)*time.Hour {
		return fmt.Errorf("%w: a %s slot does not fit between %02d:00 and %02d:00",
			ErrInvalidRules, r.SlotDuration, r.OpenHour, r.CloseHour)
	}
	if r.ExcludedWeekdays == NewWeekdaySet(time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday) {
		return fmt.Errorf("%w: every weekday is excluded", ErrInvalidRules)
	}
	return nil
}

// ToLocal converts an instant into the business timezone.
func (r Rules) ToLocal(t time.Time) time.Time { return t.In(r.Location) }

// ToUTC is the inverse of ToLocal.
func (r Rules) ToUTC(t time.Time) time.Time { return t.UTC() }

// FromLocal interprets a wall-clock date and time in the business timezone.
func (r Rules) FromLocal(dt civil.DateTime) time.Time { return dt.In(r.Location) }

// At returns the instant of a time of day on a business date.
func (r Rules) At(d civil.Date, tod civil.Time) time.Time {
	return r.FromLocal(civil.DateTime{Date: d, Time: tod})
}

// DateOf returns the business-local calendar date of an instant.
func (r Rules) DateOf(t time.Time) civil.Date { return civil.DateOf(t.In(r.Location)) }

// Display formats an instant for the customer.
func (r Rules) Display(t time.Time) string { return t.In(r.Location).Format(DisplayLayout) }

// IsBusinessDay reports whether d is neither an excluded weekday nor a
// holiday.
func (r Rules) IsBusinessDay(d civil.Date) bool {
	_, closed := r.closedReason(d)
	return !closed
}

func (r Rules) closedReason(d civil.Date) (string, bool) {
	if name, ok := r.Holidays[d]; ok {
		if name == "" {
			name = "holiday"
		}
		return name, true
	}
	wd := d.In(time.UTC).Weekday()
	if r.ExcludedWeekdays.Has(wd) {
		return wd.String(), true
	}
	return "", false
}

// BusinessHourStarts lists top-of-hour start times from open until the
// last hour where a full slot still ends by close. Excluded days yield nil.
func (r Rules) BusinessHourStarts(d civil.Date) []civil.Time {
	if !r.IsBusinessDay(d) {
		return nil
	}
	closeAt := r.At(d, civil.Time{Hour: r.CloseHour % 24})
	if r.CloseHour == 24 {
		closeAt = r.At(d.AddDays(1), civil.Time{})
	}
	var out []civil.Time
	for h := r.OpenHour; h < r.CloseHour; h++ {
		tod := civil.Time{Hour: h}
		if r.At(d, tod).Add(r.SlotDuration).After(closeAt) {
			break
		}
		out = append(out, tod)
	}
	return out
}

// Admits reports whether start is one of the bookable starts of its
// business day, returning ErrNotBookable otherwise.
func (r Rules) Admits(start time.Time) error {
	local := r.ToLocal(start)
	d := civil.DateOf(local)
	if reason, closed := r.closedReason(d); closed {
		return fmt.Errorf("%w: %s is closed (%s)", ErrNotBookable, d, reason)
	}
	for _, tod := range r.BusinessHourStarts(d) {
		if r.At(d, tod).Equal(start) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is outside business hours", ErrNotBookable, local.Format(time.RFC3339))
}

// ParseSlotTime reads a slot datetime coming back from the client. Values
// carrying an offset are absolute; naive values are business-local
// wall-clock time. The result is UTC.
func (r Rules) ParseSlotTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, r.Location); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.ParseInLocation(DisplayLayout, s, r.Location); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("availability: unrecognized slot time %q", s)
}

var fixedOffsetRE = regexp.MustCompile(`^(?i:utc|gmt)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)

// LoadLocation resolves an IANA zone name, or a fixed offset such as
// "UTC-5" or "-05:00" for deployments that want a constant offset.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty timezone", ErrInvalidRules)
	}
	if m := fixedOffsetRE.FindStringSubmatch(name); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return nil, fmt.Errorf("%w: offset out of range %q", ErrInvalidRules, name)
		}
		secs := hours*3600 + minutes*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(name, secs), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return loc, nil
}
