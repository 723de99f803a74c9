package availability

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
)

func newTestRules(t *testing.T, excluded ...time.Weekday) Rules {
	t.Helper()
	loc, err := LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation() error = %v", err)
	}
	return Rules{
		Location:         loc,
		OpenHour:         9,
		CloseHour:        17,
		SlotDuration:     time.Hour,
		ExcludedWeekdays: NewWeekdaySet(excluded...),
	}
}

func hours(hs ...int) []civil.Time {
	out := make([]civil.Time, 0, len(hs))
	for _, h := range hs {
		out = append(out, civil.Time{Hour: h})
	}
	return out
}

func TestBusinessHourStarts(t *testing.T) {
	t.Parallel()
	wednesday := civil.Date{Year: 2026, Month: time.January, Day: 14}
	sunday := civil.Date{Year: 2026, Month: time.January, Day: 18}

	tests := []struct {
		name     string
		date     civil.Date
		duration time.Duration
		want     []civil.Time
	}{
		{name: "one hour slots", date: wednesday, duration: time.Hour, want: hours(9, 10, 11, 12, 13, 14, 15, 16)},
		{name: "ninety minute slots stop before close", date: wednesday, duration: 90 * time.Minute, want: hours(9, 10, 11, 12, 13, 14, 15)},
		{name: "full day slot", date: wednesday, duration: 8 * time.Hour, want: hours(9)},
		{name: "excluded weekday", date: sunday, duration: time.Hour, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRules(t, time.Sunday)
			r.SlotDuration = tt.duration
			got := r.BusinessHourStarts(tt.date)
			if diff := cmp.Diff(got, tt.want); diff != "" {
				t.Errorf("BusinessHourStarts() mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestIsBusinessDay(t *testing.T) {
	t.Parallel()
	saturday := civil.Date{Year: 2026, Month: time.January, Day: 17}
	sunday := civil.Date{Year: 2026, Month: time.January, Day: 18}
	monday := civil.Date{Year: 2026, Month: time.January, Day: 19}
	christmas := civil.Date{Year: 2026, Month: time.December, Day: 25}

	tests := []struct {
		name     string
		excluded []string
		date     civil.Date
		want     bool
	}{
		{name: "sunday only excludes sunday", excluded: []string{"sunday"}, date: sunday, want: false},
		{name: "sunday only keeps saturday", excluded: []string{"sunday"}, date: saturday, want: true},
		{name: "weekend excludes saturday", excluded: []string{"Saturday", "sun"}, date: saturday, want: false},
		{name: "weekend keeps monday", excluded: []string{"saturday", "sunday"}, date: monday, want: true},
		{name: "holiday is closed", excluded: []string{"sunday"}, date: christmas, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			set, err := ParseWeekdays(tt.excluded)
			if err != nil {
				t.Fatalf("ParseWeekdays() error = %v", err)
			}
			r := newTestRules(t)
			r.ExcludedWeekdays = set
			r.Holidays = map[civil.Date]string{christmas: "Christmas"}
			if got := r.IsBusinessDay(tt.date); got != tt.want {
				t.Errorf("IsBusinessDay(%s) = %v, want %v", tt.date, got, tt.want)
			}
		})
	}
}

func TestParseWeekdaysUnknown(t *testing.T) {
	t.Parallel()
	if _, err := ParseWeekdays([]string{"funday"}); !errors.Is(err, ErrInvalidRules) {
		t.Errorf("ParseWeekdays() error = %v, want ErrInvalidRules", err)
	}
}

func TestRulesValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Rules)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Rules) {}},
		{name: "slot longer than day", mutate: func(r *Rules) { r.SlotDuration = 9 * time.Hour }, wantErr: true},
		{name: "slot exactly fills day", mutate: func(r *Rules) { r.SlotDuration = 8 * time.Hour }},
		{name: "inverted hours", mutate: func(r *Rules) { r.OpenHour, r.CloseHour = 17, 9 }, wantErr: true},
		{name: "nil location", mutate: func(r *Rules) { r.Location = nil }, wantErr: true},
		{name: "zero duration", mutate: func(r *Rules) { r.SlotDuration = 0 }, wantErr: true},
		{
			name: "every day excluded",
			mutate: func(r *Rules) {
				r.ExcludedWeekdays = NewWeekdaySet(time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRules(t, time.Sunday)
			tt.mutate(&r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRules) {
				t.Errorf("Validate() error = %v, want ErrInvalidRules", err)
			}
		})
	}
}

func TestLocalUTCRoundTrip(t *testing.T) {
	t.Parallel()
	utc := time.Date(2026, time.January, 14, 14, 0, 0, 0, time.UTC)

	for _, zone := range []string{"UTC-5", "-05:00", "America/New_York"} {
		t.Run(zone, func(t *testing.T) {
			t.Parallel()
			r := newTestRules(t)
			loc, err := LoadLocation(zone)
			if err != nil {
				t.Fatalf("LoadLocation(%q) error = %v", zone, err)
			}
			r.Location = loc

			local := r.ToLocal(utc)
			if got := local.Format("15:04"); got != "09:00" {
				t.Errorf("ToLocal() = %s, want 09:00", got)
			}
			back := r.ToUTC(local)
			if got := back.Format(time.RFC3339); got != "2026-01-14T14:00:00Z" {
				t.Errorf("ToUTC() = %s, want 2026-01-14T14:00:00Z", got)
			}
			wall := r.FromLocal(civil.DateTimeOf(local))
			if !wall.Equal(utc) {
				t.Errorf("FromLocal() = %s, want %s", wall, utc)
			}
		})
	}
}

func TestLoadLocation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		in         string
		wantOffset int
		wantErr    bool
	}{
		{name: "utc minus five", in: "UTC-5", wantOffset: -5 * 3600},
		{name: "gmt plus half hour", in: "GMT+05:30", wantOffset: 5*3600 + 30*60},
		{name: "bare offset", in: "-0500", wantOffset: -5 * 3600},
		{name: "utc", in: "UTC", wantOffset: 0},
		{name: "empty", in: "", wantErr: true},
		{name: "bogus", in: "Mars/Olympus_Mons", wantErr: true},
		{name: "offset too large", in: "UTC+15", wantErr: true},
	}
	jan := time.Date(2026, time.January, 14, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			loc, err := LoadLocation(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadLocation(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if _, off := jan.In(loc).Zone(); off != tt.wantOffset {
				t.Errorf("offset = %d, want %d", off, tt.wantOffset)
			}
		})
	}
}

func TestParseSlotTime(t *testing.T) {
	t.Parallel()
	want := time.Date(2026, time.January, 15, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "utc", in: "2026-01-15T15:00:00Z"},
		{name: "offset", in: "2026-01-15T10:00:00-05:00"},
		{name: "naive local", in: "2026-01-15T10:00:00"},
		{name: "naive local without seconds", in: "2026-01-15 10:00"},
		{name: "display string", in: "Thursday, January 15, 2026 at 10:00 AM"},
		{name: "garbage", in: "next tuesday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRules(t)
			got, err := r.ParseSlotTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSlotTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && !got.Equal(want) {
				t.Errorf("ParseSlotTime(%q) = %s, want %s", tt.in, got, want)
			}
			if err == nil && got.Location() != time.UTC {
				t.Errorf("ParseSlotTime(%q) location = %s, want UTC", tt.in, got.Location())
			}
		})
	}
}

func TestAdmits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		start   time.Time
		wantErr bool
	}{
		{name: "nine am wednesday", start: time.Date(2026, 1, 14, 14, 0, 0, 0, time.UTC)},
		{name: "last start of day", start: time.Date(2026, 1, 14, 21, 0, 0, 0, time.UTC)},
		{name: "ends after close", start: time.Date(2026, 1, 14, 22, 0, 0, 0, time.UTC), wantErr: true},
		{name: "half hour", start: time.Date(2026, 1, 14, 14, 30, 0, 0, time.UTC), wantErr: true},
		{name: "before open", start: time.Date(2026, 1, 14, 13, 0, 0, 0, time.UTC), wantErr: true},
		{name: "sunday", start: time.Date(2026, 1, 18, 14, 0, 0, 0, time.UTC), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRules(t, time.Sunday)
			err := r.Admits(tt.start)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Admits() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNotBookable) {
				t.Errorf("Admits() error = %v, want ErrNotBookable", err)
			}
		})
	}
}

func TestDisplay(t *testing.T) {
	t.Parallel()
	r := newTestRules(t)
	got := r.Display(time.Date(2026, 1, 14, 14, 0, 0, 0, time.UTC))
	if want := "Wednesday, January 14, 2026 at 09:00 AM"; got != want {
		t.Errorf("Display() = %q, want %q", got, want)
	}
}
