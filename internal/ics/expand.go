package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "tradein/internal/log"
	"tradein/internal/model"
)

const defaultMaxOccurrences = 5000

// ExpandConfig bounds recurrence expansion to [RangeStart, RangeEnd).
type ExpandConfig struct {
	RangeStart time.Time
	RangeEnd   time.Time
	// MaxOccurrencesPerEvent caps runaway rules. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into concrete busy intervals overlapping the
// range. Cancelled and transparent events, including cancelled overrides of
// single instances, produce nothing. A malformed RRULE is a
// *model.TimeFormatError.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, error) {
	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return nil, errors.New("ics: expand range end must be after start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrences
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	var out []model.CalendarEvent
	for _, uid := range uids {
		ovs := overrides[uid]
		used := make([]bool, len(ovs))
		live := false
		var occ []model.CalendarEvent
		for _, ev := range bases[uid] {
			got, truncated, err := expandOne(ev, ovs, used, cfg)
			if err != nil {
				return nil, err
			}
			if truncated {
				appLog.Warn("ics expansion truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			live = live || !ev.Cancelled
			occ = append(occ, got...)
		}
		// An override whose original instance lies outside the range can
		// still be moved into it.
		if live {
			for i, o := range ovs {
				if !used[i] && !emitted(occ, o) {
					occ = appendBusy(occ, o, o.Start, o.End, cfg)
				}
			}
		}
		out = append(out, occ...)
	}
	// Overrides whose base event is missing still occupy time.
	for uid, ovs := range overrides {
		if _, ok := bases[uid]; ok {
			continue
		}
		for _, o := range ovs {
			out = appendBusy(out, o, o.Start, o.End, cfg)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func expandOne(ev ParsedEvent, overrides []ParsedEvent, used []bool, cfg ExpandConfig) ([]model.CalendarEvent, bool, error) {
	if ev.Cancelled {
		return nil, false, nil
	}
	if ev.RawRRule == "" {
		start, end, src := applyOverride(ev, overrides, used, ev.Start, ev.End)
		return appendBusy(nil, src, start, end, cfg), false, nil
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil, false, &model.TimeFormatError{EventID: ev.UID, Field: "RRULE", Value: ev.RawRRule, Err: err}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so occurrences that start
	// before the range but run into it are kept.
	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	times := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	truncated := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		truncated = true
	}

	var out []model.CalendarEvent
	for _, s := range times {
		e := s.Add(dur)
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
			e = s.AddDate(0, 0, daysSpanned(ev))
		}
		start, end, src := applyOverride(ev, overrides, used, s, e)
		out = appendBusy(out, src, start, end, cfg)
	}
	return out, truncated, nil
}

func daysSpanned(ev ParsedEvent) int {
	n := int(ev.End.Sub(ev.Start).Round(24*time.Hour) / (24 * time.Hour))
	if n < 1 {
		return 1
	}
	return n
}

// applyOverride swaps in the RECURRENCE-ID override for an instance, if
// any, and marks it used.
func applyOverride(base ParsedEvent, overrides []ParsedEvent, used []bool, start, end time.Time) (time.Time, time.Time, ParsedEvent) {
	for i, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			used[i] = true
			return o.Start, o.End, o
		}
	}
	return start, end, base
}

func emitted(out []model.CalendarEvent, o ParsedEvent) bool {
	id := instanceID(o.UID, o.Start)
	for _, ev := range out {
		if ev.ID == id && ev.End.Equal(o.End) {
			return true
		}
	}
	return false
}

func appendBusy(out []model.CalendarEvent, src ParsedEvent, start, end time.Time, cfg ExpandConfig) []model.CalendarEvent {
	if !src.Busy() {
		return out
	}
	inRange := start.Before(cfg.RangeEnd) && end.After(cfg.RangeStart)
	if start.Equal(end) {
		inRange = !start.Before(cfg.RangeStart) && start.Before(cfg.RangeEnd)
	}
	if !inRange {
		return out
	}
	return append(out, model.CalendarEvent{
		ID:      instanceID(src.UID, start),
		Summary: src.Summary,
		AllDay:  src.AllDay,
		Start:   start,
		End:     end,
	})
}

func instanceID(uid string, start time.Time) string {
	return fmt.Sprintf("%s@%s", uid, start.UTC().Format(time.RFC3339))
}
