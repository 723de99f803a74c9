package availability

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"cloud.google.com/go/civil"
)

var ErrZoneCoverage = errors.New("availability: zones do not cover the window")

type Zone string

const (
	ZoneNear Zone = "NEAR"
	ZoneMid  Zone = "MID"
	ZoneFar  Zone = "FAR"
)

var zoneOrder = []Zone{ZoneNear, ZoneMid, ZoneFar}

func ParseZone(s string) (Zone, error) {
	z := Zone(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(zoneOrder, z) {
		return "", fmt.Errorf("availability: unknown zone %q", s)
	}
	return z, nil
}

// ZoneRange assigns window days FirstDay..LastDay (1-based, inclusive) to a
// zone.
type ZoneRange struct {
	Zone     Zone
	FirstDay int
	LastDay  int
}

func (z ZoneRange) contains(day int) bool { return day >= z.FirstDay && day <= z.LastDay }

// DefaultZones splits a horizon in the 2/3/2 proportion of a seven-day
// week: days 1-2, 3-5 and 6-7 for the default horizon.
func DefaultZones(horizon int) []ZoneRange {
	if horizon < 1 {
		return nil
	}
	nearEnd := max(1, horizon*2/7)
	midEnd := max(nearEnd, horizon*5/7)
	out := []ZoneRange{{Zone: ZoneNear, FirstDay: 1, LastDay: nearEnd}}
	if midEnd > nearEnd {
		out = append(out, ZoneRange{Zone: ZoneMid, FirstDay: nearEnd + 1, LastDay: midEnd})
	}
	if horizon > midEnd {
		out = append(out, ZoneRange{Zone: ZoneFar, FirstDay: midEnd + 1, LastDay: horizon})
	}
	return out
}

// ValidateZones requires known, non-repeated zones whose ranges lie inside
// the horizon and together cover every day of it.
func ValidateZones(zones []ZoneRange, horizon int) error {
	seen := map[Zone]bool{}
	covered := make([]bool, horizon+1)
	for _, z := range zones {
		if !slices.Contains(zoneOrder, z.Zone) {
			return fmt.Errorf("%w: unknown zone %q", ErrZoneCoverage, z.Zone)
		}
		if seen[z.Zone] {
			return fmt.Errorf("%w: zone %s listed twice", ErrZoneCoverage, z.Zone)
		}
		seen[z.Zone] = true
		if z.FirstDay < 1 || z.LastDay < z.FirstDay || z.LastDay > horizon {
			return fmt.Errorf("%w: %s days %d-%d outside 1-%d", ErrZoneCoverage, z.Zone, z.FirstDay, z.LastDay, horizon)
		}
		for d := z.FirstDay; d <= z.LastDay; d++ {
			covered[d] = true
		}
	}
	for d := 1; d <= horizon; d++ {
		if !covered[d] {
			return fmt.Errorf("%w: day %d", ErrZoneCoverage, d)
		}
	}
	return nil
}

// Selection is at most one slot per zone, ordered NEAR, MID, FAR.
type Selection struct {
	Slots []Candidate
}

// Empty is the no-availability outcome; callers render an explicit
// empty state for it.
func (s Selection) Empty() bool { return len(s.Slots) == 0 }

// Select picks the first available day in each zone. A date is never
// chosen twice even when configured ranges overlap.
func Select(candidates []Candidate, zones []ZoneRange) Selection {
	ordered := slices.Clone(zones)
	slices.SortStableFunc(ordered, func(a, b ZoneRange) int {
		return slices.Index(zoneOrder, a.Zone) - slices.Index(zoneOrder, b.Zone)
	})

	used := map[civil.Date]bool{}
	done := map[Zone]bool{}
	var sel Selection
	for _, z := range ordered {
		if done[z.Zone] {
			continue
		}
		for _, c := range candidates {
			if !z.contains(c.Index) || used[c.Date] {
				continue
			}
			c.Zone = z.Zone
			sel.Slots = append(sel.Slots, c)
			used[c.Date] = true
			done[z.Zone] = true
			break
		}
	}
	return sel
}
