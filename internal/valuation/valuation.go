// Package valuation turns vehicle intake details into a rough trade-in range.
package valuation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidVehicle = errors.New("valuation: invalid vehicle")

type Condition int

const (
	Excellent Condition = iota + 1
	Good
	Fair
	Poor
)

var conditionNames = map[Condition]string{
	Excellent: "Excellent",
	Good:      "Good",
	Fair:      "Fair",
	Poor:      "Poor",
}

func (c Condition) String() string {
	if n, ok := conditionNames[c]; ok {
		return n
	}
	return "Unknown"
}

// Conditions lists the accepted conditions, best first.
func Conditions() []Condition { return []Condition{Excellent, Good, Fair, Poor} }

func ParseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	for c, n := range conditionNames {
		if strings.EqualFold(s, n) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: condition %q (want Excellent, Good, Fair or Poor)", ErrInvalidVehicle, s)
}

// base ranges in dollars
var baseRange = map[Condition][2]float64{
	Excellent: {15000, 20000},
	Good:      {10000, 15000},
	Fair:      {5000, 10000},
	Poor:      {2000, 5000},
}

const (
	minYear         = 1980
	lowMileage      = 30000
	highMileage     = 100000
	oldVehicleYears = 10
	roundTo         = 500
)

type Vehicle struct {
	Year      int
	Make      string
	Model     string
	Mileage   int
	Condition Condition
}

// ParseVehicle reads the string form fields of the intake surface.
// Mileage accepts thousands separators ("45,000") and a trailing "k".
func ParseVehicle(year, maker, model, mileage, condition string) (Vehicle, error) {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return Vehicle{}, fmt.Errorf("%w: year %q", ErrInvalidVehicle, year)
	}
	miles, err := ParseMileage(mileage)
	if err != nil {
		return Vehicle{}, err
	}
	c, err := ParseCondition(condition)
	if err != nil {
		return Vehicle{}, err
	}
	return Vehicle{
		Year:      y,
		Make:      strings.TrimSpace(maker),
		Model:     strings.TrimSpace(model),
		Mileage:   miles,
		Condition: c,
	}, nil
}

func ParseMileage(s string) (int, error) {
	raw := s
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "miles")
	s = strings.TrimSuffix(s, "mi")
	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	mult := 1.0
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: mileage %q", ErrInvalidVehicle, raw)
	}
	return int(math.Round(f * mult)), nil
}

// Validate checks the vehicle against the model year accepted in currentYear.
func (v Vehicle) Validate(currentYear int) error {
	switch {
	case v.Year < minYear || v.Year > currentYear+1:
		return fmt.Errorf("%w: year %d outside %d-%d", ErrInvalidVehicle, v.Year, minYear, currentYear+1)
	case v.Make == "":
		return fmt.Errorf("%w: make is required", ErrInvalidVehicle)
	case v.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidVehicle)
	case v.Mileage < 0:
		return fmt.Errorf("%w: negative mileage", ErrInvalidVehicle)
	}
	if _, ok := baseRange[v.Condition]; !ok {
		return fmt.Errorf("%w: unknown condition", ErrInvalidVehicle)
	}
	return nil
}

// Summary reads like "2019 Honda Civic, 45,000 miles, Good condition".
func (v Vehicle) Summary() string {
	return fmt.Sprintf("%d %s %s, %s miles, %s condition", v.Year, v.Make, v.Model, groupThousands(v.Mileage), v.Condition)
}

type Estimate struct {
	Low  int
	High int
}

func (e Estimate) String() string {
	return Dollars(e.Low) + " - " + Dollars(e.High)
}

// Appraise applies the condition base range, then mileage and age
// adjustments, rounding both bounds to the nearest $500.
func Appraise(v Vehicle, currentYear int) (Estimate, error) {
	if err := v.Validate(currentYear); err != nil {
		return Estimate{}, err
	}
	r := baseRange[v.Condition]
	factor := 1.0
	switch {
	case v.Mileage < lowMileage:
		factor *= 1.10
	case v.Mileage > highMileage:
		factor *= 0.85
	}
	if currentYear-v.Year > oldVehicleYears {
		factor *= 0.80
	}
	return Estimate{Low: round(r[0] * factor), High: round(r[1] * factor)}, nil
}

func round(x float64) int {
	return int(math.Round(x/roundTo)) * roundTo
}

// Dollars formats n as "$12,500".
func Dollars(n int) string {
	if n < 0 {
		return "-$" + groupThousands(-n)
	}
	return "$" + groupThousands(n)
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
