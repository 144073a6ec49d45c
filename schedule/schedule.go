// Package schedule builds the date grid a Swap discounts against: a run of
// regular periods of a given length, followed by a stub period that closes
// exactly on the tenor end date.
package schedule

import (
	"fmt"
	"time"

	"github.com/ratecurve/ratecurve/utils"
)

// Unit selects how Tenor and Period are interpreted and rolled.
type Unit int

const (
	// Months rolls endpoints with the modified month-end rule (utils.AddMonths).
	Months Unit = iota
	// Days rolls endpoints by calendar day (utils.AddDays).
	Days
)

// Schedule is a sequence of n_periods+1 period endpoints, start == Dates[0]
// and the tenor end date == Dates[len(Dates)-1].
type Schedule struct {
	Dates         []time.Time
	YearFractions []float64 // len(Dates)-1 entries, ACT/365 between consecutive dates
}

// Generate builds a Schedule from start running for tenor in steps of
// period, both expressed in the same Unit. n_periods = ceil(tenor/period);
// each intermediate roll is computed from the previous period's end (not
// from start), so a modified-month-end clamp at one roll carries into the
// next one instead of resetting; the final period is a stub ending exactly
// at add(start, tenor) whenever tenor is not an exact multiple of period.
func Generate(start time.Time, tenor, period int, unit Unit) (*Schedule, error) {
	if period <= 0 {
		return nil, fmt.Errorf("Generate: period must be positive, got %d", period)
	}
	if tenor <= 0 {
		return nil, fmt.Errorf("Generate: tenor must be positive, got %d", tenor)
	}

	addOp := addOpFor(unit)
	end := addOp(start, tenor)

	nPeriods := ceilDiv(tenor, period)

	dates := make([]time.Time, 0, nPeriods+1)
	dates = append(dates, start)
	prev := start
	for i := 1; i < nPeriods; i++ {
		next := addOp(prev, period)
		dates = append(dates, next)
		prev = next
	}
	dates = append(dates, end) // final (possibly stub) endpoint, exact tenor end

	yf := make([]float64, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		yf[i-1] = utils.YearFraction(dates[i-1], dates[i], "ACT/365")
	}

	return &Schedule{Dates: dates, YearFractions: yf}, nil
}

// NumPeriods returns the number of periods (len(Dates)-1).
func (s *Schedule) NumPeriods() int {
	if len(s.Dates) == 0 {
		return 0
	}
	return len(s.Dates) - 1
}

// Start returns the schedule's first date.
func (s *Schedule) Start() time.Time { return s.Dates[0] }

// End returns the schedule's last date.
func (s *Schedule) End() time.Time { return s.Dates[len(s.Dates)-1] }

func addOpFor(unit Unit) func(time.Time, int) time.Time {
	switch unit {
	case Days:
		return utils.AddDays
	default:
		return utils.AddMonths
	}
}

// ceilDiv returns ceil(a/b) for positive a, b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
