// Package swap implements the calibrating instruments the solver prices
// against a Curve: a plain fixed-for-floating interest rate swap, and a
// swap spread (the difference of two swap rates) built on top of it.
package swap

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ratecurve/ratecurve/curve"
	"github.com/ratecurve/ratecurve/dual"
	"github.com/ratecurve/ratecurve/schedule"
)

// Leg selects which of a Swap's two schedules a leg-level quantity (like
// AnalyticDelta) is computed over.
type Leg int

const (
	FixedLeg Leg = iota
	FloatingLeg
)

// defaultFloatPeriodMonths is the floating leg's reset frequency when the
// caller doesn't need to price off it directly: 3-month resets are the
// conventional floating-leg period against an annual or semi-annual fixed
// leg. The float schedule is carried for AnalyticDelta(curve, FloatingLeg)
// and the data model's leg symmetry; Rate/NPV/Risk only need the fixed
// schedule and the telescoping start/end discount factors, which don't
// depend on either leg's internal period length.
const defaultFloatPeriodMonths = 3

// Swap is a vanilla fixed-for-floating interest rate swap priced off a
// single Curve: both legs' discounting comes from the same curve, and the
// floating leg's value telescopes to DF(start) - DF(end) regardless of its
// own reset schedule, so NPV and Rate are pure functions of the curve and
// the fixed leg alone.
type Swap struct {
	Notional  float64
	FixedRate float64
	Fix       *schedule.Schedule
	Float     *schedule.Schedule
}

// NewSwap builds a Swap with a fixed leg paying every periodMonths and a
// floating leg resetting every defaultFloatPeriodMonths, both running for
// tenorMonths from start.
func NewSwap(notional, fixedRate float64, start time.Time, tenorMonths, periodMonths int) (*Swap, error) {
	fix, err := schedule.Generate(start, tenorMonths, periodMonths, schedule.Months)
	if err != nil {
		return nil, fmt.Errorf("NewSwap: %w", err)
	}
	float, err := schedule.Generate(start, tenorMonths, defaultFloatPeriodMonths, schedule.Months)
	if err != nil {
		return nil, fmt.Errorf("NewSwap: %w", err)
	}
	return &Swap{Notional: notional, FixedRate: fixedRate, Fix: fix, Float: float}, nil
}

// schedule returns the schedule backing leg.
func (s *Swap) schedule(leg Leg) *schedule.Schedule {
	if leg == FloatingLeg {
		return s.Float
	}
	return s.Fix
}

// annuityFactor returns the per-unit-notional annuity, sum_i DF(t_i) * yf_i,
// over leg's payment periods.
func (s *Swap) annuityFactor(c *curve.Curve, leg Leg) (dual.Dual, error) {
	sched := s.schedule(leg)
	annuity := dual.NewReal(0)
	for i, yf := range sched.YearFractions {
		df, err := c.DF(sched.Dates[i+1])
		if err != nil {
			return dual.Dual{}, fmt.Errorf("annuityFactor: %w", err)
		}
		annuity = annuity.Add(df.Mul(dual.NewReal(yf)))
	}
	return annuity, nil
}

// AnalyticDelta returns leg's PV01: notional/10000 * annuity over that
// leg's schedule.
func (s *Swap) AnalyticDelta(c *curve.Curve, leg Leg) (dual.Dual, error) {
	annuity, err := s.annuityFactor(c, leg)
	if err != nil {
		return dual.Dual{}, fmt.Errorf("AnalyticDelta: %w", err)
	}
	return annuity.Scale(s.Notional / 10000), nil
}

// Rate returns the par fixed rate that makes the swap NPV-neutral on c:
// (DF(start) - DF(end)) / fixed-leg annuity.
func (s *Swap) Rate(c *curve.Curve) (dual.Dual, error) {
	dfStart, err := c.DF(s.Fix.Start())
	if err != nil {
		return dual.Dual{}, fmt.Errorf("Rate: %w", err)
	}
	dfEnd, err := c.DF(s.Fix.End())
	if err != nil {
		return dual.Dual{}, fmt.Errorf("Rate: %w", err)
	}
	annuity, err := s.annuityFactor(c, FixedLeg)
	if err != nil {
		return dual.Dual{}, fmt.Errorf("Rate: %w", err)
	}
	if annuity.Real() == 0 {
		return dual.Dual{}, fmt.Errorf("Rate: annuity is zero on %v", s.Fix.Dates)
	}
	return dfStart.Sub(dfEnd).Div(annuity), nil
}

// NPV returns the swap's mark-to-market value: notional * annuity *
// (parRate - FixedRate), positive when the payer of fixed benefits.
func (s *Swap) NPV(c *curve.Curve) (dual.Dual, error) {
	dfStart, err := c.DF(s.Fix.Start())
	if err != nil {
		return dual.Dual{}, fmt.Errorf("NPV: %w", err)
	}
	dfEnd, err := c.DF(s.Fix.End())
	if err != nil {
		return dual.Dual{}, fmt.Errorf("NPV: %w", err)
	}
	annuity, err := s.annuityFactor(c, FixedLeg)
	if err != nil {
		return dual.Dual{}, fmt.Errorf("NPV: %w", err)
	}
	floatLeg := dfStart.Sub(dfEnd).Mul(dual.NewReal(s.Notional))
	fixedLeg := annuity.Mul(dual.NewReal(s.Notional * s.FixedRate))
	return floatLeg.Sub(fixedLeg), nil
}

// NodeRisk returns the swap's NPV sensitivity to each calibration node the
// curve carries a partial for — read straight off the NPV's dual partials,
// no re-pricing required. This is the node-value-basis ∂npv/∂v the spec
// calls for as the first half of Risk; combine it with a sensitivity.Cache
// via QuoteRisk to get the quote-basis risk vector.
func (s *Swap) NodeRisk(c *curve.Curve) (map[string]float64, error) {
	npv, err := s.NPV(c)
	if err != nil {
		return nil, fmt.Errorf("NodeRisk: %w", err)
	}
	out := make(map[string]float64, npv.NumPartials())
	for _, tag := range npv.Tags() {
		out[tag] = npv.Partial(tag)
	}
	return out, nil
}

// QuoteRisk left-multiplies the node-basis risk by sens (the sensitivity
// package's dv/ds matrix, rows indexed by quote, columns by calibrated
// node) and divides by 100, giving the quote-basis risk vector: how much
// NPV moves per unit move in each market quote.
func (s *Swap) QuoteRisk(c *curve.Curve, sens *mat.Dense) ([]float64, error) {
	nodeRisk, err := s.NodeRisk(c)
	if err != nil {
		return nil, fmt.Errorf("QuoteRisk: %w", err)
	}
	rows, cols := sens.Dims()
	out := make([]float64, rows)
	for k := 0; k < rows; k++ {
		var sum float64
		for j := 0; j < cols; j++ {
			sum += sens.At(k, j) * nodeRisk[dual.Tag(j+1)]
		}
		out[k] = sum / 100
	}
	return out, nil
}
