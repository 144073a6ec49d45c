// Package curve holds the calibrated discount-factor node table and the
// lookups built on top of it: interpolated discount factors, zero rates,
// and simple forward rates between arbitrary dates.
package curve

import (
	"fmt"
	"sort"
	"time"

	"github.com/ratecurve/ratecurve/dual"
	"github.com/ratecurve/ratecurve/interp"
	"github.com/ratecurve/ratecurve/utils"
)

// Overlay is consulted by DFAt for year fractions beyond SmootherFrom,
// letting an external smoother (e.g. package bspline's natural cubic
// spline) participate in curve lookups — and in any Jacobian built off
// them — without this package depending on it. Eval returns the log
// discount factor at t.
type Overlay[T any] interface {
	Eval(t float64) T
}

// NodeCurve is a discount-factor node table anchored at a settlement date,
// generic over the scalar type T (dual.Dual while calibrating, dual.Real
// once the curve has settled and no sensitivities are needed). Values[0]
// is always the multiplicative identity (discount factor 1 for the
// settlement date itself); Times[0] is always 0.
type NodeCurve[T dual.Number[T]] struct {
	Anchor time.Time
	Dates  []time.Time
	Times  []float64 // ACT/365 year fraction of Dates[i] from Anchor, ascending
	Values []T       // discount factors at each node
	Rule   interp.Rule

	// Smoother, when set, overrides node-to-node interpolation for t
	// beyond SmootherFrom. Unset (nil) by default: plain curves always go
	// through Rule.
	Smoother     Overlay[T]
	SmootherFrom float64
}

// Curve is the calibration-time instantiation of NodeCurve: every node
// carries dual partials, so any quantity priced off it (a swap rate, an
// NPV) carries its own sensitivity to each node for free. This is the type
// the rest of the module builds and solves against.
type Curve = NodeCurve[dual.Dual]

// RealCurve is the settled, no-partials instantiation of NodeCurve: the
// same node table and lookup rules with the sensitivity bookkeeping
// stripped out, for a pricing pass that no longer needs it. See
// Curve.Freeze.
type RealCurve = NodeCurve[dual.Real]

// New builds a NodeCurve from a settlement date, node dates (which must
// include the settlement date itself as the first entry), node values, and
// an interpolation rule. len(dates) must equal len(values) and both must
// be non-empty; dates must be strictly ascending.
func New[T dual.Number[T]](anchor time.Time, dates []time.Time, values []T, rule interp.Rule) (*NodeCurve[T], error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("New: at least one node is required")
	}
	if len(dates) != len(values) {
		return nil, fmt.Errorf("New: %d dates but %d values", len(dates), len(values))
	}
	if !dates[0].Equal(anchor) {
		return nil, fmt.Errorf("New: first node date %s must equal anchor %s", dates[0], anchor)
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("New: node dates must be strictly ascending, %s is not after %s", dates[i], dates[i-1])
		}
	}

	times := make([]float64, len(dates))
	for i, d := range dates {
		times[i] = utils.YearFraction(anchor, d, "ACT/365")
	}

	return &NodeCurve[T]{Anchor: anchor, Dates: dates, Times: times, Values: values, Rule: rule}, nil
}

// Freeze returns a RealCurve carrying the same node table with every
// partial dropped, for repeated pricing passes that no longer need
// sensitivities (e.g. scenario re-pricing after calibration has settled).
func (c *NodeCurve[T]) Freeze() *RealCurve {
	values := make([]dual.Real, len(c.Values))
	for i, v := range c.Values {
		values[i] = dual.Real(v.Real())
	}
	return &RealCurve{Anchor: c.Anchor, Dates: c.Dates, Times: c.Times, Values: values, Rule: c.Rule}
}

// NumNodes returns the number of calibration nodes.
func (c *NodeCurve[T]) NumNodes() int { return len(c.Times) }

// DFAt returns the discount factor for year fraction t (from the anchor),
// interpolating between bracketing nodes per c.Rule, or consulting
// c.Smoother when t falls beyond c.SmootherFrom. t outside the node range
// extrapolates using the nearest bracket rather than erroring.
func (c *NodeCurve[T]) DFAt(t float64) (T, error) {
	if c.Smoother != nil && t > c.SmootherFrom {
		return c.Smoother.Eval(t).Exp(), nil
	}
	if len(c.Times) == 1 {
		return c.Values[0], nil
	}

	i := bracketIndex(c.Times, t)
	x1, x2 := c.Times[i], c.Times[i+1]
	y1, y2 := c.Values[i], c.Values[i+1]

	df, err := interp.Interpolate(t, x1, x2, y1, y2, c.Rule, c.Times[0])
	if err != nil {
		var zero T
		return zero, fmt.Errorf("DFAt: %w", err)
	}
	return df, nil
}

// DF returns the discount factor for calendar date d.
func (c *NodeCurve[T]) DF(d time.Time) (T, error) {
	t := utils.YearFraction(c.Anchor, d, "ACT/365")
	df, err := c.DFAt(t)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("DF(%s): %w", d.Format("2006-01-02"), err)
	}
	return df, nil
}

// ZeroRate returns the continuously-compounded zero rate implied by the
// discount factor at date d: z = -ln(DF(d)) / t.
func (c *NodeCurve[T]) ZeroRate(d time.Time) (T, error) {
	var zero T
	t := utils.YearFraction(c.Anchor, d, "ACT/365")
	if t == 0 {
		return zero, fmt.Errorf("ZeroRate: date %s coincides with the anchor", d.Format("2006-01-02"))
	}
	df, err := c.DF(d)
	if err != nil {
		return zero, fmt.Errorf("ZeroRate: %w", err)
	}
	l, err := df.Log()
	if err != nil {
		return zero, fmt.Errorf("ZeroRate: %w", err)
	}
	return l.Scale(-1 / t), nil
}

// Rate returns the simple forward rate implied between start and
// start+months (modified month-end rolled), i.e. (DF(start)/DF(end) - 1)
// divided by the ACT/365 year fraction between the two dates.
func (c *NodeCurve[T]) Rate(start time.Time, months int) (T, error) {
	var zero T
	end := utils.AddMonths(start, months)
	yf := utils.YearFraction(start, end, "ACT/365")
	if yf == 0 {
		return zero, fmt.Errorf("Rate: start %s and end %s coincide", start, end)
	}

	dfStart, err := c.DF(start)
	if err != nil {
		return zero, fmt.Errorf("Rate: %w", err)
	}
	dfEnd, err := c.DF(end)
	if err != nil {
		return zero, fmt.Errorf("Rate: %w", err)
	}

	ratio := dfStart.Div(dfEnd)
	return ratio.Offset(-1).Scale(1 / yf), nil
}

// bracketIndex returns i such that times[i] <= t <= times[i+1], clamping to
// the first or last bracket when t falls outside the node range
// (flat/rule-consistent extrapolation rather than an error).
func bracketIndex(times []float64, t float64) int {
	n := len(times)
	i := sort.Search(n, func(i int) bool { return times[i] >= t })
	switch {
	case i <= 0:
		return 0
	case i >= n-1:
		return n - 2
	default:
		return i - 1
	}
}
