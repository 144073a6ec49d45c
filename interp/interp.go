// Package interp implements the three node-interpolation rules the curve
// package offers: piecewise-linear in discount factor, piecewise-linear in
// log discount factor, and piecewise-linear in the zero rate. All three are
// written once against dual.Number[T], so a curve built from calibrated
// nodes (dual.Dual, carrying partials) or from plain settled values
// (dual.Real, no partials to track) interpolates through exactly the same
// code.
package interp

import (
	"fmt"
	"math"

	"github.com/ratecurve/ratecurve/dual"
)

// Rule names an interpolation method.
type Rule string

const (
	Linear         Rule = "linear"
	LogLinear      Rule = "log_linear"
	LinearZeroRate Rule = "linear_zero_rate"
)

// anchorGapEps bounds how close a node time may sit to the anchor (t=0)
// before its implied zero rate is treated as undefined.
const anchorGapEps = 1e-12

// Interpolate returns the discount factor at time x given the bracketing
// nodes (x1,y1) and (x2,y2) (x1 <= x <= x2, in the same time unit as
// anchor), per rule. anchor is the curve's time origin, used by
// LinearZeroRate to convert discount factors to zero rates and back.
func Interpolate[T dual.Number[T]](x, x1, x2 float64, y1, y2 T, rule Rule, anchor float64) (T, error) {
	switch rule {
	case Linear:
		return linear(x, x1, x2, y1, y2), nil
	case LogLinear:
		return logLinear(x, x1, x2, y1, y2)
	case LinearZeroRate:
		return linearZeroRate(x, x1, x2, y1, y2, anchor)
	default:
		var zero T
		return zero, fmt.Errorf("Interpolate: unknown rule %q", rule)
	}
}

func linear[T dual.Number[T]](x, x1, x2 float64, y1, y2 T) T {
	w := weight(x, x1, x2)
	return y1.Scale(1 - w).Add(y2.Scale(w))
}

func logLinear[T dual.Number[T]](x, x1, x2 float64, y1, y2 T) (T, error) {
	var zero T
	l1, err := y1.Log()
	if err != nil {
		return zero, fmt.Errorf("logLinear: %w", err)
	}
	l2, err := y2.Log()
	if err != nil {
		return zero, fmt.Errorf("logLinear: %w", err)
	}
	w := weight(x, x1, x2)
	l := l1.Scale(1 - w).Add(l2.Scale(w))
	return l.Exp(), nil
}

// linearZeroRate converts both endpoints to zero rates z = -ln(DF)/(t-anchor),
// interpolates z linearly in time, and converts back.
//
// The left endpoint only is guarded against sitting on the anchor date
// (where z is 0/0): when x1 == anchor, z1 falls back to z2 rather than
// raising an error. The right endpoint is never guarded this way — a
// node's interpolation window is never expected to have its far edge on
// the anchor date, so only the left side needs the fallback.
func linearZeroRate[T dual.Number[T]](x, x1, x2 float64, y1, y2 T, anchor float64) (T, error) {
	var zero T
	z2, err := zeroRate(y2, x2, anchor)
	if err != nil {
		return zero, fmt.Errorf("linearZeroRate: %w", err)
	}

	z1 := z2
	if math.Abs(x1-anchor) >= anchorGapEps {
		z1, err = zeroRate(y1, x1, anchor)
		if err != nil {
			return zero, fmt.Errorf("linearZeroRate: %w", err)
		}
	}

	w := weight(x, x1, x2)
	z := z1.Scale(1 - w).Add(z2.Scale(w))
	t := x - anchor
	return z.Scale(-t).Exp(), nil
}

func zeroRate[T dual.Number[T]](y T, t, anchor float64) (T, error) {
	var zero T
	dt := t - anchor
	if math.Abs(dt) < anchorGapEps {
		return zero, fmt.Errorf("zeroRate: time %g coincides with anchor %g", t, anchor)
	}
	l, err := y.Log()
	if err != nil {
		return zero, err
	}
	return l.Scale(-1 / dt), nil
}

func weight(x, x1, x2 float64) float64 {
	if x2 == x1 {
		return 0
	}
	return (x - x1) / (x2 - x1)
}
