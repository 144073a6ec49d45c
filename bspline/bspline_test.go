package bspline

import (
	"math"
	"testing"
	"time"

	"github.com/ratecurve/ratecurve/curve"
	"github.com/ratecurve/ratecurve/dual"
	"github.com/ratecurve/ratecurve/interp"
	"github.com/ratecurve/ratecurve/solver"
	"github.com/ratecurve/ratecurve/swap"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestFitRecoversInputsAtNodes(t *testing.T) {
	t.Parallel()

	times := []float64{0, 1, 2, 3, 5}
	logDF := []float64{0, -0.02, -0.045, -0.07, -0.12}
	s, err := Fit(times, logDF)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for i, x := range times {
		got := s.Eval(x).Real()
		if math.Abs(got-logDF[i]) > 1e-9 {
			t.Fatalf("Eval(%g) = %g, want %g", x, got, logDF[i])
		}
	}
}

func TestFitRejectsTooFewNodes(t *testing.T) {
	t.Parallel()
	if _, err := Fit([]float64{0, 1}, []float64{0, -0.01}); err == nil {
		t.Fatalf("expected error for fewer than 3 nodes")
	}
}

func TestNaturalBoundaryHasZeroSecondDerivativeAtEnds(t *testing.T) {
	t.Parallel()
	times := []float64{0, 1, 2, 3}
	logDF := []float64{0, -0.01, -0.025, -0.05}
	s, err := Fit(times, logDF)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if s.M[0].Real() != 0 || s.M[len(s.M)-1].Real() != 0 {
		t.Fatalf("expected natural boundary M[0]=M[last]=0, got %v", s.M)
	}
}

func TestCalibrateProducesStableSplineAfterConvergence(t *testing.T) {
	t.Parallel()

	anchor := d(2021, time.January, 1)
	dates := []time.Time{anchor, d(2024, time.January, 1), d(2026, time.January, 1), d(2031, time.January, 1)}
	values := []dual.Dual{dual.NewReal(1.0), dual.NewReal(0.94), dual.NewReal(0.9), dual.NewReal(0.8)}
	c, err := curve.New(anchor, dates, values, interp.LogLinear)
	if err != nil {
		t.Fatalf("curve.New: %v", err)
	}

	s1, _ := swap.NewSwap(1_000_000, 0.02, anchor, 36, 12)
	s2, _ := swap.NewSwap(1_000_000, 0.022, anchor, 60, 12)
	s3, _ := swap.NewSwap(1_000_000, 0.026, anchor, 120, 12)

	st, err := solver.NewState(c, []solver.Instrument{s1, s2, s3}, []float64{0.02, 0.022, 0.026}, solver.GaussNewton)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	ac, reason, err := Calibrate(st)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if reason != "converged" {
		t.Fatalf("expected convergence, got %q", reason)
	}
	if ac.Spline == nil {
		t.Fatalf("expected a fitted spline")
	}

	df := ac.Spline.DF(2.0)
	if df <= 0 || df > 1 {
		t.Fatalf("smoothed discount factor out of range: %g", df)
	}

	// Past the first interior knot, AdvancedCurve.DF should agree with the
	// spline directly; the curve's own Smoother is now wired in, so even
	// ac.Curve.DF for such a date routes through the same spline.
	beyondDate := anchor.AddDate(0, 0, int(ac.Spline.Times[1]*365)+36)
	beyond := beyondDate.Sub(anchor).Hours() / 24 / 365.0
	viaSpline := ac.Spline.DF(beyond)
	viaAdvanced, err := ac.DF(beyondDate)
	if err != nil {
		t.Fatalf("AdvancedCurve.DF: %v", err)
	}
	if math.Abs(viaAdvanced-viaSpline) > 1e-9 {
		t.Fatalf("AdvancedCurve.DF = %g, want %g (spline value)", viaAdvanced, viaSpline)
	}

	// Before the first interior knot, AdvancedCurve.DF falls back to the
	// plain node-to-node interpolator rather than extrapolating the spline
	// backwards from its first segment.
	early := ac.Spline.Times[1] / 2
	viaAdvancedEarly, err := ac.DF(anchor.AddDate(0, 0, int(early*365)))
	if err != nil {
		t.Fatalf("AdvancedCurve.DF (early): %v", err)
	}
	if viaAdvancedEarly <= 0 || viaAdvancedEarly > 1 {
		t.Fatalf("early AdvancedCurve.DF out of range: %g", viaAdvancedEarly)
	}
}

func TestFitDualPropagatesNodePartialsIntoSplineCoefficients(t *testing.T) {
	t.Parallel()

	times := []float64{0, 1, 2, 3, 5}
	logDF := []dual.Dual{
		dual.NewReal(0),
		dual.NewVar(-0.02, dual.Tag(1)),
		dual.NewVar(-0.045, dual.Tag(2)),
		dual.NewVar(-0.07, dual.Tag(3)),
		dual.NewVar(-0.12, dual.Tag(4)),
	}
	s, err := FitDual(times, logDF)
	if err != nil {
		t.Fatalf("FitDual: %v", err)
	}

	// A small bump to one node's log discount factor should move the
	// spline's evaluated value at an interior point, and that sensitivity
	// should show up as a partial on Eval's result — not just a number
	// that happens to change if recomputed from scratch.
	mid := s.Eval(1.5)
	if mid.Partial(dual.Tag(2)) == 0 && mid.Partial(dual.Tag(1)) == 0 {
		t.Fatalf("expected Eval(1.5) to carry a nonzero partial from a nearby node, got %v", mid)
	}
}
