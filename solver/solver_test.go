package solver

import (
	"math"
	"testing"
	"time"

	"github.com/ratecurve/ratecurve/curve"
	"github.com/ratecurve/ratecurve/dual"
	"github.com/ratecurve/ratecurve/interp"
	"github.com/ratecurve/ratecurve/swap"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// buildCurve constructs a curve with one pinned node and n calibrated
// nodes, each seeded near a flat discount-factor guess.
func buildCurve(t *testing.T, anchor time.Time, nodeDates []time.Time, guess float64) *curve.Curve {
	t.Helper()
	dates := append([]time.Time{anchor}, nodeDates...)
	values := make([]dual.Dual, len(dates))
	values[0] = dual.NewReal(1.0)
	for i := 1; i < len(values); i++ {
		values[i] = dual.NewReal(guess)
	}
	c, err := curve.New(anchor, dates, values, interp.LogLinear)
	if err != nil {
		t.Fatalf("curve.New: %v", err)
	}
	return c
}

func TestGaussNewtonCalibratesSingleSwapToParRate(t *testing.T) {
	t.Parallel()

	anchor := d(2021, time.January, 1)
	nodeDate := d(2026, time.January, 1)
	c := buildCurve(t, anchor, []time.Time{nodeDate}, 0.9)

	s, err := swap.NewSwap(1_000_000, 0.03, anchor, 60, 12)
	if err != nil {
		t.Fatalf("NewSwap: %v", err)
	}

	st, err := NewState(c, []Instrument{s}, []float64{0.03}, GaussNewton)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	reason, err := st.Iterate()
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if reason != "converged" {
		t.Fatalf("expected convergence, got %q", reason)
	}

	rate, err := s.Rate(c)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if math.Abs(rate.Real()-0.03) > 1e-6 {
		t.Fatalf("calibrated par rate = %g, want 0.03", rate.Real())
	}
}

func TestLevenbergMarquardtCalibratesSingleSwap(t *testing.T) {
	t.Parallel()

	anchor := d(2021, time.January, 1)
	nodeDate := d(2031, time.January, 1)
	c := buildCurve(t, anchor, []time.Time{nodeDate}, 0.8)

	s, err := swap.NewSwap(1_000_000, 0.025, anchor, 120, 12)
	if err != nil {
		t.Fatalf("NewSwap: %v", err)
	}

	st, err := NewState(c, []Instrument{s}, []float64{0.025}, LevenbergMarquardt)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	reason, err := st.Iterate()
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if reason != "converged" {
		t.Fatalf("expected convergence, got %q", reason)
	}

	rate, err := s.Rate(c)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if math.Abs(rate.Real()-0.025) > 1e-6 {
		t.Fatalf("calibrated par rate = %g, want 0.025", rate.Real())
	}
}

func TestGaussNewtonCalibratesTwoSwapsToParRates(t *testing.T) {
	t.Parallel()

	anchor := d(2021, time.January, 1)
	nodeDates := []time.Time{d(2024, time.January, 1), d(2031, time.January, 1)}
	c := buildCurve(t, anchor, nodeDates, 0.9)

	short, err := swap.NewSwap(1_000_000, 0.02, anchor, 36, 12)
	if err != nil {
		t.Fatalf("NewSwap short: %v", err)
	}
	long, err := swap.NewSwap(1_000_000, 0.028, anchor, 120, 12)
	if err != nil {
		t.Fatalf("NewSwap long: %v", err)
	}

	st, err := NewState(c, []Instrument{short, long}, []float64{0.02, 0.028}, GaussNewton)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	reason, err := st.Iterate()
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if reason != "converged" {
		t.Fatalf("expected convergence, got %q", reason)
	}

	for _, tc := range []struct {
		name  string
		swap  *swap.Swap
		quote float64
	}{
		{"short", short, 0.02},
		{"long", long, 0.028},
	} {
		rate, err := tc.swap.Rate(c)
		if err != nil {
			t.Fatalf("%s.Rate: %v", tc.name, err)
		}
		if math.Abs(rate.Real()-tc.quote) > 1e-6 {
			t.Fatalf("%s calibrated par rate = %g, want %g", tc.name, rate.Real(), tc.quote)
		}
	}
}

func TestNonSquareSystemReturnsDimensionError(t *testing.T) {
	t.Parallel()

	anchor := d(2021, time.January, 1)
	nodeDates := []time.Time{d(2026, time.January, 1), d(2031, time.January, 1)}
	c := buildCurve(t, anchor, nodeDates, 0.9)

	s1, _ := swap.NewSwap(1_000_000, 0.03, anchor, 60, 12)
	st, err := NewState(c, []Instrument{s1}, []float64{0.03}, GaussNewton)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	_, err = st.Iterate()
	if err == nil {
		t.Fatalf("expected a DimensionError for a non-square system (1 instrument, 2 nodes)")
	}
	var dimErr *DimensionError
	if de, ok := asDimensionError(err); ok {
		dimErr = de
	}
	if dimErr == nil {
		t.Fatalf("expected error to wrap *DimensionError, got %v", err)
	}
}

func asDimensionError(err error) (*DimensionError, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if de, ok := err.(*DimensionError); ok {
			return de, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func TestGradientDescentMakesProgressTowardParRate(t *testing.T) {
	t.Parallel()

	anchor := d(2021, time.January, 1)
	nodeDate := d(2026, time.January, 1)
	c := buildCurve(t, anchor, []time.Time{nodeDate}, 0.9)

	s, err := swap.NewSwap(1_000_000, 0.03, anchor, 60, 12)
	if err != nil {
		t.Fatalf("NewSwap: %v", err)
	}
	before, err := s.Rate(c)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}

	st, err := NewState(c, []Instrument{s}, []float64{0.03}, GradientDescent)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := st.step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	after, err := s.Rate(c)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if math.Abs(after.Real()-0.03) >= math.Abs(before.Real()-0.03) {
		t.Fatalf("gradient descent did not reduce the error: before=%g after=%g", before.Real()-0.03, after.Real()-0.03)
	}
}
