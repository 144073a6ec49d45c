package sensitivity

import (
	"context"
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

func buildTwoNodeState(t *testing.T) *solver.State {
	t.Helper()
	anchor := d(2021, time.January, 1)
	dates := []time.Time{anchor, d(2024, time.January, 1), d(2031, time.January, 1)}
	values := []dual.Dual{dual.NewReal(1.0), dual.NewReal(0.93), dual.NewReal(0.8)}
	c, err := curve.New(anchor, dates, values, interp.LogLinear)
	if err != nil {
		t.Fatalf("curve.New: %v", err)
	}

	short, err := swap.NewSwap(1_000_000, 0.02, anchor, 36, 12)
	if err != nil {
		t.Fatalf("NewSwap short: %v", err)
	}
	long, err := swap.NewSwap(1_000_000, 0.025, anchor, 120, 12)
	if err != nil {
		t.Fatalf("NewSwap long: %v", err)
	}

	st, err := solver.NewState(c, []solver.Instrument{short, long}, []float64{0.02, 0.025}, solver.GaussNewton)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	if _, err := st.Iterate(); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	return st
}

func TestResolveReturnsSquareSensitivityMatrix(t *testing.T) {
	t.Parallel()

	st := buildTwoNodeState(t)
	cache := NewCache()
	m, err := cache.Resolve(context.Background(), st)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rows, cols := m.Dims()
	if rows != 2 || cols != 2 {
		t.Fatalf("expected a 2x2 sensitivity matrix, got %dx%d", rows, cols)
	}
}

func TestResolveIsMemoized(t *testing.T) {
	t.Parallel()

	st := buildTwoNodeState(t)
	cache := NewCache()
	first, err := cache.Resolve(context.Background(), st)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := cache.Resolve(context.Background(), st)
	if err != nil {
		t.Fatalf("Resolve (second call): %v", err)
	}
	if first != second {
		t.Fatalf("expected the second Resolve to return the memoized matrix instance")
	}
}

func TestSensitivityMatrixIsFinite(t *testing.T) {
	t.Parallel()

	st := buildTwoNodeState(t)
	cache := NewCache()
	m, err := cache.Resolve(context.Background(), st)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("sensitivity[%d][%d] = %v, expected a finite number", i, j, v)
			}
		}
	}
}
