// Package bspline fits a natural cubic spline through a converged curve's
// log discount factors, giving a smooth (continuous second derivative)
// alternative to the node-to-node interpolation rules in package interp.
// The spline is a clamped order-4 (degree-3) piecewise polynomial with
// natural boundary conditions — the second derivative is pinned to zero at
// both ends — solved as a single linear system via gonum's dense solver
// rather than a hand-rolled tridiagonal elimination.
package bspline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ratecurve/ratecurve/curve"
	"github.com/ratecurve/ratecurve/dual"
	"github.com/ratecurve/ratecurve/solver"
	"github.com/ratecurve/ratecurve/utils"
)

// Spline is a natural cubic spline over (Times[i], LogDF[i]) pairs. LogDF
// and M carry dual partials so that pricing queries routed through the
// spline (via curve.Curve.Smoother) keep the same node sensitivities a
// plain interp lookup would have produced.
type Spline struct {
	Times []float64
	LogDF []dual.Dual
	M     []dual.Dual // second derivatives at each node; M[0] = M[last] = 0
}

// FitDual solves the natural cubic spline collocation system for the given
// node times and (possibly dual-valued) log discount factors. times must
// be strictly ascending and have at least 3 entries (1 interior unknown
// minimum).
//
// The collocation matrix A depends only on the real node-time deltas, not
// on logDF's values, so it is built once; the real part of M
// comes from solving against logDF's real values, and each distinct
// partial tag present across logDF gets its own solve against that tag's
// partial values, against the very same A. The dual-valued M is then
// reassembled coefficient by coefficient from those independent real
// solves, since the whole system is linear in logDF.
func FitDual(times []float64, logDF []dual.Dual) (*Spline, error) {
	n := len(times)
	if n != len(logDF) {
		return nil, fmt.Errorf("FitDual: %d times but %d values", n, len(logDF))
	}
	if n < 3 {
		return nil, fmt.Errorf("FitDual: need at least 3 nodes, got %d", n)
	}
	if !sort.SliceIsSorted(times, func(i, j int) bool { return times[i] < times[j] }) {
		return nil, fmt.Errorf("FitDual: times must be strictly ascending")
	}

	h := make([]float64, n-1)
	for i := range h {
		h[i] = times[i+1] - times[i]
		if h[i] <= 0 {
			return nil, fmt.Errorf("FitDual: times must be strictly ascending")
		}
	}

	// Interior unknowns M[1..n-2]; M[0] and M[n-1] are clamped to zero
	// (natural boundary). The augmented (tau, y) collocation system below
	// is the standard second-derivative continuity condition at each
	// interior node.
	size := n - 2
	A := mat.NewDense(size, size, nil)
	for row := 0; row < size; row++ {
		i := row + 1
		if row > 0 {
			A.Set(row, row-1, h[i-1])
		}
		A.Set(row, row, 2*(h[i-1]+h[i]))
		if row < size-1 {
			A.Set(row, row+1, h[i])
		}
	}

	tags := make(map[string]bool)
	for _, v := range logDF {
		for _, tag := range v.Tags() {
			tags[tag] = true
		}
	}

	realRHS := func(row int) float64 {
		i := row + 1
		return 6 * ((logDF[i+1].Real()-logDF[i].Real())/h[i] - (logDF[i].Real()-logDF[i-1].Real())/h[i-1])
	}
	tagRHS := func(row int, tag string) float64 {
		i := row + 1
		return 6 * ((logDF[i+1].Partial(tag)-logDF[i].Partial(tag))/h[i] - (logDF[i].Partial(tag)-logDF[i-1].Partial(tag))/h[i-1])
	}

	solveAgainst := func(rhs func(int) float64) ([]float64, error) {
		b := mat.NewVecDense(size, nil)
		for row := 0; row < size; row++ {
			b.SetVec(row, rhs(row))
		}
		var sol mat.VecDense
		if err := sol.SolveVec(A, b); err != nil {
			return nil, fmt.Errorf("singular collocation system: %w", err)
		}
		m := make([]float64, n)
		for row := 0; row < size; row++ {
			m[row+1] = sol.AtVec(row)
		}
		return m, nil
	}

	mReal, err := solveAgainst(realRHS)
	if err != nil {
		return nil, fmt.Errorf("FitDual: %w", err)
	}

	mPartials := make(map[string][]float64, len(tags))
	for tag := range tags {
		m, err := solveAgainst(func(row int) float64 { return tagRHS(row, tag) })
		if err != nil {
			return nil, fmt.Errorf("FitDual: %w", err)
		}
		mPartials[tag] = m
	}

	M := make([]dual.Dual, n)
	for i := 0; i < n; i++ {
		v := dual.NewReal(mReal[i])
		for tag, m := range mPartials {
			if m[i] != 0 {
				v = v.Add(dual.NewVar(0, tag).Scale(m[i]))
			}
		}
		M[i] = v
	}

	return &Spline{Times: times, LogDF: logDF, M: M}, nil
}

// Fit is the no-partials convenience wrapper over FitDual, for callers
// fitting a spline over plain quoted log discount factors rather than
// calibrated curve nodes.
func Fit(times, logDF []float64) (*Spline, error) {
	vals := make([]dual.Dual, len(logDF))
	for i, v := range logDF {
		vals[i] = dual.NewReal(v)
	}
	return FitDual(times, vals)
}

// Eval returns the spline's value (log discount factor) at t, with
// whatever partials LogDF and M carried flowing through linearly. t
// outside [Times[0], Times[last]] is evaluated against the nearest edge
// segment (the cubic extrapolates rather than erroring).
func (s *Spline) Eval(t float64) dual.Dual {
	i := segment(s.Times, t)
	h := s.Times[i+1] - s.Times[i]
	a := (s.Times[i+1] - t) / h
	bcoef := (t - s.Times[i]) / h
	coefA := (a*a*a - a) * (h * h) / 6
	coefB := (bcoef*bcoef*bcoef - bcoef) * (h * h) / 6

	return s.LogDF[i].Scale(a).
		Add(s.LogDF[i+1].Scale(bcoef)).
		Add(s.M[i].Scale(coefA)).
		Add(s.M[i+1].Scale(coefB))
}

// DF returns exp(Eval(t)), the smoothed discount factor at t.
func (s *Spline) DF(t float64) float64 {
	return math.Exp(s.Eval(t).Real())
}

func segment(times []float64, t float64) int {
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

// AdvancedCurve pairs a converged node curve with the smoothing spline
// fitted over it. It is a distinct type from curve.Curve rather than a
// flag on it: a plain Curve is always queried through its node-to-node
// interpolation rule on its own, while an AdvancedCurve additionally knows
// where the spline should take over.
type AdvancedCurve struct {
	Curve  *curve.Curve
	Spline *Spline
}

// DF returns the discount factor for date d: exp(spline(t)) once t is past
// the spline's first interior knot, falling back to the underlying curve's
// own node-to-node interpolation rule for earlier dates.
func (ac *AdvancedCurve) DF(d time.Time) (float64, error) {
	t := utils.YearFraction(ac.Curve.Anchor, d, "ACT/365")
	if len(ac.Spline.Times) > 1 && t > ac.Spline.Times[1] {
		return ac.Spline.DF(t), nil
	}
	df, err := ac.Curve.DF(d)
	if err != nil {
		return 0, fmt.Errorf("DF(%s): %w", d.Format("2006-01-02"), err)
	}
	return df.Real(), nil
}

// maxSmoothingPasses bounds the fit-reconverge fixed-point loop Calibrate
// runs: refitting the spline from the latest nodes and re-solving through
// it until the nodes stop moving between passes, or giving up after this
// many rounds.
const maxSmoothingPasses = 10

// smoothingTolerance is how little the calibrated nodes may move between
// one smoothing pass and the next before the fixed point is considered
// reached.
const smoothingTolerance = 1e-10

// fitSplineFromCurve fits the smoothing spline over c's current (possibly
// just-recalibrated) node log discount factors.
func fitSplineFromCurve(c *curve.Curve) (*Spline, error) {
	times := c.Times[1:]
	logDF := make([]dual.Dual, len(times))
	for i, v := range c.Values[1:] {
		l, err := v.Log()
		if err != nil {
			return nil, err
		}
		logDF[i] = l
	}
	return FitDual(append([]float64{0}, times...), append([]dual.Dual{dual.NewReal(0)}, logDF...))
}

func nodeRealValues(c *curve.Curve) []float64 {
	vals := make([]float64, len(c.Values)-1)
	for i, v := range c.Values[1:] {
		vals[i] = v.Real()
	}
	return vals
}

func maxAbsDiff(a, b []float64) float64 {
	var max float64
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > max {
			max = d
		}
	}
	return max
}

// Calibrate runs st's base solve under st's own algorithm, then alternates
// fitting the smoothing spline over the current nodes and re-solving under
// Gauss-Newton with it wired in as st.Curve's overlay, until the nodes stop
// moving between passes (a fit-reconverge fixed point) or
// maxSmoothingPasses is reached. st.Algorithm is restored on return.
//
// A single refit-then-reconverge pass isn't enough on its own: the spline
// wired into st.Curve for one st.Iterate() call is fit from the nodes as
// they stood before that call, so its partials go stale the moment the
// solver's own steps move the nodes further. Looping until the nodes
// settle is what actually makes the spline and the nodes consistent with
// each other, rather than just running the identical solve twice.
func Calibrate(st *solver.State) (*AdvancedCurve, string, error) {
	reason, err := st.Iterate()
	if err != nil {
		return nil, "", fmt.Errorf("Calibrate: base solve: %w", err)
	}

	baseAlgorithm := st.Algorithm
	st.Algorithm = solver.GaussNewton
	defer func() { st.Algorithm = baseAlgorithm }()

	var spline *Spline
	prevNodes := nodeRealValues(st.Curve)
	for pass := 0; pass < maxSmoothingPasses; pass++ {
		spline, err = fitSplineFromCurve(st.Curve)
		if err != nil {
			return nil, "", fmt.Errorf("Calibrate: %w", err)
		}
		st.Curve.Smoother = spline
		st.Curve.SmootherFrom = spline.Times[1]

		reason, err = st.Iterate()
		if err != nil {
			return nil, "", fmt.Errorf("Calibrate: smoothing pass %d: %w", pass, err)
		}

		nodes := nodeRealValues(st.Curve)
		if maxAbsDiff(nodes, prevNodes) < smoothingTolerance {
			break
		}
		prevNodes = nodes
	}

	return &AdvancedCurve{Curve: st.Curve, Spline: spline}, reason, nil
}
