// Package solver calibrates a Curve's node discount factors against a set
// of market quotes via weighted nonlinear least squares, with a choice of
// three update rules: gradient descent, Gauss-Newton, and Levenberg-
// Marquardt. The curve's node values are seeded as dual.Dual variables, so
// each iteration's Jacobian comes directly from forward-mode AD rather
// than a finite-difference approximation.
package solver

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/ratecurve/ratecurve/config"
	"github.com/ratecurve/ratecurve/curve"
	"github.com/ratecurve/ratecurve/dual"
)

// Algorithm selects the update rule State.Iterate applies each step.
type Algorithm string

const (
	GradientDescent    Algorithm = "gradient_descent"
	GaussNewton        Algorithm = "gauss_newton"
	LevenbergMarquardt Algorithm = "levenberg_marquardt"
)

// gradientDescentStepSize is the fixed learning rate for the gradient
// descent update rule. Gradient descent is the slow baseline algorithm;
// Gauss-Newton and Levenberg-Marquardt converge in far fewer iterations and
// are the rules a real calibration run should reach for.
const gradientDescentStepSize = 1e-5

// lmMaxRetries bounds how many times a single Levenberg-Marquardt iteration
// escalates lambda while looking for a step that decreases the objective,
// before giving up and reporting the iteration as non-improving.
const lmMaxRetries = 30

// Instrument is anything the solver can calibrate against: a rate quoted
// off the curve under construction, with partials with respect to the
// curve's calibration nodes.
type Instrument interface {
	Rate(c *curve.Curve) (dual.Dual, error)
}

// DimensionError reports that the Gauss-Newton/Levenberg-Marquardt normal
// equations were assembled as a square system — which only holds when the
// instrument count equals the calibrated-node count. This mirrors a quirk
// of the engine this solver was modeled on, reproduced as-is rather than
// generalized to a rectangular least-squares solve, so a non-square system
// must be rejected here instead of silently misbehaving.
type DimensionError struct {
	Instruments int
	Nodes       int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("solver: square system required for the normal-equations update (n=%d instruments, m=%d calibrated nodes)", e.Instruments, e.Nodes)
}

// State holds everything one calibration run needs: the curve being
// calibrated, the instruments and target quotes, optional diagonal
// weights, the chosen algorithm, and Levenberg-Marquardt's damping state.
type State struct {
	Curve       *curve.Curve
	Instruments []Instrument
	Quotes      []float64
	Weights     []float64 // diagonal of W; nil means unit weights
	Algorithm   Algorithm
	Lambda      float64
	Logger      zerolog.Logger
}

// NewState builds a State ready to calibrate. The curve's node 0 is
// assumed pinned to 1.0 (spec convention); nodes 1..NumNodes()-1 are the
// calibrated variables, reseeded as dual.Dual(v, "v{j}") before the first
// iteration so the first Jacobian is correct even if the caller built the
// curve with plain dual.NewReal values.
func NewState(c *curve.Curve, instruments []Instrument, quotes []float64, algo Algorithm) (*State, error) {
	if len(instruments) != len(quotes) {
		return nil, fmt.Errorf("NewState: %d instruments but %d quotes", len(instruments), len(quotes))
	}
	s := &State{
		Curve:       c,
		Instruments: instruments,
		Quotes:      quotes,
		Algorithm:   algo,
		Lambda:      config.GetConfig().InitialLambda,
		Logger:      zerolog.Nop(),
	}
	s.reseed()
	return s, nil
}

// numNodes returns the number of calibrated node variables (excluding the
// pinned node 0).
func (s *State) numNodes() int {
	return s.Curve.NumNodes() - 1
}

// reseed re-tags every calibrated node as an independent dual variable at
// its current real value, discarding any stale partials from a previous
// iteration's composed expressions.
func (s *State) reseed() {
	for j := 1; j < s.Curve.NumNodes(); j++ {
		s.Curve.Values[j] = dual.NewVar(s.Curve.Values[j].Real(), dual.Tag(j))
	}
}

func (s *State) weight(i int) float64 {
	if s.Weights == nil {
		return 1
	}
	return s.Weights[i]
}

// evaluate prices every instrument against the current curve and returns
// the residual vector r (model - quote), the n x m Jacobian dr_i/dv_j, and
// the weighted objective f = r^T W r.
func (s *State) evaluate() ([]float64, *mat.Dense, float64, error) {
	n, m := len(s.Instruments), s.numNodes()
	r := make([]float64, n)
	J := mat.NewDense(n, m, nil)
	var f float64

	for i, inst := range s.Instruments {
		rate, err := inst.Rate(s.Curve)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("evaluate: instrument %d: %w", i, err)
		}
		ri := rate.Real() - s.Quotes[i]
		r[i] = ri
		f += s.weight(i) * ri * ri
		for j := 1; j <= m; j++ {
			J.Set(i, j-1, rate.Partial(dual.Tag(j)))
		}
	}
	return r, J, f, nil
}

// weightedVector returns W*r as a column vector.
func (s *State) weightedVector(r []float64) *mat.VecDense {
	wr := make([]float64, len(r))
	for i, ri := range r {
		wr[i] = s.weight(i) * ri
	}
	return mat.NewVecDense(len(wr), wr)
}

// normalMatrix assembles the Gauss-Newton/Levenberg-Marquardt normal
// matrix in node space. J here is evaluate()'s n (instruments) x m (nodes)
// Jacobian; the spec's own J is its transpose (nodes x instruments), so
// the spec's "J*(W*J^T)" quirk (rather than the textbook J^T*W*J) reads,
// in this package's J convention, as J^T*(W*J) — which is what this
// builds. Either way the result is square only when n == m, which is the
// quirk's documented square-system assumption.
func (s *State) normalMatrix(J *mat.Dense) (*mat.Dense, error) {
	n, _ := J.Dims()
	m := s.numNodes()
	if n != m {
		return nil, &DimensionError{Instruments: n, Nodes: m}
	}

	var WJ mat.Dense
	WJ.Mul(s.weightMatrix(n), J)
	var normal mat.Dense
	normal.Mul(J.T(), &WJ)
	return &normal, nil
}

// weightMatrix returns the n x n diagonal weight matrix W.
func (s *State) weightMatrix(n int) *mat.Dense {
	w := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		w.Set(i, i, s.weight(i))
	}
	return w
}

// gradient returns grad_v f = 2 * J^T * (W*r), the ordinary least-squares
// gradient (used only by gradient descent; the Gauss-Newton/LM right-hand
// side in normalEquationsStep is -J^T*(W*r), i.e. -0.5 times this).
func gradient(J *mat.Dense, Wr *mat.VecDense) []float64 {
	_, m := J.Dims()
	var g mat.VecDense
	g.MulVec(J.T(), Wr)
	out := make([]float64, m)
	for j := 0; j < m; j++ {
		out[j] = 2 * g.AtVec(j)
	}
	return out
}

// applyDelta adds delta[j] to calibrated node j+1's real value and reseeds
// it as a fresh dual variable.
func (s *State) applyDelta(delta []float64) {
	for j := 0; j < len(delta); j++ {
		newVal := s.Curve.Values[j+1].Real() + delta[j]
		s.Curve.Values[j+1] = dual.NewVar(newVal, dual.Tag(j+1))
	}
}

func nodeValues(c *curve.Curve) []float64 {
	vals := make([]float64, c.NumNodes()-1)
	for j := range vals {
		vals[j] = c.Values[j+1].Real()
	}
	return vals
}

func (s *State) setNodeValues(vals []float64) {
	for j, v := range vals {
		s.Curve.Values[j+1] = dual.NewVar(v, dual.Tag(j+1))
	}
}

// step performs one iteration's update and returns the objective value
// after the step.
func (s *State) step() (float64, error) {
	r, J, f, err := s.evaluate()
	if err != nil {
		return 0, err
	}

	switch s.Algorithm {
	case GradientDescent:
		Wr := s.weightedVector(r)
		grad := gradient(J, Wr)
		delta := make([]float64, len(grad))
		for j, g := range grad {
			delta[j] = -gradientDescentStepSize * g
		}
		s.applyDelta(delta)
		_, _, newF, err := s.evaluate()
		if err != nil {
			return 0, err
		}
		return newF, nil

	case GaussNewton:
		delta, err := s.normalEquationsStep(J, r, 0)
		if err != nil {
			return 0, err
		}
		s.applyDelta(delta)
		_, _, newF, err := s.evaluate()
		if err != nil {
			return 0, err
		}
		return newF, nil

	case LevenbergMarquardt:
		return s.levenbergMarquardtStep(J, r, f)

	default:
		return 0, fmt.Errorf("step: unknown algorithm %q", s.Algorithm)
	}
}

// normalEquationsStep solves the node-space normal equations
// (normalMatrix + lambda*I) delta = -J^T*(W*r), matching the right-hand
// side gradient() computes (grad_v_f = 2*J^T*W*r, so -0.5*grad_v_f =
// -J^T*W*r).
func (s *State) normalEquationsStep(J *mat.Dense, r []float64, lambda float64) ([]float64, error) {
	normal, err := s.normalMatrix(J)
	if err != nil {
		return nil, err
	}
	n, _ := normal.Dims()
	if lambda != 0 {
		for i := 0; i < n; i++ {
			normal.Set(i, i, normal.At(i, i)+lambda)
		}
	}

	Wr := s.weightedVector(r)
	var rhs mat.VecDense
	rhs.MulVec(J.T(), Wr)
	rhs.ScaleVec(-1, &rhs)

	var delta mat.VecDense
	if err := delta.SolveVec(normal, &rhs); err != nil {
		return nil, fmt.Errorf("normalEquationsStep: singular normal equations: %w", err)
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = delta.AtVec(i)
	}
	return out, nil
}

// levenbergMarquardtStep tries a damped step, accepting it (and relaxing
// lambda) if the objective improves, or escalating lambda and retrying
// otherwise.
func (s *State) levenbergMarquardtStep(J *mat.Dense, r []float64, f float64) (float64, error) {
	current := nodeValues(s.Curve)

	for attempt := 0; attempt < lmMaxRetries; attempt++ {
		delta, err := s.normalEquationsStep(J, r, s.Lambda)
		if err != nil {
			return 0, err
		}
		trial := make([]float64, len(current))
		for j := range trial {
			trial[j] = current[j] + delta[j]
		}
		s.setNodeValues(trial)
		_, _, newF, err := s.evaluate()
		if err != nil {
			return 0, err
		}

		if newF < f {
			s.Lambda /= 10
			return newF, nil
		}
		s.Lambda *= 10
		s.setNodeValues(current)
	}
	// No improving step found; report the unchanged objective.
	return f, nil
}

// Iterate runs update steps until the objective stops improving by more
// than config.Tolerance, or config.MaxIterations is reached. It returns a
// human-readable termination reason ("converged" or "max_iterations") and
// an error only when an update step failed outright (e.g. a singular
// normal-equations solve).
func (s *State) Iterate() (string, error) {
	cfg := config.GetConfig()
	prevF := math.Inf(1)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		f, err := s.step()
		if err != nil {
			return "error", fmt.Errorf("Iterate: iteration %d: %w", iter, err)
		}
		s.Logger.Debug().
			Str("algorithm", string(s.Algorithm)).
			Int("iteration", iter).
			Float64("objective", f).
			Float64("lambda", s.Lambda).
			Msg("solver iteration")

		if math.Abs(prevF-f) < cfg.Tolerance {
			s.Logger.Info().Int("iterations", iter+1).Float64("objective", f).Msg("solver converged")
			return "converged", nil
		}
		prevF = f
	}

	s.Logger.Info().Int("iterations", cfg.MaxIterations).Float64("objective", prevF).Msg("solver reached max_iterations")
	return "max_iterations", nil
}
