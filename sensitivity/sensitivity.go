// Package sensitivity computes quote-basis risk: how much each calibrated
// curve node moves per unit move in each market quote. Unlike the swap
// package's dual-number NodeRisk (a by-product of the AD already flowing
// through NPV), this is a genuine central-difference numerical Jacobian —
// each quote is bumped up and down, the curve is recalibrated starting
// from the already-solved node values, and the node displacement is
// divided by twice the bump. The 2m
// recalibrations this implies are embarrassingly parallel and run
// concurrently via errgroup.
package sensitivity

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/ratecurve/ratecurve/config"
	"github.com/ratecurve/ratecurve/curve"
	"github.com/ratecurve/ratecurve/dual"
	"github.com/ratecurve/ratecurve/solver"
)

// Cache memoizes the resolved quote-basis sensitivity matrix for a given
// solver.State so repeated callers (e.g. a CLI printing several swaps'
// risk) don't pay for the recalibration sweep twice.
type Cache struct {
	resolved *mat.Dense
}

// NewCache returns an empty, unresolved Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Resolve returns the n x m matrix whose row k, column j entry is
// d(node_j)/d(quote_k), computing it on first call and returning the
// memoized result afterward. base is not mutated.
func (c *Cache) Resolve(ctx context.Context, base *solver.State) (*mat.Dense, error) {
	if c.resolved != nil {
		return c.resolved, nil
	}

	ds := config.GetConfig().SensitivityBump
	n := len(base.Quotes)
	m := base.Curve.NumNodes() - 1
	result := mat.NewDense(n, m, nil)

	g, gctx := errgroup.WithContext(ctx)
	for k := 0; k < n; k++ {
		k := k
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			row, err := centralDifferenceRow(base, k, ds, m)
			if err != nil {
				return fmt.Errorf("Resolve: quote %d: %w", k, err)
			}
			result.SetRow(k, row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.resolved = result
	return result, nil
}

// centralDifferenceRow recalibrates two clones of base with quote k bumped
// by +ds and -ds, and returns (v_up - v_down) / (2*ds) for every
// calibrated node.
func centralDifferenceRow(base *solver.State, k int, ds float64, m int) ([]float64, error) {
	up, err := bumpedResolve(base, k, ds)
	if err != nil {
		return nil, fmt.Errorf("bumped up: %w", err)
	}
	down, err := bumpedResolve(base, k, -ds)
	if err != nil {
		return nil, fmt.Errorf("bumped down: %w", err)
	}

	row := make([]float64, m)
	for j := 0; j < m; j++ {
		row[j] = (up[j] - down[j]) / (2 * ds)
	}
	return row, nil
}

// bumpedResolve clones base's curve and quotes, bumps quote k, recalibrates
// with Gauss-Newton, and returns the resulting calibrated node values.
func bumpedResolve(base *solver.State, k int, bump float64) ([]float64, error) {
	clonedCurve, err := curve.New(base.Curve.Anchor, base.Curve.Dates, cloneValues(base.Curve), base.Curve.Rule)
	if err != nil {
		return nil, err
	}
	// Carry the base curve's smoothing overlay (if any) into the clone: a
	// bumped recalibration must price through the same DFAt path the base
	// curve does, or the resulting quote-basis risk would be measuring a
	// different pricing function than the one QuoteRisk reports against.
	clonedCurve.Smoother = base.Curve.Smoother
	clonedCurve.SmootherFrom = base.Curve.SmootherFrom

	quotes := append([]float64(nil), base.Quotes...)
	quotes[k] += bump

	st, err := solver.NewState(clonedCurve, base.Instruments, quotes, solver.GaussNewton)
	if err != nil {
		return nil, err
	}
	st.Weights = base.Weights

	if _, err := st.Iterate(); err != nil {
		return nil, err
	}

	vals := make([]float64, clonedCurve.NumNodes()-1)
	for j := range vals {
		vals[j] = clonedCurve.Values[j+1].Real()
	}
	return vals, nil
}

// cloneValues copies a curve's node values so a recalibration clone never
// mutates the caller's original curve.
func cloneValues(c *curve.Curve) []dual.Dual {
	return append([]dual.Dual(nil), c.Values...)
}
