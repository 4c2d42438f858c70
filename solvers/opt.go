// Package solvers implements the alternating conjugate-gradient
// reconstruction driver and its optimization primitives.
package solvers

import "math"

// epsDirection guards the Dai-Yuan denominator against vanishing
// curvature between consecutive gradients.
const epsDirection = 1e-32

// minStep is the smallest line-search step considered nonzero.
const minStep = 1e-32

// DirectionDY returns the Dai-Yuan-style conjugate search direction
//
//	-grad1 + dir * ||grad1||^2 / <dir, grad1 - grad0>
//
// from the previous and current gradients and the previous direction.
func DirectionDY(grad0, grad1, dir []complex64) []complex64 {
	var norm float64
	var denom complex128
	for i := range grad1 {
		re, im := float64(real(grad1[i])), float64(imag(grad1[i]))
		norm += re*re + im*im
		d := complex128(dir[i])
		denom += complex(real(d), -imag(d)) * complex128(grad1[i]-grad0[i])
	}
	gamma := complex(norm, 0) / (denom + complex(epsDirection, 0))
	out := make([]complex64, len(grad1))
	for i := range out {
		out[i] = -grad1[i] + complex64(complex128(dir[i])*gamma)
	}
	return out
}

// LineSearch backtracks from stepLength, shrinking by stepShrink while
// the candidate step increases the cost. It returns a zero step (and
// the unchanged cost) when no improving step remains above the minimum
// step size.
func LineSearch(f func(step float64) (float64, error), stepLength, stepShrink float64) (float64, float64, error) {
	fx, err := f(0)
	if err != nil {
		return 0, math.NaN(), err
	}
	step := stepLength
	for {
		cost, err := f(step)
		if err != nil {
			return 0, math.NaN(), err
		}
		if cost <= fx {
			return step, cost, nil
		}
		step *= stepShrink
		if step < minStep {
			return 0, fx, nil
		}
	}
}

// ConjugateGradient minimizes cost over x for numIter iterations using
// Dai-Yuan conjugate directions and a backtracking line search. It
// mutates and returns x along with the last evaluated cost.
func ConjugateGradient(
	x []complex64,
	cost func(x []complex64) (float64, error),
	grad func(x []complex64) ([]complex64, error),
	numIter int,
) ([]complex64, float64, error) {
	var (
		dir      []complex64
		grad0    []complex64
		lastCost = math.NaN()
		probe    = make([]complex64, len(x))
	)
	for i := 0; i < numIter; i++ {
		grad1, err := grad(x)
		if err != nil {
			return nil, math.NaN(), err
		}
		if i == 0 {
			dir = make([]complex64, len(grad1))
			for j := range dir {
				dir[j] = -grad1[j]
			}
		} else {
			dir = DirectionDY(grad0, grad1, dir)
		}
		grad0 = grad1

		step, c, err := LineSearch(func(step float64) (float64, error) {
			s := complex64(complex(step, 0))
			for j := range probe {
				probe[j] = x[j] + s*dir[j]
			}
			return cost(probe)
		}, 1, 0.5)
		if err != nil {
			return nil, math.NaN(), err
		}
		s := complex64(complex(step, 0))
		for j := range x {
			x[j] += s * dir[j]
		}
		lastCost = c
	}
	return x, lastCost, nil
}
