package solvers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineSearchAcceptsImprovingStep(t *testing.T) {
	// Quadratic with minimum at step 1.
	f := func(step float64) (float64, error) {
		return (step - 1) * (step - 1), nil
	}
	step, cost, err := LineSearch(f, 1, 0.5)
	require.NoError(t, err)
	require.Equal(t, 1.0, step)
	require.Zero(t, cost)
}

func TestLineSearchBacktracks(t *testing.T) {
	// Increasing beyond 0.3, so the full step is rejected.
	f := func(step float64) (float64, error) {
		return (step - 0.3) * (step - 0.3), nil
	}
	step, cost, err := LineSearch(f, 1, 0.5)
	require.NoError(t, err)
	require.Equal(t, 0.5, step)
	require.Less(t, cost, 0.09+1e-12)
}

func TestLineSearchReturnsZeroWhenNoImprovement(t *testing.T) {
	// Strictly increasing in step; only the zero step is acceptable.
	f := func(step float64) (float64, error) {
		return step, nil
	}
	step, cost, err := LineSearch(f, 1, 0.5)
	require.NoError(t, err)
	require.Zero(t, step)
	require.Zero(t, cost)
}

func TestConjugateGradientQuadratic(t *testing.T) {
	target := []complex64{complex(1, -2), complex(-3, 0.5), complex(0, 4)}
	x := make([]complex64, len(target))

	cost := func(x []complex64) (float64, error) {
		var sum float64
		for i := range x {
			d := x[i] - target[i]
			sum += float64(real(d))*float64(real(d)) + float64(imag(d))*float64(imag(d))
		}
		return sum, nil
	}
	grad := func(x []complex64) ([]complex64, error) {
		g := make([]complex64, len(x))
		for i := range x {
			g[i] = x[i] - target[i]
		}
		return g, nil
	}

	x, finalCost, err := ConjugateGradient(x, cost, grad, 32)
	require.NoError(t, err)
	require.Less(t, finalCost, 1e-6)
	for i := range x {
		require.InDelta(t, real(target[i]), float64(real(x[i])), 1e-2)
		require.InDelta(t, imag(target[i]), float64(imag(x[i])), 1e-2)
	}
}

func TestDirectionDYOpposesGradientInitially(t *testing.T) {
	grad0 := []complex64{1, 1}
	grad1 := []complex64{2, 0}
	dir := []complex64{-1, -1}
	out := DirectionDY(grad0, grad1, dir)
	require.Len(t, out, 2)

	// The new direction must still be a descent direction: its inner
	// product with the current gradient is negative.
	var inner float64
	for i := range out {
		g := complex128(grad1[i])
		inner += real(complex(real(g), -imag(g)) * complex128(out[i]))
	}
	require.Negative(t, inner)
}
