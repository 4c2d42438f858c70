package operators

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bob-anderson-ok/ptycho/field"
)

func randomWavefield(rng *rand.Rand, angles, positions, modes, width int) *field.Wavefield {
	wf := field.NewWavefield(angles, positions, modes, width, width)
	for i := range wf.Data {
		wf.Data[i] = complex(rng.Float32()-0.5, rng.Float32()-0.5)
	}
	return wf
}

func energyOf(data []complex64) float64 {
	var sum float64
	for _, c := range data {
		re, im := float64(real(c)), float64(imag(c))
		sum += re*re + im*im
	}
	return sum
}

func TestPropagationRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	op, err := NewPropagation(Gaussian, 16, 1)
	require.NoError(t, err)
	defer op.Close()

	in := randomWavefield(rng, 1, 3, 2, 16)
	far, err := op.Fwd(in)
	require.NoError(t, err)
	back, err := op.Adj(far)
	require.NoError(t, err)

	for i := range in.Data {
		require.InDelta(t, real(in.Data[i]), real(back.Data[i]), 1e-4)
		require.InDelta(t, imag(in.Data[i]), imag(back.Data[i]), 1e-4)
	}
}

func TestPropagationPreservesEnergy(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	op, err := NewPropagation(Gaussian, 32, 1)
	require.NoError(t, err)
	defer op.Close()

	in := randomWavefield(rng, 1, 2, 1, 32)
	far, err := op.Fwd(in)
	require.NoError(t, err)

	require.InEpsilon(t, energyOf(in.Data), energyOf(far.Data), 1e-4)
}

func TestPropagationAdjointPair(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	op, err := NewPropagation(Gaussian, 16, 1)
	require.NoError(t, err)
	defer op.Close()

	x := randomWavefield(rng, 1, 2, 1, 16)
	y := randomWavefield(rng, 1, 2, 1, 16)

	fx, err := op.Fwd(x)
	require.NoError(t, err)
	ay, err := op.Adj(y)
	require.NoError(t, err)

	lhs := dotComplex(fx.Data, y.Data)
	rhs := dotComplex(x.Data, ay.Data)
	require.InDelta(t, real(rhs), real(lhs), 1e-3)
	require.InDelta(t, imag(rhs), imag(lhs), 1e-3)
}

func TestPropagationClosed(t *testing.T) {
	op, err := NewPropagation(Gaussian, 8, 1)
	require.NoError(t, err)
	require.NoError(t, op.Close())

	_, err = op.Fwd(field.NewWavefield(1, 1, 1, 8, 8))
	require.ErrorContains(t, err, "closed")
}

func TestPropagationPlaneSizeError(t *testing.T) {
	op, err := NewPropagation(Gaussian, 8, 1)
	require.NoError(t, err)
	defer op.Close()

	_, err = op.Fwd(field.NewWavefield(1, 1, 1, 16, 16))
	require.Error(t, err)
}

func TestIntensitySumsModesAndFlyGroups(t *testing.T) {
	op, err := NewPropagation(Gaussian, 4, 2)
	require.NoError(t, err)
	defer op.Close()

	far := field.NewWavefield(1, 4, 2, 4, 4)
	for i := range far.Data {
		far.Data[i] = complex(1, 1) // squared modulus 2 everywhere
	}
	intensity, err := op.Intensity(far)
	require.NoError(t, err)
	require.Equal(t, 2, intensity.Positions)

	// 2 fly positions x 2 modes x 2 per plane.
	for _, v := range intensity.Data {
		require.InDelta(t, 8, float64(v), 1e-6)
	}

	// An odd position count cannot be grouped in pairs.
	_, err = op.Intensity(field.NewWavefield(1, 3, 1, 4, 4))
	require.Error(t, err)
}

func TestPropagationCostShapeMismatch(t *testing.T) {
	op, err := NewPropagation(Gaussian, 8, 1)
	require.NoError(t, err)
	defer op.Close()

	data := field.NewIntensity(1, 2, 8, 8)
	intensity := field.NewIntensity(1, 3, 8, 8)
	cost, err := op.Cost(data, intensity)
	require.Error(t, err)
	require.True(t, math.IsNaN(cost))
}
