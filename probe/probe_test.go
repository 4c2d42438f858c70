package probe

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bob-anderson-ok/ptycho/field"
)

func TestDiskProfile(t *testing.T) {
	p := Disk(32, 0.2, 0.8)
	mode := p.Mode(0, 0)

	center := real(mode[16*32+16])
	corner := real(mode[0])
	require.InDelta(t, 1, float64(center), 1e-9)
	require.Zero(t, float64(corner))
	for _, c := range mode {
		v := real(c)
		require.GreaterOrEqual(t, float64(v), 0.0)
		require.LessOrEqual(t, float64(v), 1.0)
		require.Zero(t, imag(c))
	}
}

func TestAddModesRandomPhase(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	base := Disk(16, 0.2, 0.8)
	grown := AddModesRandomPhase(base, 3, rng)
	require.Equal(t, 3, grown.Modes)

	// The first mode survives unchanged.
	require.Equal(t, base.Mode(0, 0), grown.Mode(0, 0))

	// New modes keep the intensity envelope of the first mode.
	m0 := grown.Mode(0, 0)
	for m := 1; m < 3; m++ {
		mm := grown.Mode(0, m)
		for i := range mm {
			require.InDelta(t,
				cmplx.Abs(complex128(m0[i])),
				cmplx.Abs(complex128(mm[i])), 1e-5)
		}
	}
}

func TestGetVaryingProbeCombination(t *testing.T) {
	shared := field.NewProbe(1, 1, 2, 2)
	for i := range shared.Data {
		shared.Data[i] = 2
	}
	eigen := field.NewEigenProbe(1, 1, 1, 2, 2)
	for i := range eigen.Data {
		eigen.Data[i] = complex(0, 1)
	}
	weights := field.NewWeights(1, 2, 2, 1)
	weights.Set(0, 0, 0, 0, 1)
	weights.Set(0, 0, 1, 0, 0.5)
	weights.Set(0, 1, 0, 0, 3)
	weights.Set(0, 1, 1, 0, -1)

	unique := GetVaryingProbe(shared, eigen, weights)
	require.Equal(t, 2, unique.Positions)

	// position 0: 1*2 + 0.5*i
	for _, c := range unique.Plane(0, 0, 0) {
		require.InDelta(t, 2, float64(real(c)), 1e-6)
		require.InDelta(t, 0.5, float64(imag(c)), 1e-6)
	}
	// position 1: 3*2 - 1*i
	for _, c := range unique.Plane(0, 1, 0) {
		require.InDelta(t, 6, float64(real(c)), 1e-6)
		require.InDelta(t, -1, float64(imag(c)), 1e-6)
	}
}

func TestGetVaryingProbeWithoutWeights(t *testing.T) {
	shared := Disk(8, 0.2, 0.8)
	unique := GetVaryingProbe(shared, nil, nil)
	require.Equal(t, 1, unique.Positions)
	require.Equal(t, shared.Mode(0, 0), unique.Plane(0, 0, 0))
}

func TestInitVaryingProbe(t *testing.T) {
	rng := rand.New(rand.NewSource(33))
	scan := field.NewScan(1, 20)
	shared := Disk(8, 0.2, 0.8)

	eigen, weights, err := InitVaryingProbe(scan, shared, 0, 1, rng)
	require.NoError(t, err)
	require.Nil(t, eigen)
	require.Nil(t, weights)

	eigen, weights, err = InitVaryingProbe(scan, shared, 1, 1, rng)
	require.NoError(t, err)
	require.Nil(t, eigen)
	require.NotNil(t, weights)
	for n := 0; n < 20; n++ {
		require.Equal(t, float32(1), weights.At(0, n, 0, 0))
	}

	eigen, weights, err = InitVaryingProbe(scan, shared, 3, 1, rng)
	require.NoError(t, err)
	require.NotNil(t, eigen)
	require.Equal(t, 2, eigen.Eigen)
	for e := 0; e < eigen.Eigen; e++ {
		require.InDelta(t, 1, mnorm(eigen.Mode(0, e, 0)), 1e-4)
	}
	// Higher weight rows start near zero and zero-mean over the scan.
	for e := 1; e < weights.Eigen; e++ {
		var mean float64
		for n := 0; n < weights.Positions; n++ {
			v := float64(weights.At(0, n, e, 0))
			require.Less(t, math.Abs(v), 1e-5)
			mean += v
		}
		require.InDelta(t, 0, mean/float64(weights.Positions), 1e-9)
	}

	_, _, err = InitVaryingProbe(scan, shared, 2, 5, rng)
	require.Error(t, err, "more varying probes than probe modes")
}

func TestSimulateVaryingWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(34))
	scan := field.NewScan(1, 50)
	eigen := field.NewEigenProbe(1, 2, 1, 8, 8)

	weights := SimulateVaryingWeights(scan, eigen, rng)
	require.Equal(t, 3, weights.Eigen)
	for n := 0; n < 50; n++ {
		require.Equal(t, float32(1), weights.At(0, n, 0, 0))
		for e := 1; e < 3; e++ {
			require.LessOrEqual(t, math.Abs(float64(weights.At(0, n, e, 0))), 1.0)
		}
	}
}
