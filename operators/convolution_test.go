package operators

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bob-anderson-ok/ptycho/field"
)

func randomProbe(rng *rand.Rand, angles, modes, width int) *field.Probe {
	p := field.NewProbe(angles, modes, width, width)
	for i := range p.Data {
		p.Data[i] = complex(rng.Float32()-0.5, rng.Float32()-0.5)
	}
	return p
}

func gridScan(npos, spacing int) *field.Scan {
	scan := field.NewScan(1, npos)
	for n := 0; n < npos; n++ {
		scan.Set(0, n, float32(n*spacing), float32(n*spacing)+0.25)
	}
	return scan
}

func TestConvolutionFwdCentersPatchTimesProbe(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	conv, err := NewConvolution(4, 8, 1)
	require.NoError(t, err)
	defer conv.Close()

	psi := randomObject(rng, 1, 16, 16)
	probe := randomProbe(rng, 1, 1, 4)
	scan := field.NewScan(1, 1)
	scan.Set(0, 0, 3, 5)

	near, err := conv.Fwd(psi, scan, probe)
	require.NoError(t, err)
	require.Equal(t, 8, near.Width)

	plane := near.Plane(0, 0, 0)
	pad := conv.Pad()
	require.Equal(t, 2, pad)
	// Border stays zero.
	require.Zero(t, plane[0])
	require.Zero(t, plane[8*8-1])
	// The interior is patch * probe.
	pr := probe.Mode(0, 0)
	obj := psi.Plane(0)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			want := obj[(3+r)*16+5+c] * pr[r*4+c]
			got := plane[(pad+r)*8+pad+c]
			require.InDelta(t, real(want), real(got), 1e-5)
			require.InDelta(t, imag(want), imag(got), 1e-5)
		}
	}
}

func TestConvolutionObjectAdjointPair(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	conv, err := NewConvolution(8, 12, 1)
	require.NoError(t, err)
	defer conv.Close()

	psi := randomObject(rng, 1, 32, 32)
	probe := randomProbe(rng, 1, 2, 8)
	scan := gridScan(4, 5)

	y := randomWavefield(rng, 1, 4, 2, 12)

	fwd, err := conv.Fwd(psi, scan, probe)
	require.NoError(t, err)
	adj, err := conv.Adj(y, scan, probe, 32, 32)
	require.NoError(t, err)

	lhs := dotComplex(fwd.Data, y.Data)
	rhs := dotComplex(psi.Data, adj.Data)
	require.InDelta(t, real(rhs), real(lhs), 1e-2)
	require.InDelta(t, imag(rhs), imag(lhs), 1e-2)
}

func TestConvolutionProbeAdjointPair(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	conv, err := NewConvolution(8, 8, 1)
	require.NoError(t, err)
	defer conv.Close()

	psi := randomObject(rng, 1, 32, 32)
	probe := randomProbe(rng, 1, 1, 8)
	scan := gridScan(4, 5)

	y := randomWavefield(rng, 1, 4, 1, 8)

	fwd, err := conv.Fwd(psi, scan, probe)
	require.NoError(t, err)
	adjProbe, err := conv.AdjProbe(y, scan, psi)
	require.NoError(t, err)

	lhs := dotComplex(fwd.Data, y.Data)
	rhs := dotComplex(probe.Data, adjProbe.Data)
	require.InDelta(t, real(rhs), real(lhs), 1e-2)
	require.InDelta(t, imag(rhs), imag(lhs), 1e-2)
}

func TestConvolutionValidation(t *testing.T) {
	_, err := NewConvolution(8, 4, 1) // detector narrower than probe
	require.Error(t, err)
	_, err = NewConvolution(0, 4, 1)
	require.Error(t, err)
	_, err = NewConvolution(4, 8, 0)
	require.Error(t, err)

	conv, err := NewConvolution(4, 8, 2)
	require.NoError(t, err)
	defer conv.Close()

	// Scan length not divisible by the fly factor.
	psi := field.NewObject(1, 16, 16)
	probe := field.NewProbe(1, 1, 4, 4)
	_, err = conv.Fwd(psi, field.NewScan(1, 3), probe)
	require.Error(t, err)
}

func TestNewPtychoReleasesOnFailure(t *testing.T) {
	_, err := NewPtycho(Gaussian, 8, 4, 1) // invalid diffraction geometry
	require.Error(t, err)

	op, err := NewPtycho(Gaussian, 4, 8, 1)
	require.NoError(t, err)
	require.NoError(t, op.Close())
}
