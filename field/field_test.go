package field

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectPlaneViews(t *testing.T) {
	obj := NewObject(2, 4, 5)
	require.Len(t, obj.Data, 2*4*5)
	obj.Plane(1)[0] = 7
	require.Equal(t, complex64(7), obj.Data[4*5])
}

func TestScanRoundTrip(t *testing.T) {
	scan := NewScan(2, 3)
	scan.Set(1, 2, 1.5, -2.25)
	y, x := scan.At(1, 2)
	require.Equal(t, float32(1.5), y)
	require.Equal(t, float32(-2.25), x)
}

func TestProbeModeIndexing(t *testing.T) {
	p := NewProbe(2, 3, 4, 4)
	p.Mode(1, 2)[5] = 9
	// (angle 1, mode 2) is the last of six planes.
	require.Equal(t, complex64(9), p.Data[5*16+5])
}

func TestWavefieldPlaneIndexing(t *testing.T) {
	wf := NewWavefield(1, 2, 3, 2, 2)
	wf.Plane(0, 1, 2)[0] = 3
	// plane index = (0*2+1)*3 + 2 = 5
	require.Equal(t, complex64(3), wf.Data[5*4])
}

func TestWeightsRoundTrip(t *testing.T) {
	w := NewWeights(2, 3, 4, 2)
	w.Set(1, 2, 3, 1, 0.5)
	require.Equal(t, float32(0.5), w.At(1, 2, 3, 1))

	c := w.Clone()
	c.Set(1, 2, 3, 1, -1)
	require.Equal(t, float32(0.5), w.At(1, 2, 3, 1))
}

func TestEigenProbeModeIndexing(t *testing.T) {
	e := NewEigenProbe(1, 2, 3, 2, 2)
	e.Mode(0, 1, 2)[0] = 4
	// mode index = (0*2+1)*3 + 2 = 5
	require.Equal(t, complex64(4), e.Data[5*4])
}

func TestShapeErrorMessage(t *testing.T) {
	err := ShapeError("patch fwd", 3, 6)
	require.ErrorContains(t, err, "patch fwd")
	require.ErrorContains(t, err, "got 3")
	require.ErrorContains(t, err, "want 6")
}
