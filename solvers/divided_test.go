package solvers

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bob-anderson-ok/ptycho/field"
	"github.com/bob-anderson-ok/ptycho/operators"
	"github.com/bob-anderson-ok/ptycho/probe"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// smoothObject is a synthetic transmission with gentle amplitude and
// phase structure.
func smoothObject(width int) *field.Object {
	obj := field.NewObject(1, width, width)
	plane := obj.Plane(0)
	for r := 0; r < width; r++ {
		y := float64(r) / float64(width)
		for c := 0; c < width; c++ {
			x := float64(c) / float64(width)
			amplitude := 0.9 + 0.1*math.Cos(2*math.Pi*y)*math.Cos(4*math.Pi*x)
			phase := 0.4 * math.Sin(2*math.Pi*x) * math.Sin(2*math.Pi*y)
			s, co := math.Sincos(phase)
			plane[r*width+c] = complex(float32(amplitude*co), float32(amplitude*s))
		}
	}
	return obj
}

func rasterScan(grid int, step float64, jitter *rand.Rand) *field.Scan {
	scan := field.NewScan(1, grid*grid)
	for i := 0; i < grid; i++ {
		for j := 0; j < grid; j++ {
			scan.Set(0, i*grid+j,
				float32(1+float64(i)*step+jitter.Float64()),
				float32(1+float64(j)*step+jitter.Float64()))
		}
	}
	return scan
}

type reconstruction struct {
	op    *operators.Ptycho
	data  *field.Intensity
	truth *field.Object
	probe *field.Probe
	scan  *field.Scan
}

func setupReconstruction(t *testing.T) reconstruction {
	t.Helper()
	rng := rand.New(rand.NewSource(21))

	op, err := operators.NewPtycho(operators.Gaussian, 16, 16, 1)
	require.NoError(t, err)
	t.Cleanup(func() { op.Close() })

	truth := smoothObject(64)
	scan := rasterScan(10, 5, rng)
	pr := probe.Disk(16, 0.2, 0.8)

	farplane, err := op.Fwd(pr, scan, truth)
	require.NoError(t, err)
	data, err := op.Propagation.Intensity(farplane)
	require.NoError(t, err)

	return reconstruction{op: op, data: data, truth: truth, probe: pr, scan: scan}
}

func TestDividedRecoversObject(t *testing.T) {
	r := setupReconstruction(t)

	psi := field.NewObject(1, r.truth.Height, r.truth.Width)
	for i := range psi.Data {
		psi.Data[i] = 1
	}
	initialCost, err := r.op.Cost(r.data, psi, r.scan, r.probe)
	require.NoError(t, err)

	est := r.probe
	var residuals []float64
	phaseCosts := []float64{initialCost}
	for i := 0; i < 20; i++ {
		result, err := Divided(r.op, r.data, est, r.scan, psi, DividedOptions{
			RecoverPsi: true,
			CGIter:     4,
			Logger:     quietLogger(),
		})
		require.NoError(t, err)
		psi, est = result.Psi, result.Probe
		require.False(t, math.IsNaN(result.Cost))
		residuals = append(residuals, result.Cost)

		c, err := r.op.Cost(r.data, psi, r.scan, est)
		require.NoError(t, err)
		phaseCosts = append(phaseCosts, c)
	}

	// The data misfit never increases across outer iterations: object
	// steps are only accepted when they do not raise it.
	for i := 1; i < len(phaseCosts); i++ {
		require.LessOrEqual(t, phaseCosts[i], phaseCosts[i-1]+1e-12,
			"iteration %d", i)
	}
	require.Less(t, phaseCosts[len(phaseCosts)-1], initialCost,
		"data misfit should shrink from the flat initial object")
	require.Less(t, residuals[len(residuals)-1], residuals[0],
		"object residual should shrink over outer iterations")
}

func TestDividedRecoversProbe(t *testing.T) {
	r := setupReconstruction(t)
	rng := rand.New(rand.NewSource(22))

	// Start from the true object and a perturbed probe.
	est := r.probe.Clone()
	for i := range est.Data {
		est.Data[i] += complex(0.2*(rng.Float32()-0.5), 0.2*(rng.Float32()-0.5))
	}
	initialCost, err := r.op.Cost(r.data, r.truth, r.scan, est)
	require.NoError(t, err)

	psi := r.truth.Clone()
	for i := 0; i < 5; i++ {
		result, err := Divided(r.op, r.data, est, r.scan, psi, DividedOptions{
			RecoverProbe: true,
			CGIter:       4,
			Logger:       quietLogger(),
		})
		require.NoError(t, err)
		psi, est = result.Psi, result.Probe
	}

	finalCost, err := r.op.Cost(r.data, psi, r.scan, est)
	require.NoError(t, err)
	require.Less(t, finalCost, initialCost)
}

func TestDividedDefaultsAndNoRecovery(t *testing.T) {
	r := setupReconstruction(t)

	psi := field.NewObject(1, r.truth.Height, r.truth.Width)
	for i := range psi.Data {
		psi.Data[i] = 1
	}
	before := psi.Clone()

	// With both subproblems disabled only the farplane phase moves.
	result, err := Divided(r.op, r.data, r.probe, r.scan, psi, DividedOptions{Logger: quietLogger()})
	require.NoError(t, err)
	require.Equal(t, before.Data, result.Psi.Data)
	require.NotNil(t, result.Farplane)
}

func TestUpdatePositionsIsDisabled(t *testing.T) {
	r := setupReconstruction(t)
	scan, err := UpdatePositions(r.op, r.data, r.truth, r.probe, r.scan)
	require.NoError(t, err)
	require.Same(t, r.scan, scan)
}
