package main

import (
	"log/slog"
	"math"

	"github.com/bob-anderson-ok/ptycho/comm"
	"github.com/bob-anderson-ok/ptycho/field"
	"github.com/bob-anderson-ok/ptycho/operators"
	"github.com/bob-anderson-ok/ptycho/probe"
)

// betaEigen is the relaxation of the demonstration eigen-probe update.
const betaEigen = 0.1

// refineVaryingProbe runs one distributed eigen-probe update against
// the residuals of the final reconstruction, reconditions the
// decomposition, and reports the spread of the refined weights. A
// single-worker communicator stands in for a device pool.
func refineVaryingProbe(
	op *operators.Ptycho,
	psi *field.Object,
	scan *field.Scan,
	est *field.Probe,
	farplane *field.Wavefield,
	eigen *field.EigenProbe,
	weights *field.Weights,
	logger *slog.Logger,
) error {
	c, err := comm.New(1, nil)
	if err != nil {
		return err
	}
	conv := op.Diffraction
	patches, err := conv.Patches(psi, scan)
	if err != nil {
		return err
	}
	nearplane, err := op.Propagation.Adj(farplane)
	if err != nil {
		return err
	}

	// Mode-zero residual at each position: the phase-corrected
	// nearplane minus the modeled probe-times-patch field.
	w := conv.ProbeWidth
	pad := conv.Pad()
	diff := field.NewStack(scan.Angles, scan.Positions, w, w)
	for t := 0; t < scan.Angles; t++ {
		pr := est.Mode(t, 0)
		for n := 0; n < scan.Positions; n++ {
			src := nearplane.Plane(t, n, 0)
			pp := patches.Plane(t, n)
			dst := diff.Plane(t, n)
			for r := 0; r < w; r++ {
				for k := 0; k < w; k++ {
					dst[r*w+k] = src[(pad+r)*nearplane.Width+pad+k] - pr[r*w+k]*pp[r*w+k]
				}
			}
		}
	}

	err = probe.UpdateEigenProbe(c,
		[]*field.Stack{diff.Clone()},
		[]*field.EigenProbe{eigen},
		[]*field.Weights{weights},
		[]*field.Stack{patches},
		[]*field.Stack{diff},
		betaEigen, 1, 0)
	if err != nil {
		return err
	}
	if err := probe.ConstrainVariableProbe(c,
		[]*field.EigenProbe{eigen}, []*field.Weights{weights}); err != nil {
		return err
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for n := 0; n < weights.Positions; n++ {
		v := float64(weights.At(0, n, 1, 0))
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	logger.Info("varying probe refined", "weightMin", lo, "weightMax", hi)
	return nil
}
