package solvers

import (
	"log/slog"

	"github.com/bob-anderson-ok/ptycho/field"
	"github.com/bob-anderson-ok/ptycho/operators"
)

// epsNormal regularizes the denominators of the per-position
// normal-equation steps.
const epsNormal = 1e-16

// DividedOptions configures one outer iteration of the divided solver.
type DividedOptions struct {
	// RecoverPsi enables the object subproblem.
	RecoverPsi bool
	// RecoverProbe enables the probe subproblem.
	RecoverProbe bool
	// RecoverPositions is accepted for interface compatibility but the
	// position subproblem is intentionally disabled; see UpdatePositions.
	RecoverPositions bool
	// CGIter is the number of conjugate-gradient steps per subproblem.
	// Zero selects the default of 4.
	CGIter int
	// Logger receives per-subproblem converged costs. Nil selects
	// slog.Default().
	Logger *slog.Logger
}

// DividedResult is the updated reconstruction state after one outer
// iteration.
type DividedResult struct {
	Psi      *field.Object
	Probe    *field.Probe
	Scan     *field.Scan
	Farplane *field.Wavefield
	Cost     float64
}

// Divided solves the near- and farfield ptychography problems
// separately: a farplane phase subproblem, then an object recovery
// subproblem, then a probe recovery subproblem, each with a few
// conjugate-gradient iterations.
//
// After Odstrcil, Menzel, and Guizar-Sicairos, "Iterative least-squares
// solver for generalized maximum-likelihood ptychography", Optics
// Express (2018).
func Divided(
	op *operators.Ptycho,
	data *field.Intensity,
	probe *field.Probe,
	scan *field.Scan,
	psi *field.Object,
	opts DividedOptions,
) (*DividedResult, error) {
	cgIter := opts.CGIter
	if cgIter < 1 {
		cgIter = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	farplane, err := op.Fwd(probe, scan, psi)
	if err != nil {
		return nil, err
	}
	farplane, cost, err := updatePhase(op, data, farplane, cgIter, logger)
	if err != nil {
		return nil, err
	}
	nearplane, err := op.Propagation.Adj(farplane)
	if err != nil {
		return nil, err
	}
	if opts.RecoverPsi {
		psi, cost, err = updateObject(op, data, nearplane, probe, scan, psi, cgIter, logger)
		if err != nil {
			return nil, err
		}
	}
	if opts.RecoverProbe {
		probe, cost, err = updateProbe(op, nearplane, probe, scan, psi, cgIter, logger)
		if err != nil {
			return nil, err
		}
	}
	return &DividedResult{
		Psi:      psi,
		Probe:    probe,
		Scan:     scan,
		Farplane: farplane,
		Cost:     cost,
	}, nil
}

// updatePhase solves the farplane phase problem: minimize the
// noise-model cost over the farplane with the intensity fixed by the
// farplane's own modulus.
func updatePhase(
	op *operators.Ptycho,
	data *field.Intensity,
	farplane *field.Wavefield,
	numIter int,
	logger *slog.Logger,
) (*field.Wavefield, float64, error) {
	shape := *farplane

	costFn := func(x []complex64) (float64, error) {
		wf := shape
		wf.Data = x
		intensity, err := op.Propagation.Intensity(&wf)
		if err != nil {
			return 0, err
		}
		return op.Propagation.Cost(data, intensity)
	}
	gradFn := func(x []complex64) ([]complex64, error) {
		wf := shape
		wf.Data = x
		intensity, err := op.Propagation.Intensity(&wf)
		if err != nil {
			return nil, err
		}
		g, err := op.Propagation.Grad(data, &wf, intensity)
		if err != nil {
			return nil, err
		}
		return g.Data, nil
	}

	x, cost, err := ConjugateGradient(farplane.Data, costFn, gradFn, numIter)
	if err != nil {
		return nil, 0, err
	}
	farplane.Data = x
	logger.Info("farplane cost", "cost", cost)
	return farplane, cost, nil
}

// updateObject solves the nearplane object recovery problem
// min_psi ||probe * patches(psi) - nearplane||^2 with per-position
// normal-equation steps along Dai-Yuan conjugate directions. Each
// aggregated step is accepted only at a scale that does not raise the
// measured-data misfit, so the outer cost cannot increase here.
func updateObject(
	op *operators.Ptycho,
	data *field.Intensity,
	nearplane *field.Wavefield,
	probe *field.Probe,
	scan *field.Scan,
	psi *field.Object,
	numIter int,
	logger *slog.Logger,
) (*field.Object, float64, error) {
	conv := op.Diffraction
	w := conv.ProbeWidth
	near := extractRegion(nearplane, conv.Pad(), w)

	normProbe, err := scatterProbeIntensity(conv, scan, probe, psi.Height, psi.Width)
	if err != nil {
		return nil, 0, err
	}
	misfit, err := op.Cost(data, psi, scan, probe)
	if err != nil {
		return nil, 0, err
	}

	chi := func(psi *field.Object) (*field.Wavefield, error) {
		model, err := conv.Fwd(psi, scan, probe)
		if err != nil {
			return nil, err
		}
		out := extractRegion(model, conv.Pad(), w)
		for i := range out.Data {
			out.Data[i] = near.Data[i] - out.Data[i]
		}
		return out, nil
	}

	var dir, grad0 []complex64
	for i := 0; i < numIter; i++ {
		chi1, err := chi(psi)
		if err != nil {
			return nil, 0, err
		}
		grad1 := make([]complex64, len(chi1.Data))
		for t := 0; t < chi1.Angles; t++ {
			for n := 0; n < chi1.Positions; n++ {
				for m := 0; m < chi1.Modes; m++ {
					pr := probe.Mode(t, m)
					src := chi1.Plane(t, n, m)
					dst := planeOf(grad1, chi1, t, n, m)
					for j := range src {
						dst[j] = src[j] * conj64(pr[j])
					}
				}
			}
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

		// Per-(position, mode) closed-form step: directional residual
		// over directional patch energy.
		steps := make([]float64, chi1.Angles*chi1.Positions*chi1.Modes)
		for t := 0; t < chi1.Angles; t++ {
			for n := 0; n < chi1.Positions; n++ {
				for m := 0; m < chi1.Modes; m++ {
					pr := probe.Mode(t, m)
					cp := chi1.Plane(t, n, m)
					dp := planeOf(dir, chi1, t, n, m)
					var num, den float64
					for j := range cp {
						dprobe := complex128(dp[j]) * complex128(pr[j])
						num += real(complex128(cp[j]) * conj128(dprobe))
						den += real(dprobe)*real(dprobe) + imag(dprobe)*imag(dprobe)
					}
					steps[(t*chi1.Positions+n)*chi1.Modes+m] = num / (den + epsNormal)
				}
			}
		}

		// Scatter the direction and the step-weighted probe intensity
		// back into object space.
		dirStack := field.NewStack(chi1.Angles, chi1.Positions, w, w)
		weightStack := field.NewStack(chi1.Angles, chi1.Positions, w, w)
		for t := 0; t < chi1.Angles; t++ {
			for n := 0; n < chi1.Positions; n++ {
				dDst := dirStack.Plane(t, n)
				wDst := weightStack.Plane(t, n)
				for m := 0; m < chi1.Modes; m++ {
					pr := probe.Mode(t, m)
					dp := planeOf(dir, chi1, t, n, m)
					s := steps[(t*chi1.Positions+n)*chi1.Modes+m]
					for j := range dDst {
						dDst[j] += dp[j]
						re, im := float64(real(pr[j])), float64(imag(pr[j]))
						wDst[j] += complex64(complex(s*(re*re+im*im), 0))
					}
				}
			}
		}
		commonDir, err := conv.PatchAdj(scan, dirStack, psi.Height, psi.Width)
		if err != nil {
			return nil, 0, err
		}
		weightProbe, err := conv.PatchAdj(scan, weightStack, psi.Height, psi.Width)
		if err != nil {
			return nil, 0, err
		}
		delta := make([]complex128, len(psi.Data))
		for j := range delta {
			np := normProbe[j]
			delta[j] = complex128(commonDir.Data[j]) * complex(float64(real(weightProbe.Data[j])), 0) / complex(np*np, 0)
		}

		// The combined per-position steps can overshoot where many
		// patches overlap. Halve the aggregated step until the misfit
		// stops rising; when no scale helps, keep the previous object.
		prev := append([]complex64(nil), psi.Data...)
		scale := 1.0
		accepted := false
		for k := 0; k < 8; k++ {
			for j := range psi.Data {
				psi.Data[j] = prev[j] + complex64(complex(scale, 0)*delta[j])
			}
			try, err := op.Cost(data, psi, scan, probe)
			if err != nil {
				return nil, 0, err
			}
			if try <= misfit {
				misfit = try
				accepted = true
				break
			}
			scale *= 0.5
		}
		if !accepted {
			copy(psi.Data, prev)
			break
		}
	}

	cost, err := nearplaneResidual(conv, psi, scan, probe, nearplane)
	if err != nil {
		return nil, 0, err
	}
	logger.Info("object cost", "cost", cost)
	return psi, cost, nil
}

// updateProbe solves the nearplane probe recovery problem, symmetric to
// the object subproblem with the roles of probe and object patches
// exchanged.
func updateProbe(
	op *operators.Ptycho,
	nearplane *field.Wavefield,
	probe *field.Probe,
	scan *field.Scan,
	psi *field.Object,
	numIter int,
	logger *slog.Logger,
) (*field.Probe, float64, error) {
	conv := op.Diffraction
	w := conv.ProbeWidth
	near := extractRegion(nearplane, conv.Pad(), w)

	patches, err := conv.Patches(psi, scan)
	if err != nil {
		return nil, 0, err
	}

	// Aggregated patch intensity per pixel, the normalization of the
	// probe normal equations.
	normPatches := make([]float64, patches.Angles*w*w)
	for t := 0; t < patches.Angles; t++ {
		for n := 0; n < patches.Count; n++ {
			pp := patches.Plane(t, n)
			for j, c := range pp {
				re, im := float64(real(c)), float64(imag(c))
				normPatches[t*w*w+j] += re*re + im*im
			}
		}
	}
	for j := range normPatches {
		normPatches[j] += epsNormal
	}

	chi := func(probe *field.Probe) *field.Wavefield {
		out := field.NewWavefield(near.Angles, near.Positions, near.Modes, w, w)
		for t := 0; t < out.Angles; t++ {
			for n := 0; n < out.Positions; n++ {
				pp := patches.Plane(t, n)
				for m := 0; m < out.Modes; m++ {
					pr := probe.Mode(t, m)
					src := near.Plane(t, n, m)
					dst := out.Plane(t, n, m)
					for j := range dst {
						dst[j] = src[j] - pr[j]*pp[j]
					}
				}
			}
		}
		return out
	}

	var dir, grad0 []complex64
	for i := 0; i < numIter; i++ {
		chi1 := chi(probe)
		grad1 := make([]complex64, len(chi1.Data))
		for t := 0; t < chi1.Angles; t++ {
			for n := 0; n < chi1.Positions; n++ {
				pp := patches.Plane(t, n)
				for m := 0; m < chi1.Modes; m++ {
					src := chi1.Plane(t, n, m)
					dst := planeOf(grad1, chi1, t, n, m)
					for j := range src {
						dst[j] = src[j] * conj64(pp[j])
					}
				}
			}
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

		steps := make([]float64, chi1.Angles*chi1.Positions*chi1.Modes)
		for t := 0; t < chi1.Angles; t++ {
			for n := 0; n < chi1.Positions; n++ {
				pp := patches.Plane(t, n)
				for m := 0; m < chi1.Modes; m++ {
					cp := chi1.Plane(t, n, m)
					dp := planeOf(dir, chi1, t, n, m)
					var num, den float64
					for j := range cp {
						dpatch := complex128(dp[j]) * complex128(pp[j])
						num += real(complex128(cp[j]) * conj128(dpatch))
						den += real(dpatch)*real(dpatch) + imag(dpatch)*imag(dpatch)
					}
					steps[(t*chi1.Positions+n)*chi1.Modes+m] = num / (den + epsNormal)
				}
			}
		}

		for t := 0; t < chi1.Angles; t++ {
			for m := 0; m < chi1.Modes; m++ {
				commonDir := make([]complex128, w*w)
				weighted := make([]float64, w*w)
				for n := 0; n < chi1.Positions; n++ {
					pp := patches.Plane(t, n)
					dp := planeOf(dir, chi1, t, n, m)
					s := steps[(t*chi1.Positions+n)*chi1.Modes+m]
					for j := range commonDir {
						commonDir[j] += complex128(dp[j])
						re, im := float64(real(pp[j])), float64(imag(pp[j]))
						weighted[j] += s * (re*re + im*im)
					}
				}
				pr := probe.Mode(t, m)
				for j := range pr {
					np := normPatches[t*w*w+j]
					pr[j] += complex64(commonDir[j] / complex(np, 0) * complex(weighted[j]/np, 0))
				}
			}
		}
	}

	chiFinal := chi(probe)
	var cost float64
	for _, c := range chiFinal.Data {
		re, im := float64(real(c)), float64(imag(c))
		cost += re*re + im*im
	}
	logger.Info("probe cost", "cost", cost)
	return probe, cost, nil
}

// nearplaneResidual is the object-subproblem cost
// ||probe * patches(psi) - nearplane||^2.
func nearplaneResidual(conv *operators.Convolution, psi *field.Object, scan *field.Scan, probe *field.Probe, nearplane *field.Wavefield) (float64, error) {
	model, err := conv.Fwd(psi, scan, probe)
	if err != nil {
		return 0, err
	}
	var cost float64
	for i, c := range model.Data {
		d := complex128(c) - complex128(nearplane.Data[i])
		cost += real(d)*real(d) + imag(d)*imag(d)
	}
	return cost, nil
}

// extractRegion copies the probe-sized region at offset pad out of each
// detector plane.
func extractRegion(wf *field.Wavefield, pad, width int) *field.Wavefield {
	out := field.NewWavefield(wf.Angles, wf.Positions, wf.Modes, width, width)
	for t := 0; t < wf.Angles; t++ {
		for n := 0; n < wf.Positions; n++ {
			for m := 0; m < wf.Modes; m++ {
				src := wf.Plane(t, n, m)
				dst := out.Plane(t, n, m)
				for r := 0; r < width; r++ {
					for c := 0; c < width; c++ {
						dst[r*width+c] = src[(pad+r)*wf.Width+pad+c]
					}
				}
			}
		}
	}
	return out
}

// scatterProbeIntensity scatters the mode-summed probe intensity at
// every scan position into an object-sized grid, the aggregated
// per-pixel illumination used to normalize object updates.
func scatterProbeIntensity(conv *operators.Convolution, scan *field.Scan, probe *field.Probe, height, width int) ([]float64, error) {
	w := conv.ProbeWidth
	intensity := make([]complex64, probe.Angles*w*w)
	for t := 0; t < probe.Angles; t++ {
		for m := 0; m < probe.Modes; m++ {
			pr := probe.Mode(t, m)
			for j, c := range pr {
				re, im := float64(real(c)), float64(imag(c))
				intensity[t*w*w+j] += complex64(complex(re*re+im*im, 0))
			}
		}
	}
	stack := field.NewStack(scan.Angles, scan.Positions, w, w)
	for t := 0; t < scan.Angles; t++ {
		for n := 0; n < scan.Positions; n++ {
			copy(stack.Plane(t, n), intensity[t*w*w:(t+1)*w*w])
		}
	}
	grid, err := conv.PatchAdj(scan, stack, height, width)
	if err != nil {
		return nil, err
	}
	norm := make([]float64, len(grid.Data))
	for i, c := range grid.Data {
		norm[i] = float64(real(c)) + epsNormal
	}
	return norm, nil
}

// planeOf views one (angle, position, mode) plane of a flat array laid
// out like the given wavefield.
func planeOf(data []complex64, like *field.Wavefield, t, n, m int) []complex64 {
	size := like.Height * like.Width
	i := (t*like.Positions+n)*like.Modes + m
	return data[i*size : (i+1)*size]
}

func conj64(c complex64) complex64 { return complex(real(c), -imag(c)) }

func conj128(c complex128) complex128 { return complex(real(c), -imag(c)) }
