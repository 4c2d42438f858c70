// Package probe creates and manipulates illumination arrays.
//
// The illumination is represented as two components: a shared probe
// whose values are the same at every scan position, and an optional
// varying component stored sparsely as eigen probes (principal
// components of the variation) plus per-position weights. The unique
// probe at a position is the shared probe scaled by the zeroth weight
// row plus the weighted sum of the eigen probes:
//
//	varying = weights[0]*probe + sum_e weights[e+1]*eigen[e]
package probe

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/bob-anderson-ok/ptycho/field"
)

// Options configures the constraints applied to the probe each
// iteration. It is a plain value; no device or solver state is carried
// here.
type Options struct {
	// OrthogonalityConstraint forces probe modes to be orthogonal each
	// iteration.
	OrthogonalityConstraint bool
	// CenteredIntensityConstraint forces the combined probe intensity
	// peak to the center of the grid.
	CenteredIntensityConstraint bool
	// SparsityConstraint is the allowed fraction of nonzero probe
	// pixels, in (0, 1]. A value of 1 disables the constraint.
	SparsityConstraint float64
}

// DefaultOptions returns the constraint configuration used when a
// parameter file does not override it.
func DefaultOptions() Options {
	return Options{
		OrthogonalityConstraint: true,
		SparsityConstraint:      1,
	}
}

// Disk returns a single-mode probe with a circular illumination
// pattern: full intensity inside radius rin, zero outside rout, and a
// linear ramp between, with radii given as fractions of the frame
// half-diagonal.
func Disk(size int, rin, rout float64) *field.Probe {
	p := field.NewProbe(1, 1, size, size)
	mode := p.Mode(0, 0)
	half := float64(size) / 2
	rsMax := math.Sqrt(2) * half
	rmax := math.Sqrt(2)*0.5*rout*rsMax + 1
	rmin := math.Sqrt(2) * 0.5 * rin * rsMax
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			y := float64(r) + 0.5 - half
			x := float64(c) + 0.5 - half
			rs := math.Sqrt(y*y + x*x)
			var v float64
			switch {
			case rs < rmin:
				v = 1
			case rs > rmax:
				v = 0
			default:
				v = (rmax - rs) / (rmax - rmin)
			}
			mode[r*size+c] = complex(float32(v), 0)
		}
	}
	return p
}

// AddModesRandomPhase grows a probe to nmodes incoherent modes.
// Existing modes are copied; new modes are the first mode under random
// linear phase ramps, which keeps their intensity envelope while making
// them linearly independent.
func AddModesRandomPhase(p *field.Probe, nmodes int, rng *rand.Rand) *field.Probe {
	out := field.NewProbe(p.Angles, nmodes, p.Height, p.Width)
	pw := p.Width
	for t := 0; t < p.Angles; t++ {
		for m := 0; m < nmodes; m++ {
			dst := out.Mode(t, m)
			if m < p.Modes {
				copy(dst, p.Mode(t, m))
				continue
			}
			fy := rng.Float64() - 0.5
			fx := rng.Float64() - 0.5
			src := p.Mode(t, 0)
			for r := 0; r < p.Height; r++ {
				py := cmplxExp(-2 * math.Pi * fy * ((float64(r)+0.5)/float64(pw) - 0.5))
				for c := 0; c < pw; c++ {
					px := cmplxExp(-2 * math.Pi * fx * ((float64(c)+0.5)/float64(pw) - 0.5))
					dst[r*pw+c] = src[r*pw+c] * py * px
				}
			}
		}
	}
	return out
}

func cmplxExp(phase float64) complex64 {
	s, c := math.Sincos(phase)
	return complex(float32(c), float32(s))
}

// GetVaryingProbe combines the shared probe, eigen probes, and weights
// into a unique probe for every scan position. A nil weights table
// replicates the shared probe.
func GetVaryingProbe(shared *field.Probe, eigen *field.EigenProbe, weights *field.Weights) *field.Wavefield {
	positions := 1
	if weights != nil {
		positions = weights.Positions
	}
	out := field.NewWavefield(shared.Angles, positions, shared.Modes, shared.Height, shared.Width)
	for t := 0; t < shared.Angles; t++ {
		for n := 0; n < positions; n++ {
			for m := 0; m < shared.Modes; m++ {
				dst := out.Plane(t, n, m)
				src := shared.Mode(t, m)
				w0 := float32(1)
				if weights != nil {
					w0 = weights.At(t, n, 0, m)
				}
				for i := range dst {
					dst[i] = src[i] * complex(w0, 0)
				}
				if eigen == nil || weights == nil || m >= eigen.Modes {
					continue
				}
				for e := 0; e < eigen.Eigen; e++ {
					we := weights.At(t, n, e+1, m)
					ep := eigen.Mode(t, e, m)
					for i := range dst {
						dst[i] += ep[i] * complex(we, 0)
					}
				}
			}
		}
	}
	return out
}

// InitVaryingProbe initializes the eigen probes and weights for a
// varying illumination. With numEigenProbes == 1 the shared probe is
// allowed to vary but no extra eigen probes are created (nil eigen
// probe); with numEigenProbes < 1 both returns are nil.
func InitVaryingProbe(scan *field.Scan, shared *field.Probe, numEigenProbes, probesWithModes int, rng *rand.Rand) (*field.EigenProbe, *field.Weights, error) {
	if probesWithModes < 0 {
		probesWithModes = 0
	}
	if probesWithModes > shared.Modes {
		return nil, nil, fmt.Errorf(
			"varying probe: probes with modes (%d) cannot exceed the number of probe modes (%d)",
			probesWithModes, shared.Modes)
	}
	if numEigenProbes < 1 {
		return nil, nil, nil
	}

	weights := field.NewWeights(scan.Angles, scan.Positions, numEigenProbes, shared.Modes)
	for t := 0; t < weights.Angles; t++ {
		for e := 0; e < weights.Eigen; e++ {
			for m := 0; m < weights.Modes; m++ {
				// Tiny zero-mean noise keeps the higher rows from
				// starting exactly degenerate.
				var mean float64
				vals := make([]float32, weights.Positions)
				for n := range vals {
					vals[n] = 1e-6 * rng.Float32()
					mean += float64(vals[n])
				}
				mean /= float64(len(vals))
				for n, v := range vals {
					weights.Set(t, n, e, m, v-float32(mean))
				}
			}
		}
	}
	// The zeroth row multiplies the shared probe and is nonzero by
	// convention; rows for probes without variation stay zero.
	for t := 0; t < weights.Angles; t++ {
		for n := 0; n < weights.Positions; n++ {
			for m := 0; m < weights.Modes; m++ {
				weights.Set(t, n, 0, m, 1)
			}
			for e := 1; e < weights.Eigen; e++ {
				for m := probesWithModes; m < weights.Modes; m++ {
					weights.Set(t, n, e, m, 0)
				}
			}
		}
	}
	if numEigenProbes == 1 {
		return nil, weights, nil
	}

	eigen := field.NewEigenProbe(shared.Angles, numEigenProbes-1, probesWithModes, shared.Height, shared.Width)
	for i := range eigen.Data {
		eigen.Data[i] = complex(rng.Float32(), rng.Float32())
	}
	for t := 0; t < eigen.Angles; t++ {
		for e := 0; e < eigen.Eigen; e++ {
			for m := 0; m < eigen.Modes; m++ {
				normalizeMeanMagnitude(eigen.Mode(t, e, m))
			}
		}
	}
	return eigen, weights, nil
}

// SimulateVaryingWeights generates eigen-probe weights that follow a
// random sinusoid over the scan: unit amplitude, random phase, and a
// period of at most one full scan.
func SimulateVaryingWeights(scan *field.Scan, eigen *field.EigenProbe, rng *rand.Rand) *field.Weights {
	weights := field.NewWeights(scan.Angles, scan.Positions, eigen.Eigen+1, eigen.Modes)
	for t := 0; t < weights.Angles; t++ {
		for e := 0; e < weights.Eigen; e++ {
			for m := 0; m < weights.Modes; m++ {
				period := float64(scan.Positions) * rng.Float64()
				phase := 2 * math.Pi * rng.Float64()
				for n := 0; n < weights.Positions; n++ {
					if e == 0 {
						weights.Set(t, n, e, m, 1)
						continue
					}
					v := math.Sin(2*math.Pi/period*float64(n) - phase)
					weights.Set(t, n, e, m, float32(v))
				}
			}
		}
	}
	return weights
}

// mnorm is the root-mean-square magnitude of a plane.
func mnorm(x []complex64) float64 {
	var sum float64
	for _, c := range x {
		re, im := float64(real(c)), float64(imag(c))
		sum += re*re + im*im
	}
	return math.Sqrt(sum / float64(len(x)))
}

// normalizeMeanMagnitude scales a plane to unit mean magnitude.
func normalizeMeanMagnitude(x []complex64) {
	n := mnorm(x)
	if n == 0 {
		return
	}
	s := complex(float32(1/n), 0)
	for i := range x {
		x[i] *= s
	}
}
