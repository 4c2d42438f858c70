package operators

import (
	"fmt"

	"github.com/bob-anderson-ok/ptycho/field"
)

// Convolution forms the nearplane by multiplying object patches with
// the probe. Patches are extracted at probe width and centered inside
// detector-sized planes with a zero border, so the probe-sized region
// of any nearplane plane lives at [Pad:End) in both axes.
type Convolution struct {
	ProbeWidth    int
	DetectorWidth int
	Fly           int

	patch *Patch
	pad   int
	end   int
}

// NewConvolution reserves a diffraction operator for the given probe
// and detector widths.
func NewConvolution(probeWidth, detectorWidth, fly int) (*Convolution, error) {
	if probeWidth < 1 || detectorWidth < probeWidth {
		return nil, fmt.Errorf("convolution: need 0 < probe width <= detector width, got %d and %d",
			probeWidth, detectorWidth)
	}
	if fly < 1 {
		return nil, fmt.Errorf("convolution: fly factor must be positive, got %d", fly)
	}
	pad := (detectorWidth - probeWidth) / 2
	return &Convolution{
		ProbeWidth:    probeWidth,
		DetectorWidth: detectorWidth,
		Fly:           fly,
		patch:         NewPatch(),
		pad:           pad,
		end:           pad + probeWidth,
	}, nil
}

// Close releases the nested patch operator.
func (op *Convolution) Close() error { return op.patch.Close() }

// Pad is the offset of the probe-sized region inside a detector plane.
func (op *Convolution) Pad() int { return op.pad }

// End is one past the probe-sized region inside a detector plane.
func (op *Convolution) End() int { return op.end }

// Patches extracts the unpadded object patches at each scan position.
func (op *Convolution) Patches(psi *field.Object, scan *field.Scan) (*field.Stack, error) {
	return op.patch.Fwd(psi, scan, nil, op.ProbeWidth, 1)
}

// PatchAdj scatters a stack of probe-width patches into an object-sized
// accumulator, summing overlapping contributions.
func (op *Convolution) PatchAdj(scan *field.Scan, patches *field.Stack, height, width int) (*field.Object, error) {
	return op.patch.Adj(scan, patches, nil, height, width, op.ProbeWidth, 1)
}

// Fwd computes the nearplane: object patches times the probe, centered
// in detector-sized planes.
func (op *Convolution) Fwd(psi *field.Object, scan *field.Scan, probe *field.Probe) (*field.Wavefield, error) {
	if err := op.checkProbe(probe); err != nil {
		return nil, err
	}
	if psi.Angles != scan.Angles || psi.Angles != probe.Angles {
		return nil, field.ShapeError("convolution fwd: leading dimensions",
			[3]int{psi.Angles, scan.Angles, probe.Angles}, "equal angle counts")
	}
	if scan.Positions%op.Fly != 0 {
		return nil, field.ShapeError("convolution fwd: scan positions",
			scan.Positions, fmt.Sprintf("multiple of fly factor %d", op.Fly))
	}
	patches, err := op.Patches(psi, scan)
	if err != nil {
		return nil, err
	}
	near := field.NewWavefield(psi.Angles, scan.Positions, probe.Modes, op.DetectorWidth, op.DetectorWidth)
	w := op.ProbeWidth
	for t := 0; t < near.Angles; t++ {
		for n := 0; n < near.Positions; n++ {
			pp := patches.Plane(t, n)
			for m := 0; m < near.Modes; m++ {
				pr := probe.Mode(t, m)
				dst := near.Plane(t, n, m)
				for r := 0; r < w; r++ {
					for c := 0; c < w; c++ {
						dst[(op.pad+r)*op.DetectorWidth+op.pad+c] = pp[r*w+c] * pr[r*w+c]
					}
				}
			}
		}
	}
	return near, nil
}

// Adj computes the object-space adjoint: conj(probe) times the probe
// region of the nearplane, summed over modes and scattered back into an
// object grid of the given size.
func (op *Convolution) Adj(nearplane *field.Wavefield, scan *field.Scan, probe *field.Probe, height, width int) (*field.Object, error) {
	if err := op.checkProbe(probe); err != nil {
		return nil, err
	}
	if err := op.checkNearplane(nearplane, scan, probe); err != nil {
		return nil, err
	}
	w := op.ProbeWidth
	patches := field.NewStack(nearplane.Angles, nearplane.Positions, w, w)
	for t := 0; t < nearplane.Angles; t++ {
		for n := 0; n < nearplane.Positions; n++ {
			dst := patches.Plane(t, n)
			for m := 0; m < nearplane.Modes; m++ {
				pr := probe.Mode(t, m)
				src := nearplane.Plane(t, n, m)
				for r := 0; r < w; r++ {
					for c := 0; c < w; c++ {
						dst[r*w+c] += src[(op.pad+r)*op.DetectorWidth+op.pad+c] * conj64(pr[r*w+c])
					}
				}
			}
		}
	}
	return op.PatchAdj(scan, patches, height, width)
}

// AdjProbe computes the probe-space adjoint: conj(object patches) times
// the probe region of the nearplane, summed over positions.
func (op *Convolution) AdjProbe(nearplane *field.Wavefield, scan *field.Scan, psi *field.Object) (*field.Probe, error) {
	patches, err := op.Patches(psi, scan)
	if err != nil {
		return nil, err
	}
	if nearplane.Angles != scan.Angles || nearplane.Positions != scan.Positions ||
		nearplane.Height != op.DetectorWidth || nearplane.Width != op.DetectorWidth {
		return nil, field.ShapeError("convolution adj probe: nearplane",
			[4]int{nearplane.Angles, nearplane.Positions, nearplane.Height, nearplane.Width},
			[4]int{scan.Angles, scan.Positions, op.DetectorWidth, op.DetectorWidth})
	}
	w := op.ProbeWidth
	grad := field.NewProbe(nearplane.Angles, nearplane.Modes, w, w)
	for t := 0; t < nearplane.Angles; t++ {
		for m := 0; m < nearplane.Modes; m++ {
			dst := grad.Mode(t, m)
			for n := 0; n < nearplane.Positions; n++ {
				pp := patches.Plane(t, n)
				src := nearplane.Plane(t, n, m)
				for r := 0; r < w; r++ {
					for c := 0; c < w; c++ {
						dst[r*w+c] += src[(op.pad+r)*op.DetectorWidth+op.pad+c] * conj64(pp[r*w+c])
					}
				}
			}
		}
	}
	return grad, nil
}

func (op *Convolution) checkProbe(probe *field.Probe) error {
	if probe.Height != op.ProbeWidth || probe.Width != op.ProbeWidth {
		return field.ShapeError("convolution: probe size",
			[2]int{probe.Height, probe.Width}, [2]int{op.ProbeWidth, op.ProbeWidth})
	}
	return nil
}

func (op *Convolution) checkNearplane(nearplane *field.Wavefield, scan *field.Scan, probe *field.Probe) error {
	if nearplane.Angles != scan.Angles || nearplane.Positions != scan.Positions ||
		nearplane.Modes != probe.Modes ||
		nearplane.Height != op.DetectorWidth || nearplane.Width != op.DetectorWidth {
		return field.ShapeError("convolution: nearplane",
			[5]int{nearplane.Angles, nearplane.Positions, nearplane.Modes, nearplane.Height, nearplane.Width},
			[5]int{scan.Angles, scan.Positions, probe.Modes, op.DetectorWidth, op.DetectorWidth})
	}
	return nil
}

func conj64(c complex64) complex64 {
	return complex(real(c), -imag(c))
}
