package operators

import (
	"errors"

	"github.com/bob-anderson-ok/ptycho/field"
)

// Ptycho composes patch extraction and Fourier propagation into the
// full ptychography forward model
//
//	farplane = Propagation.Fwd(Patch.Fwd(psi, scan) * probe)
//
// and exposes the matching adjoints and noise-model cost/gradient at
// the full-model level.
type Ptycho struct {
	Propagation *Propagation
	Diffraction *Convolution
}

// NewPtycho reserves the composed operator stack. Callers should defer
// Close on the returned operator; on constructor failure any partially
// acquired sub-operator has already been released.
func NewPtycho(model Model, probeWidth, detectorWidth, fly int) (*Ptycho, error) {
	prop, err := NewPropagation(model, detectorWidth, fly)
	if err != nil {
		return nil, err
	}
	diff, err := NewConvolution(probeWidth, detectorWidth, fly)
	if err != nil {
		prop.Close()
		return nil, err
	}
	return &Ptycho{Propagation: prop, Diffraction: diff}, nil
}

// Close releases both nested operators, regardless of whether either
// release fails.
func (op *Ptycho) Close() error {
	return errors.Join(op.Propagation.Close(), op.Diffraction.Close())
}

// Fwd runs the full forward model from object, scan, and probe to the
// farplane.
func (op *Ptycho) Fwd(probe *field.Probe, scan *field.Scan, psi *field.Object) (*field.Wavefield, error) {
	nearplane, err := op.Diffraction.Fwd(psi, scan, probe)
	if err != nil {
		return nil, err
	}
	return op.Propagation.Fwd(nearplane)
}

// Adj back-propagates a farplane field and scatters it into an
// object-space gradient of the given size.
func (op *Ptycho) Adj(farplane *field.Wavefield, probe *field.Probe, scan *field.Scan, height, width int) (*field.Object, error) {
	nearplane, err := op.Propagation.Adj(farplane)
	if err != nil {
		return nil, err
	}
	return op.Diffraction.Adj(nearplane, scan, probe, height, width)
}

// AdjProbe back-propagates a farplane field and reduces it to a
// probe-space gradient, holding the object patches fixed.
func (op *Ptycho) AdjProbe(farplane *field.Wavefield, scan *field.Scan, psi *field.Object) (*field.Probe, error) {
	nearplane, err := op.Propagation.Adj(farplane)
	if err != nil {
		return nil, err
	}
	return op.Diffraction.AdjProbe(nearplane, scan, psi)
}

// Cost evaluates the noise-model objective for the current estimates.
func (op *Ptycho) Cost(data *field.Intensity, psi *field.Object, scan *field.Scan, probe *field.Probe) (float64, error) {
	farplane, err := op.Fwd(probe, scan, psi)
	if err != nil {
		return 0, err
	}
	intensity, err := op.Propagation.Intensity(farplane)
	if err != nil {
		return 0, err
	}
	return op.Propagation.Cost(data, intensity)
}

// Grad evaluates the object-space gradient of the noise-model
// objective for the current estimates.
func (op *Ptycho) Grad(data *field.Intensity, psi *field.Object, scan *field.Scan, probe *field.Probe) (*field.Object, error) {
	diff, err := op.farplaneGrad(data, psi, scan, probe)
	if err != nil {
		return nil, err
	}
	return op.Adj(diff, probe, scan, psi.Height, psi.Width)
}

// GradProbe evaluates the probe-space gradient of the noise-model
// objective for the current estimates.
func (op *Ptycho) GradProbe(data *field.Intensity, psi *field.Object, scan *field.Scan, probe *field.Probe) (*field.Probe, error) {
	diff, err := op.farplaneGrad(data, psi, scan, probe)
	if err != nil {
		return nil, err
	}
	return op.AdjProbe(diff, scan, psi)
}

func (op *Ptycho) farplaneGrad(data *field.Intensity, psi *field.Object, scan *field.Scan, probe *field.Probe) (*field.Wavefield, error) {
	farplane, err := op.Fwd(probe, scan, psi)
	if err != nil {
		return nil, err
	}
	intensity, err := op.Propagation.Intensity(farplane)
	if err != nil {
		return nil, err
	}
	return op.Propagation.Grad(data, farplane, intensity)
}
