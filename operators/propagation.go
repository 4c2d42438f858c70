package operators

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/bob-anderson-ok/ptycho/field"
)

// Propagation applies unitary Fourier-based free-space propagation
// between the nearplane and the detector farplane, and evaluates the
// selected noise-model objective.
//
// The transforms run in complex128 scratch and the results are cast
// back to complex64, the fixed dtype of all wavefields.
type Propagation struct {
	// Model identifies the noise model whose cost and gradient this
	// operator evaluates.
	Model Model
	// Fly is the number of consecutive farplane positions integrated
	// into one measured diffraction pattern.
	Fly int

	detector int
	obj      objective
	fft      *fourier.CmplxFFT
	row      []complex128
	col      []complex128
}

// NewPropagation reserves transform plans and scratch for square
// detector planes of the given width.
func NewPropagation(model Model, detector, fly int) (*Propagation, error) {
	if detector < 1 {
		return nil, fmt.Errorf("propagation: detector width must be positive, got %d", detector)
	}
	if fly < 1 {
		return nil, fmt.Errorf("propagation: fly factor must be positive, got %d", fly)
	}
	obj, err := model.objective()
	if err != nil {
		return nil, err
	}
	return &Propagation{
		Model:    model,
		Fly:      fly,
		detector: detector,
		obj:      obj,
		fft:      fourier.NewCmplxFFT(detector),
		row:      make([]complex128, detector),
		col:      make([]complex128, detector),
	}, nil
}

// Close releases the transform plan and scratch buffers.
func (op *Propagation) Close() error {
	op.fft = nil
	op.row = nil
	op.col = nil
	return nil
}

// Fwd propagates the nearplane to the farplane.
func (op *Propagation) Fwd(nearplane *field.Wavefield) (*field.Wavefield, error) {
	return op.transform(nearplane, true)
}

// Adj propagates the farplane back to the nearplane. It is the exact
// adjoint (and inverse) of Fwd.
func (op *Propagation) Adj(farplane *field.Wavefield) (*field.Wavefield, error) {
	return op.transform(farplane, false)
}

func (op *Propagation) transform(in *field.Wavefield, forward bool) (*field.Wavefield, error) {
	if op.fft == nil {
		return nil, errors.New("propagation: operator is closed")
	}
	if in.Height != op.detector || in.Width != op.detector {
		return nil, field.ShapeError("propagation: plane size",
			[2]int{in.Height, in.Width}, [2]int{op.detector, op.detector})
	}
	out := field.NewWavefield(in.Angles, in.Positions, in.Modes, in.Height, in.Width)
	n := op.detector
	// Unitary normalization: gonum's transforms are unnormalized, so a
	// full 2D pass is scaled by 1/n once per direction.
	scale := complex(1/float64(n), 0)
	planes := in.Angles * in.Positions * in.Modes
	for pl := 0; pl < planes; pl++ {
		src := in.Data[pl*n*n : (pl+1)*n*n]
		dst := out.Data[pl*n*n : (pl+1)*n*n]
		// Rows.
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				op.row[x] = complex128(src[y*n+x])
			}
			if forward {
				op.fft.Coefficients(op.row, op.row)
			} else {
				op.fft.Sequence(op.row, op.row)
			}
			for x := 0; x < n; x++ {
				dst[y*n+x] = complex64(op.row[x])
			}
		}
		// Columns.
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				op.col[y] = complex128(dst[y*n+x])
			}
			if forward {
				op.fft.Coefficients(op.col, op.col)
			} else {
				op.fft.Sequence(op.col, op.col)
			}
			for y := 0; y < n; y++ {
				dst[y*n+x] = complex64(op.col[y] * scale)
			}
		}
	}
	return out, nil
}

// Intensity reduces the farplane to modeled detector intensities: the
// squared modulus summed over probe modes and over each fly group of
// consecutive positions.
func (op *Propagation) Intensity(farplane *field.Wavefield) (*field.Intensity, error) {
	if farplane.Positions%op.Fly != 0 {
		return nil, field.ShapeError("propagation: farplane positions",
			farplane.Positions, fmt.Sprintf("multiple of fly factor %d", op.Fly))
	}
	patterns := farplane.Positions / op.Fly
	out := field.NewIntensity(farplane.Angles, patterns, farplane.Height, farplane.Width)
	for t := 0; t < farplane.Angles; t++ {
		for g := 0; g < patterns; g++ {
			dst := out.Plane(t, g)
			for f := 0; f < op.Fly; f++ {
				for m := 0; m < farplane.Modes; m++ {
					src := farplane.Plane(t, g*op.Fly+f, m)
					for i, c := range src {
						re, im := real(c), imag(c)
						dst[i] += re*re + im*im
					}
				}
			}
		}
	}
	return out, nil
}

// Cost evaluates the noise-model objective, mean-reduced so values are
// comparable across mini-batches of different sizes.
func (op *Propagation) Cost(data, intensity *field.Intensity) (float64, error) {
	if err := sameIntensityShape("propagation cost", data, intensity); err != nil {
		return math.NaN(), err
	}
	return op.obj.cost(data, intensity), nil
}

// CostEachPattern evaluates the objective reduced only over the
// detector axes, one value per diffraction pattern.
func (op *Propagation) CostEachPattern(data, intensity *field.Intensity) ([]float64, error) {
	if err := sameIntensityShape("propagation cost", data, intensity); err != nil {
		return nil, err
	}
	return op.obj.each(data, intensity), nil
}

// Grad evaluates the noise-model gradient with respect to the farplane,
// broadcasting the per-pattern factor over fly positions and modes.
func (op *Propagation) Grad(data *field.Intensity, farplane *field.Wavefield, intensity *field.Intensity) (*field.Wavefield, error) {
	if err := sameIntensityShape("propagation grad", data, intensity); err != nil {
		return nil, err
	}
	if farplane.Angles != data.Angles || farplane.Positions != data.Positions*op.Fly ||
		farplane.Height != data.Height || farplane.Width != data.Width {
		return nil, field.ShapeError("propagation grad: farplane",
			[4]int{farplane.Angles, farplane.Positions, farplane.Height, farplane.Width},
			[4]int{data.Angles, data.Positions * op.Fly, data.Height, data.Width})
	}
	return op.obj.grad(data, farplane, intensity, op.Fly), nil
}

func sameIntensityShape(what string, a, b *field.Intensity) error {
	if a.Angles != b.Angles || a.Positions != b.Positions || a.Height != b.Height || a.Width != b.Width {
		return field.ShapeError(what,
			[4]int{b.Angles, b.Positions, b.Height, b.Width},
			[4]int{a.Angles, a.Positions, a.Height, a.Width})
	}
	return nil
}
