package operators

import (
	"fmt"
	"math"

	"github.com/bob-anderson-ok/ptycho/field"
)

// Costs are mean-reduced instead of sum-reduced so that values remain
// comparable when mini-batches of different sizes are used.

// epsObjective guards square roots, divisions, and logarithms of
// measured or modeled intensities near zero.
const epsObjective = 1e-9

// Model selects the noise model used for the objective function and its
// gradient.
type Model int

const (
	// Gaussian models detector amplitudes with additive Gaussian noise.
	Gaussian Model = iota
	// Poisson models detector counts with Poisson statistics.
	Poisson
)

// ParseModel converts a parameter-file name into a Model.
func ParseModel(name string) (Model, error) {
	switch name {
	case "gaussian":
		return Gaussian, nil
	case "poisson":
		return Poisson, nil
	}
	return 0, fmt.Errorf("unknown noise model %q (want gaussian or poisson)", name)
}

func (m Model) String() string {
	switch m {
	case Gaussian:
		return "gaussian"
	case Poisson:
		return "poisson"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// objective bundles the cost, gradient, and per-pattern diagnostic for
// one noise model. The table is resolved once at operator construction,
// never per call.
type objective struct {
	cost func(data, intensity *field.Intensity) float64
	each func(data, intensity *field.Intensity) []float64
	grad func(data *field.Intensity, farplane *field.Wavefield, intensity *field.Intensity, fly int) *field.Wavefield
}

func (m Model) objective() (objective, error) {
	switch m {
	case Gaussian:
		return objective{cost: GaussianCost, each: GaussianEachPattern, grad: gaussianGrad}, nil
	case Poisson:
		return objective{cost: PoissonCost, each: PoissonEachPattern, grad: poissonGrad}, nil
	}
	return objective{}, fmt.Errorf("unknown noise model %v", m)
}

// GaussianCost is the Gaussian-model objective
// mean(|sqrt(intensity) - sqrt(data)|^2).
func GaussianCost(data, intensity *field.Intensity) float64 {
	var sum float64
	for i, d := range data.Data {
		diff := math.Sqrt(float64(intensity.Data[i])) - math.Sqrt(float64(d))
		sum += diff * diff
	}
	return sum / float64(len(data.Data))
}

// GaussianEachPattern is the Gaussian-model objective reduced only over
// the detector axes, one value per diffraction pattern.
func GaussianEachPattern(data, intensity *field.Intensity) []float64 {
	costs := make([]float64, data.Angles*data.Positions)
	n := data.Height * data.Width
	for p := range costs {
		var sum float64
		for i := p * n; i < (p+1)*n; i++ {
			diff := math.Sqrt(float64(intensity.Data[i])) - math.Sqrt(float64(data.Data[i]))
			sum += diff * diff
		}
		costs[p] = sum / float64(n)
	}
	return costs
}

func gaussianGrad(data *field.Intensity, farplane *field.Wavefield, intensity *field.Intensity, fly int) *field.Wavefield {
	out := field.NewWavefield(farplane.Angles, farplane.Positions, farplane.Modes, farplane.Height, farplane.Width)
	broadcastFactor(data, farplane, out, fly, func(d, i float32) float64 {
		return 1 - math.Sqrt(float64(d))/(math.Sqrt(float64(i))+epsObjective)
	}, intensity)
	return out
}

// PoissonCost is the Poisson-model objective
// mean(intensity - data*log(intensity + eps)).
func PoissonCost(data, intensity *field.Intensity) float64 {
	var sum float64
	for i, d := range data.Data {
		in := float64(intensity.Data[i])
		sum += in - float64(d)*math.Log(in+epsObjective)
	}
	return sum / float64(len(data.Data))
}

// PoissonEachPattern is the Poisson-model objective reduced only over
// the detector axes, one value per diffraction pattern.
func PoissonEachPattern(data, intensity *field.Intensity) []float64 {
	costs := make([]float64, data.Angles*data.Positions)
	n := data.Height * data.Width
	for p := range costs {
		var sum float64
		for i := p * n; i < (p+1)*n; i++ {
			in := float64(intensity.Data[i])
			sum += in - float64(data.Data[i])*math.Log(in+epsObjective)
		}
		costs[p] = sum / float64(n)
	}
	return costs
}

func poissonGrad(data *field.Intensity, farplane *field.Wavefield, intensity *field.Intensity, fly int) *field.Wavefield {
	out := field.NewWavefield(farplane.Angles, farplane.Positions, farplane.Modes, farplane.Height, farplane.Width)
	broadcastFactor(data, farplane, out, fly, func(d, i float32) float64 {
		return 1 - float64(d)/(float64(i)+epsObjective)
	}, intensity)
	return out
}

// broadcastFactor multiplies each farplane plane by a real per-detector
// factor derived from the matching (data, intensity) pattern, expanding
// the pattern over its fly positions and probe modes.
func broadcastFactor(data *field.Intensity, farplane, out *field.Wavefield, fly int,
	factor func(d, i float32) float64, intensity *field.Intensity) {
	for t := 0; t < data.Angles; t++ {
		for g := 0; g < data.Positions; g++ {
			d := data.Plane(t, g)
			in := intensity.Plane(t, g)
			for f := 0; f < fly; f++ {
				for m := 0; m < farplane.Modes; m++ {
					src := farplane.Plane(t, g*fly+f, m)
					dst := out.Plane(t, g*fly+f, m)
					for i := range src {
						dst[i] = src[i] * complex64(complex(factor(d[i], in[i]), 0))
					}
				}
			}
		}
	}
}
