package probe

import (
	"log/slog"
	"math"
	"sort"

	"github.com/bob-anderson-ok/ptycho/field"
)

// ApplyConstraints applies the enabled probe constraints in a fixed
// order: center the intensity peak, orthogonalize the modes, then
// enforce sparsity. The probe is modified in place.
func ApplyConstraints(p *field.Probe, opts Options) {
	if opts.CenteredIntensityConstraint {
		slog.Info("probe constraint", "kind", "center peak")
		ConstrainCenterPeak(p)
	}
	if opts.OrthogonalityConstraint {
		slog.Info("probe constraint", "kind", "orthogonality")
		for t := 0; t < p.Angles; t++ {
			modes := make([][]complex64, p.Modes)
			for m := range modes {
				modes[m] = p.Mode(t, m)
			}
			OrthogonalizeEig(modes)
		}
	}
	if opts.SparsityConstraint > 0 && opts.SparsityConstraint < 1 {
		slog.Info("probe constraint", "kind", "sparsity", "fraction", opts.SparsityConstraint)
		ConstrainProbeSparsity(p, opts.SparsityConstraint)
	}
}

// ConstrainProbeSparsity zeroes the weakest probe pixels so that at
// most a fraction f of pixels remain nonzero. The pixels to drop are
// chosen from the mode-combined intensity after a low-pass filter, so
// isolated hot pixels do not survive on their own.
func ConstrainProbeSparsity(p *field.Probe, f float64) {
	if f >= 1 {
		return
	}
	h, w := p.Height, p.Width
	size := h * w
	drop := int((1 - f) * float64(size))
	if drop <= 0 {
		return
	}
	intensity := make([]float64, size)
	for t := 0; t < p.Angles; t++ {
		for i := range intensity {
			intensity[i] = 0
		}
		for m := 0; m < p.Modes; m++ {
			mode := p.Mode(t, m)
			for i, c := range mode {
				re, im := float64(real(c)), float64(imag(c))
				intensity[i] += re*re + im*im
			}
		}
		blurred := gaussianBlurWrap(intensity, h, w, float64(h)/8, float64(w)/8)

		order := make([]int, size)
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return blurred[order[a]] < blurred[order[b]] })
		for m := 0; m < p.Modes; m++ {
			mode := p.Mode(t, m)
			for _, i := range order[:drop] {
				mode[i] = 0
			}
		}
	}
}

// ConstrainCenterPeak rolls the probe so the peak of its low-passed
// combined intensity sits at the center of the grid. All modes shift
// together, so their relative alignment is preserved.
func ConstrainCenterPeak(p *field.Probe) {
	h, w := p.Height, p.Width
	size := h * w
	intensity := make([]float64, size)
	for t := 0; t < p.Angles; t++ {
		for i := range intensity {
			intensity[i] = 0
		}
		for m := 0; m < p.Modes; m++ {
			mode := p.Mode(t, m)
			for i, c := range mode {
				re, im := float64(real(c)), float64(imag(c))
				intensity[i] += re*re + im*im
			}
		}
		blurred := gaussianBlurWrap(intensity, h, w, float64(h)/2, float64(w)/2)

		peak, best := 0, blurred[0]
		for i, v := range blurred {
			if v > best {
				peak, best = i, v
			}
		}
		dy := h/2 - peak/w
		dx := w/2 - peak%w
		if dy == 0 && dx == 0 {
			continue
		}
		for m := 0; m < p.Modes; m++ {
			rollPlane(p.Mode(t, m), h, w, dy, dx)
		}
	}
}

// rollPlane shifts a plane circularly by (dy, dx).
func rollPlane(x []complex64, h, w, dy, dx int) {
	out := make([]complex64, len(x))
	for r := 0; r < h; r++ {
		rr := ((r + dy) % h + h) % h
		for c := 0; c < w; c++ {
			cc := ((c + dx) % w + w) % w
			out[rr*w+cc] = x[r*w+c]
		}
	}
	copy(x, out)
}

// gaussianBlurWrap applies a separable gaussian low-pass with circular
// boundary handling.
func gaussianBlurWrap(x []float64, h, w int, sigmaY, sigmaX float64) []float64 {
	tmp := make([]float64, len(x))
	out := make([]float64, len(x))

	ky := gaussianKernel(sigmaY)
	ry := len(ky) / 2
	for c := 0; c < w; c++ {
		for r := 0; r < h; r++ {
			var sum float64
			for i, g := range ky {
				rr := ((r + i - ry) % h + h) % h
				sum += g * x[rr*w+c]
			}
			tmp[r*w+c] = sum
		}
	}

	kx := gaussianKernel(sigmaX)
	rx := len(kx) / 2
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			var sum float64
			for i, g := range kx {
				cc := ((c + i - rx) % w + w) % w
				sum += g * tmp[r*w+cc]
			}
			out[r*w+c] = sum
		}
	}
	return out
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	if radius < 1 {
		radius = 1
	}
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := range k {
		d := float64(i - radius)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}
