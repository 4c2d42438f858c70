package main

import (
	"math"
	"math/rand"

	"github.com/bob-anderson-ok/ptycho/field"
)

// makeTruthObject builds a smooth synthetic transmission function:
// gentle amplitude rolls and a phase landscape of crossed sinusoids.
// Smooth features keep the simulated patterns well sampled by the
// detector.
func makeTruthObject(width int, rng *rand.Rand) *field.Object {
	obj := field.NewObject(1, width, width)
	plane := obj.Plane(0)
	fy := 1 + rng.Float64()
	fx := 1 + rng.Float64()
	for r := 0; r < width; r++ {
		y := float64(r) / float64(width)
		for c := 0; c < width; c++ {
			x := float64(c) / float64(width)
			amplitude := 0.9 + 0.1*math.Cos(2*math.Pi*fy*y)*math.Cos(2*math.Pi*fx*x)
			phase := 0.5 * math.Sin(2*math.Pi*fx*y) * math.Sin(2*math.Pi*fy*x)
			s, co := math.Sincos(phase)
			plane[r*width+c] = complex(float32(amplitude*co), float32(amplitude*s))
		}
	}
	return obj
}

// makeScanGrid builds a raster scan with sub-pixel jitter. Positions
// are corner coordinates of the probe grid and are kept at least one
// pixel inside the object so bilinear patch extraction never leaves the
// grid.
func makeScanGrid(job ReconstructionJob, rng *rand.Rand) *field.Scan {
	g := job.ScanGridPoints
	scan := field.NewScan(1, g*g)
	min := float32(1)
	max := float32(job.ObjectWidthPixels - job.ProbeWidthPixels - 2)
	for i := 0; i < g; i++ {
		for j := 0; j < g; j++ {
			y := float32(1 + float64(i)*job.ScanStepPixels + rng.Float64())
			x := float32(1 + float64(j)*job.ScanStepPixels + rng.Float64())
			scan.Set(0, i*g+j, clamp(y, min, max), clamp(x, min, max))
		}
	}
	return scan
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
