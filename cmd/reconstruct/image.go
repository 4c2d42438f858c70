package main

import (
	"errors"
	"image"
	"image/png"
	"math"
	"math/cmplx"
	"os"
)

// saveMagnitudePNG writes |plane| as a Gray16 image scaled so the
// brightest pixel maps to full white.
func saveMagnitudePNG(plane []complex64, h, w int, path string) error {
	values := make([]float64, len(plane))
	for i, c := range plane {
		values[i] = cmplx.Abs(complex128(c))
	}
	return saveGray16(values, h, w, path)
}

// savePhasePNG writes arg(plane) as a Gray16 image with -pi mapped to
// black and +pi to white.
func savePhasePNG(plane []complex64, h, w int, path string) error {
	values := make([]float64, len(plane))
	for i, c := range plane {
		values[i] = cmplx.Phase(complex128(c)) + math.Pi
	}
	return saveGray16(values, h, w, path)
}

// saveGray16 maps values linearly onto [0, 65535] and writes a PNG.
// Mapping: Y16 = round(v / max * 65535), NaN and Inf write as 0.
func saveGray16(values []float64, h, w int, path string) error {
	if len(values) != h*w || h == 0 || w == 0 {
		return errors.New("empty or mis-sized value grid")
	}

	var max float64
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v > max {
			max = v
		}
	}
	if max == 0 {
		max = 1
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			v := values[y*w+x]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				// write 0
				i := row + 2*x
				img.Pix[i], img.Pix[i+1] = 0, 0
				continue
			}
			u := math.Round(v / max * 65535)
			if u < 0 {
				u = 0
			} else if u > 65535 {
				u = 65535
			}
			y16 := uint16(u)
			i := row + 2*x
			img.Pix[i], img.Pix[i+1] = uint8(y16>>8), uint8(y16)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
