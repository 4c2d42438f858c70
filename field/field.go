// Package field defines the shaped array values exchanged between the
// ptychography operators. Every type carries its dimensions by name
// (angle, position, mode, ...) so that operator boundaries can check
// agreement explicitly instead of relying on implicit broadcasting.
//
// Dtype conventions are fixed: complex wavefields are complex64 and
// positions, weights, and intensities are float32.
package field

import "fmt"

// Object is the complex transmission of the sample, one 2D grid per
// angular view.
type Object struct {
	Angles int
	Height int
	Width  int
	Data   []complex64
}

// NewObject returns a zero-filled object grid.
func NewObject(angles, height, width int) *Object {
	return &Object{
		Angles: angles,
		Height: height,
		Width:  width,
		Data:   make([]complex64, angles*height*width),
	}
}

// Plane returns the 2D grid for one angular view as a flat row-major slice.
func (o *Object) Plane(angle int) []complex64 {
	n := o.Height * o.Width
	return o.Data[angle*n : (angle+1)*n]
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	c := NewObject(o.Angles, o.Height, o.Width)
	copy(c.Data, o.Data)
	return c
}

// Scan holds float-valued scan positions, one (y, x) pair per
// measurement, grouped by angular view. Coordinates locate the minimum
// corner of the probe grid in object pixels.
type Scan struct {
	Angles    int
	Positions int
	Coords    []float32 // len = Angles*Positions*2, y then x
}

// NewScan returns a zero-filled position set.
func NewScan(angles, positions int) *Scan {
	return &Scan{
		Angles:    angles,
		Positions: positions,
		Coords:    make([]float32, angles*positions*2),
	}
}

// At returns the (y, x) coordinates of one position.
func (s *Scan) At(angle, position int) (y, x float32) {
	i := 2 * (angle*s.Positions + position)
	return s.Coords[i], s.Coords[i+1]
}

// Set stores the (y, x) coordinates of one position.
func (s *Scan) Set(angle, position int, y, x float32) {
	i := 2 * (angle*s.Positions + position)
	s.Coords[i] = y
	s.Coords[i+1] = x
}

// Probe is the shared illumination: one or more incoherent modes of
// fixed width and height per angular view.
type Probe struct {
	Angles int
	Modes  int
	Height int
	Width  int
	Data   []complex64
}

// NewProbe returns a zero-filled probe.
func NewProbe(angles, modes, height, width int) *Probe {
	return &Probe{
		Angles: angles,
		Modes:  modes,
		Height: height,
		Width:  width,
		Data:   make([]complex64, angles*modes*height*width),
	}
}

// Mode returns one probe mode as a flat row-major slice.
func (p *Probe) Mode(angle, mode int) []complex64 {
	n := p.Height * p.Width
	i := angle*p.Modes + mode
	return p.Data[i*n : (i+1)*n]
}

// Clone returns a deep copy.
func (p *Probe) Clone() *Probe {
	c := NewProbe(p.Angles, p.Modes, p.Height, p.Width)
	copy(c.Data, p.Data)
	return c
}

// Stack is a stack of square complex patches per angular view, such as
// the object sub-images extracted at each scan position.
type Stack struct {
	Angles int
	Count  int
	Height int
	Width  int
	Data   []complex64
}

// NewStack returns a zero-filled patch stack.
func NewStack(angles, count, height, width int) *Stack {
	return &Stack{
		Angles: angles,
		Count:  count,
		Height: height,
		Width:  width,
		Data:   make([]complex64, angles*count*height*width),
	}
}

// Plane returns one patch as a flat row-major slice.
func (s *Stack) Plane(angle, index int) []complex64 {
	n := s.Height * s.Width
	i := angle*s.Count + index
	return s.Data[i*n : (i+1)*n]
}

// Clone returns a deep copy.
func (s *Stack) Clone() *Stack {
	c := NewStack(s.Angles, s.Count, s.Height, s.Width)
	copy(c.Data, s.Data)
	return c
}

// Wavefield is a complex field with one plane per (angle, position,
// mode), used for the nearplane and farplane.
type Wavefield struct {
	Angles    int
	Positions int
	Modes     int
	Height    int
	Width     int
	Data      []complex64
}

// NewWavefield returns a zero-filled wavefield.
func NewWavefield(angles, positions, modes, height, width int) *Wavefield {
	return &Wavefield{
		Angles:    angles,
		Positions: positions,
		Modes:     modes,
		Height:    height,
		Width:     width,
		Data:      make([]complex64, angles*positions*modes*height*width),
	}
}

// Plane returns the 2D plane for one (angle, position, mode) triple.
func (w *Wavefield) Plane(angle, position, mode int) []complex64 {
	n := w.Height * w.Width
	i := (angle*w.Positions+position)*w.Modes + mode
	return w.Data[i*n : (i+1)*n]
}

// Clone returns a deep copy.
func (w *Wavefield) Clone() *Wavefield {
	c := NewWavefield(w.Angles, w.Positions, w.Modes, w.Height, w.Width)
	copy(c.Data, w.Data)
	return c
}

// Intensity holds real, nonnegative detector-plane values: either
// measured diffraction data or modeled |farplane|^2 summed over modes.
type Intensity struct {
	Angles    int
	Positions int
	Height    int
	Width     int
	Data      []float32
}

// NewIntensity returns a zero-filled intensity set.
func NewIntensity(angles, positions, height, width int) *Intensity {
	return &Intensity{
		Angles:    angles,
		Positions: positions,
		Height:    height,
		Width:     width,
		Data:      make([]float32, angles*positions*height*width),
	}
}

// Plane returns the detector plane for one (angle, position) pair.
func (d *Intensity) Plane(angle, position int) []float32 {
	n := d.Height * d.Width
	i := angle*d.Positions + position
	return d.Data[i*n : (i+1)*n]
}

// EigenProbe holds the low-rank basis modes spanning per-position probe
// variation. The eigen axis does not include the shared probe itself.
type EigenProbe struct {
	Angles int
	Eigen  int
	Modes  int
	Height int
	Width  int
	Data   []complex64
}

// NewEigenProbe returns a zero-filled eigen-probe set.
func NewEigenProbe(angles, eigen, modes, height, width int) *EigenProbe {
	return &EigenProbe{
		Angles: angles,
		Eigen:  eigen,
		Modes:  modes,
		Height: height,
		Width:  width,
		Data:   make([]complex64, angles*eigen*modes*height*width),
	}
}

// Mode returns one eigen mode as a flat row-major slice.
func (e *EigenProbe) Mode(angle, eigen, mode int) []complex64 {
	n := e.Height * e.Width
	i := (angle*e.Eigen+eigen)*e.Modes + mode
	return e.Data[i*n : (i+1)*n]
}

// Clone returns a deep copy.
func (e *EigenProbe) Clone() *EigenProbe {
	c := NewEigenProbe(e.Angles, e.Eigen, e.Modes, e.Height, e.Width)
	copy(c.Data, e.Data)
	return c
}

// Weights maps each scan position into the eigen-probe space. The
// zeroth eigen row multiplies the shared probe and is nonzero by
// convention; the remaining rows are zero-mean across positions.
type Weights struct {
	Angles    int
	Positions int
	Eigen     int
	Modes     int
	Data      []float32
}

// NewWeights returns a zero-filled weight table.
func NewWeights(angles, positions, eigen, modes int) *Weights {
	return &Weights{
		Angles:    angles,
		Positions: positions,
		Eigen:     eigen,
		Modes:     modes,
		Data:      make([]float32, angles*positions*eigen*modes),
	}
}

// At returns one weight.
func (w *Weights) At(angle, position, eigen, mode int) float32 {
	return w.Data[w.index(angle, position, eigen, mode)]
}

// Set stores one weight.
func (w *Weights) Set(angle, position, eigen, mode int, v float32) {
	w.Data[w.index(angle, position, eigen, mode)] = v
}

func (w *Weights) index(angle, position, eigen, mode int) int {
	return ((angle*w.Positions+position)*w.Eigen+eigen)*w.Modes + mode
}

// Clone returns a deep copy.
func (w *Weights) Clone() *Weights {
	c := NewWeights(w.Angles, w.Positions, w.Eigen, w.Modes)
	copy(c.Data, w.Data)
	return c
}

// ShapeError reports a dimension disagreement at an operator boundary.
func ShapeError(what string, got, want any) error {
	return fmt.Errorf("%s: shape mismatch: got %v, want %v", what, got, want)
}
