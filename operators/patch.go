package operators

import (
	"fmt"
	"math"

	"github.com/bob-anderson-ok/ptycho/field"
)

// Patch extracts zero-padded square patches from object grids at
// float-valued scan positions, and scatters them back.
//
// Positions locate the minimum corner of each patch in object pixels.
// Fractional positions are resolved by bilinear interpolation; the
// adjoint scatters through the transposed interpolation weights, so
// Fwd and Adj form an exact adjoint pair.
type Patch struct{}

// NewPatch returns a patch operator.
func NewPatch() *Patch { return &Patch{} }

// Close releases the operator. The patch operator holds no retained
// resources but participates in the scoped-resource contract.
func (op *Patch) Close() error { return nil }

// patchArgs carries the ordered kernel parameters shared by the forward
// and adjoint patch kernels.
type patchArgs struct {
	images      []complex64
	patches     []complex64
	positions   []float32
	nimage      int
	height      int
	width       int
	npositions  int
	nrepeat     int
	patchWidth  int
	paddedWidth int
	groups      int // adjoint only: number of patch planes per image
	block       int
}

// Fwd extracts patches of patchWidth from images at positions. Each
// position yields nrepeat identical consecutive patches. When patches
// is nil a buffer of shape (angles, N*nrepeat, patchWidth, patchWidth)
// is allocated; otherwise the patch content is centered inside the
// supplied (possibly wider) planes with a zero border.
func (op *Patch) Fwd(images *field.Object, positions *field.Scan, patches *field.Stack, patchWidth, nrepeat int) (*field.Stack, error) {
	if nrepeat < 1 {
		return nil, fmt.Errorf("patch fwd: nrepeat must be positive, got %d", nrepeat)
	}
	if patches == nil {
		if patchWidth < 1 {
			return nil, fmt.Errorf("patch fwd: patch width must be positive, got %d", patchWidth)
		}
		patches = field.NewStack(positions.Angles, positions.Positions*nrepeat, patchWidth, patchWidth)
	}
	if patchWidth == 0 {
		patchWidth = patches.Width
	}
	if patchWidth > patches.Width || patches.Height != patches.Width {
		return nil, field.ShapeError("patch fwd: patch buffer",
			[2]int{patches.Height, patches.Width}, fmt.Sprintf("square planes of width >= %d", patchWidth))
	}
	if images.Angles != positions.Angles || positions.Angles != patches.Angles {
		return nil, field.ShapeError("patch fwd: leading dimensions",
			[3]int{images.Angles, positions.Angles, patches.Angles}, "equal angle counts")
	}
	if positions.Positions*nrepeat != patches.Count {
		return nil, field.ShapeError("patch fwd: patch count",
			patches.Count, positions.Positions*nrepeat)
	}

	args := patchArgs{
		images:      images.Data,
		patches:     patches.Data,
		positions:   positions.Coords,
		nimage:      images.Angles,
		height:      images.Height,
		width:       images.Width,
		npositions:  positions.Positions,
		nrepeat:     nrepeat,
		patchWidth:  patchWidth,
		paddedWidth: patches.Width,
		block:       blockSize(patchWidth),
	}
	// One invocation per (position, image, patch row). Writes never
	// overlap, so the whole grid runs concurrently.
	launch(args.npositions*args.nimage*patchWidth, func(g int) {
		p := g / (args.nimage * args.patchWidth)
		rest := g % (args.nimage * args.patchWidth)
		fwdPatchKernel(&args, p, rest/args.patchWidth, rest%args.patchWidth)
	})
	return patches, nil
}

// Adj scatters patches back into image-sized accumulators, summing
// overlapping contributions. When images is nil a zeroed accumulator of
// (angles, height, width) is allocated; otherwise contributions are
// added to the supplied grids.
func (op *Patch) Adj(positions *field.Scan, patches *field.Stack, images *field.Object, height, width, patchWidth, nrepeat int) (*field.Object, error) {
	if nrepeat < 1 {
		return nil, fmt.Errorf("patch adj: nrepeat must be positive, got %d", nrepeat)
	}
	if patchWidth == 0 {
		patchWidth = patches.Width
	}
	if patchWidth > patches.Width || patches.Height != patches.Width {
		return nil, field.ShapeError("patch adj: patch buffer",
			[2]int{patches.Height, patches.Width}, fmt.Sprintf("square planes of width >= %d", patchWidth))
	}
	if images == nil {
		if height < 1 || width < 1 {
			return nil, fmt.Errorf("patch adj: accumulator size %dx%d must be positive", height, width)
		}
		images = field.NewObject(positions.Angles, height, width)
	}
	if positions.Angles != patches.Angles || patches.Angles != images.Angles {
		return nil, field.ShapeError("patch adj: leading dimensions",
			[3]int{positions.Angles, patches.Angles, images.Angles}, "equal angle counts")
	}
	n := positions.Positions
	k := patches.Count
	if k < nrepeat || (n*nrepeat)%k != 0 {
		return nil, field.ShapeError("patch adj: patch group count", k,
			fmt.Sprintf("divisor of %d no smaller than %d", n*nrepeat, nrepeat))
	}

	args := patchArgs{
		images:      images.Data,
		patches:     patches.Data,
		positions:   positions.Coords,
		nimage:      images.Angles,
		height:      images.Height,
		width:       images.Width,
		npositions:  n,
		nrepeat:     nrepeat,
		patchWidth:  patchWidth,
		paddedWidth: patches.Width,
		groups:      k,
		block:       blockSize(patchWidth),
	}
	// Overlapping patches scatter into shared pixels, so only the image
	// axis runs concurrently; positions and rows stay inside one
	// invocation.
	launch(args.nimage, func(i int) {
		for p := 0; p < args.npositions; p++ {
			for r := 0; r < patchWidth; r++ {
				adjPatchKernel(&args, p, i, r)
			}
		}
	})
	return images, nil
}

// fwdPatchKernel gathers one patch row for one (position, image) pair.
func fwdPatchKernel(a *patchArgs, p, i, r int) {
	y, x := a.positions[2*(i*a.npositions+p)], a.positions[2*(i*a.npositions+p)+1]
	iv, ih := int(math.Floor(float64(y))), int(math.Floor(float64(x)))
	fv := float64(y) - float64(iv)
	fh := float64(x) - float64(ih)
	off := (a.paddedWidth - a.patchWidth) / 2

	imgPlane := a.images[i*a.height*a.width : (i+1)*a.height*a.width]
	iy := iv + r
	for tx := 0; tx < a.block && tx < a.patchWidth; tx++ {
		for px := tx; px < a.patchWidth; px += a.block {
			ix := ih + px
			var v complex128
			if w := (1 - fv) * (1 - fh); w != 0 && inGrid(iy, ix, a.height, a.width) {
				v += complex(w, 0) * complex128(imgPlane[iy*a.width+ix])
			}
			if w := (1 - fv) * fh; w != 0 && inGrid(iy, ix+1, a.height, a.width) {
				v += complex(w, 0) * complex128(imgPlane[iy*a.width+ix+1])
			}
			if w := fv * (1 - fh); w != 0 && inGrid(iy+1, ix, a.height, a.width) {
				v += complex(w, 0) * complex128(imgPlane[(iy+1)*a.width+ix])
			}
			if w := fv * fh; w != 0 && inGrid(iy+1, ix+1, a.height, a.width) {
				v += complex(w, 0) * complex128(imgPlane[(iy+1)*a.width+ix+1])
			}
			val := complex64(v)
			for rep := 0; rep < a.nrepeat; rep++ {
				k := i*a.npositions*a.nrepeat + p*a.nrepeat + rep
				a.patches[(k*a.paddedWidth+off+r)*a.paddedWidth+off+px] = val
			}
		}
	}
}

// adjPatchKernel scatters one patch row for one (position, image) pair,
// accumulating into the image through the transposed bilinear weights.
func adjPatchKernel(a *patchArgs, p, i, r int) {
	y, x := a.positions[2*(i*a.npositions+p)], a.positions[2*(i*a.npositions+p)+1]
	iv, ih := int(math.Floor(float64(y))), int(math.Floor(float64(x)))
	fv := float64(y) - float64(iv)
	fh := float64(x) - float64(ih)
	off := (a.paddedWidth - a.patchWidth) / 2

	imgPlane := a.images[i*a.height*a.width : (i+1)*a.height*a.width]
	iy := iv + r
	for tx := 0; tx < a.block && tx < a.patchWidth; tx++ {
		for px := tx; px < a.patchWidth; px += a.block {
			ix := ih + px
			var v complex128
			for rep := 0; rep < a.nrepeat; rep++ {
				k := i*a.groups + (p*a.nrepeat+rep)%a.groups
				v += complex128(a.patches[(k*a.paddedWidth+off+r)*a.paddedWidth+off+px])
			}
			if w := (1 - fv) * (1 - fh); w != 0 && inGrid(iy, ix, a.height, a.width) {
				imgPlane[iy*a.width+ix] += complex64(complex(w, 0) * v)
			}
			if w := (1 - fv) * fh; w != 0 && inGrid(iy, ix+1, a.height, a.width) {
				imgPlane[iy*a.width+ix+1] += complex64(complex(w, 0) * v)
			}
			if w := fv * (1 - fh); w != 0 && inGrid(iy+1, ix, a.height, a.width) {
				imgPlane[(iy+1)*a.width+ix] += complex64(complex(w, 0) * v)
			}
			if w := fv * fh; w != 0 && inGrid(iy+1, ix+1, a.height, a.width) {
				imgPlane[(iy+1)*a.width+ix+1] += complex64(complex(w, 0) * v)
			}
		}
	}
}

func inGrid(y, x, height, width int) bool {
	return y >= 0 && y < height && x >= 0 && x < width
}
