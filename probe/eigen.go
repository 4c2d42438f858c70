package probe

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/bob-anderson-ok/ptycho/comm"
	"github.com/bob-anderson-ok/ptycho/field"
)

// ErrZeroWeightNorm reports that an eigen-probe update was requested
// while the selected weight column is zero at every scan position, so
// the projection cannot be normalized.
var ErrZeroWeightNorm = errors.New("eigen probe weights are zero at every position")

// relaxEigen is the relaxation applied to the weight denominator so a
// few dark positions cannot blow up their weight updates.
const relaxEigen = 0.1

// UpdateEigenProbe improves one eigen probe and its weights from
// per-worker residuals. R, patches, and diff hold each worker's share
// of the scan (one plane per position); eigen and weights are the
// per-worker replicas of the shared state and are updated in place so
// that all replicas agree on exit.
//
// eigenIndex selects the weight column (>= 1) and the eigen probe row
// eigenIndex-1; mode selects the shared probe mode being varied.
func UpdateEigenProbe(
	c *comm.Comm,
	R []*field.Stack,
	eigen []*field.EigenProbe,
	weights []*field.Weights,
	patches []*field.Stack,
	diff []*field.Stack,
	beta float64,
	eigenIndex, mode int,
) error {
	nw := c.Pool.NumWorkers()
	if len(R) != nw || len(eigen) != nw || len(weights) != nw || len(patches) != nw || len(diff) != nw {
		return fmt.Errorf("eigen update: per-worker slices must have length %d", nw)
	}
	for w := 0; w < nw; w++ {
		if eigenIndex < 1 || eigenIndex >= weights[w].Eigen {
			return fmt.Errorf("eigen update: weight column %d out of range [1, %d)", eigenIndex, weights[w].Eigen)
		}
		if mode < 0 || mode >= eigen[w].Modes {
			return fmt.Errorf("eigen update: probe mode %d out of range [0, %d)", mode, eigen[w].Modes)
		}
		if R[w].Count != weights[w].Positions || patches[w].Count != R[w].Count || diff[w].Count != R[w].Count {
			return field.ShapeError("eigen update positions",
				[]int{R[w].Count, patches[w].Count, diff[w].Count}, weights[w].Positions)
		}
	}

	angles := eigen[0].Angles
	size := eigen[0].Height * eigen[0].Width
	workers := workerIndexes(nw)

	// Each worker projects its residuals onto the current eigen probe
	// and proposes an update plane per angle.
	updates, err := comm.Map(c.Pool, func(w, _ int) ([]complex64, error) {
		update := make([]complex64, angles*size)
		for t := 0; t < angles; t++ {
			var normW float64
			for n := 0; n < weights[w].Positions; n++ {
				v := float64(weights[w].At(t, n, eigenIndex, mode))
				normW += v * v
			}
			if normW == 0 {
				return nil, fmt.Errorf("worker %d angle %d column %d: %w", w, t, eigenIndex, ErrZeroWeightNorm)
			}
			ep := eigen[w].Mode(t, eigenIndex-1, mode)
			dst := update[t*size : (t+1)*size]
			for n := 0; n < weights[w].Positions; n++ {
				r := R[w].Plane(t, n)
				var proj float64
				for i := range r {
					rc := complex128(r[i])
					proj += real(complex(real(rc), -imag(rc)) * complex128(ep[i]))
				}
				proj = proj/float64(size) + float64(weights[w].At(t, n, eigenIndex, mode))
				proj /= normW
				s := complex64(complex(proj, 0))
				for i := range r {
					dst[i] += r[i] * s
				}
			}
			inv := complex64(complex(1/float64(weights[w].Positions), 0))
			for i := range dst {
				dst[i] *= inv
			}
		}
		return update, nil
	}, workers)
	if err != nil {
		return err
	}

	updates, err = c.AllreduceMeanComplex64(updates)
	if err != nil {
		return err
	}

	// Apply the agreed update and measure how well the new eigen probe
	// explains each worker's residuals.
	nvals := make([][]float64, nw)
	dvals := make([][]float64, nw)
	dMeans, err := comm.Map(c.Pool, func(w, _ int) ([]float32, error) {
		nvals[w] = make([]float64, angles*R[w].Count)
		dvals[w] = make([]float64, angles*R[w].Count)
		dMean := make([]float32, angles)
		for t := 0; t < angles; t++ {
			ep := eigen[w].Mode(t, eigenIndex-1, mode)
			u := updates[w][t*size : (t+1)*size]
			if mn := mnorm(u); mn > 0 {
				s := complex64(complex(beta/mn, 0))
				for i := range ep {
					ep[i] += s * u[i]
				}
			}
			normalizeMeanMagnitude(ep)
			for _, v := range ep {
				if !isFinite(v) {
					return nil, fmt.Errorf("worker %d angle %d: eigen probe update is not finite", w, t)
				}
			}

			var sum float64
			for n := 0; n < R[w].Count; n++ {
				pat := patches[w].Plane(t, n)
				df := diff[w].Plane(t, n)
				var num, den float64
				for i := range pat {
					phi := complex128(pat[i]) * complex128(ep[i])
					num += real(complex128(df[i]) * complex(real(phi), -imag(phi)))
					den += real(phi)*real(phi) + imag(phi)*imag(phi)
				}
				nvals[w][t*R[w].Count+n] = num / float64(size)
				dvals[w][t*R[w].Count+n] = den / float64(size)
				sum += dvals[w][t*R[w].Count+n]
			}
			dMean[t] = float32(sum / float64(R[w].Count))
		}
		return dMean, nil
	}, workers)
	if err != nil {
		return err
	}

	dMeans, err = c.AllreduceMeanFloat32(dMeans)
	if err != nil {
		return err
	}

	_, err = comm.Map(c.Pool, func(w, _ int) (struct{}, error) {
		for t := 0; t < angles; t++ {
			for n := 0; n < weights[w].Positions; n++ {
				d := dvals[w][t*weights[w].Positions+n] + relaxEigen*float64(dMeans[w][t])
				wu := nvals[w][t*weights[w].Positions+n] / d
				if math.IsNaN(wu) || math.IsInf(wu, 0) {
					return struct{}{}, fmt.Errorf("worker %d angle %d position %d: weight update is not finite", w, t, n)
				}
				weights[w].Set(t, n, eigenIndex, mode,
					weights[w].At(t, n, eigenIndex, mode)+float32(wu))
			}
		}
		return struct{}{}, nil
	}, workers)
	return err
}

// ConstrainVariableProbe keeps the varying-probe decomposition well
// conditioned: worker replicas are averaged back into agreement, the
// eigen probes are orthogonalized across the eigen axis, and weight
// magnitudes are clipped to 1.5x their 95th percentile over the scan.
func ConstrainVariableProbe(c *comm.Comm, eigen []*field.EigenProbe, weights []*field.Weights) error {
	nw := c.Pool.NumWorkers()
	if len(eigen) != nw || len(weights) != nw {
		return fmt.Errorf("variable probe constraint: per-worker slices must have length %d", nw)
	}

	eigenData := make([][]complex64, nw)
	weightData := make([][]float32, nw)
	for w := 0; w < nw; w++ {
		eigenData[w] = eigen[w].Data
		weightData[w] = weights[w].Data
	}
	eigenData, err := c.AllreduceMeanComplex64(eigenData)
	if err != nil {
		return err
	}
	weightData, err = c.AllreduceMeanFloat32(weightData)
	if err != nil {
		return err
	}
	for w := 0; w < nw; w++ {
		copy(eigen[w].Data, eigenData[w])
		copy(weights[w].Data, weightData[w])
	}

	// The constraints are deterministic, so applying them on every
	// replica keeps the replicas identical without another broadcast.
	_, err = comm.Map(c.Pool, func(w, _ int) (struct{}, error) {
		e := eigen[w]
		for t := 0; t < e.Angles; t++ {
			for m := 0; m < e.Modes; m++ {
				planes := make([][]complex64, e.Eigen)
				for i := range planes {
					planes[i] = e.Mode(t, i, m)
				}
				OrthogonalizeEig(planes)
			}
		}
		clipWeightOutliers(weights[w])
		return struct{}{}, nil
	}, workerIndexes(nw))
	return err
}

// clipWeightOutliers limits each weight column to 1.5x the 95th
// percentile of its magnitudes across the scan, keeping signs.
func clipWeightOutliers(w *field.Weights) {
	mags := make([]float64, w.Positions)
	for t := 0; t < w.Angles; t++ {
		for e := 0; e < w.Eigen; e++ {
			for m := 0; m < w.Modes; m++ {
				for n := 0; n < w.Positions; n++ {
					mags[n] = math.Abs(float64(w.At(t, n, e, m)))
				}
				sort.Float64s(mags)
				// Interpolated quantile: a lone extreme magnitude must not
				// become its own 95th percentile and escape the clip.
				limit := 1.5 * stat.Quantile(0.95, stat.LinInterp, mags, nil)
				for n := 0; n < w.Positions; n++ {
					v := w.At(t, n, e, m)
					if a := math.Abs(float64(v)); a > limit {
						w.Set(t, n, e, m, float32(math.Copysign(limit, float64(v))))
					}
				}
			}
		}
	}
}

func workerIndexes(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func isFinite(c complex64) bool {
	re, im := float64(real(c)), float64(imag(c))
	return !math.IsNaN(re) && !math.IsInf(re, 0) && !math.IsNaN(im) && !math.IsInf(im, 0)
}
