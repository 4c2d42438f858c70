package probe

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// OrthogonalizeEig rotates a set of equally sized complex planes into
// the eigenbasis of their pairwise inner products. The result spans the
// same space with mutually orthogonal planes ordered from most to least
// energetic, and the total energy is unchanged.
func OrthogonalizeEig(x [][]complex64) {
	n := len(x)
	if n < 2 {
		return
	}

	// Pairwise inner products <x_i, x_j>. The matrix is Hermitian so
	// only the lower triangle is accumulated.
	gram := make([]complex128, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			var sum complex128
			for p := range x[i] {
				a := complex128(x[i][p])
				sum += complex(real(a), -imag(a)) * complex128(x[j][p])
			}
			gram[i*n+j] = sum
			gram[j*n+i] = complex(real(sum), -imag(sum))
		}
	}

	vecs := hermitianEigenvectors(gram, n)

	// Rotate: plane k of the result is the eigenvector-weighted sum of
	// the inputs, eigenvectors ordered by descending eigenvalue.
	size := len(x[0])
	out := make([][]complex64, n)
	for k := 0; k < n; k++ {
		out[k] = make([]complex64, size)
		for j := 0; j < n; j++ {
			v := vecs[k][j]
			if v == 0 {
				continue
			}
			for p := 0; p < size; p++ {
				out[k][p] += complex64(v * complex128(x[j][p]))
			}
		}
	}
	for k := 0; k < n; k++ {
		copy(x[k], out[k])
	}
}

// hermitianEigenvectors returns n unit eigenvectors of an n x n
// Hermitian matrix, ordered by descending eigenvalue. The complex
// problem is lifted to the real symmetric 2n x 2n form
//
//	[ Re(H) -Im(H) ]
//	[ Im(H)  Re(H) ]
//
// whose spectrum duplicates that of H, and one complex vector u+iv is
// recovered from each doubled real eigenpair (u, v).
func hermitianEigenvectors(h []complex128, n int) [][]complex128 {
	m := mat.NewSymDense(2*n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			re, im := real(h[i*n+j]), imag(h[i*n+j])
			m.SetSym(i, j, re)
			m.SetSym(n+i, n+j, re)
			// Im(H) is antisymmetric, so both off-diagonal entries of the
			// lift are set consistently: S[i][n+j] = -Im(H)[i][j] and
			// S[j][n+i] = -Im(H)[j][i] = +Im(H)[i][j].
			m.SetSym(i, n+j, -im)
			if i != j {
				m.SetSym(j, n+i, im)
			}
		}
	}

	var es mat.EigenSym
	if !es.Factorize(m, true) {
		// The Gram matrix is always diagonalizable; a factorization
		// failure means pathological values, so fall back to identity.
		vecs := make([][]complex128, n)
		for k := range vecs {
			vecs[k] = make([]complex128, n)
			vecs[k][k] = 1
		}
		return vecs
	}
	var ev mat.Dense
	es.VectorsTo(&ev)

	// Eigenvalues come out ascending and doubled. Walk from the top and
	// keep each complex direction only once, using Gram-Schmidt against
	// the vectors already kept to drop the duplicate of each pair.
	vecs := make([][]complex128, 0, n)
	for k := 2*n - 1; k >= 0 && len(vecs) < n; k-- {
		z := make([]complex128, n)
		for j := 0; j < n; j++ {
			z[j] = complex(ev.At(j, k), ev.At(n+j, k))
		}
		for _, s := range vecs {
			var dot complex128
			for j := range z {
				dot += complex(real(s[j]), -imag(s[j])) * z[j]
			}
			for j := range z {
				z[j] -= dot * s[j]
			}
		}
		var norm float64
		for _, c := range z {
			norm += real(c)*real(c) + imag(c)*imag(c)
		}
		norm = math.Sqrt(norm)
		if norm < 1e-9 {
			continue
		}
		for j := range z {
			z[j] /= complex(norm, 0)
		}
		vecs = append(vecs, z)
	}
	// Rank-deficient inputs can leave directions unclaimed; zero vectors
	// keep the rotation square and zero the surplus output modes.
	for len(vecs) < n {
		vecs = append(vecs, make([]complex128, n))
	}
	return vecs
}
