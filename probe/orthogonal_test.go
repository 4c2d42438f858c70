package probe

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomPlanes(rng *rand.Rand, n, size int) [][]complex64 {
	planes := make([][]complex64, n)
	for i := range planes {
		planes[i] = make([]complex64, size)
		for j := range planes[i] {
			planes[i][j] = complex(rng.Float32()-0.5, rng.Float32()-0.5)
		}
	}
	return planes
}

func innerProduct(a, b []complex64) complex128 {
	var sum complex128
	for i := range a {
		ac := complex128(a[i])
		sum += complex(real(ac), -imag(ac)) * complex128(b[i])
	}
	return sum
}

func totalEnergy(planes [][]complex64) float64 {
	var sum float64
	for _, p := range planes {
		sum += real(innerProduct(p, p))
	}
	return sum
}

func TestOrthogonalizeEigMakesModesOrthogonal(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	planes := randomPlanes(rng, 4, 16*16)
	before := totalEnergy(planes)

	OrthogonalizeEig(planes)

	scale := before / 4
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			cross := innerProduct(planes[i], planes[j])
			require.InDelta(t, 0, real(cross)/scale, 1e-3, "modes %d and %d", i, j)
			require.InDelta(t, 0, imag(cross)/scale, 1e-3, "modes %d and %d", i, j)
		}
	}
}

func TestOrthogonalizeEigPreservesEnergy(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	planes := randomPlanes(rng, 3, 8*8)
	before := totalEnergy(planes)

	OrthogonalizeEig(planes)

	require.InEpsilon(t, before, totalEnergy(planes), 1e-3)
}

func TestOrthogonalizeEigOrdersByEnergy(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	planes := randomPlanes(rng, 4, 8*8)
	// Make the last input dominant; it must surface first.
	for j := range planes[3] {
		planes[3][j] *= 10
	}

	OrthogonalizeEig(planes)

	var prev float64 = math.Inf(1)
	for i := range planes {
		energy := real(innerProduct(planes[i], planes[i]))
		require.LessOrEqual(t, energy, prev+1e-6, "mode %d", i)
		prev = energy
	}
}

func TestOrthogonalizeEigSingleMode(t *testing.T) {
	planes := [][]complex64{{1, 2, 3}}
	OrthogonalizeEig(planes)
	require.Equal(t, [][]complex64{{1, 2, 3}}, planes)
}
