// Package operators implements the forward and adjoint linear operators
// of the ptychography model: patch extraction from the object grid,
// unitary Fourier propagation to the detector, their composition, and
// the noise-model objective functions.
//
// Operators are scoped resources. Construction reserves whatever the
// operator needs (transform plans, scratch buffers) and Close releases
// it; callers should defer Close immediately after a successful
// constructor so resources are released on every exit path.
package operators

import (
	"runtime"
	"sync"
)

// Operator is the scoped-resource contract shared by every operator in
// this package.
type Operator interface {
	Close() error
}

// maxThreadsPerBlock bounds the stride of the innermost kernel loops,
// matching the per-block thread limit the patch kernels were written
// against.
const maxThreadsPerBlock = 1024

// nextPowerTwo returns the next highest power of 2 of 32-bit v.
//
// https://graphics.stanford.edu/~seander/bithacks.html#RoundUpPowerOf2
func nextPowerTwo(v int) int {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}

// blockSize returns the kernel block width for a patch of the given
// width: the next power of two, bounded by the per-block thread limit.
func blockSize(width int) int {
	b := nextPowerTwo(width)
	if b > maxThreadsPerBlock {
		b = maxThreadsPerBlock
	}
	if b < 1 {
		b = 1
	}
	return b
}

// launch dispatches n independent kernel invocations across the
// available CPUs. Invocations must not write to shared locations; axes
// with scatter conflicts must be kept inside a single invocation.
func launch(n int, kernel func(i int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			kernel(i)
		}
		return
	}
	var wg sync.WaitGroup
	next := make(chan int, workers)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				kernel(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
}
