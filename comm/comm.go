// Package comm manages a pool of parallel compute workers and an
// optional cross-node reduction layer. It provides the three
// synchronization primitives used by the variable-probe machinery:
// map (independent per-worker work), broadcast (replicate one value to
// all workers), and reduce-mean (element-wise average across workers).
//
// Shared state is physically replicated, one replica per worker, and
// is only ever mutated inside a map step on that worker's replica.
// After any reduce+broadcast pair all replicas are bit-for-bit
// identical.
package comm

import (
	"errors"
	"fmt"
	"sync"
)

// Pool is a fixed-size group of logical workers, one per compute
// device.
type Pool struct {
	workers int
}

// NewPool returns a pool of the given size.
func NewPool(workers int) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("comm: pool needs at least one worker, got %d", workers)
	}
	return &Pool{workers: workers}, nil
}

// NumWorkers reports the pool size.
func (p *Pool) NumWorkers() int { return p.workers }

// Map applies fn concurrently to each worker's argument. It blocks
// until every worker has finished and joins any per-worker errors.
func Map[T, R any](p *Pool, fn func(worker int, arg T) (R, error), args []T) ([]R, error) {
	if len(args) != p.workers {
		return nil, fmt.Errorf("comm map: got %d arguments for %d workers", len(args), p.workers)
	}
	results := make([]R, p.workers)
	errs := make([]error, p.workers)
	var wg sync.WaitGroup
	wg.Add(p.workers)
	for w := 0; w < p.workers; w++ {
		go func(w int) {
			defer wg.Done()
			results[w], errs[w] = fn(w, args[w])
		}(w)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

// BcastComplex64 replicates one value to every worker. Each worker
// receives its own copy so later map steps may mutate independently.
func (p *Pool) BcastComplex64(value []complex64) [][]complex64 {
	out := make([][]complex64, p.workers)
	for w := range out {
		out[w] = make([]complex64, len(value))
		copy(out[w], value)
	}
	return out
}

// BcastFloat32 replicates one value to every worker.
func (p *Pool) BcastFloat32(value []float32) [][]float32 {
	out := make([][]float32, p.workers)
	for w := range out {
		out[w] = make([]float32, len(value))
		copy(out[w], value)
	}
	return out
}

// ReduceMeanComplex64 averages per-worker values element-wise.
func (p *Pool) ReduceMeanComplex64(values [][]complex64) ([]complex64, error) {
	if len(values) != p.workers {
		return nil, fmt.Errorf("comm reduce: got %d values for %d workers", len(values), p.workers)
	}
	out := make([]complex128, len(values[0]))
	for w, v := range values {
		if len(v) != len(out) {
			return nil, fmt.Errorf("comm reduce: worker %d value has length %d, want %d", w, len(v), len(out))
		}
		for i, c := range v {
			out[i] += complex128(c)
		}
	}
	mean := make([]complex64, len(out))
	scale := complex(float64(p.workers), 0)
	for i, c := range out {
		mean[i] = complex64(c / scale)
	}
	return mean, nil
}

// ReduceMeanFloat32 averages per-worker values element-wise.
func (p *Pool) ReduceMeanFloat32(values [][]float32) ([]float32, error) {
	if len(values) != p.workers {
		return nil, fmt.Errorf("comm reduce: got %d values for %d workers", len(values), p.workers)
	}
	out := make([]float64, len(values[0]))
	for w, v := range values {
		if len(v) != len(out) {
			return nil, fmt.Errorf("comm reduce: worker %d value has length %d, want %d", w, len(v), len(out))
		}
		for i, f := range v {
			out[i] += float64(f)
		}
	}
	mean := make([]float32, len(out))
	for i, f := range out {
		mean[i] = float32(f / float64(p.workers))
	}
	return mean, nil
}

// NodeGroup is a collective over the participating nodes. Implementors
// provide element-wise all-reduce sums; every node receives the same
// result.
type NodeGroup interface {
	Size() int
	AllreduceSumComplex64(values []complex64) ([]complex64, error)
	AllreduceSumFloat32(values []float32) ([]float32, error)
}

// Reducer combines a node-local mean with whatever cross-node step the
// deployment requires. Call sites are unaware which strategy is active.
type Reducer interface {
	MeanComplex64(local []complex64) ([]complex64, error)
	MeanFloat32(local []float32) ([]float32, error)
}

// LocalReducer is the single-node strategy: the pool-level mean is
// already the global mean.
type LocalReducer struct{}

func (LocalReducer) MeanComplex64(local []complex64) ([]complex64, error) { return local, nil }
func (LocalReducer) MeanFloat32(local []float32) ([]float32, error)      { return local, nil }

// DistributedReducer completes a pool-level mean with a cross-node
// all-reduce average over a NodeGroup.
type DistributedReducer struct {
	Group NodeGroup
}

func (r DistributedReducer) MeanComplex64(local []complex64) ([]complex64, error) {
	sum, err := r.Group.AllreduceSumComplex64(local)
	if err != nil {
		return nil, err
	}
	scale := complex(float32(r.Group.Size()), 0)
	for i := range sum {
		sum[i] /= scale
	}
	return sum, nil
}

func (r DistributedReducer) MeanFloat32(local []float32) ([]float32, error) {
	sum, err := r.Group.AllreduceSumFloat32(local)
	if err != nil {
		return nil, err
	}
	for i := range sum {
		sum[i] /= float32(r.Group.Size())
	}
	return sum, nil
}

// Comm composes the worker pool with a reduction strategy chosen once
// at construction.
type Comm struct {
	Pool    *Pool
	reducer Reducer
}

// New returns a communicator over the given number of workers. A nil
// reducer selects the single-node strategy.
func New(workers int, reducer Reducer) (*Comm, error) {
	pool, err := NewPool(workers)
	if err != nil {
		return nil, err
	}
	if reducer == nil {
		reducer = LocalReducer{}
	}
	return &Comm{Pool: pool, reducer: reducer}, nil
}

// AllreduceMeanComplex64 averages per-worker values across the pool and
// across nodes, then broadcasts the combined mean back to every worker.
func (c *Comm) AllreduceMeanComplex64(values [][]complex64) ([][]complex64, error) {
	local, err := c.Pool.ReduceMeanComplex64(values)
	if err != nil {
		return nil, err
	}
	global, err := c.reducer.MeanComplex64(local)
	if err != nil {
		return nil, err
	}
	return c.Pool.BcastComplex64(global), nil
}

// AllreduceMeanFloat32 averages per-worker values across the pool and
// across nodes, then broadcasts the combined mean back to every worker.
func (c *Comm) AllreduceMeanFloat32(values [][]float32) ([][]float32, error) {
	local, err := c.Pool.ReduceMeanFloat32(values)
	if err != nil {
		return nil, err
	}
	global, err := c.reducer.MeanFloat32(local)
	if err != nil {
		return nil, err
	}
	return c.Pool.BcastFloat32(global), nil
}
