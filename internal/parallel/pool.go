// Package parallel provides the worker pool, sorting and locking primitives
// used by the remeshing stages. Pools are plain values threaded through
// constructors; there is no process wide thread count.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Policy selects between reproducible and throughput oriented execution.
type Policy uint8

const (
	// Fast runs fully parallel with no ordering guarantee between
	// independent vertices or faces.
	Fast Policy = iota
	// Deterministic guarantees bit identical results across runs. Stages
	// select their sequential or order-stable variants under this policy.
	Deterministic
)

func (p Policy) String() string {
	switch p {
	case Fast:
		return "fast"
	case Deterministic:
		return "deterministic"
	}
	return "unknown"
}

// DefaultGrain is the block size used when a caller passes grain <= 0.
const DefaultGrain = 1024

// Pool is a fixed size worker pool. The zero value and a nil *Pool
// use every available CPU with the Fast policy.
type Pool struct {
	Workers int
	Policy  Policy
}

// New returns a pool with the given worker count. workers <= 0 selects
// runtime.GOMAXPROCS(0).
func New(workers int, policy Policy) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{Workers: workers, Policy: policy}
}

// Sequential returns a single worker deterministic pool.
func Sequential() *Pool { return &Pool{Workers: 1, Policy: Deterministic} }

// NumWorkers returns the effective number of workers.
func (p *Pool) NumWorkers() int {
	if p == nil || p.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return p.Workers
}

// Deterministic reports whether the pool runs under the Deterministic policy.
func (p *Pool) Deterministic() bool {
	return p != nil && p.Policy == Deterministic
}

// For calls fn(i) for every i in [0,n) and returns once all calls finished.
func (p *Pool) For(n int, fn func(i int)) {
	p.ForRange(n, 0, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			fn(i)
		}
	})
}

// ForRange splits [0,n) in blocks of grain elements and calls fn on each
// block, concurrently when the pool has more than one worker.
func (p *Pool) ForRange(n, grain int, fn func(lo, hi int)) {
	_ = p.ForErr(context.Background(), n, grain, func(lo, hi int) error {
		fn(lo, hi)
		return nil
	})
}

// ForErr is ForRange with cancellation and error propagation. The first
// error returned by fn cancels the blocks not yet started.
func (p *Pool) ForErr(ctx context.Context, n, grain int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if grain <= 0 {
		grain = DefaultGrain
	}
	workers := p.NumWorkers()
	if workers == 1 || n <= grain {
		for lo := 0; lo < n; lo += grain {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(lo, min(lo+grain, n)); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += grain {
		if gctx.Err() != nil {
			break
		}
		lo, hi := lo, min(lo+grain, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Reduce partitions [0,n) into fixed blocks of grain elements, maps every
// block with mapFn and folds the partial results in block order. The block
// layout does not depend on the worker count so floating point results are
// reproducible.
func Reduce[T any](p *Pool, n, grain int, zero T, mapFn func(lo, hi int) T, fold func(a, b T) T) T {
	if n <= 0 {
		return zero
	}
	if grain <= 0 {
		grain = DefaultGrain
	}
	nblocks := (n + grain - 1) / grain
	partial := make([]T, nblocks)
	p.ForRange(nblocks, 1, func(lo, hi int) {
		for b := lo; b < hi; b++ {
			partial[b] = mapFn(b*grain, min((b+1)*grain, n))
		}
	})
	acc := zero
	for _, v := range partial {
		acc = fold(acc, v)
	}
	return acc
}
