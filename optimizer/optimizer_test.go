package optimizer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/soypat/imesh/field"
	"github.com/soypat/imesh/hierarchy"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var pools = []*parallel.Pool{parallel.Sequential(), parallel.New(4, parallel.Fast)}

func gridHierarchy(t *testing.T, n int, pool *parallel.Pool) *hierarchy.Hierarchy {
	t.Helper()
	m := &mesh.Mesh{Deg: 3}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			m.V = append(m.V, r3.Vec{X: float64(x), Y: float64(y)})
			m.N = append(m.N, r3.Vec{Z: 1})
		}
	}
	for y := 0; y+1 < n; y++ {
		for x := 0; x+1 < n; x++ {
			a := uint32(y*n + x)
			m.F = append(m.F, a, a+1, a+uint32(n)+1, a, a+uint32(n)+1, a+uint32(n))
		}
	}
	d, err := mesh.BuildDEdge(m, pool)
	require.NoError(t, err)
	adj := mesh.UniformAdjacency(m, d, pool)
	A := mesh.DualVertexAreas(m, d, pool)
	h, err := hierarchy.Build(context.Background(), m.V, m.N, A, adj, hierarchy.Config{Pool: pool, Seed: 3})
	require.NoError(t, err)
	h.SetScale(2)
	h.ResetSolution(11)
	return h
}

func newOptimizer(t *testing.T, h *hierarchy.Hierarchy, cfg Config) *Optimizer {
	t.Helper()
	o, err := New(h, cfg)
	require.NoError(t, err)
	t.Cleanup(o.Shutdown)
	return o
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRejectsSymmetry(t *testing.T) {
	h := gridHierarchy(t, 4, nil)
	_, err := New(h, Config{Rosy: 3, Posy: 4})
	require.ErrorIs(t, err, errs.ErrConfig)
}

func TestSolve(t *testing.T) {
	for _, pool := range pools {
		h := gridHierarchy(t, 12, pool)
		o := newOptimizer(t, h, Config{Rosy: 4, Posy: 4, Extrinsic: true, LevelIterations: 60, Pool: pool})
		assert.Equal(t, 4, o.Rosy())
		assert.Equal(t, 4, o.Posy())
		assert.True(t, o.Extrinsic())

		o.OptimizeOrientations(-1)
		o.Notify()
		require.NoError(t, o.Wait(timeout(t)))
		assert.False(t, o.Active())
		s := o.Snapshot()
		require.True(t, s.Done)
		assert.Equal(t, Orientations, s.Field)
		assert.Zero(t, s.Level)

		l := h.Level(0)
		assert.Equal(t, l.Q, s.Q)
		fn := o.Functors()
		for i := range l.V {
			for _, link := range l.Adj.Neighbors(uint32(i)) {
				a, b := fn.Orientation(l.Q[i], l.N[i], l.Q[link.ID], l.N[link.ID])
				require.Greater(t, r3.Dot(a, b), 0.99)
			}
		}

		o.OptimizePositions(-1)
		o.Notify()
		require.NoError(t, o.Wait(timeout(t)))
		s = o.Snapshot()
		assert.Equal(t, Positions, s.Field)
		for i := range l.V {
			assert.LessOrEqual(t, r3.Norm(r3.Sub(s.O[i], l.V[i])), h.Scale()*math.Sqrt2/2+1e-9)
		}
	}
}

func TestNotifyWithoutSchedule(t *testing.T) {
	h := gridHierarchy(t, 4, nil)
	o := newOptimizer(t, h, Config{Rosy: 4, Posy: 4})
	o.Notify()
	assert.False(t, o.Active())
	require.NoError(t, o.Wait(timeout(t)))
	assert.False(t, o.Snapshot().Done)
}

func TestSubscribe(t *testing.T) {
	h := gridHierarchy(t, 10, nil)
	o := newOptimizer(t, h, Config{Rosy: 6, Posy: 3, ViewUpdateEvery: 1})
	ch := o.Subscribe()
	o.OptimizeOrientations(-1)
	o.Notify()
	ctx := timeout(t)
	var last *Snapshot
	for last == nil || !last.Done {
		select {
		case s, ok := <-ch:
			require.True(t, ok)
			if last != nil {
				require.GreaterOrEqual(t, s.Units, last.Units)
			}
			last = s
		case <-ctx.Done():
			t.Fatal("no final snapshot")
		}
	}
	assert.Len(t, last.Q, h.Level(0).NumVertices())

	o.Shutdown()
	_, ok := <-ch
	assert.False(t, ok)
	_, ok = <-o.Subscribe()
	assert.False(t, ok)
}

func TestInteractiveStop(t *testing.T) {
	for _, pool := range pools {
		h := gridHierarchy(t, 8, pool)
		o := newOptimizer(t, h, Config{Rosy: 4, Posy: 4, Interactive: true, ViewUpdateEvery: 4, Pool: pool})
		ch := o.Subscribe()
		o.OptimizeOrientations(-1)
		o.Notify()
		// Interactive solves never finish on their own.
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		require.ErrorIs(t, o.Wait(ctx), errs.ErrCanceled)
		cancel()
		<-ch
		assert.True(t, o.Active())

		o.Stop()
		assert.False(t, o.Active())
		require.NoError(t, o.Wait(timeout(t)))
		units := o.units.Load()
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, units, o.units.Load())
	}
}

func TestFreezeAfter(t *testing.T) {
	h := gridHierarchy(t, 10, nil)
	o := newOptimizer(t, h, Config{Rosy: 4, Posy: 4, Extrinsic: true, LevelIterations: 20, FreezeAfter: 3})
	o.OptimizeOrientations(-1)
	o.Notify()
	require.NoError(t, o.Wait(timeout(t)))
	assert.True(t, h.FrozenQ)
	o.OptimizePositions(-1)
	o.Notify()
	require.NoError(t, o.Wait(timeout(t)))
	assert.True(t, h.FrozenO)

	h6 := gridHierarchy(t, 10, nil)
	o6 := newOptimizer(t, h6, Config{Rosy: 6, Posy: 3, FreezeAfter: 3})
	o6.OptimizeOrientations(-1)
	o6.Notify()
	require.NoError(t, o6.Wait(timeout(t)))
	assert.False(t, h6.FrozenQ)
	assert.True(t, o6.Snapshot().Done)
}

func TestShutdownTwice(t *testing.T) {
	h := gridHierarchy(t, 6, nil)
	o, err := New(h, Config{Rosy: 2, Posy: 4, Interactive: true})
	require.NoError(t, err)
	o.OptimizePositions(0)
	o.Notify()
	o.Shutdown()
	o.Shutdown()
	assert.False(t, o.Active())
	// Calls after shutdown return without blocking.
	o.Notify()
	o.Stop()
	require.NoError(t, o.Wait(context.Background()))
}

func TestFieldString(t *testing.T) {
	assert.Equal(t, "orientations", Orientations.String())
	assert.Equal(t, "positions", Positions.String())
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "unknown", Field(9).String())
	var _ hierarchy.Compat = (*field.Functors)(nil)
}
