// Package optimizer drives the hierarchical field solve from a single
// background goroutine. Drivers send it commands and observe progress
// through published snapshots.
package optimizer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/soypat/imesh/field"
	"github.com/soypat/imesh/hierarchy"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"gonum.org/v1/gonum/spatial/r3"
)

// Field names the field being solved.
type Field uint8

const (
	None Field = iota
	Orientations
	Positions
)

func (f Field) String() string {
	switch f {
	case None:
		return "none"
	case Orientations:
		return "orientations"
	case Positions:
		return "positions"
	}
	return "unknown"
}

// Config controls an Optimizer. The zero value of each field except the
// symmetries selects a default.
type Config struct {
	Rosy, Posy int
	Extrinsic  bool
	// LevelIterations is the number of sweeps run at each level before
	// moving one level down. Defaults to 6.
	LevelIterations int
	// ViewUpdateEvery is the number of units of work between snapshot
	// publications. A unit is one phase sweep at one level. At each
	// publication the current level is propagated down to level 0. Zero
	// only publishes when a solve ends.
	ViewUpdateEvery int
	// Interactive keeps relaxing level 0 until Stop is called.
	Interactive bool
	// FreezeAfter is the number of extra level 0 sweeps run with frozen
	// integer jumps once a solve has reached level 0. Zero disables
	// freezing. Six-fold symmetries are never frozen.
	FreezeAfter int
	// Pool runs the per phase loops. nil runs sequentially.
	Pool   *parallel.Pool
	Logger *slog.Logger
}

// Snapshot is the published state of the solver.
type Snapshot struct {
	Field Field
	// Level and Iteration locate the solver in its schedule.
	Level, Iteration int
	// Units is the number of units of work done since New.
	Units uint64
	// Done is set on the snapshot published when a solve ends.
	Done bool
	// Q and O are copies of the level 0 fields.
	Q, O []r3.Vec
}

type cmdKind uint8

const (
	cmdOrientations cmdKind = iota
	cmdPositions
	cmdNotify
	cmdStop
	cmdWait
	cmdShutdown
)

type command struct {
	kind  cmdKind
	level int
	reply chan struct{}
}

// job is the cursor of a running solve.
type job struct {
	field             Field
	level, iter, phase int
	frozen            bool
	frozenLeft        int
}

// Optimizer owns the goroutine that relaxes the fields of a hierarchy.
// All its methods are safe for concurrent use. Goroutines that access the
// hierarchy while the optimizer is active must hold its lock.
type Optimizer struct {
	h   *hierarchy.Hierarchy
	fn  *field.Functors
	cfg Config
	log *slog.Logger

	cmds     chan command
	done     chan struct{}
	shutdown sync.Once
	active   atomic.Bool
	units    atomic.Uint64
	snap     atomic.Pointer[Snapshot]

	subsMu sync.Mutex
	subs   []chan *Snapshot

	// Owned by the worker goroutine.
	job     *job
	pending *job
	waiters []chan struct{}
}

// New starts an optimizer for h. Unsupported symmetries yield an
// errs.ErrConfig error.
func New(h *hierarchy.Hierarchy, cfg Config) (*Optimizer, error) {
	fn, err := field.Lookup(cfg.Rosy, cfg.Posy, cfg.Extrinsic)
	if err != nil {
		return nil, err
	}
	if cfg.LevelIterations <= 0 {
		cfg.LevelIterations = 6
	}
	if cfg.Pool == nil {
		cfg.Pool = h.Pool()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	o := &Optimizer{
		h:    h,
		fn:   fn,
		cfg:  cfg,
		log:  log,
		cmds: make(chan command),
		done: make(chan struct{}),
	}
	o.snap.Store(&Snapshot{})
	go o.run()
	return o, nil
}

// Rosy returns the rotational symmetry being solved for.
func (o *Optimizer) Rosy() int { return o.fn.Rosy }

// Posy returns the positional symmetry being solved for.
func (o *Optimizer) Posy() int { return o.fn.Posy }

// Extrinsic reports whether extrinsic compatibility is used.
func (o *Optimizer) Extrinsic() bool { return o.fn.Extrinsic }

// Functors returns the symmetry functions in use.
func (o *Optimizer) Functors() *field.Functors { return o.fn }

// Active reports whether a solve is running.
func (o *Optimizer) Active() bool { return o.active.Load() }

// Snapshot returns the last published snapshot.
func (o *Optimizer) Snapshot() *Snapshot { return o.snap.Load() }

// Subscribe returns a channel that receives published snapshots. Slow
// readers only see the latest one. The channel is closed by Shutdown.
func (o *Optimizer) Subscribe() <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	select {
	case <-o.done:
		close(ch)
	default:
		o.subs = append(o.subs, ch)
	}
	return ch
}

// OptimizeOrientations schedules an orientation solve starting at level.
// A negative level starts at the coarsest one. The solve begins on the
// next call to Notify.
func (o *Optimizer) OptimizeOrientations(level int) {
	o.send(command{kind: cmdOrientations, level: level})
}

// OptimizePositions schedules a position solve starting at level. A
// negative level starts at the coarsest one. The solve begins on the next
// call to Notify.
func (o *Optimizer) OptimizePositions(level int) {
	o.send(command{kind: cmdPositions, level: level})
}

// Notify starts the scheduled solve, replacing any running one.
func (o *Optimizer) Notify() { o.send(command{kind: cmdNotify}) }

// Stop cancels the running solve. It returns once the worker has finished
// its current unit of work.
func (o *Optimizer) Stop() {
	reply := make(chan struct{})
	if o.send(command{kind: cmdStop, reply: reply}) {
		select {
		case <-reply:
		case <-o.done:
		}
	}
}

// Wait blocks until no solve is running or ctx is done.
func (o *Optimizer) Wait(ctx context.Context) error {
	reply := make(chan struct{})
	if !o.send(command{kind: cmdWait, reply: reply}) {
		return nil
	}
	select {
	case <-reply:
		return nil
	case <-o.done:
		return nil
	case <-ctx.Done():
		return errs.New(errs.ErrCanceled, "optimizer", "%v", ctx.Err())
	}
}

// Shutdown stops the worker goroutine and waits for it to exit. Later
// calls return immediately.
func (o *Optimizer) Shutdown() {
	o.shutdown.Do(func() {
		o.send(command{kind: cmdShutdown})
		<-o.done
	})
}

func (o *Optimizer) send(c command) bool {
	select {
	case o.cmds <- c:
		return true
	case <-o.done:
		return false
	}
}

func (o *Optimizer) run() {
	defer func() {
		o.active.Store(false)
		o.release()
		o.subsMu.Lock()
		for _, ch := range o.subs {
			close(ch)
		}
		o.subs = nil
		o.subsMu.Unlock()
		close(o.done)
	}()
	for {
		if o.job == nil {
			if !o.handle(<-o.cmds) {
				return
			}
			continue
		}
		select {
		case c := <-o.cmds:
			if !o.handle(c) {
				return
			}
			continue
		default:
		}
		o.step()
	}
}

// handle applies a command. It returns false on shutdown.
func (o *Optimizer) handle(c command) bool {
	switch c.kind {
	case cmdOrientations, cmdPositions:
		f := Orientations
		if c.kind == cmdPositions {
			f = Positions
		}
		level := c.level
		if level < 0 || level >= o.h.Depth() {
			level = o.h.Depth() - 1
		}
		o.pending = &job{field: f, level: level}
	case cmdNotify:
		if o.pending == nil {
			break
		}
		o.job, o.pending = o.pending, nil
		o.active.Store(true)
		o.log.Debug("optimizer start", slog.String("field", o.job.field.String()), slog.Int("level", o.job.level))
	case cmdStop:
		if o.job != nil {
			o.log.Debug("optimizer stopped", slog.String("field", o.job.field.String()), slog.Int("level", o.job.level))
		}
		o.job, o.pending = nil, nil
		o.active.Store(false)
		o.release()
		close(c.reply)
	case cmdWait:
		if o.job == nil {
			close(c.reply)
		} else {
			o.waiters = append(o.waiters, c.reply)
		}
	case cmdShutdown:
		o.job, o.pending = nil, nil
		return false
	}
	return true
}

// release wakes every goroutine blocked in Wait.
func (o *Optimizer) release() {
	for _, w := range o.waiters {
		close(w)
	}
	o.waiters = nil
}

// step runs one unit of work and advances the cursor.
func (o *Optimizer) step() {
	j := o.job
	h := o.h
	l := h.Level(j.level)
	h.Lock()
	if len(l.Phases) > 0 {
		switch j.field {
		case Orientations:
			field.RelaxOrientationPhase(l, j.phase, o.fn, j.frozen, o.cfg.Pool)
		case Positions:
			field.RelaxPositionPhase(l, j.phase, o.fn, h.Scale(), j.frozen, o.cfg.Pool)
		}
	}
	h.Unlock()
	units := o.units.Add(1)

	j.phase++
	if j.phase >= len(l.Phases) {
		j.phase = 0
		j.iter++
		o.endSweep(j)
	}
	if o.job != nil && o.cfg.ViewUpdateEvery > 0 && units%uint64(o.cfg.ViewUpdateEvery) == 0 {
		h.Lock()
		for li := j.level; li > 0; li-- {
			o.propagate(j.field, li)
		}
		h.Unlock()
		o.publish(false)
	}
}

// endSweep advances the schedule after a full sweep of the current level.
func (o *Optimizer) endSweep(j *job) {
	h := o.h
	switch {
	case j.frozen:
		j.frozenLeft--
		if j.frozenLeft > 0 {
			return
		}
	case j.iter < o.cfg.LevelIterations:
		return
	case j.level > 0:
		h.Lock()
		o.propagate(j.field, j.level)
		h.Unlock()
		j.level--
		j.iter = 0
		o.log.Debug("optimizer level", slog.String("field", j.field.String()), slog.Int("level", j.level))
		return
	case o.cfg.Interactive:
		j.iter = 0
		return
	case o.cfg.FreezeAfter > 0 && o.fn.Freezable():
		if o.freeze(j.field) {
			j.frozen = true
			j.frozenLeft = o.cfg.FreezeAfter
			return
		}
	}
	o.finish()
}

func (o *Optimizer) freeze(f Field) bool {
	h := o.h
	h.Lock()
	defer h.Unlock()
	var err error
	switch f {
	case Orientations:
		err = field.FreezeOrientations(h, o.fn)
	case Positions:
		var clamped int
		clamped, err = field.FreezePositions(h, o.fn)
		if clamped > 0 {
			o.log.Warn("clamped lattice jumps", slog.Int("links", clamped))
		}
	}
	if err != nil {
		o.log.Warn("freezing skipped", slog.Any("err", err))
		return false
	}
	return true
}

func (o *Optimizer) propagate(f Field, level int) {
	switch f {
	case Orientations:
		field.PropagateOrientationsDown(o.h, level)
	case Positions:
		field.PropagatePositionsDown(o.h, level)
	}
}

// finish ends the running solve.
func (o *Optimizer) finish() {
	o.log.Debug("optimizer done", slog.String("field", o.job.field.String()), slog.Uint64("units", o.units.Load()))
	o.publish(true)
	o.job = nil
	o.active.Store(false)
	o.release()
}

func (o *Optimizer) publish(done bool) {
	j := o.job
	h := o.h
	h.Lock()
	l0 := h.Level(0)
	s := &Snapshot{
		Field:     j.field,
		Level:     j.level,
		Iteration: j.iter,
		Units:     o.units.Load(),
		Done:      done,
		Q:         append([]r3.Vec(nil), l0.Q...),
		O:         append([]r3.Vec(nil), l0.O...),
	}
	h.Unlock()
	o.snap.Store(s)
	o.subsMu.Lock()
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
	o.subsMu.Unlock()
}
