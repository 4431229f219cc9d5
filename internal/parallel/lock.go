package parallel

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

// SpinLock is a test-and-set lock for short critical sections on per-vertex
// state. The zero value is unlocked.
type SpinLock struct {
	state atomic.Uint32
}

func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *SpinLock) TryLock() bool { return l.state.CompareAndSwap(0, 1) }

func (l *SpinLock) Unlock() { l.state.Store(0) }

// LockSorted sorts and deduplicates ids, then locks locks[id] for each of
// them in ascending order. Acquiring in a global order keeps concurrent
// callers with overlapping sets free of deadlock. The returned slice must be
// passed to UnlockAll.
func LockSorted(locks []SpinLock, ids []uint32) []uint32 {
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		locks[id].Lock()
	}
	return ids
}

// UnlockAll releases the locks acquired by LockSorted.
func UnlockAll(locks []SpinLock, ids []uint32) {
	for _, id := range ids {
		locks[id].Unlock()
	}
}

// TicketLock is a FIFO mutex: goroutines enter the critical section in the
// order in which they called Lock. The zero value is unlocked.
type TicketLock struct {
	mu      sync.Mutex
	cond    sync.Cond
	next    uint64
	serving uint64
}

func (l *TicketLock) Lock() {
	l.mu.Lock()
	if l.cond.L == nil {
		l.cond.L = &l.mu
	}
	ticket := l.next
	l.next++
	for ticket != l.serving {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *TicketLock) Unlock() {
	l.mu.Lock()
	if l.serving == l.next {
		l.mu.Unlock()
		panic("parallel: unlock of unlocked TicketLock")
	}
	l.serving++
	if l.cond.L != nil {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}
