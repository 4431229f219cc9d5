// Package dsets implements a wait-free concurrent union-find over dense
// uint32 ids.
package dsets

import "sync/atomic"

// Sets is a disjoint set forest. Each entry packs the rank in the upper
// 32 bits and the parent id in the lower 32 bits so both change with a
// single compare-and-swap.
type Sets struct {
	data []atomic.Uint64
}

// New returns n singleton sets.
func New(n int) *Sets {
	s := &Sets{data: make([]atomic.Uint64, n)}
	for i := range s.data {
		s.data[i].Store(uint64(i))
	}
	return s
}

// Len returns the number of elements.
func (s *Sets) Len() int { return len(s.data) }

func (s *Sets) parent(id uint32) uint32 { return uint32(s.data[id].Load()) }

func (s *Sets) rank(id uint32) uint32 { return uint32(s.data[id].Load() >> 32) }

// Find returns the representative of id, halving the path on the way.
func (s *Sets) Find(id uint32) uint32 {
	for id != s.parent(id) {
		value := s.data[id].Load()
		grandparent := s.parent(uint32(value))
		next := value&0xffffffff00000000 | uint64(grandparent)
		if value != next {
			s.data[id].CompareAndSwap(value, next)
		}
		id = grandparent
	}
	return id
}

// Same reports whether a and b are in the same set.
func (s *Sets) Same(a, b uint32) bool {
	for {
		a = s.Find(a)
		b = s.Find(b)
		if a == b {
			return true
		}
		if s.parent(a) == a {
			return false
		}
	}
}

// Union merges the sets of a and b and returns the new representative.
// Ties in rank are broken by id so the result does not depend on the
// order of the arguments.
func (s *Sets) Union(a, b uint32) uint32 {
	for {
		a = s.Find(a)
		b = s.Find(b)
		if a == b {
			return a
		}
		ra, rb := s.rank(a), s.rank(b)
		if ra > rb || (ra == rb && a < b) {
			a, b = b, a
			ra, rb = rb, ra
		}
		// a is attached below b.
		if !s.data[a].CompareAndSwap(uint64(ra)<<32|uint64(a), uint64(ra)<<32|uint64(b)) {
			continue
		}
		if ra == rb {
			s.data[b].CompareAndSwap(uint64(rb)<<32|uint64(b), uint64(rb+1)<<32|uint64(b))
		}
		return b
	}
}

// Count returns the number of distinct sets. It must not run concurrently
// with Union.
func (s *Sets) Count() int {
	n := 0
	for i := range s.data {
		if s.parent(uint32(i)) == uint32(i) {
			n++
		}
	}
	return n
}
