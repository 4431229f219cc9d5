package dsets

import (
	"sync"
	"testing"
)

func TestConcurrentUnion(t *testing.T) {
	const n = 1000
	s := New(n)
	var wg sync.WaitGroup
	// Join even ids together and odd ids together from many goroutines.
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i+2 < n; i += 8 {
				s.Union(uint32(i), uint32(i+2))
			}
		}(g)
	}
	wg.Wait()
	if c := s.Count(); c != 2 {
		t.Fatalf("got %d sets, want 2", c)
	}
	if !s.Same(0, n-2) || !s.Same(1, n-1) || s.Same(0, 1) {
		t.Fatal("wrong partition")
	}
}

func TestUnionRepresentative(t *testing.T) {
	s := New(4)
	r := s.Union(2, 3)
	if s.Find(2) != r || s.Find(3) != r {
		t.Fatal("representative mismatch")
	}
	if s.Union(3, 2) != r {
		t.Fatal("repeated union changed representative")
	}
}
