package parallel

import "slices"

// Sort sorts s in ascending order as defined by cmp. Deterministic pools and
// small inputs use a stable sort. Fast pools sort one chunk per worker
// concurrently and merge the sorted runs pairwise.
func Sort[T any](p *Pool, s []T, cmp func(a, b T) int) {
	workers := p.NumWorkers()
	if p.Deterministic() || workers == 1 || len(s) < 4*DefaultGrain {
		slices.SortStableFunc(s, cmp)
		return
	}
	chunk := (len(s) + workers - 1) / workers
	nchunks := (len(s) + chunk - 1) / chunk
	p.ForRange(nchunks, 1, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			slices.SortFunc(s[c*chunk:min((c+1)*chunk, len(s))], cmp)
		}
	})
	src, dst := s, make([]T, len(s))
	for width := chunk; width < len(s); width *= 2 {
		npairs := (len(s) + 2*width - 1) / (2 * width)
		p.ForRange(npairs, 1, func(lo, hi int) {
			for pair := lo; pair < hi; pair++ {
				start := pair * 2 * width
				mid := min(start+width, len(s))
				end := min(start+2*width, len(s))
				merge(dst[start:end], src[start:mid], src[mid:end], cmp)
			}
		})
		src, dst = dst, src
	}
	if &src[0] != &s[0] {
		copy(s, src)
	}
}

// merge writes the ordered union of sorted runs a and b into dst.
// Ties are taken from a first.
func merge[T any](dst, a, b []T, cmp func(a, b T) int) {
	i, j, k := 0, 0, 0
	for i < len(a) && j < len(b) {
		if cmp(b[j], a[i]) < 0 {
			dst[k] = b[j]
			j++
		} else {
			dst[k] = a[i]
			i++
		}
		k++
	}
	k += copy(dst[k:], a[i:])
	copy(dst[k:], b[j:])
}
