// Package assignment derives validation duties from ring positions.
//
// A ring of size N with fan-out K is a directed graph: position p validates the
// next min(K, N-1) positions clockwise, wrapping from N back to 1. Validators
// is the inverse relation. Everything here is pure arithmetic.
package assignment

// DefaultFanOut is the number of ring neighbours each validator reviews.
const DefaultFanOut = 3

// dutyCount caps the fan-out so a validator never wraps around onto itself.
func dutyCount(n, k int) int {
	if n <= 1 || k <= 0 {
		return 0
	}
	if k > n-1 {
		return n - 1
	}
	return k
}

func inRing(p, n int) bool {
	return p >= 1 && p <= n
}

// wrap maps any integer onto 1..n.
func wrap(x, n int) int {
	m := x % n
	if m < 0 {
		m += n
	}
	return m + 1
}

// Validatees returns the positions that position p reviews, nearest first.
// It returns nil when p is outside 1..n.
func Validatees(p, n, k int) []int {
	if !inRing(p, n) {
		return nil
	}
	c := dutyCount(n, k)
	out := make([]int, 0, c)
	for i := 1; i <= c; i++ {
		out = append(out, wrap(p+i-1, n))
	}
	return out
}

// Validators returns the positions that review position p, nearest first.
func Validators(p, n, k int) []int {
	if !inRing(p, n) {
		return nil
	}
	c := dutyCount(n, k)
	out := make([]int, 0, c)
	for i := 1; i <= c; i++ {
		out = append(out, wrap(p-i-1, n))
	}
	return out
}
