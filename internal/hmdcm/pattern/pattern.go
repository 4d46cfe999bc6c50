// Package pattern enumerates the 2^K binary attribute-mastery patterns.
//
// Class ℓ maps to the K-digit binary expansion of ℓ with attribute 0 as the most
// significant digit, so class 0 masters nothing and class L-1 masters everything.
// Every matrix keyed by class index in this module uses that ordering.
package pattern

import "fmt"

// MaxAttributes bounds K so that L×L transition structures stay addressable.
const MaxAttributes = 16

type Set struct {
	K int
	L int

	bits []uint8
}

// Enumerate builds the pattern set for k attributes. Callers validate k first;
// an out-of-range k is a programming error.
func Enumerate(k int) *Set {
	if k < 1 || k > MaxAttributes {
		panic(fmt.Sprintf("pattern: attribute count %d outside [1,%d]", k, MaxAttributes))
	}
	l := 1 << k
	s := &Set{
		K:    k,
		L:    l,
		bits: make([]uint8, l*k),
	}
	for c := 0; c < l; c++ {
		for a := 0; a < k; a++ {
			s.bits[c*k+a] = uint8((c >> (k - 1 - a)) & 1)
		}
	}
	return s
}

// Pattern returns the attribute vector of class c. The slice aliases internal storage.
func (s *Set) Pattern(c int) []uint8 {
	return s.bits[c*s.K : (c+1)*s.K]
}

// Has reports whether class c masters attribute a.
func (s *Set) Has(c, a int) bool {
	return s.bits[c*s.K+a] == 1
}

// Covers reports whether class to masters every attribute class from masters.
func (s *Set) Covers(from, to int) bool {
	return from&to == from
}
