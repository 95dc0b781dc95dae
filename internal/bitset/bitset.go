// Package bitset implements the growable bit sets used by the dataflow passes.
package bitset

import (
	"math/bits"
	"strconv"
	"strings"
)

// Set is a set of non-negative integers. The zero value is empty and ready to use.
type Set struct {
	words []uint64
	// Most sets in a method are small; buf backs up to 256 members without a heap allocation.
	buf [4]uint64
}

// New returns a set containing ids.
func New(ids ...int) *Set {
	s := &Set{}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Reset empties s.
func (s *Set) Reset() {
	s.words, s.buf = s.words[:0], [4]uint64{}
}

// Has reports whether id is in s.
func (s *Set) Has(id int) bool {
	index, shift := uint(id)/64, uint(id)%64
	return index < uint(len(s.words)) && s.words[index]&(1<<shift) != 0
}

func (s *Set) grow(n int) {
	if n <= len(s.words) {
		return
	}
	if s.words == nil && n <= len(s.buf) {
		s.words = s.buf[:n]
		return
	}
	if n <= cap(s.words) {
		old := len(s.words)
		s.words = s.words[:n]
		for i := old; i < n; i++ {
			s.words[i] = 0
		}
		return
	}
	s.words = append(s.words, make([]uint64, n-len(s.words))...)
}

// Add inserts id. It reports whether s changed.
func (s *Set) Add(id int) bool {
	index, shift := uint(id)/64, uint(id)%64
	s.grow(int(index) + 1)
	before := s.words[index]
	s.words[index] |= 1 << shift
	return before != s.words[index]
}

// Remove deletes id. It reports whether s changed.
func (s *Set) Remove(id int) bool {
	if !s.Has(id) {
		return false
	}
	index, shift := uint(id)/64, uint(id)%64
	s.words[index] &^= 1 << shift
	return true
}

// Union adds every member of o to s. It reports whether s changed.
func (s *Set) Union(o *Set) bool {
	s.grow(len(o.words))
	changed := false
	for i, w := range o.words {
		n := s.words[i] | w
		if n != s.words[i] {
			s.words[i], changed = n, true
		}
	}
	return changed
}

// Difference removes every member of o from s.
func (s *Set) Difference(o *Set) {
	for i := 0; i < len(s.words) && i < len(o.words); i++ {
		s.words[i] &^= o.words[i]
	}
}

// CopyFrom makes s equal to o.
func (s *Set) CopyFrom(o *Set) {
	s.Reset()
	s.grow(len(o.words))
	copy(s.words, o.words)
}

// Clone returns a copy of s.
func (s *Set) Clone() *Set {
	c := &Set{}
	c.CopyFrom(s)
	return c
}

// Equal reports whether s and o have the same members.
func (s *Set) Equal(o *Set) bool {
	a, b := s.words, o.words
	if len(a) < len(b) {
		a, b = b, a
	}
	for i := range a {
		var w uint64
		if i < len(b) {
			w = b[i]
		}
		if a[i] != w {
			return false
		}
	}
	return true
}

// Len returns the number of members.
func (s *Set) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Empty reports whether s has no members.
func (s *Set) Empty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Range calls f for every member in increasing order.
func (s *Set) Range(f func(id int)) {
	for i, v := range s.words {
		for j := i * 64; v != 0; j++ {
			n := bits.TrailingZeros64(v)
			j += n
			v >>= uint(n) + 1
			f(j)
		}
	}
}

// Slice returns the members in increasing order.
func (s *Set) Slice() []int {
	var ret []int
	s.Range(func(id int) { ret = append(ret, id) })
	return ret
}

// First returns the smallest member, or -1 if s is empty.
func (s *Set) First() int {
	for i, w := range s.words {
		if w != 0 {
			return i*64 + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// String implements fmt.Stringer, e.g. "{1, 5, 64}".
func (s *Set) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	s.Range(func(id int) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(strconv.Itoa(id))
	})
	sb.WriteByte('}')
	return sb.String()
}
