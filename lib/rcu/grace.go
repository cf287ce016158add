package rcu

import (
	"math/bits"
	"strings"
)

// Grace is a fixed size bitset with one bit per slot.
type Grace struct {
	words []uint64
	n     int
}

// NewGrace creates an empty bitset for n slots.
func NewGrace(n int) Grace {
	return Grace{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the number of slots.
func (g *Grace) Len() int {
	return g.n
}

// SetAll sets every bit except the one for slot except. Pass a negative
// value to set every bit.
func (g *Grace) SetAll(except int) {
	for i := range g.words {
		g.words[i] = ^uint64(0)
	}
	// clear the padding of the last word
	if rem := g.n % 64; rem != 0 {
		g.words[len(g.words)-1] = (uint64(1) << rem) - 1
	}
	if except >= 0 && except < g.n {
		g.Clear(except)
	}
}

// Clear clears the bit for slot.
func (g *Grace) Clear(slot int) {
	g.words[slot/64] &^= uint64(1) << (slot % 64)
}

// Test reports whether the bit for slot is set.
func (g *Grace) Test(slot int) bool {
	return g.words[slot/64]&(uint64(1)<<(slot%64)) != 0
}

// Or merges other into g. Both sets must have the same length.
func (g *Grace) Or(other *Grace) {
	for i := range g.words {
		g.words[i] |= other.words[i]
	}
}

// Reset clears every bit.
func (g *Grace) Reset() {
	clear(g.words)
}

// None reports whether no bit is set.
func (g *Grace) None() bool {
	for _, w := range g.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (g *Grace) Count() int {
	c := 0
	for _, w := range g.words {
		c += bits.OnesCount64(w)
	}
	return c
}

func (g *Grace) String() string {
	var sb strings.Builder
	for i := 0; i < g.n; i++ {
		if g.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
