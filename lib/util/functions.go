package util

import (
	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is an efficient key type based on uint64 for internal hash representation
type UintKey uint64

// HashString generates a hash value for a string with a seed.
// The string is hashed with xxhash64, the seed is spread with Mix64 and folded in,
// so the same string hashes differently for different seeds.
func HashString(s string, seed uint64) UintKey {
	return UintKey(Mix64(xxhash.Sum64String(s) ^ Mix64(seed)))
}

// Mix64 is the splitmix64 finalizer. It spreads the bits of a small integer
// (like a type id) over the whole word before it is used as a hash seed.
func Mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
