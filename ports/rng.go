package ports

import (
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic
// resampling. Bootstrap is the only place in the engine that needs
// randomness; the seed is threaded explicitly so identical inputs and
// an identical seed yield byte-identical results.
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for
	// a named operation.
	SeededStream(name string, seed int64) *rand.Rand
}

// FixedSeedRNG is the default RNGPort: a plain seeded source per stream.
type FixedSeedRNG struct{}

// SeededStream returns a rand.Rand seeded from the base seed and a
// stable per-name offset, so distinct operations within one analysis
// do not share a stream.
func (FixedSeedRNG) SeededStream(name string, seed int64) *rand.Rand {
	var offset int64
	for _, c := range name {
		offset = offset*31 + int64(c)
	}
	return rand.New(rand.NewSource(seed ^ offset))
}
