package main

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a random hex string of the given byte length
func GenerateID(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateUUID returns a random v4 UUID string used for room ids
func GenerateUUID() string {
	return uuid.NewString()
}

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampInt restricts v to [min, max]
func ClampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NewRand returns a PCG-backed source seeded from the wall clock.
// Tests pass a fixed seed through NewSeededRand instead.
func NewRand() *mrand.Rand {
	now := uint64(time.Now().UnixNano())
	return mrand.New(mrand.NewPCG(now, now>>17|1))
}

// NewSeededRand returns a deterministic source
func NewSeededRand(seed uint64) *mrand.Rand {
	return mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// uniform returns a value drawn uniformly from [-extent, extent]
func uniform(rng *mrand.Rand, extent float64) float64 {
	return rng.Float64()*extent*2 - extent
}
