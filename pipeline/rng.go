package pipeline

import (
	"hash/fnv"
	"math/rand"
	"time"
)

// PartitionedRNG provides deterministically-seeded RNG instances per
// subsystem, so a single master seed reproduces a whole topology's service
// times and failure draws without the subsystems consuming each other's
// streams.
//
// Derivation: masterSeed XOR fnv1a64(subsystemName).
//
// Thread-safety: ForSubsystem itself is safe only before the topology starts;
// each returned *rand.Rand is either owned by a single goroutine or guarded by
// exactly one lock. A stream must never be shared across two locks.
type PartitionedRNG struct {
	masterSeed int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		masterSeed: seed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the RNG stream for the named subsystem, creating and
// caching it on first use. The same name always yields the same instance.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.masterSeed ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// UniformDuration draws a duration uniformly from [min, max]. A degenerate
// range (max <= min) returns min.
func UniformDuration(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)+1))
}
