package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey and identical scenario MUST make
// bit-for-bit identical decisions.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

const (
	// SubsystemDecisions is the per-agent stream for abort and partition draws.
	SubsystemDecisions = "decisions"

	// SubsystemWork is the per-agent stream for work-size sampling.
	SubsystemWork = "work"

	// SubsystemIDs is the per-agent stream for trace run and instance IDs.
	SubsystemIDs = "ids"
)

// SubsystemAgent returns the subsystem name for a stream owned by agent id.
func SubsystemAgent(id int, stream string) string {
	return fmt.Sprintf("agent_%d/%s", id, stream)
}

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula: masterSeed XOR fnv1a64(subsystemName).
//
// Thread-safety: NOT thread-safe. Build every agent's streams from one
// goroutine before handing the agents to workers.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// ForAgent returns agent id's stream of the given kind.
func (p *PartitionedRNG) ForAgent(id int, stream string) *rand.Rand {
	return p.ForSubsystem(SubsystemAgent(id, stream))
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
