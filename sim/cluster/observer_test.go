package cluster

import (
	"sync"

	"github.com/inference-sim/taskalloc-sim/sim"
)

// countingObserver remembers the latest tick count reported per agent.
type countingObserver struct {
	mu   sync.Mutex
	seen map[int]int64
}

func (o *countingObserver) Observe(r sim.AgentReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.Ticks > o.seen[r.AgentID] {
		o.seen[r.AgentID] = r.Ticks
	}
}
