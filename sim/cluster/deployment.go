package cluster

import (
	"fmt"

	"github.com/inference-sim/taskalloc-sim/sim"
	"github.com/inference-sim/taskalloc-sim/sim/trace"
)

// DeploymentConfig describes a population of agents that all execute the
// same scenario. NumAgents must be >= 1.
type DeploymentConfig struct {
	Scenario  *sim.ScenarioConfig
	NumAgents int
	Horizon   int64 // control cycles per agent
	Seed      int64
	Workers   int // concurrent agents; <= 0 runs every agent at once
	Trace     trace.TraceConfig
}

// Validate checks the deployment and its scenario.
func (d DeploymentConfig) Validate() error {
	if d.Scenario == nil {
		return fmt.Errorf("no scenario")
	}
	if d.NumAgents < 1 {
		return fmt.Errorf("num agents must be >= 1, got %d", d.NumAgents)
	}
	if d.Horizon < 0 {
		return fmt.Errorf("horizon must be non-negative, got %d", d.Horizon)
	}
	if !trace.IsValidTraceLevel(string(d.Trace.Level)) {
		return fmt.Errorf("unknown trace level %q; valid: none, decisions, all", d.Trace.Level)
	}
	return d.Scenario.Validate()
}
