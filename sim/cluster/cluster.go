// Package cluster runs a population of independent agents in parallel.
package cluster

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/inference-sim/taskalloc-sim/sim"
	"github.com/inference-sim/taskalloc-sim/sim/trace"
)

// ClusterSimulator drives N agents over a bounded worker pool. Each agent is
// handed to exactly one goroutine, so agents never share mutable state; the
// only shared collaborator is the optional Observer.
//
// Results do not depend on the number of workers: every agent's random
// streams are derived from the seed and its id before any goroutine starts.
type ClusterSimulator struct {
	agents            []*sim.Agent
	horizon           int64
	workers           int
	log               logrus.FieldLogger
	hasRun            bool
	aggregatedMetrics *sim.Metrics
}

// NewClusterSimulator builds config.NumAgents agents for the scenario.
// observer may be nil; logger nil uses the logrus standard logger.
func NewClusterSimulator(config DeploymentConfig, observer sim.Observer, logger logrus.FieldLogger) (*ClusterSimulator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deployment: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(config.Seed))
	agents := make([]*sim.Agent, config.NumAgents)
	for id := range agents {
		a, err := sim.NewAgent(sim.AgentConfig{
			ID:       id,
			Scenario: config.Scenario,
			RNG:      rng,
			Trace:    config.Trace,
			Logger:   logger,
			Observer: observer,
		})
		if err != nil {
			return nil, err
		}
		agents[id] = a
	}
	return NewClusterSimulatorFromAgents(agents, config.Horizon, config.Workers, logger), nil
}

// NewClusterSimulatorFromAgents wraps agents that were built elsewhere.
func NewClusterSimulatorFromAgents(agents []*sim.Agent, horizon int64, workers int, logger logrus.FieldLogger) *ClusterSimulator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if workers <= 0 || workers > len(agents) {
		workers = len(agents)
	}
	return &ClusterSimulator{agents: agents, horizon: horizon, workers: max(workers, 1), log: logger}
}

// Run steps every agent to the horizon. A halted agent stops on its own and
// is counted in the metrics; only cancellation of ctx is returned as an error.
// Run may be called once.
func (c *ClusterSimulator) Run(ctx context.Context) error {
	if c.hasRun {
		return fmt.Errorf("cluster already ran")
	}
	c.hasRun = true
	c.log.Infof("running %d agents for %d cycles on %d workers", len(c.agents), c.horizon, c.workers)

	p := pool.New().WithContext(ctx).WithMaxGoroutines(c.workers)
	for _, a := range c.agents {
		a := a
		p.Go(func(ctx context.Context) error {
			return a.Run(ctx, c.horizon)
		})
	}
	err := p.Wait()
	c.aggregatedMetrics = c.aggregateMetrics()
	if err != nil {
		return fmt.Errorf("cluster run interrupted: %w", err)
	}
	return nil
}

// Agents returns the agents in id order.
func (c *ClusterSimulator) Agents() []*sim.Agent {
	return c.agents
}

// Traces returns the agents' decision traces in id order; entries are nil
// when tracing is off.
func (c *ClusterSimulator) Traces() []*trace.DecisionTrace {
	out := make([]*trace.DecisionTrace, len(c.agents))
	for i, a := range c.agents {
		out[i] = a.Trace()
	}
	return out
}

// AggregatedMetrics returns the merged metrics across all agents.
// Panics if called before Run() has completed.
func (c *ClusterSimulator) AggregatedMetrics() *sim.Metrics {
	if !c.hasRun {
		panic("ClusterSimulator.AggregatedMetrics() called before Run()")
	}
	return c.aggregatedMetrics
}

func (c *ClusterSimulator) aggregateMetrics() *sim.Metrics {
	merged := sim.NewMetrics()
	for _, a := range c.agents {
		if a.Halted() {
			c.log.WithField("agent", a.ID()).Warnf("agent halted at cycle %d: %v", a.Ticks(), a.Err())
		}
		merged.Add(a.Report())
	}
	return merged
}
