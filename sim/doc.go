// Package sim runs agents that decide, once per control cycle, whether to keep
// working on a task, abandon it, or split it into two subtasks.
//
// # Reading Guide
//
// Start with these files:
//   - scenario.go: the YAML task tree every agent executes
//   - agent.go: one agent's clock, random streams, tree and the Step loop
//   - work_fsm.go: the hierarchical state machine that performs a task's work
//
// # Architecture
//
// The decision logic and the dispatcher live in sub-packages:
//   - sim/hfsm/: table-driven hierarchical state machine
//   - sim/taskalloc/: time estimates, abort/partition probabilities, task tree
//   - sim/workload/: work-size samplers
//   - sim/trace/: decision trace recording
//   - sim/cluster/: many agents run in parallel
//   - sim/telemetry/: Prometheus export of agent reports
//
// Every agent is owned by a single goroutine. Determinism comes from
// PartitionedRNG: each agent draws decisions and work sizes from its own
// streams derived from the run seed.
package sim
