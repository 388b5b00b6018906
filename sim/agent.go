package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/taskalloc-sim/sim/taskalloc"
	"github.com/inference-sim/taskalloc-sim/sim/trace"
)

// ErrAgentHalted is returned by Step once an agent has hit a fatal error.
var ErrAgentHalted = errors.New("agent halted")

// Observer receives agent reports when a root instance ends, when the agent
// halts, and when Run returns. Implementations are shared by every agent of a
// cluster and must be safe for concurrent use.
type Observer interface {
	Observe(report AgentReport)
}

// AgentConfig holds what NewAgent needs to build one agent.
type AgentConfig struct {
	ID       int
	Scenario *ScenarioConfig // must already be validated
	RNG      *PartitionedRNG
	Trace    trace.TraceConfig
	Logger   logrus.FieldLogger // nil uses the logrus standard logger
	Observer Observer           // optional
}

// Agent owns one task tree and everything it runs on: its clock, random
// streams, logger and decision trace. An agent is driven by exactly one
// goroutine.
type Agent struct {
	id       int
	clock    *taskalloc.TickClock
	tree     *taskalloc.Tree
	root     *taskalloc.ExecutableTask
	trace    *trace.DecisionTrace
	observer Observer
	log      logrus.FieldLogger

	rootCompletions int
	rootAborts      int
	err             error
}

// NewAgent builds the agent's task tree from the scenario.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Scenario == nil {
		return nil, fmt.Errorf("agent %d: no scenario", cfg.ID)
	}
	if cfg.RNG == nil {
		return nil, fmt.Errorf("agent %d: no random generator", cfg.ID)
	}
	base := cfg.Logger
	if base == nil {
		base = logrus.StandardLogger()
	}
	log := base.WithField("agent", cfg.ID)

	a := &Agent{
		id:       cfg.ID,
		clock:    taskalloc.NewTickClock(cfg.Scenario.TickSeconds),
		observer: cfg.Observer,
		log:      log,
	}
	ids := cfg.RNG.ForAgent(cfg.ID, SubsystemIDs)
	if cfg.Trace.Level != trace.TraceLevelNone && cfg.Trace.Level != "" {
		a.trace = trace.NewDecisionTrace(cfg.Trace, strconv.Itoa(cfg.ID), ids)
	}
	tree, err := taskalloc.NewTree(taskalloc.Deps{
		Clock:  a.clock,
		Rand:   cfg.RNG.ForAgent(cfg.ID, SubsystemDecisions),
		Logger: log,
		Trace:  a.trace,
		IDs:    ids,
	})
	if err != nil {
		return nil, err
	}
	if err := BuildTree(tree, cfg.Scenario, cfg.RNG.ForAgent(cfg.ID, SubsystemWork), log); err != nil {
		return nil, fmt.Errorf("agent %d: %w", cfg.ID, err)
	}
	a.tree = tree
	a.root = tree.Root()
	a.root.Reset()
	return a, nil
}

// BuildTree adds the scenario's tasks to an empty tree, parents before
// children, each backed by a work FSM drawing sizes from work.
func BuildTree(tree *taskalloc.Tree, sc *ScenarioConfig, work *rand.Rand, log logrus.FieldLogger) error {
	type pending struct {
		name   string
		parent taskalloc.TaskID
	}
	queue := []pending{{name: sc.Root, parent: taskalloc.NoTask}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		cfg := sc.Task(next.name)
		if cfg == nil {
			return fmt.Errorf("unknown task %q", next.name)
		}
		mech, err := NewWorkMechanism(*cfg, sc.MaxTransitions, work, log.WithField("task", cfg.Name))
		if err != nil {
			return fmt.Errorf("task %q: %w", cfg.Name, err)
		}
		task, err := tree.AddTask(cfg.Name, cfg.Params, next.parent, mech)
		if err != nil {
			return err
		}
		for _, sub := range cfg.Subtasks {
			queue = append(queue, pending{name: sub, parent: task.ID()})
		}
	}
	// subtasks are wired once every child exists
	for _, cfg := range sc.Tasks {
		if len(cfg.Subtasks) != 2 {
			continue
		}
		task, first, second := tree.Lookup(cfg.Name), tree.Lookup(cfg.Subtasks[0]), tree.Lookup(cfg.Subtasks[1])
		if task == nil || first == nil || second == nil {
			return fmt.Errorf("task %q: subtasks not reachable from root %q", cfg.Name, sc.Root)
		}
		if err := tree.SetSubtasks(task.ID(), first.ID(), second.ID()); err != nil {
			return err
		}
	}
	return nil
}

// Step runs one control cycle of the root task, then advances the clock.
// A finished or aborted root is reset for its next instance. A fatal error
// halts the agent; every later call returns ErrAgentHalted.
func (a *Agent) Step() error {
	if a.err != nil {
		return fmt.Errorf("%w: %v", ErrAgentHalted, a.err)
	}
	err := a.root.Execute()
	a.clock.Tick()
	if err != nil {
		a.err = err
		a.log.WithField("tick", a.clock.Ticks()).Errorf("halted: %v", err)
		a.notify()
		return err
	}
	switch a.root.Outcome() {
	case taskalloc.OutcomeFinished:
		a.rootCompletions++
		a.root.Reset()
		a.notify()
	case taskalloc.OutcomeAborted:
		a.rootAborts++
		a.root.Reset()
		a.notify()
	}
	return nil
}

// Run steps the agent until its clock reaches horizon ticks, the agent halts
// or ctx is cancelled. A halt is not returned as an error: it is reported
// through Halted and Err so one agent's fatal never stops its peers.
func (a *Agent) Run(ctx context.Context, horizon int64) error {
	defer a.notify()
	for a.clock.Ticks() < horizon {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.Step(); err != nil {
			return nil
		}
	}
	return nil
}

func (a *Agent) notify() {
	if a.observer != nil {
		a.observer.Observe(a.Report())
	}
}

// ID returns the agent id.
func (a *Agent) ID() int { return a.id }

// Ticks returns the number of control cycles run.
func (a *Agent) Ticks() int64 { return a.clock.Ticks() }

// Now returns the agent's simulated time in seconds.
func (a *Agent) Now() float64 { return a.clock.Now() }

// Root returns the root task.
func (a *Agent) Root() *taskalloc.ExecutableTask { return a.root }

// Tree returns the agent's task tree.
func (a *Agent) Tree() *taskalloc.Tree { return a.tree }

// Trace returns the decision trace, or nil when tracing is off.
func (a *Agent) Trace() *trace.DecisionTrace { return a.trace }

// Halted reports whether a fatal error stopped the agent.
func (a *Agent) Halted() bool { return a.err != nil }

// Err returns the fatal error that halted the agent, or nil.
func (a *Agent) Err() error { return a.err }

// TaskReport is a point-in-time view of one task of an agent.
type TaskReport struct {
	Name                 string
	Stats                taskalloc.TaskStats
	ExecEstimate         float64
	InterfaceEstimate    float64
	AbortProbability     float64
	PartitionProbability float64
}

// AgentReport is a point-in-time view of an agent.
type AgentReport struct {
	AgentID         int
	Ticks           int64
	RootCompletions int
	RootAborts      int
	Halted          bool
	Tasks           []TaskReport // tree creation order
}

// Report snapshots the agent's counters and estimates.
func (a *Agent) Report() AgentReport {
	r := AgentReport{
		AgentID:         a.id,
		Ticks:           a.clock.Ticks(),
		RootCompletions: a.rootCompletions,
		RootAborts:      a.rootAborts,
		Halted:          a.err != nil,
	}
	for _, t := range a.tree.Tasks() {
		r.Tasks = append(r.Tasks, TaskReport{
			Name:                 t.Name(),
			Stats:                t.Stats(),
			ExecEstimate:         t.ExecEstimate(),
			InterfaceEstimate:    t.InterfaceEstimate(),
			AbortProbability:     t.LastAbortProbability(),
			PartitionProbability: t.LastPartitionProbability(),
		})
	}
	return r
}
