package sim

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/taskalloc-sim/sim/hfsm"
	"github.com/inference-sim/taskalloc-sim/sim/taskalloc"
	"github.com/inference-sim/taskalloc-sim/sim/trace"
)

const brokenYAML = `
name: broken
tick_seconds: 0.5
max_transitions: 1
root: tiny
tasks:
  - name: tiny
    params: {estimation_alpha: 0.5, reactivity: 1.0, offset: 2.0}
    work: {type: constant, params: {value: 1}}
`

type recordingObserver struct {
	mu      sync.Mutex
	reports []AgentReport
}

func (o *recordingObserver) Observe(r AgentReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, r)
}

func newTestAgent(t *testing.T, sc *ScenarioConfig, id int, seed int64, level trace.TraceLevel) *Agent {
	t.Helper()
	a, err := NewAgent(AgentConfig{
		ID:       id,
		Scenario: sc,
		RNG:      NewPartitionedRNG(NewSimulationKey(seed)),
		Trace:    trace.TraceConfig{Level: level},
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	return a
}

func TestNewAgent_BuildsScenarioTree(t *testing.T) {
	a := newTestAgent(t, foragingScenario(t), 0, 42, trace.TraceLevelNone)

	require.Equal(t, 3, a.Tree().Len())
	root := a.Root()
	assert.Equal(t, "generalist", root.Name())
	assert.True(t, root.IsRoot())
	assert.True(t, root.IsPartitionable())
	first, second := root.Subtasks()
	assert.Equal(t, "collector", first.Name())
	assert.Equal(t, "harvester", second.Name())
	assert.True(t, first.IsAtomic())
	assert.Nil(t, a.Trace())
}

func TestNewAgent_RequiresScenarioAndRNG(t *testing.T) {
	_, err := NewAgent(AgentConfig{RNG: NewPartitionedRNG(1)})
	assert.Error(t, err)
	_, err = NewAgent(AgentConfig{Scenario: foragingScenario(t)})
	assert.Error(t, err)
}

func TestAgent_Run_CompletesRootInstances(t *testing.T) {
	// GIVEN the foraging scenario with fixed work sizes
	a := newTestAgent(t, foragingScenario(t), 0, 42, trace.TraceLevelDecisions)

	// WHEN running 500 cycles
	require.NoError(t, a.Run(context.Background(), 500))

	// THEN the clock advanced exactly and the root finished many instances
	assert.Equal(t, int64(500), a.Ticks())
	assert.Equal(t, 500.0, a.Now())
	assert.False(t, a.Halted())
	r := a.Report()
	assert.Greater(t, r.RootCompletions, 10)
	require.Len(t, r.Tasks, 3)
	assert.Equal(t, "generalist", r.Tasks[0].Name)
	assert.Greater(t, r.Tasks[0].ExecEstimate, 0.0)

	// AND the trace saw the completions
	sum := trace.Summarize(a.Trace())
	assert.Equal(t, r.RootCompletions, sum.Tasks["generalist"].Completions)
}

func TestAgent_Run_PartitionsEventually(t *testing.T) {
	// GIVEN subtasks that together are much cheaper than the whole task
	sc := foragingScenario(t)
	sc.Task("generalist").Work.Params["value"] = 40
	a := newTestAgent(t, sc, 1, 7, trace.TraceLevelDecisions)

	// WHEN running long enough for all estimates to exist
	require.NoError(t, a.Run(context.Background(), 3000))

	// THEN the generalist has committed to its subtasks at least once and the
	// collector went through its handoff interface
	r := a.Report()
	assert.Greater(t, r.Tasks[0].Stats.Partitioned, 0)
	assert.Greater(t, r.Tasks[1].Stats.InterfacesCompleted, 0)
	assert.Greater(t, r.Tasks[1].InterfaceEstimate, 0.0)
}

func TestAgent_SameSeed_SameDecisions(t *testing.T) {
	sc := foragingScenario(t)
	a := newTestAgent(t, sc, 3, 99, trace.TraceLevelNone)
	b := newTestAgent(t, sc, 3, 99, trace.TraceLevelNone)

	require.NoError(t, a.Run(context.Background(), 1000))
	require.NoError(t, b.Run(context.Background(), 1000))

	assert.Equal(t, a.Report(), b.Report())
}

func TestAgent_SameSeed_SameTrace(t *testing.T) {
	// GIVEN two agents built from the same seed with full tracing
	sc := foragingScenario(t)
	a := newTestAgent(t, sc, 2, 17, trace.TraceLevelAll)
	b := newTestAgent(t, sc, 2, 17, trace.TraceLevelAll)

	// WHEN both run the same horizon
	require.NoError(t, a.Run(context.Background(), 300))
	require.NoError(t, b.Run(context.Background(), 300))

	// THEN the traces match record for record, run and instance IDs included
	require.NotEmpty(t, a.Trace().Aborts)
	assert.NotEmpty(t, a.Trace().Aborts[0].InstanceID)
	assert.Equal(t, a.Trace(), b.Trace())
}

func TestAgent_Fatal_HaltsAgent(t *testing.T) {
	// GIVEN a task whose first cycle needs more transitions than allowed
	sc, err := ParseScenario(strings.NewReader(brokenYAML))
	require.NoError(t, err)
	require.NoError(t, sc.Validate())
	obs := &recordingObserver{}
	a, err := NewAgent(AgentConfig{
		Scenario: sc, RNG: NewPartitionedRNG(1),
		Trace: trace.TraceConfig{Level: trace.TraceLevelDecisions}, Logger: quietLogger(), Observer: obs,
	})
	require.NoError(t, err)

	// WHEN running
	require.NoError(t, a.Run(context.Background(), 10))

	// THEN the agent halted early, recorded the fatal and reported it
	assert.True(t, a.Halted())
	assert.ErrorIs(t, a.Err(), hfsm.ErrFatal)
	assert.Less(t, a.Ticks(), int64(10))
	assert.Equal(t, taskalloc.OutcomeHalted, a.Root().Outcome())
	require.Len(t, a.Trace().Fatals, 1)
	assert.Equal(t, "tiny", a.Trace().Fatals[0].Task)
	require.NotEmpty(t, obs.reports)
	assert.True(t, obs.reports[len(obs.reports)-1].Halted)

	// AND later steps refuse to run
	assert.ErrorIs(t, a.Step(), ErrAgentHalted)
}

func TestAgent_Run_StopsOnCancel(t *testing.T) {
	a := newTestAgent(t, foragingScenario(t), 0, 1, trace.TraceLevelNone)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Run(ctx, 100)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.Ticks())
}

func TestAgent_Observer_SeesRootOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	a, err := NewAgent(AgentConfig{ID: 2, Scenario: foragingScenario(t), RNG: NewPartitionedRNG(5), Logger: quietLogger(), Observer: obs})
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background(), 200))

	r := a.Report()
	// one report per ended root instance plus the final one
	assert.Len(t, obs.reports, r.RootCompletions+r.RootAborts+1)
	assert.Equal(t, 2, obs.reports[0].AgentID)
}
