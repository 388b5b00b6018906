package taskalloc

import (
	"errors"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/taskalloc-sim/sim/hfsm"
	"github.com/inference-sim/taskalloc-sim/sim/trace"
)

// drawSource feeds scripted uniform draws to rand.Float64, then keeps
// returning the fallback.
type drawSource struct {
	draws    []float64
	fallback float64
}

func (s *drawSource) Int63() int64 {
	v := s.fallback
	if len(s.draws) > 0 {
		v, s.draws = s.draws[0], s.draws[1:]
	}
	return int64(v * (1 << 63))
}

func (s *drawSource) Seed(int64) {}

// never aborts unless the probability exceeds 0.999
const noDraw = 0.999

func scriptedRand(draws ...float64) *rand.Rand {
	return rand.New(&drawSource{draws: draws, fallback: noDraw})
}

// stepTask finishes after a fixed number of executes and reports an interface
// phase while done is in [ifaceFrom, ifaceTo).
type stepTask struct {
	steps              int
	done               int
	resets             int
	ifaceFrom, ifaceTo int
	err                error
}

func (s *stepTask) Reset()            { s.done = 0; s.resets++ }
func (s *stepTask) Finished() bool    { return s.done >= s.steps }
func (s *stepTask) AtInterface() bool { return s.done >= s.ifaceFrom && s.done < s.ifaceTo }
func (s *stepTask) Execute() error {
	if s.err != nil {
		return s.err
	}
	s.done++
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var defaultParams = TaskParams{EstimationAlpha: 0.5, Reactivity: 1, Offset: 0}

type fixture struct {
	clock *TickClock
	tree  *Tree
	trace *trace.DecisionTrace
}

func newFixture(t *testing.T, rng *rand.Rand) *fixture {
	t.Helper()
	clock := NewTickClock(1)
	dt := trace.NewDecisionTrace(trace.TraceConfig{Level: trace.TraceLevelAll}, "agent_0", nil)
	tree, err := NewTree(Deps{Clock: clock, Rand: rng, Logger: quietLogger(), Trace: dt})
	require.NoError(t, err)
	return &fixture{clock: clock, tree: tree, trace: dt}
}

// cycle runs one control tick: execute, then advance the clock.
func (f *fixture) cycle(t *testing.T, task *ExecutableTask) {
	t.Helper()
	require.NoError(t, task.Execute())
	f.clock.Tick()
}

func TestExecutableTask_Unpartitioned_CompletesAndUpdatesEstimate(t *testing.T) {
	// GIVEN an atomic task whose mechanism needs three cycles
	f := newFixture(t, scriptedRand())
	mech := &stepTask{steps: 3, ifaceFrom: -1, ifaceTo: -1}
	task, err := f.tree.AddTask("solo", defaultParams, NoTask, mech)
	require.NoError(t, err)

	// WHEN it is executed at t=0,1,2
	f.cycle(t, task)
	f.cycle(t, task)
	assert.Equal(t, OutcomeRunning, task.Outcome())
	f.cycle(t, task)

	// THEN the instance took all three cycles and seeded the estimate
	assert.True(t, task.Finished())
	assert.Equal(t, 3.0, task.ExecTime())
	assert.Equal(t, 3.0, task.ExecEstimate())
	assert.Equal(t, 1, task.Stats().Completed)
	assert.True(t, task.IsAtomic())
	assert.False(t, task.IsPartitionable())
	require.Len(t, f.trace.Phases, 1)
	assert.Equal(t, trace.PhaseExec, f.trace.Phases[0].Phase)
}

func TestExecutableTask_AbortProbabilityAtEstimate_IsHalf(t *testing.T) {
	// GIVEN a non-partitionable task with reactivity 1, offset 0 and an estimate of 10s
	f := newFixture(t, scriptedRand())
	task, err := f.tree.AddTask("solo", TaskParams{EstimationAlpha: 0.5, Reactivity: 1, Offset: 0}, NoTask, &stepTask{steps: 100})
	require.NoError(t, err)
	task.execEstimate.Update(10)

	// WHEN the cycle starting at t=9 brings the instance to 10s
	f.cycle(t, task)
	for i := 1; i < 9; i++ {
		f.clock.Tick()
	}
	require.Equal(t, 9.0, f.clock.Now())
	require.NoError(t, task.Execute())

	// THEN the unpartitioned abort probability is 1/(1+e^0)
	assert.Equal(t, 10.0, task.ExecTime())
	assert.Equal(t, 0.5, task.LastAbortProbability())
}

func TestExecutableTask_AbortDraw_ResetsMechanismAndKeepsEstimate(t *testing.T) {
	// GIVEN a task with no estimate, so the abort probability is the fallback
	f := newFixture(t, scriptedRand(0.0001))
	mech := &stepTask{steps: 5}
	task, err := f.tree.AddTask("solo", defaultParams, NoTask, mech)
	require.NoError(t, err)

	// WHEN the first abort draw falls below 0.001
	f.cycle(t, task)

	// THEN the instance is aborted without touching the mechanism's progress or estimate
	assert.Equal(t, OutcomeAborted, task.Outcome())
	assert.Equal(t, NoEstimateAbortProb, task.LastAbortProbability())
	assert.Equal(t, 0, mech.done)
	assert.Equal(t, 1, mech.resets)
	assert.Equal(t, 1, task.Stats().Aborted)
	assert.Zero(t, task.ExecEstimate())

	// AND executing again starts a fresh instance
	f.cycle(t, task)
	assert.Equal(t, OutcomeRunning, task.Outcome())
	assert.Equal(t, 2, task.Stats().Started)
}

func TestExecutableTask_OneCycleTask_KeepsUsableEstimate(t *testing.T) {
	// GIVEN a task whose instances normally finish in a single cycle
	f := newFixture(t, scriptedRand())
	mech := &stepTask{steps: 1, ifaceFrom: -1, ifaceTo: -1}
	task, err := f.tree.AddTask("solo", defaultParams, NoTask, mech)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		f.cycle(t, task)
		require.True(t, task.Finished())
		assert.Equal(t, 1.0, task.ExecTime())
	}
	require.Equal(t, 1.0, task.ExecEstimate())

	// WHEN a later instance overruns to five cycles
	mech.steps = 100
	for i := 0; i < 5; i++ {
		f.cycle(t, task)
	}

	// THEN the abort curve follows the overrun instead of the no-estimate fallback
	assert.Equal(t, 5.0, task.ExecTime())
	assert.NotEqual(t, NoEstimateAbortProb, task.LastAbortProbability())
	assert.InDelta(t, 1/(1+math.Exp(4)), task.LastAbortProbability(), 1e-12)
}

func TestExecutableTask_SeededIDs_RepeatInstanceIDs(t *testing.T) {
	// GIVEN two trees whose instance IDs come from equally seeded readers
	ids := func() string {
		tree, err := NewTree(Deps{Clock: NewTickClock(1), Rand: scriptedRand(), Logger: quietLogger(),
			IDs: rand.New(rand.NewSource(11))})
		require.NoError(t, err)
		task, err := tree.AddTask("solo", defaultParams, NoTask, &stepTask{steps: 5})
		require.NoError(t, err)
		require.NoError(t, task.Execute())
		return task.InstanceID()
	}

	// WHEN each starts an instance
	first, second := ids(), ids()

	// THEN the instance IDs match
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

type partitionFixture struct {
	*fixture
	whole, first, second *ExecutableTask
	wholeMech            *stepTask
}

func newPartitionFixture(t *testing.T, rng *rand.Rand, firstSteps, secondSteps int) *partitionFixture {
	t.Helper()
	f := newFixture(t, rng)
	wholeMech := &stepTask{steps: 10}
	whole, err := f.tree.AddTask("generalist", defaultParams, NoTask, wholeMech)
	require.NoError(t, err)
	first, err := f.tree.AddTask("collector", defaultParams, whole.ID(), &stepTask{steps: firstSteps})
	require.NoError(t, err)
	second, err := f.tree.AddTask("harvester", defaultParams, whole.ID(), &stepTask{steps: secondSteps})
	require.NoError(t, err)
	require.NoError(t, f.tree.SetSubtasks(whole.ID(), first.ID(), second.ID()))
	return &partitionFixture{fixture: f, whole: whole, first: first, second: second, wholeMech: wholeMech}
}

func TestExecutableTask_PartitionCommit_RunsSubtasksInSequence(t *testing.T) {
	// GIVEN a partitionable task whose first partition draw (p=0.5) commits
	f := newPartitionFixture(t, scriptedRand(0.1), 1, 1)

	// WHEN two cycles run
	f.cycle(t, f.whole)

	// THEN the first cycle committed, ran the collector to completion and selected the harvester
	assert.True(t, f.whole.Partitioned())
	assert.Equal(t, UnknownPartitionProb, f.whole.LastPartitionProbability())
	assert.Equal(t, f.second, f.whole.ActiveSubtask())
	assert.Equal(t, 1, f.first.Stats().Completed)
	assert.Zero(t, f.wholeMech.done, "whole-task mechanism must not run once partitioned")

	f.cycle(t, f.whole)

	// AND the second cycle finished the harvester and the whole task
	assert.True(t, f.whole.Finished())
	assert.Equal(t, 1, f.second.Stats().Completed)
	assert.Equal(t, 1, f.whole.Stats().Partitioned)
	assert.Equal(t, 2.0, f.whole.ExecEstimate())
	assert.Equal(t, f.whole.ExecEstimate(), f.first.ExecEstimate()+f.second.ExecEstimate())
}

func TestExecutableTask_PartitionCommit_IsSticky(t *testing.T) {
	// GIVEN a committed partition and a long first subtask
	f := newPartitionFixture(t, scriptedRand(0.1), 5, 5)

	// WHEN several cycles run
	for i := 0; i < 4; i++ {
		f.cycle(t, f.whole)
	}

	// THEN only the first cycle drew for the partition
	require.Len(t, f.trace.Partitions, 1)
	assert.True(t, f.trace.Partitions[0].Committed)
	assert.True(t, f.whole.Partitioned())
	// and the abort draws switched to the partitioned form
	for _, a := range f.trace.Aborts {
		if a.Task == "generalist" {
			assert.True(t, a.Partitioned)
		}
	}
}

func TestExecutableTask_NoCommit_DrawsEveryCycle(t *testing.T) {
	// GIVEN partition draws that never fall below 0.5
	f := newPartitionFixture(t, scriptedRand(), 1, 1)

	// WHEN three cycles run
	for i := 0; i < 3; i++ {
		f.cycle(t, f.whole)
	}

	// THEN a fresh partition draw happened each cycle and the whole mechanism ran
	assert.Len(t, f.trace.Partitions, 3)
	assert.False(t, f.whole.Partitioned())
	assert.Equal(t, 3, f.wholeMech.done)
}

func TestExecutableTask_SubtaskAbort_PropagatesToParent(t *testing.T) {
	// GIVEN a commit, a surviving parent abort draw, and an aborting subtask draw
	f := newPartitionFixture(t, scriptedRand(0.1, noDraw, 0.0001), 5, 5)

	// WHEN one cycle runs
	f.cycle(t, f.whole)

	// THEN both the collector and the generalist instance are aborted
	assert.Equal(t, 1, f.first.Stats().Aborted)
	assert.Equal(t, OutcomeAborted, f.whole.Outcome())
	assert.Equal(t, 1, f.whole.Stats().Aborted)
	assert.Nil(t, f.first.Parent().ActiveSubtask(), "aborted parent is no longer partitioned")
}

func TestExecutableTask_FatalMechanism_HaltsTask(t *testing.T) {
	// GIVEN a mechanism that fails fatally
	f := newFixture(t, scriptedRand())
	mech := &stepTask{steps: 3, err: hfsm.ErrFatal}
	task, err := f.tree.AddTask("solo", defaultParams, NoTask, mech)
	require.NoError(t, err)

	// WHEN executed
	err = task.Execute()

	// THEN the task halts and keeps reporting the error
	require.Error(t, err)
	assert.True(t, errors.Is(err, hfsm.ErrFatal))
	assert.Equal(t, OutcomeHalted, task.Outcome())
	assert.ErrorIs(t, task.Execute(), hfsm.ErrFatal)
	require.Len(t, f.trace.Fatals, 1)

	// AND Reset re-arms it
	mech.err = nil
	task.Reset()
	assert.NoError(t, task.Execute())
	assert.Equal(t, OutcomeRunning, task.Outcome())
}

func TestExecutableTask_InterfacePhase_UpdatesInterfaceEstimate(t *testing.T) {
	// GIVEN a mechanism at its interface while 2 <= done < 4
	f := newFixture(t, scriptedRand())
	task, err := f.tree.AddTask("solo", defaultParams, NoTask, &stepTask{steps: 6, ifaceFrom: 2, ifaceTo: 4})
	require.NoError(t, err)

	// WHEN it runs past the interface (opens at the end of cycle 2, closes at the end of cycle 4)
	for i := 0; i < 4; i++ {
		f.cycle(t, task)
	}

	// THEN the interface lasted 2s
	assert.False(t, task.InInterface())
	assert.Equal(t, 2.0, task.InterfaceTime())
	assert.Equal(t, 2.0, task.InterfaceEstimate())
	assert.Equal(t, 1, task.Stats().InterfacesCompleted)
}

func TestTree_Validation(t *testing.T) {
	f := newFixture(t, scriptedRand())
	root, err := f.tree.AddTask("root", defaultParams, NoTask, &stepTask{steps: 1})
	require.NoError(t, err)
	a, err := f.tree.AddTask("a", defaultParams, root.ID(), &stepTask{steps: 1})
	require.NoError(t, err)
	b, err := f.tree.AddTask("b", defaultParams, a.ID(), &stepTask{steps: 1})
	require.NoError(t, err)

	_, err = f.tree.AddTask("a", defaultParams, root.ID(), &stepTask{steps: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig, "duplicate name")
	_, err = f.tree.AddTask("root2", defaultParams, NoTask, &stepTask{steps: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig, "second root")
	_, err = f.tree.AddTask("c", defaultParams, TaskID(42), &stepTask{steps: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig, "unknown parent")
	_, err = f.tree.AddTask("d", defaultParams, root.ID(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig, "nil mechanism")
	_, err = f.tree.AddTask("e", TaskParams{EstimationAlpha: 0, Reactivity: 1}, root.ID(), &stepTask{steps: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig, "bad alpha")

	assert.ErrorIs(t, f.tree.SetSubtasks(root.ID(), a.ID(), b.ID()), ErrInvalidConfig, "b is a grandchild")
	assert.ErrorIs(t, f.tree.SetSubtasks(root.ID(), a.ID(), a.ID()), ErrInvalidConfig, "same subtask twice")

	assert.Equal(t, root, f.tree.Root())
	assert.Equal(t, a, f.tree.Lookup("a"))
	assert.Equal(t, root, b.Parent().Parent())
	assert.Equal(t, []*ExecutableTask{a}, root.Children())
	assert.False(t, root.IsAtomic())
	assert.True(t, b.IsAtomic())
}

func TestNewTree_RequiresClockAndRand(t *testing.T) {
	_, err := NewTree(Deps{Rand: scriptedRand()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewTree(Deps{Clock: NewTickClock(1)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
