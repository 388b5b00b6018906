package taskalloc

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/taskalloc-sim/sim/trace"
)

// Outcome is the state of the current task instance.
type Outcome string

const (
	OutcomeIdle     Outcome = "idle"     // reset, not started
	OutcomeRunning  Outcome = "running"  // started, neither finished nor aborted
	OutcomeFinished Outcome = "finished" // completed; estimates updated
	OutcomeAborted  Outcome = "aborted"  // abandoned; estimates untouched
	OutcomeHalted   Outcome = "halted"   // a mechanism returned a fatal error
)

// TaskStats counts instance outcomes over the task's lifetime.
type TaskStats struct {
	Started             int
	Completed           int
	Aborted             int
	Partitioned         int
	InterfacesCompleted int
}

// ExecutableTask is a node of the task tree that can run. Once per control
// cycle Execute decides whether to keep working, split into the two subtasks,
// or abort, and then advances whichever mechanism is active.
//
// An instance starts on the first Execute after Reset and ends when it
// finishes, aborts or halts. Calling Execute on an ended instance starts a new
// one.
type ExecutableTask struct {
	LogicalTask

	atomic        bool
	partitionable bool
	subtasks      [2]TaskID

	interfaceTime      float64
	interfaceStartTime float64
	execTime           float64
	execStartTime      float64
	interfaceEstimate  *TimeEstimate
	execEstimate       *TimeEstimate

	abortProb     *AbortProbability
	partitionProb *PartitionProbability
	mech          Taskable

	instanceID  string
	outcome     Outcome
	inInterface bool
	partitioned bool // sticky for the current instance
	active      int  // selected subtask while partitioned
	err         error
	stats       TaskStats

	log logrus.FieldLogger
}

func newExecutableTask(name string, params TaskParams, mech Taskable) (*ExecutableTask, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	execEst, err := NewTimeEstimate(params.EstimationAlpha)
	if err != nil {
		return nil, err
	}
	ifaceEst, err := NewTimeEstimate(params.EstimationAlpha)
	if err != nil {
		return nil, err
	}
	abort, err := NewAbortProbability(params.Reactivity, params.Offset)
	if err != nil {
		return nil, err
	}
	partition, err := NewPartitionProbability(params.Reactivity)
	if err != nil {
		return nil, err
	}
	return &ExecutableTask{
		atomic:            true,
		subtasks:          [2]TaskID{NoTask, NoTask},
		interfaceEstimate: ifaceEst,
		execEstimate:      execEst,
		abortProb:         abort,
		partitionProb:     partition,
		mech:              mech,
		outcome:           OutcomeIdle,
	}, nil
}

// Reset re-arms the task and everything below it for a fresh instance.
// Estimates are kept.
func (t *ExecutableTask) Reset() {
	t.resetMechanisms()
	t.outcome = OutcomeIdle
	t.instanceID = ""
	t.execTime, t.execStartTime = 0, 0
	t.interfaceTime, t.interfaceStartTime = 0, 0
	t.inInterface = false
	t.partitioned = false
	t.active = 0
	t.err = nil
}

// Finished reports whether the current instance completed.
func (t *ExecutableTask) Finished() bool { return t.outcome == OutcomeFinished }

// Execute runs one control cycle of the decision loop.
func (t *ExecutableTask) Execute() error {
	if t.outcome == OutcomeHalted {
		return t.err
	}
	clock := t.tree.deps.Clock
	now := clock.Now()
	if t.outcome != OutcomeRunning {
		t.begin(now)
	}
	// durations include the cycle being run
	end := now + clock.Period()
	t.execTime = end - t.execStartTime
	if t.inInterface {
		t.interfaceTime = end - t.interfaceStartTime
	}

	if t.partitionable && !t.partitioned {
		t.drawPartition(now)
	}
	if t.drawAbort(now) {
		return nil
	}
	return t.advance(end)
}

func (t *ExecutableTask) begin(now float64) {
	if t.outcome != OutcomeIdle {
		t.Reset()
	}
	t.outcome = OutcomeRunning
	t.instanceID = trace.NewID(t.tree.deps.IDs)
	t.execStartTime = now
	t.stats.Started++
	t.log.Debugf("instance %s started at %.2fs", t.instanceID, now)
}

func (t *ExecutableTask) drawPartition(now float64) {
	first, second := t.subtask(0), t.subtask(1)
	p := t.partitionProb.Compute(t.execEstimate.LastResult(),
		first.execEstimate.LastResult(), second.execEstimate.LastResult())
	draw := t.tree.deps.Rand.Float64()
	commit := draw < p
	if dt := t.tree.deps.Trace; dt != nil {
		dt.RecordPartition(trace.PartitionRecord{
			Task: t.name, InstanceID: t.instanceID, Clock: now,
			Probability: p, Draw: draw, Committed: commit,
		})
	}
	if !commit {
		return
	}
	t.partitioned = true
	t.active = 0
	t.inInterface = false
	t.stats.Partitioned++
	t.mech.Reset()
	first.Reset()
	second.Reset()
	t.log.Debugf("partitioned into %s/%s (p=%.3f)", first.Name(), second.Name(), p)
}

func (t *ExecutableTask) drawAbort(now float64) bool {
	var p float64
	if t.partitioned {
		p = t.abortProb.ComputePartitioned(t.execTime, t.execEstimate,
			t.subtask(0).execEstimate, t.subtask(1).execEstimate)
	} else {
		p = t.abortProb.Compute(t.execTime, t.execEstimate)
	}
	draw := t.tree.deps.Rand.Float64()
	aborted := draw < p
	if dt := t.tree.deps.Trace; dt != nil {
		dt.RecordAbort(trace.AbortRecord{
			Task: t.name, InstanceID: t.instanceID, Clock: now, ExecTime: t.execTime,
			Probability: p, Draw: draw, Partitioned: t.partitioned, Aborted: aborted,
		})
	}
	if aborted {
		t.abort(fmt.Sprintf("abort draw %.3f < %.3f", draw, p))
	}
	return aborted
}

// abort ends the instance; the parent sees OutcomeAborted after its call to
// Execute returns and aborts its own instance in turn.
func (t *ExecutableTask) abort(reason string) {
	t.resetMechanisms()
	t.inInterface = false
	t.partitioned = false
	t.active = 0
	t.outcome = OutcomeAborted
	t.stats.Aborted++
	t.log.Debugf("instance %s aborted after %.2fs: %s", t.instanceID, t.execTime, reason)
}

// advance runs the active mechanism; end is the time at which the current
// cycle closes.
func (t *ExecutableTask) advance(end float64) error {
	if !t.partitioned {
		if err := t.mech.Execute(); err != nil {
			return t.halt(end, err, true)
		}
		t.trackInterface(end)
		if t.mech.Finished() {
			t.complete(end)
		}
		return nil
	}

	child := t.subtask(t.active)
	if err := child.Execute(); err != nil {
		// the subtask already recorded the fatal
		return t.halt(end, err, false)
	}
	switch child.Outcome() {
	case OutcomeFinished:
		if t.active == 0 {
			t.active = 1
			t.subtask(1).Reset()
			t.log.Debugf("subtask %s finished, switching to %s", child.Name(), t.subtask(1).Name())
		} else {
			t.complete(end)
		}
	case OutcomeAborted:
		t.abort(fmt.Sprintf("subtask %s aborted", child.Name()))
	}
	return nil
}

// trackInterface opens and closes interface phases as the mechanism reports them.
func (t *ExecutableTask) trackInterface(end float64) {
	ifc, ok := t.mech.(Interfacer)
	if !ok {
		return
	}
	at := ifc.AtInterface()
	switch {
	case at && !t.inInterface:
		t.inInterface = true
		t.interfaceStartTime = end
		t.interfaceTime = 0
	case !at && t.inInterface:
		t.inInterface = false
		t.interfaceTime = end - t.interfaceStartTime
		est := t.interfaceEstimate.Update(t.interfaceTime)
		t.stats.InterfacesCompleted++
		t.recordPhase(trace.PhaseInterface, end, t.interfaceTime, est)
	}
}

func (t *ExecutableTask) complete(end float64) {
	t.execTime = end - t.execStartTime
	est := t.execEstimate.Update(t.execTime)
	t.outcome = OutcomeFinished
	t.stats.Completed++
	t.recordPhase(trace.PhaseExec, end, t.execTime, est)
	t.log.Debugf("instance %s finished in %.2fs (estimate %.2fs)", t.instanceID, t.execTime, est)
}

func (t *ExecutableTask) halt(now float64, err error, record bool) error {
	t.outcome = OutcomeHalted
	t.err = fmt.Errorf("task %s: %w", t.name, err)
	if dt := t.tree.deps.Trace; dt != nil && record {
		dt.RecordFatal(trace.FatalRecord{Task: t.name, Clock: now, Error: err.Error()})
	}
	return t.err
}

func (t *ExecutableTask) recordPhase(phase trace.Phase, now, duration, estimate float64) {
	if dt := t.tree.deps.Trace; dt != nil {
		dt.RecordPhase(trace.PhaseRecord{
			Task: t.name, InstanceID: t.instanceID, Phase: phase,
			Clock: now, Duration: duration, Estimate: estimate,
		})
	}
}

func (t *ExecutableTask) resetMechanisms() {
	t.mech.Reset()
	if t.partitionable {
		t.subtask(0).Reset()
		t.subtask(1).Reset()
	}
}

func (t *ExecutableTask) subtask(i int) *ExecutableTask {
	return t.tree.Task(t.subtasks[i])
}

// IsAtomic reports whether the task has no children.
func (t *ExecutableTask) IsAtomic() bool { return t.atomic }

// IsPartitionable reports whether the task has a subtask pair.
func (t *ExecutableTask) IsPartitionable() bool { return t.partitionable }

// Subtasks returns the subtask pair, or nils if the task is not partitionable.
func (t *ExecutableTask) Subtasks() (*ExecutableTask, *ExecutableTask) {
	if !t.partitionable {
		return nil, nil
	}
	return t.subtask(0), t.subtask(1)
}

// Partitioned reports whether the current instance committed to its subtasks.
func (t *ExecutableTask) Partitioned() bool { return t.partitioned }

// ActiveSubtask returns the subtask being executed, or nil when unpartitioned.
func (t *ExecutableTask) ActiveSubtask() *ExecutableTask {
	if !t.partitioned {
		return nil
	}
	return t.subtask(t.active)
}

// Outcome returns the state of the current instance.
func (t *ExecutableTask) Outcome() Outcome { return t.outcome }

// Err returns the error that halted the task, or nil.
func (t *ExecutableTask) Err() error { return t.err }

// InstanceID identifies the current instance; empty before it starts.
func (t *ExecutableTask) InstanceID() string { return t.instanceID }

// ExecTime returns the elapsed time of the current instance in seconds.
func (t *ExecutableTask) ExecTime() float64 { return t.execTime }

// InterfaceTime returns the elapsed (or last completed) interface time.
func (t *ExecutableTask) InterfaceTime() float64 { return t.interfaceTime }

// InInterface reports whether an interface phase is open.
func (t *ExecutableTask) InInterface() bool { return t.inInterface }

// ExecEstimate returns the current execution-time estimate.
func (t *ExecutableTask) ExecEstimate() float64 { return t.execEstimate.LastResult() }

// InterfaceEstimate returns the current interface-time estimate.
func (t *ExecutableTask) InterfaceEstimate() float64 { return t.interfaceEstimate.LastResult() }

// LastAbortProbability returns the abort probability computed in the last cycle.
func (t *ExecutableTask) LastAbortProbability() float64 { return t.abortProb.LastResult() }

// LastPartitionProbability returns the partition probability computed in the last cycle.
func (t *ExecutableTask) LastPartitionProbability() float64 { return t.partitionProb.LastResult() }

// Stats returns the lifetime counters.
func (t *ExecutableTask) Stats() TaskStats { return t.stats }

// Mechanism returns the task's own execution mechanism.
func (t *ExecutableTask) Mechanism() Taskable { return t.mech }
