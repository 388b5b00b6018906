package sim

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/taskalloc-sim/sim/hfsm"
	"github.com/inference-sim/taskalloc-sim/sim/taskalloc"
	"github.com/inference-sim/taskalloc-sim/sim/workload"
)

// Work FSM states.
//
//	start
//	working
//	├── progress
//	└── handoff
//	finished
const (
	WorkStart hfsm.StateID = iota
	WorkWorking
	WorkProgress
	WorkHandoff
	WorkFinished
)

// workFSM is the execution mechanism of scenario tasks. Each instance draws
// its size on entry to start, burns one unit per cycle in progress, optionally
// spends handoff ticks at its interface, then finishes. Children report the
// end of their phase by leaving the event unhandled; working picks the next
// phase.
type workFSM struct {
	sampler workload.WorkSampler
	rng     *rand.Rand
	handoff int

	size      int
	remaining int
	lingering int
}

// NewWorkMechanism builds the work FSM for one task and wraps it for polling.
func NewWorkMechanism(task TaskConfig, maxTransitions int, rng *rand.Rand, log logrus.FieldLogger) (*taskalloc.PolledHfsm, error) {
	sampler, err := workload.NewWorkSampler(task.Work)
	if err != nil {
		return nil, err
	}
	w := &workFSM{sampler: sampler, rng: rng, handoff: task.HandoffTicks}
	states := []hfsm.State{
		WorkStart: {Name: "start", Parent: hfsm.NoParent,
			Enter:  w.enterStart,
			Handle: hfsm.NoEvent(w.handleStart)},
		WorkWorking: {Name: "working", Parent: hfsm.NoParent,
			Handle: hfsm.NoEvent(w.handleWorking)},
		WorkProgress: {Name: "progress", Parent: WorkWorking,
			Handle: hfsm.NoEvent(w.handleProgress)},
		WorkHandoff: {Name: "handoff", Parent: WorkWorking,
			Enter:  func(*hfsm.Machine) { w.lingering = w.handoff },
			Handle: hfsm.NoEvent(w.handleHandoff)},
		WorkFinished: {Name: "finished", Parent: hfsm.NoParent,
			Handle: hfsm.NoEvent(func(*hfsm.Machine) hfsm.Signal { return hfsm.SignalHandled })},
	}
	m, err := hfsm.New(hfsm.Config{
		Name:           task.Name,
		States:         states,
		Initial:        WorkStart,
		MaxTransitions: maxTransitions,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	return taskalloc.NewPolledHfsm(m, []hfsm.StateID{WorkFinished}, []hfsm.StateID{WorkHandoff}), nil
}

func (w *workFSM) enterStart(m *hfsm.Machine) {
	w.size = w.sampler.Sample(w.rng)
	w.remaining = w.size
	m.Logger().Debugf("instance needs %d work ticks", w.size)
}

func (w *workFSM) handleStart(m *hfsm.Machine) hfsm.Signal {
	m.InternalEvent(WorkProgress, nil)
	return hfsm.SignalHandled
}

func (w *workFSM) handleProgress(*hfsm.Machine) hfsm.Signal {
	w.remaining--
	if w.remaining > 0 {
		return hfsm.SignalHandled
	}
	return hfsm.SignalUnhandled
}

func (w *workFSM) handleHandoff(*hfsm.Machine) hfsm.Signal {
	if w.lingering > 0 {
		w.lingering--
		return hfsm.SignalHandled
	}
	return hfsm.SignalUnhandled
}

// handleWorking receives the phase-complete events bubbled up by its children.
func (w *workFSM) handleWorking(m *hfsm.Machine) hfsm.Signal {
	if m.CurrentState() == WorkProgress && w.handoff > 0 {
		m.InternalEvent(WorkHandoff, nil)
	} else {
		m.InternalEvent(WorkFinished, nil)
	}
	return hfsm.SignalHandled
}
