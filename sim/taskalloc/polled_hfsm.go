package taskalloc

import "github.com/inference-sim/taskalloc-sim/sim/hfsm"

// PolledHfsm lets a hierarchical state machine serve as a task's execution
// mechanism. Every Execute delivers one continue event to the active state.
type PolledHfsm struct {
	machine  *hfsm.Machine
	finished map[hfsm.StateID]bool
	ifaces   map[hfsm.StateID]bool
}

// NewPolledHfsm wraps m. The task is finished whenever m is in one of
// finishedStates, and at its interface while in one of interfaceStates.
func NewPolledHfsm(m *hfsm.Machine, finishedStates, interfaceStates []hfsm.StateID) *PolledHfsm {
	p := &PolledHfsm{
		machine:  m,
		finished: make(map[hfsm.StateID]bool, len(finishedStates)),
		ifaces:   make(map[hfsm.StateID]bool, len(interfaceStates)),
	}
	for _, s := range finishedStates {
		p.finished[s] = true
	}
	for _, s := range interfaceStates {
		p.ifaces[s] = true
	}
	return p
}

// Reset re-initializes the machine.
func (p *PolledHfsm) Reset() { p.machine.Init() }

// Execute runs the state engine once. A fatal machine error is returned as is.
func (p *PolledHfsm) Execute() error { return p.machine.StateEngine() }

// Finished reports whether the machine reached a finished state.
func (p *PolledHfsm) Finished() bool {
	return !p.machine.Halted() && p.finished[p.machine.CurrentState()]
}

// AtInterface reports whether the machine is in an interface state.
func (p *PolledHfsm) AtInterface() bool {
	return !p.machine.Halted() && p.ifaces[p.machine.CurrentState()]
}

// Machine exposes the wrapped machine for inspection.
func (p *PolledHfsm) Machine() *hfsm.Machine { return p.machine }
