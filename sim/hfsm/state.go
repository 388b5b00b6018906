package hfsm

import "fmt"

// StateID identifies a state by its index in the state table.
type StateID int

const (
	// NoParent marks a top-level state.
	NoParent StateID = -1
	// StateIgnored in a TransitionMap means "no transition from this state".
	StateIgnored StateID = 0xFE
	// StateFatal in a TransitionMap means the event is illegal from this state.
	StateFatal StateID = 0xFF
)

// HandleFunc runs while a state is active and an event is delivered to it.
// data is nil for the synthesized "continue" event.
type HandleFunc func(m *Machine, data Payload) Signal

// ActionFunc is an entry or exit action.
type ActionFunc func(m *Machine)

// State is one row of the state table. Hierarchy is expressed by Parent, not
// by embedding: entry/exit chains are resolved by walking Parent links.
type State struct {
	Name   string
	Parent StateID
	Enter  ActionFunc
	Handle HandleFunc
	Exit   ActionFunc
}

// TransitionMap maps the current state (by index) to the target of one
// external event. Entries may be StateIgnored or StateFatal.
type TransitionMap []StateID

// Lookup returns the target for the given current state. A current state the
// map does not cover is illegal and maps to StateFatal.
func (tm TransitionMap) Lookup(current StateID) StateID {
	if current < 0 || int(current) >= len(tm) {
		return StateFatal
	}
	return tm[current]
}

// NoEvent adapts a handler for a state that takes no payload. Delivering any
// payload to such a state is a configuration error and halts the machine.
func NoEvent(fn func(m *Machine) Signal) HandleFunc {
	return func(m *Machine, data Payload) Signal {
		if data != nil {
			m.protocolError(fmt.Sprintf("state takes no event data, got %T", data))
			return SignalFatal
		}
		return fn(m)
	}
}

// Handler adapts a handler for a state that takes payloads of type T. A nil
// payload (the synthesized continue event) is passed as the zero value of T.
func Handler[T Payload](fn func(m *Machine, data T) Signal) HandleFunc {
	return func(m *Machine, data Payload) Signal {
		if data == nil {
			var zero T
			return fn(m, zero)
		}
		typed, ok := data.(T)
		if !ok {
			m.protocolError(fmt.Sprintf("state expects %T, got %T", *new(T), data))
			return SignalFatal
		}
		return fn(m, typed)
	}
}

// Passthrough is a handler for abstract parent states: it bubbles everything.
func Passthrough(_ *Machine, _ Payload) Signal { return SignalUnhandled }
