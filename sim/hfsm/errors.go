package hfsm

import (
	"errors"
	"fmt"
)

var (
	// ErrFatal is returned once a machine enters its terminal error condition.
	ErrFatal = errors.New("hfsm: fatal")
	// ErrHalted is returned by calls on a machine that already halted. It
	// matches ErrFatal as well.
	ErrHalted = fmt.Errorf("%w: machine halted", ErrFatal)
)

// ProtocolError reports a dispatcher misuse: an unbounded internal-event
// chain, a transition to an undefined state, or a payload of the wrong type.
// It always surfaces as FATAL.
type ProtocolError struct {
	Machine string
	State   StateID
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("hfsm %s: protocol error in state %d: %s", e.Machine, e.State, e.Reason)
}

// Is makes errors.Is(err, ErrFatal) true for protocol errors.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrFatal
}
