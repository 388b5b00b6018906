package hfsm

// Signal is the value a state handler returns to the dispatcher.
type Signal int

const (
	// SignalHandled means the event was consumed; no further action.
	SignalHandled Signal = 0
	// SignalUnhandled asks the dispatcher to bubble the event to the parent state.
	SignalUnhandled Signal = 1
	// SignalIgnored is a no-op.
	SignalIgnored Signal = 0xFE
	// SignalFatal halts the machine.
	SignalFatal Signal = 0xFF
)

// String returns a human-readable name for the signal.
func (s Signal) String() string {
	switch s {
	case SignalHandled:
		return "handled"
	case SignalUnhandled:
		return "unhandled"
	case SignalIgnored:
		return "ignored"
	case SignalFatal:
		return "fatal"
	default:
		return "user"
	}
}

// EventKind distinguishes events delivered to the state they were raised in
// from events bubbled up from a child state.
type EventKind int

const (
	KindNormal EventKind = iota
	KindChild
)

// EventData is the base of every event payload.
type EventData struct {
	Signal Signal
	Kind   EventKind
}

// Event lets *EventData satisfy Payload; payload types embed EventData.
func (e *EventData) Event() *EventData { return e }

// Reset restores the defaults (ignored, normal).
func (e *EventData) Reset() {
	e.Signal = SignalIgnored
	e.Kind = KindNormal
}

// Payload is implemented by anything embedding EventData.
type Payload interface {
	Event() *EventData
}

// NoEventData marks a state that takes no payload. It deliberately does not
// implement Payload, so it can never be passed to ExternalEvent.
type NoEventData struct{}
