// Package hfsm implements a table-driven hierarchical state machine.
//
// States are rows in a table; hierarchy comes from explicit parent ids and
// entry/exit chains are resolved by walking them. A Machine is driven
// cooperatively: every ExternalEvent or StateEngine call performs one bounded
// step of work and returns. Internal events raised by a handler chain within
// that same step, up to Config.MaxTransitions.
//
// Machines are NOT thread-safe. Each machine belongs to exactly one agent.
package hfsm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// DefaultMaxTransitions bounds an internal-event chain when Config leaves it unset.
const DefaultMaxTransitions = 16

// Config describes a machine's state table.
type Config struct {
	Name           string
	States         []State // index == StateID
	Initial        StateID
	MaxTransitions int                // per StateEngine call; <= 0 uses DefaultMaxTransitions
	Logger         logrus.FieldLogger // nil uses the logrus standard logger
}

// Machine is a running instance of a state table.
type Machine struct {
	name           string
	states         []State
	initial        StateID
	maxTransitions int
	log            logrus.FieldLogger

	current  StateID
	previous StateID
	entered  bool // entry chain of current has run

	pending     bool
	pendingTo   StateID
	pendingData Payload

	inEngine     bool
	internal     bool
	internalTo   StateID
	internalData Payload

	halted bool
	err    error
}

// New validates cfg and returns a machine positioned at the initial state.
// Entry actions do not run until Init, ExternalEvent or StateEngine is called.
func New(cfg Config) (*Machine, error) {
	if err := validateTable(cfg); err != nil {
		return nil, err
	}
	maxTransitions := cfg.MaxTransitions
	if maxTransitions <= 0 {
		maxTransitions = DefaultMaxTransitions
	}
	var log logrus.FieldLogger = logrus.StandardLogger()
	if cfg.Logger != nil {
		log = cfg.Logger
	}
	states := make([]State, len(cfg.States))
	copy(states, cfg.States)
	return &Machine{
		name:           cfg.Name,
		states:         states,
		initial:        cfg.Initial,
		maxTransitions: maxTransitions,
		log:            log.WithField("fsm", cfg.Name),
		current:        cfg.Initial,
		previous:       cfg.Initial,
	}, nil
}

func validateTable(cfg Config) error {
	n := len(cfg.States)
	if n == 0 {
		return fmt.Errorf("hfsm %s: no states", cfg.Name)
	}
	if n >= int(StateIgnored) {
		return fmt.Errorf("hfsm %s: %d states collide with reserved ids", cfg.Name, n)
	}
	if cfg.Initial < 0 || int(cfg.Initial) >= n {
		return fmt.Errorf("hfsm %s: initial state %d out of range [0,%d)", cfg.Name, cfg.Initial, n)
	}
	for i, s := range cfg.States {
		if s.Handle == nil {
			return fmt.Errorf("hfsm %s: state %d (%s) has no handler", cfg.Name, i, s.Name)
		}
		if s.Parent != NoParent && (s.Parent < 0 || int(s.Parent) >= n || int(s.Parent) == i) {
			return fmt.Errorf("hfsm %s: state %d (%s) has invalid parent %d", cfg.Name, i, s.Name, s.Parent)
		}
	}
	// a parent chain longer than n must contain a cycle
	for i := range cfg.States {
		depth := 0
		for p := cfg.States[i].Parent; p != NoParent; p = cfg.States[p].Parent {
			depth++
			if depth > n {
				return fmt.Errorf("hfsm %s: state %d (%s) has a cyclic parent chain", cfg.Name, i, cfg.States[i].Name)
			}
		}
	}
	return nil
}

// Name returns the machine name.
func (m *Machine) Name() string { return m.name }

// CurrentState returns the active (innermost) state.
func (m *Machine) CurrentState() StateID { return m.current }

// PreviousState returns the state active before the last transition.
func (m *Machine) PreviousState() StateID { return m.previous }

// InitialState returns the configured initial state.
func (m *Machine) InitialState() StateID { return m.initial }

// NumStates returns the size of the state table.
func (m *Machine) NumStates() int { return len(m.states) }

// StateName returns the configured name of a state, or its number.
func (m *Machine) StateName(id StateID) string {
	if !m.valid(id) {
		return fmt.Sprintf("state(%d)", id)
	}
	if m.states[id].Name == "" {
		return fmt.Sprintf("state(%d)", id)
	}
	return m.states[id].Name
}

// Halted reports whether the machine is in its terminal error condition.
func (m *Machine) Halted() bool { return m.halted }

// Err returns the error that halted the machine, or nil.
func (m *Machine) Err() error { return m.err }

// Logger returns the machine's logger so handlers can report with its fields.
func (m *Machine) Logger() logrus.FieldLogger { return m.log }

// Init re-arms the machine: exits whatever is active, clears any halt and
// pending event, and runs the entry chain of the initial state. The chain runs
// inside the state engine, so an entry action may raise an internal event;
// it is taken at once, the target's handler included, as in StateEngine.
func (m *Machine) Init() {
	if m.entered && !m.halted {
		for s := m.current; s != NoParent; s = m.states[s].Parent {
			m.exit(s)
		}
	}
	m.halted = false
	m.err = nil
	m.pending = false
	m.pendingData = nil
	m.internal = false
	m.internalData = nil
	m.previous = m.current
	m.current = m.initial
	m.entered = false
	m.log.Debugf("init -> %s", m.StateName(m.initial))

	m.inEngine = true
	defer func() { m.inEngine = false }()
	m.enterPath(NoParent, m.initial)
	m.entered = true
	if m.internal && !m.halted {
		_ = m.drive(true, m.internalTo, m.takeInternal())
	}
}

// ExternalEvent delivers an event whose target was looked up in a
// TransitionMap. StateIgnored drops the event, StateFatal halts the machine,
// anything else becomes pending and is driven by StateEngine immediately.
func (m *Machine) ExternalEvent(target StateID, data Payload) error {
	if m.halted {
		return ErrHalted
	}
	switch {
	case target == StateIgnored:
		m.log.Debugf("event ignored in %s", m.StateName(m.current))
		return nil
	case target == StateFatal:
		m.fatal(fmt.Errorf("%w: event not allowed in state %s", ErrFatal, m.StateName(m.current)))
		return m.err
	case !m.valid(target):
		m.protocolError(fmt.Sprintf("external event targets undefined state %d", target))
		return m.err
	}
	m.pending = true
	m.pendingTo = target
	m.pendingData = data
	return m.StateEngine()
}

// InternalEvent requests a same-step transition. It may only be called from a
// handler or entry action while StateEngine is running.
func (m *Machine) InternalEvent(target StateID, data Payload) {
	if !m.inEngine {
		m.protocolError(fmt.Sprintf("internal event to %d outside of the state engine", target))
		return
	}
	switch {
	case target == StateIgnored:
		return
	case target == StateFatal:
		m.fatal(fmt.Errorf("%w: internal event from state %s", ErrFatal, m.StateName(m.current)))
		return
	case !m.valid(target):
		m.protocolError(fmt.Sprintf("internal event targets undefined state %d", target))
		return
	}
	m.internal = true
	m.internalTo = target
	m.internalData = data
}

// StateEngine drives the pending event, or a synthesized continue event with
// no payload, through the active state and any internal events it raises.
func (m *Machine) StateEngine() error {
	if m.halted {
		return ErrHalted
	}
	if m.inEngine {
		m.protocolError("re-entrant call to the state engine")
		return m.err
	}
	m.inEngine = true
	defer func() { m.inEngine = false }()

	hasTarget, target, data := m.pending, m.pendingTo, m.pendingData
	m.pending = false
	m.pendingData = nil

	if !m.entered {
		m.internal = false
		m.enterPath(NoParent, m.current)
		m.entered = true
		if m.halted {
			return m.err
		}
		if m.internal {
			to, raised := m.internalTo, m.takeInternal()
			if hasTarget {
				m.log.Debugf("entry event to %s superseded by pending event", m.StateName(to))
			} else {
				hasTarget, target, data = true, to, raised
			}
		}
	}
	return m.drive(hasTarget, target, data)
}

// drive runs one step: the optional transition to target, the handler of the
// active state, and the internal events they raise, bounded by maxTransitions.
// The caller holds inEngine.
func (m *Machine) drive(hasTarget bool, target StateID, data Payload) error {
	transitions := 0
	for {
		m.internal = false
		if hasTarget {
			transitions++
			if transitions > m.maxTransitions {
				m.protocolError(fmt.Sprintf("exceeded %d transitions in one step", m.maxTransitions))
				return m.err
			}
			m.transition(target)
			if m.halted {
				return m.err
			}
		}
		sig := m.dispatch(m.current, data)
		if m.halted {
			return m.err
		}
		if sig == SignalFatal {
			m.fatal(fmt.Errorf("%w: state %s returned fatal", ErrFatal, m.StateName(m.current)))
			return m.err
		}
		if !m.internal {
			return nil
		}
		hasTarget, target, data = true, m.internalTo, m.takeInternal()
	}
}

// takeInternal clears the raised internal event and returns its payload.
func (m *Machine) takeInternal() Payload {
	data := m.internalData
	m.internal = false
	m.internalData = nil
	return data
}

// dispatch runs the handler of s and bubbles unhandled events to its
// ancestors. An event nobody handles is dropped.
func (m *Machine) dispatch(s StateID, data Payload) Signal {
	sig := m.states[s].Handle(m, data)
	for sig == SignalUnhandled && !m.halted {
		parent := m.states[s].Parent
		if parent == NoParent {
			m.log.Debugf("event unhandled by %s and its ancestors", m.StateName(m.current))
			return SignalIgnored
		}
		s = parent
		if data == nil {
			sig = m.states[s].Handle(m, nil)
			continue
		}
		ev := data.Event()
		kind := ev.Kind
		ev.Kind = KindChild
		sig = m.states[s].Handle(m, data)
		ev.Kind = kind
	}
	return sig
}

// transition exits up to the lowest common ancestor and enters down to target.
func (m *Machine) transition(target StateID) {
	from := m.current
	if target == from {
		m.exit(from)
		m.enter(from)
	} else {
		lca := m.lca(from, target)
		for s := from; s != lca && s != NoParent; s = m.states[s].Parent {
			m.exit(s)
		}
		m.enterPath(lca, target)
	}
	m.previous = from
	m.current = target
	m.log.Debugf("%s -> %s", m.StateName(from), m.StateName(target))
}

// enterPath runs entry actions from just below ancestor down to target, in
// root-to-target order.
func (m *Machine) enterPath(ancestor, target StateID) {
	var path []StateID
	for s := target; s != ancestor && s != NoParent; s = m.states[s].Parent {
		path = append(path, s)
	}
	for i := len(path) - 1; i >= 0; i-- {
		m.enter(path[i])
	}
}

func (m *Machine) lca(a, b StateID) StateID {
	active := make(map[StateID]bool)
	for s := a; s != NoParent; s = m.states[s].Parent {
		active[s] = true
	}
	for s := b; s != NoParent; s = m.states[s].Parent {
		if active[s] {
			return s
		}
	}
	return NoParent
}

func (m *Machine) enter(s StateID) {
	if fn := m.states[s].Enter; fn != nil {
		fn(m)
	}
}

func (m *Machine) exit(s StateID) {
	if fn := m.states[s].Exit; fn != nil {
		fn(m)
	}
}

func (m *Machine) valid(id StateID) bool {
	return id >= 0 && int(id) < len(m.states)
}

func (m *Machine) protocolError(reason string) {
	m.fatal(&ProtocolError{Machine: m.name, State: m.current, Reason: reason})
}

func (m *Machine) fatal(err error) {
	if m.halted {
		return
	}
	m.halted = true
	m.err = err
	m.log.WithField("state", m.StateName(m.current)).Errorf("halted: %v", err)
}
