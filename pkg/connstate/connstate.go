// Package connstate implements the connection lifecycle state machine:
// New -> Connecting -> Idle <-> InUse -> Disconnected, plus the in-use
// reference count and reusable flag that drive Idle/InUse/Disconnected
// transitions on SetInUse.
//
// Grounded on soup_connection_set_state / soup_connection_set_in_use /
// soup_connection_setup_message_io: the in_use counter, "borrowing an
// Idle connection promotes it straight to InUse without re-entering
// Idle", and "replacing current_msg is only legal for a CONNECT tunnel
// message" all come from there, translated from GObject property setters
// with signal emission into explicit Go methods guarded by a mutex.
package connstate

import (
	"sync"

	"github.com/relayhttp/httpconn/pkg/cerr"
)

// State is one of the five lifecycle states a connection passes through.
type State int

const (
	New State = iota
	Connecting
	Idle
	InUse
	Disconnected
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Connecting:
		return "connecting"
	case Idle:
		return "idle"
	case InUse:
		return "in-use"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// legal reports whether the from->to edge is one of the table's allowed
// transitions. Disconnected is terminal: no edge leaves it. Re-entering
// the same state is always legal and is a no-op (mirrors
// soup_connection_set_state's same-state early return).
func legal(from, to State) bool {
	if from == to {
		return true
	}
	switch from {
	case New:
		return to == Connecting || to == Disconnected
	case Connecting:
		return to == Idle || to == InUse || to == Disconnected
	case Idle:
		return to == InUse || to == Disconnected
	case InUse:
		return to == Idle || to == Disconnected
	case Disconnected:
		return false
	}
	return false
}

// Machine owns the state, the in-use reference count, and the reusable
// flag for one connection. All mutation goes through its methods, which
// are safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	state    State
	inUse    int
	reusable bool
	onIdle   func()
	onLeaveIdle func()
}

// NewMachine returns a Machine starting in the New state. onIdle is
// invoked synchronously whenever the machine transitions into Idle (used
// by the Connection to (re)start its idle timer); onLeaveIdle is invoked
// when it transitions out of Idle to InUse or Disconnected (used to stop
// the timer). Either may be nil.
func NewMachine(onIdle, onLeaveIdle func()) *Machine {
	return &Machine{onIdle: onIdle, onLeaveIdle: onLeaveIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reusable reports whether the connection is currently considered
// reusable for another request.
func (m *Machine) Reusable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reusable
}

// InUseCount returns the current reference count.
func (m *Machine) InUseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}

// Transition moves the machine to to, enforcing the transition table. An
// illegal edge returns a Usage error naming the offending op; the state
// is left unchanged.
func (m *Machine) Transition(op string, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(op, to)
}

func (m *Machine) transitionLocked(op string, to State) error {
	from := m.state
	if !legal(from, to) {
		return cerr.NewUsage(op, "illegal transition from "+from.String()+" to "+to.String())
	}
	if from == to {
		return nil
	}
	m.state = to
	// Entering InUse (on connect completion, or a direct borrow) counts as
	// the first outstanding borrow.
	if to == InUse && m.inUse == 0 {
		m.inUse = 1
	}
	if to == Idle && m.onIdle != nil {
		m.onIdle()
	}
	if from == Idle && to != Idle && m.onLeaveIdle != nil {
		m.onLeaveIdle()
	}
	return nil
}

// ClearReusable marks the connection as no longer eligible for reuse.
// Called when a new message is attached to an in-use connection (forcing
// a fresh reusable vote at body-end time) and when a message's body ends
// without keep-alive.
func (m *Machine) ClearReusable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reusable = false
}

// MarkReusable marks the connection reusable. It takes no argument: the
// underlying behavior this mirrors unconditionally sets the flag true
// regardless of any passed-in boolean, so there is nothing to parametrize
// (see DESIGN.md, Open Question 1).
func (m *Machine) MarkReusable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reusable = true
}

// SetInUse implements the borrow/return protocol of spec section 4.4:
// acquiring increments the reference count and, from Idle, promotes
// directly to InUse; releasing decrements it and, once the count reaches
// zero, transitions to Idle if the connection is reusable or to
// Disconnected otherwise. disconnect is called to perform the actual
// teardown when SetInUse decides the connection must be disconnected; it
// must not itself call back into SetInUse.
func (m *Machine) SetInUse(acquire bool, disconnect func()) error {
	m.mu.Lock()

	if acquire {
		m.inUse++
		if m.state == Idle {
			if err := m.transitionLocked("SetInUse", InUse); err != nil {
				m.mu.Unlock()
				return err
			}
		}
		m.mu.Unlock()
		return nil
	}

	if m.inUse == 0 {
		m.mu.Unlock()
		return cerr.NewUsage("SetInUse", "released a connection with no outstanding use")
	}
	m.inUse--
	if m.inUse > 0 {
		m.mu.Unlock()
		return nil
	}

	reusable := m.reusable
	var err error
	if reusable {
		err = m.transitionLocked("SetInUse", Idle)
		m.mu.Unlock()
		return err
	}

	m.mu.Unlock()
	if disconnect != nil {
		disconnect()
	}
	return nil
}
