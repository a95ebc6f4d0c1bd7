// Package status tracks the lifecycle of a client session: whether a user
// is logged in and whether the server is currently reachable.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/ims/internal/bus"
)

// State represents a client session state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// edges lists the states reachable from each state. Every logged-in state
// can fall back to AUTH_REQUIRED on logout.
var edges = map[State][]State{
	Booting:      {AuthRequired, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Error},
	Syncing:      {Ready, Degraded, AuthRequired, Error},
	Ready:        {Degraded, AuthRequired, Error},
	Degraded:     {Ready, AuthRequired, Error},
	Error:        {Booting},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusChange is the payload of session.status_changed events.
type StatusChange struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Machine holds the current session state and publishes every change.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a machine in BOOTING. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, since: time.Now(), bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Online reports whether a user is logged in (READY or DEGRADED).
func (m *Machine) Online() bool {
	switch m.Current() {
	case Ready, Degraded:
		return true
	}
	return false
}

// Transition moves to `to` or fails if the move is illegal.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(to)
}

// TransitionFrom moves to `to` only if the current state is `from`, so a
// concurrent logout is never overwritten. It reports whether it moved.
func (m *Machine) TransitionFrom(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == from && m.moveLocked(to) == nil
}

func (m *Machine) moveLocked(to State) error {
	if !CanTransition(m.current, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	change := StatusChange{From: m.current, To: to, At: time.Now()}
	m.current, m.since = to, change.At
	m.bus.Publish(bus.NewEvent("session.status_changed", change))
	return nil
}
