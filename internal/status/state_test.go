package status

import (
	"testing"
	"time"

	"github.com/matheus3301/ims/internal/bus"
)

// loginPath walks a fresh machine to READY.
var loginPath = []State{AuthRequired, Connecting, Syncing, Ready}

func apply(t *testing.T, m *Machine, path ...State) {
	t.Helper()
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s) from %s: %v", s, m.Current(), err)
		}
	}
}

func TestStartsBooting(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting || m.Online() {
		t.Errorf("fresh machine: state=%s online=%v", m.Current(), m.Online())
	}
}

func TestPaths(t *testing.T) {
	tests := []struct {
		name string
		path []State
	}{
		{"login", loginPath},
		{"rejected login", []State{AuthRequired, Connecting, AuthRequired}},
		{"degraded retrieval", []State{AuthRequired, Connecting, Syncing, Degraded, Ready}},
		{"logout while degraded", append(append([]State{}, loginPath...), Degraded, AuthRequired)},
		{"relogin", append(append([]State{}, loginPath...), AuthRequired, Connecting)},
		{"fatal and reboot", []State{Error, Booting, AuthRequired}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apply(t, NewMachine(nil), tt.path...)
		})
	}
}

func TestIllegalMoves(t *testing.T) {
	tests := []struct {
		from, to State
	}{
		{Booting, Ready},
		{AuthRequired, Syncing},
		{AuthRequired, Ready},
		{Connecting, Ready},
		{Ready, Connecting},
		{Error, Ready},
	}
	for _, tt := range tests {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = true", tt.from, tt.to)
		}
	}

	m := NewMachine(nil)
	apply(t, m, AuthRequired)
	if err := m.Transition(Syncing); err == nil {
		t.Fatal("AUTH_REQUIRED -> SYNCING accepted")
	}
	if m.Current() != AuthRequired {
		t.Errorf("failed move changed state to %s", m.Current())
	}
}

func TestTransitionFromIsConditional(t *testing.T) {
	m := NewMachine(nil)
	apply(t, m, loginPath...)

	if m.TransitionFrom(Degraded, Ready) {
		t.Error("moved from DEGRADED while READY")
	}
	if !m.TransitionFrom(Ready, Degraded) || m.Current() != Degraded || !m.Online() {
		t.Fatalf("READY -> DEGRADED: state=%s online=%v", m.Current(), m.Online())
	}

	// A logout in between wins over a late recovery.
	apply(t, m, AuthRequired)
	if m.TransitionFrom(Degraded, Ready) {
		t.Error("recovery overwrote logout")
	}
}

func TestChangesArePublished(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("session.", 10)
	defer sub.Close()

	m := NewMachine(b)
	before := m.Since()
	time.Sleep(time.Millisecond)
	apply(t, m, AuthRequired, Connecting)

	for _, want := range []StatusChange{{From: Booting, To: AuthRequired}, {From: AuthRequired, To: Connecting}} {
		evt := <-sub.C
		change, ok := evt.Payload.(StatusChange)
		if evt.Kind != "session.status_changed" || !ok {
			t.Fatalf("event = %+v", evt)
		}
		if change.From != want.From || change.To != want.To {
			t.Errorf("change = %s -> %s, want %s -> %s", change.From, change.To, want.From, want.To)
		}
	}
	if !m.Since().After(before) {
		t.Errorf("Since() = %v, not after %v", m.Since(), before)
	}
}
