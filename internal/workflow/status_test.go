package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusBooting, true},
		{StatusBooting, StatusMounting, true},
		{StatusMounting, StatusInstalling, true},
		{StatusInstalling, StatusRunning, true},
		{StatusRunning, StatusReady, true},
		{StatusBooting, StatusError, true},
		{StatusRunning, StatusError, true},
		{StatusReady, StatusCrashed, true},

		{StatusIdle, StatusMounting, false},
		{StatusInstalling, StatusReady, false},
		{StatusMounting, StatusBooting, false},
		{StatusReady, StatusError, false},
		{StatusRunning, StatusCrashed, false},
		{StatusError, StatusBooting, false},
		{StatusCrashed, StatusReady, false},
		{StatusIdle, StatusError, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMachineIgnoresInvalidTransitions(t *testing.T) {
	m := newMachine()
	if _, ok := m.advance(StatusReady); ok {
		t.Fatal("idle → ready must be rejected")
	}
	for _, s := range []Status{StatusBooting, StatusMounting, StatusInstalling, StatusRunning} {
		if _, ok := m.advance(s); !ok {
			t.Fatalf("advance(%s) rejected", s)
		}
	}
	if _, ok := m.ready(3000, "http://localhost:3000/"); !ok {
		t.Fatal("running → ready rejected")
	}
	if _, ok := m.advance(StatusError); ok {
		t.Fatal("ready → error must be rejected")
	}
	if _, ok := m.advance(StatusCrashed); !ok {
		t.Fatal("ready → crashed rejected")
	}

	status, url, port := m.snapshot()
	if status != StatusCrashed || url != "http://localhost:3000/" || port != 3000 {
		t.Errorf("snapshot = %s %q %d, want crashed with the ready URL", status, url, port)
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusBooting, StatusMounting, StatusInstalling, StatusRunning} {
		if !s.Busy() || s.Terminal() {
			t.Errorf("%s: want busy, non-terminal", s)
		}
	}
	for _, s := range []Status{StatusError, StatusCrashed} {
		if s.Busy() || !s.Terminal() {
			t.Errorf("%s: want terminal", s)
		}
	}
	if StatusIdle.Busy() || StatusReady.Busy() {
		t.Error("idle and ready are not busy")
	}
}
