package workflow

import "sync"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusBooting    Status = "booting"
	StatusMounting   Status = "mounting"
	StatusInstalling Status = "installing"
	StatusRunning    Status = "running"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	// StatusCrashed is a dev server that exited non-zero after it was ready.
	// The last-good URL is kept.
	StatusCrashed Status = "crashed"
)

// AllowedTransitions lists every valid status change. The happy path only
// moves forward; error and crashed are terminal.
var AllowedTransitions = map[Status]map[Status]bool{
	StatusIdle:       {StatusBooting: true},
	StatusBooting:    {StatusMounting: true, StatusError: true},
	StatusMounting:   {StatusInstalling: true, StatusError: true},
	StatusInstalling: {StatusRunning: true, StatusError: true},
	StatusRunning:    {StatusReady: true, StatusError: true},
	StatusReady:      {StatusCrashed: true},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	return AllowedTransitions[from][to]
}

// Busy reports whether the workflow is still working towards ready.
func (s Status) Busy() bool {
	switch s {
	case StatusBooting, StatusMounting, StatusInstalling, StatusRunning:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusCrashed
}

// machine owns a run's status and the URL it resolved to.
type machine struct {
	mu     sync.Mutex
	status Status
	url    string
	port   int
}

func newMachine() *machine {
	return &machine{status: StatusIdle}
}

// advance applies to if the transition is allowed and returns the previous
// status.
func (m *machine) advance(to Status) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.status
	if !CanTransition(from, to) {
		return from, false
	}
	m.status = to
	return from, true
}

// ready records the URL and moves to ready in one step.
func (m *machine) ready(port int, url string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.status
	if !CanTransition(from, StatusReady) {
		return from, false
	}
	m.status, m.port, m.url = StatusReady, port, url
	return from, true
}

func (m *machine) snapshot() (Status, string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.url, m.port
}
