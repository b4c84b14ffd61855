package workflow

import "time"

// Event is one of StatusChanged, OutputChunk, ServerReady or Failed.
type Event interface {
	RunID() string
	event()
}

// StatusChanged is emitted on every status transition.
type StatusChanged struct {
	Run  string
	From Status
	To   Status
	At   time.Time
}

// OutputChunk carries raw process output, ANSI sequences included.
type OutputChunk struct {
	Run  string
	Data []byte
}

// ServerReady is emitted once per run when the dev server is reachable.
type ServerReady struct {
	Run  string
	Port int
	URL  string
}

// Failed is emitted before the status flips to error or crashed.
type Failed struct {
	Run     string
	Kind    FailureKind
	Message string
	Err     error
}

func (e StatusChanged) RunID() string { return e.Run }
func (e OutputChunk) RunID() string   { return e.Run }
func (e ServerReady) RunID() string   { return e.Run }
func (e Failed) RunID() string        { return e.Run }

func (StatusChanged) event() {}
func (OutputChunk) event()   {}
func (ServerReady) event()   {}
func (Failed) event()        {}

// Observer receives workflow events. Observe must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to each observer in order.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}
