package gstream

import (
	"time"

	"github.com/rangen/geminigw/pkg/errx"
	"github.com/rangen/geminigw/pkg/sse"
)

// StreamState is a stream's position in the starting/active/terminal state
// machine described in the streaming manager's contract.
type StreamState string

const (
	StateStarting  StreamState = "starting"
	StateActive    StreamState = "active"
	StateCompleted StreamState = "completed"
	StateError     StreamState = "error"
	StateStopped   StreamState = "stopped"
)

func (s StreamState) terminal() bool {
	return s == StateCompleted || s == StateError || s == StateStopped
}

// Termination is the single terminal signal every subscribed target
// receives exactly once, unless it is removed due to liveness first.
type Termination struct {
	State StreamState
	Err   *errx.Error
}

// SubscriberHandlers are invoked synchronously by the manager's serial
// actor. OnEvent fires once per parsed SSE event, in parser order. OnTerminal
// fires at most once, last. Handlers must not call back into the Manager
// that owns them; doing so deadlocks against the actor's own command loop.
type SubscriberHandlers struct {
	OnEvent    func(sse.Event)
	OnTerminal func(Termination)
}

// Status is a point-in-time snapshot returned by Manager.Status.
type Status struct {
	State       StreamState
	Backend     string
	Model       string
	EventsCount int
	StartedAt   time.Time
	LastEventAt time.Time
}

type subscriberEntry struct {
	handlers     SubscriberHandlers
	livenessStop chan struct{} // closed to stop the watcher goroutine
}

type streamRecord struct {
	id      string
	backend string
	model   string
	status  StreamState

	subscribers map[string]*subscriberEntry

	eventsCount int
	startedAt   time.Time
	lastEventAt time.Time

	cancel    chan struct{} // closed exactly once to abort the M3 stream
	cancelled bool

	terminal *Termination
}
