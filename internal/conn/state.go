// Package conn models the lifecycle of a single realtime connection:
// the connecting/connected/disconnected/error state machine shared by
// the terminal and event stream transports, and the exponential backoff
// policy governing automatic reconnection.
package conn

import "sync"

// State describes the status of the current connection attempt.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Tracker enforces the lifecycle transitions for a transport's
// connection and notifies registered listeners on every change. A
// freshly created Tracker is disconnected until the first connect
// begins. No state is terminal for the Tracker itself; the owning
// transport decides whether to retry.
type Tracker struct {
	mu        sync.Mutex
	state     State
	lastErr   string
	errored   bool // an error was already reported for this attempt
	listeners map[int]func(State)
	nextID    int
}

// NewTracker creates a Tracker in the disconnected state.
func NewTracker() *Tracker {
	return &Tracker{
		state:     StateDisconnected,
		listeners: make(map[int]func(State)),
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the most recent transport error message, if any.
func (t *Tracker) LastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Subscribe registers a listener invoked on every state change. The
// returned function unregisters it.
func (t *Tracker) Subscribe(fn func(State)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// BeginConnect transitions disconnected|error -> connecting and clears
// the per-attempt error flag. Returns false if a connect is already in
// flight or the connection is live.
func (t *Tracker) BeginConnect() bool {
	return t.transition(StateConnecting, func(from State) bool {
		return from == StateDisconnected || from == StateError
	}, "")
}

// MarkConnected transitions connecting -> connected.
func (t *Tracker) MarkConnected() bool {
	return t.transition(StateConnected, func(from State) bool {
		return from == StateConnecting
	}, "")
}

// MarkError transitions connecting|connected -> error and records the
// message. An error is always followed by a close; the close is
// absorbed (see MarkDisconnected) so one failure is reported once.
func (t *Tracker) MarkError(msg string) bool {
	return t.transition(StateError, func(from State) bool {
		return from == StateConnecting || from == StateConnected
	}, msg)
}

// MarkDisconnected transitions connecting|connected -> disconnected.
// It returns false without changing state when an error was already
// raised for this attempt, so the close that follows an error does not
// double-report the same failure.
func (t *Tracker) MarkDisconnected() bool {
	return t.transition(StateDisconnected, func(from State) bool {
		return from == StateConnecting || from == StateConnected
	}, "")
}

func (t *Tracker) transition(to State, allowed func(State) bool, errMsg string) bool {
	t.mu.Lock()
	if !allowed(t.state) {
		t.mu.Unlock()
		return false
	}
	if to == StateDisconnected && t.errored {
		t.mu.Unlock()
		return false
	}
	t.state = to
	switch to {
	case StateConnecting:
		t.errored = false
		t.lastErr = ""
	case StateError:
		t.errored = true
		t.lastErr = errMsg
	}
	fns := make([]func(State), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(to)
	}
	return true
}
