// Package eventstream maintains the console's single long-lived
// WebSocket to the cluster change feed and republishes typed events to
// in-process subscribers. The stream is invisible infrastructure: it
// heals itself with exponential backoff up to a retry ceiling, answers
// server heartbeats, and past the ceiling degrades silently to stale
// until the process restarts.
package eventstream

import (
	"context"
	"log"
	"sync"

	"github.com/cluster-console/console/internal/conn"
	"github.com/cluster-console/console/internal/frame"
	"github.com/cluster-console/console/internal/model"
	"github.com/cluster-console/console/internal/transport"
)

// streamPath is the fixed change feed endpoint.
const streamPath = "/ws/clusters"

// EventType distinguishes snapshot updates from tombstones.
type EventType string

const (
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is one republished change notification. Cluster is set for
// updates and nil for deletes; the latest snapshot for a key supersedes
// any prior one.
type Event struct {
	Type    EventType
	Key     model.ResourceKey
	Cluster *model.Cluster
}

// Options configures a Stream. Zero-valued Backoff fields fall back to
// the defaults (1s base, 30s cap, 5 attempts).
type Options struct {
	// BaseURL is the console origin, e.g. "https://console.example.com".
	BaseURL string

	Backoff conn.Backoff
	Dialer  transport.Dialer
	After   transport.AfterFunc
}

// Stream is the process-wide cluster change feed. Create one at
// application bootstrap, Start it, and Stop it on teardown.
type Stream struct {
	url   string
	after transport.AfterFunc
	conn  *transport.Conn

	mu         sync.Mutex
	ctx        context.Context
	backoff    conn.Backoff
	retryTimer transport.Timer
	stopped    bool

	subs    map[model.ResourceKey]map[int]func(Event)
	allSubs map[int]func(Event)
	nextID  int
}

// New builds a stream for the console at baseURL. It does not connect;
// call Start.
func New(opts Options) (*Stream, error) {
	url, err := endpointURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.NewWebSocketDialer(nil, nil)
	}
	after := opts.After
	if after == nil {
		after = transport.StdAfterFunc
	}
	backoff := opts.Backoff
	if backoff.BaseDelay <= 0 {
		backoff.BaseDelay = conn.DefaultBaseDelay
	}
	if backoff.MaxDelay <= 0 {
		backoff.MaxDelay = conn.DefaultMaxDelay
	}
	if backoff.MaxAttempts <= 0 {
		backoff.MaxAttempts = conn.DefaultMaxAttempts
	}

	s := &Stream{
		url:     url,
		after:   after,
		backoff: backoff,
		stopped: true,
		subs:    make(map[model.ResourceKey]map[int]func(Event)),
		allSubs: make(map[int]func(Event)),
	}
	s.conn = transport.New(dialer, transport.Handlers{
		OnOpen:  s.handleOpen,
		OnFrame: s.handleFrame,
		OnError: s.handleError,
		OnClose: s.handleClose,
	})
	return s, nil
}

// Start opens the feed. Idempotent while a connection attempt is in
// flight or live.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	s.ctx = ctx
	s.backoff.Reset()
	s.mu.Unlock()

	err := s.conn.Open(ctx, s.url)
	if err == model.ErrStillConnected {
		return nil
	}
	return err
}

// Stop force-closes the feed and cancels any pending reconnect. The
// only path exempt from backoff accounting.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.stopped = true
	timer := s.retryTimer
	s.retryTimer = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.conn.Close()
}

// State returns the feed's lifecycle state.
func (s *Stream) State() conn.State {
	return s.conn.State()
}

// SubscribeState registers a listener for lifecycle changes; the
// returned function unregisters it.
func (s *Stream) SubscribeState(fn func(conn.State)) func() {
	return s.conn.Tracker().Subscribe(fn)
}

// Attempt returns how many reconnects have been scheduled since the
// last successful open.
func (s *Stream) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff.Attempt()
}

// Subscribe registers a listener for one resource key. The returned
// function unregisters it.
func (s *Stream) Subscribe(key model.ResourceKey, fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(Event))
	}
	s.subs[key][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if m := s.subs[key]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(s.subs, key)
			}
		}
		s.mu.Unlock()
	}
}

// SubscribeAll registers a listener for every event regardless of key.
func (s *Stream) SubscribeAll(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.allSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.allSubs, id)
		s.mu.Unlock()
	}
}

func (s *Stream) handleOpen() {
	s.mu.Lock()
	s.backoff.Reset()
	s.mu.Unlock()
	log.Printf("event stream: connected to %s", s.url)
}

func (s *Stream) handleFrame(f *frame.Frame) {
	switch f.Type {
	case frame.KindClusterUpdate:
		body, err := f.UpdateBody()
		if err != nil {
			log.Printf("event stream: dropping frame: %v", err)
			return
		}
		s.publish(Event{Type: EventUpdated, Key: body.Cluster.Key(), Cluster: body.Cluster})
	case frame.KindClusterDelete:
		body, err := f.DeleteBody()
		if err != nil {
			log.Printf("event stream: dropping frame: %v", err)
			return
		}
		s.publish(Event{Type: EventDeleted, Key: model.ResourceKey{Name: body.Name, Namespace: body.Namespace}})
	case frame.KindPing:
		if err := s.conn.Send(frame.Pong()); err != nil && err != model.ErrNotConnected {
			log.Printf("event stream: pong: %v", err)
		}
	default:
		log.Printf("event stream: dropping %s frame", f.Type)
	}
}

// handleError only records; the close that always follows an error owns
// the reconnect scheduling so one failure schedules one attempt.
func (s *Stream) handleError(err error) {
	log.Printf("event stream: %v", err)
}

func (s *Stream) handleClose() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delay, ok := s.backoff.Next()
	if !ok {
		s.mu.Unlock()
		log.Printf("event stream: reconnect budget exhausted; feed is stale until restart")
		return
	}
	attempt := s.backoff.Attempt()
	max := s.backoff.MaxAttempts
	s.retryTimer = s.after(delay, s.retry)
	s.mu.Unlock()

	log.Printf("event stream: reconnecting in %s (attempt %d/%d)", delay, attempt, max)
}

func (s *Stream) retry() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.retryTimer = nil
	s.mu.Unlock()

	if err := s.conn.Open(ctx, s.url); err != nil && err != model.ErrStillConnected {
		log.Printf("event stream: reconnect: %v", err)
	}
}

func (s *Stream) publish(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.allSubs)+4)
	for _, fn := range s.subs[ev.Key] {
		fns = append(fns, fn)
	}
	for _, fn := range s.allSubs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func endpointURL(base string) (string, error) {
	return transport.EndpointURL(base, streamPath)
}
