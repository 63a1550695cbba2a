// Package transporttest provides scripted fakes for transport tests: an
// in-memory Socket spy, a Dialer that hands them out, and a manual
// timer Scheduler so reconnect delays and debounces can be asserted
// without waiting on the clock.
package transporttest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cluster-console/console/internal/transport"
)

// ErrLocallyClosed is what ReadMessage returns after the client side
// closed the socket.
var ErrLocallyClosed = errors.New("use of closed connection")

type inbound struct {
	data []byte
	err  error
}

// Socket is a scripted in-memory connection. The test drives the server
// side with Deliver/FailServer/CloseServer and inspects everything the
// transport wrote.
type Socket struct {
	URL string

	mu     sync.Mutex
	writes [][]byte
	closed bool

	in     chan inbound
	closeCh chan struct{}
}

// NewSocket creates an open scripted socket.
func NewSocket(url string) *Socket {
	return &Socket{
		URL:     url,
		in:      make(chan inbound, 64),
		closeCh: make(chan struct{}),
	}
}

// Deliver queues one inbound wire message.
func (s *Socket) Deliver(data []byte) {
	s.in <- inbound{data: data}
}

// DeliverText queues one inbound wire message from a string.
func (s *Socket) DeliverText(text string) {
	s.Deliver([]byte(text))
}

// CloseServer simulates an orderly server-side close.
func (s *Socket) CloseServer() {
	s.in <- inbound{err: io.EOF}
}

// FailServer simulates a transport-level failure.
func (s *Socket) FailServer(err error) {
	s.in <- inbound{err: err}
}

// ReadMessage blocks until the test delivers a message, fails the
// socket, or the client closes it.
func (s *Socket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-s.in:
		if msg.err != nil {
			return 0, nil, msg.err
		}
		return websocket.TextMessage, msg.data, nil
	case <-s.closeCh:
		return 0, nil, ErrLocallyClosed
	}
}

// WriteMessage records an outbound wire message.
func (s *Socket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrLocallyClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.writes = append(s.writes, buf)
	return nil
}

// Close closes the client side. Idempotent.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

// Closed reports whether the client closed the socket.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Writes returns a snapshot of every message the transport sent.
func (s *Socket) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// Dialer hands out scripted sockets. Each successful dial produces a
// fresh Socket, announced on Dialed so tests can synchronize with the
// transport's asynchronous open.
type Dialer struct {
	mu       sync.Mutex
	dialErrs []error
	sockets  []*Socket
	urls     []string

	// Dialed receives every socket as it is handed out.
	Dialed chan *Socket
}

// NewDialer creates a Dialer with room for plenty of dials.
func NewDialer() *Dialer {
	return &Dialer{Dialed: make(chan *Socket, 16)}
}

// QueueError makes the next dial fail with err.
func (d *Dialer) QueueError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErrs = append(d.dialErrs, err)
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(_ context.Context, url string) (transport.Socket, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		d.mu.Unlock()
		return nil, err
	}
	s := NewSocket(url)
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()

	d.Dialed <- s
	return s, nil
}

// WaitDial blocks until the next dial completes or the timeout expires.
func (d *Dialer) WaitDial(timeout time.Duration) (*Socket, bool) {
	select {
	case s := <-d.Dialed:
		return s, true
	case <-time.After(timeout):
		return nil, false
	}
}

// DialCount returns how many dials were attempted, failures included.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns every dialed endpoint in order.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}

// Scheduler is a manual replacement for transport.StdAfterFunc. Nothing
// fires until the test says so.
type Scheduler struct {
	mu      sync.Mutex
	entries []*scheduled
}

type scheduled struct {
	sched   *Scheduler
	delay   time.Duration
	fn      func()
	fired   bool
	stopped bool
}

// NewScheduler creates an empty manual scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// AfterFunc records the callback without running it.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) transport.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &scheduled{sched: s, delay: d, fn: fn}
	s.entries = append(s.entries, e)
	return e
}

func (e *scheduled) Stop() bool {
	e.sched.mu.Lock()
	defer e.sched.mu.Unlock()
	if e.fired || e.stopped {
		return false
	}
	e.stopped = true
	return true
}

// Delays returns the delay of every timer ever scheduled, in order,
// including fired and stopped ones.
func (s *Scheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.delay
	}
	return out
}

// PendingCount returns how many timers are armed and unfired.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !e.fired && !e.stopped {
			n++
		}
	}
	return n
}

// FireNext runs the oldest armed timer. Returns false when none remain.
func (s *Scheduler) FireNext() bool {
	s.mu.Lock()
	var next *scheduled
	for _, e := range s.entries {
		if !e.fired && !e.stopped {
			next = e
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.fired = true
	fn := next.fn
	s.mu.Unlock()

	fn()
	return true
}
