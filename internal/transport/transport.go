// Package transport provides the connection core shared by the terminal
// session and the cluster event stream: it owns one WebSocket at a
// time, runs its read loop, drives the lifecycle state machine, and
// gates outbound frames on the connected state.
//
// Retry policy is deliberately left to the owners: the terminal session
// never retries on its own (a reconnect is a new shell, so the operator
// must ask for it), while the event stream layers exponential backoff
// on top of the close notifications delivered here.
package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cluster-console/console/internal/conn"
	"github.com/cluster-console/console/internal/frame"
	"github.com/cluster-console/console/internal/model"
)

// Socket is the minimal surface of one live WebSocket connection.
// *websocket.Conn satisfies it; tests substitute scripted fakes.
type Socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Socket for an endpoint URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Handlers receive connection events. All callbacks run on the
// connection's dial or read goroutine; owners serialize their own
// state. A deliberate Close/Dispose fires no handlers: an operator
// cancel is not a failure.
type Handlers struct {
	OnOpen  func()
	OnFrame func(*frame.Frame)
	OnError func(error)
	OnClose func()
}

// Conn owns at most one live socket. Opening a new socket always
// invalidates and closes the previous one; callbacks from a superseded
// socket are ignored via a generation counter so a late close cannot
// corrupt the state machine.
type Conn struct {
	dialer   Dialer
	handlers Handlers
	tracker  *conn.Tracker

	mu       sync.Mutex
	sock     Socket
	gen      int
	disposed bool

	// writeMu serializes outbound writes; gorilla/websocket allows only
	// one concurrent writer per connection.
	writeMu sync.Mutex
}

// New creates a Conn in the disconnected state.
func New(dialer Dialer, handlers Handlers) *Conn {
	return &Conn{
		dialer:   dialer,
		handlers: handlers,
		tracker:  conn.NewTracker(),
	}
}

// Tracker exposes the lifecycle state machine for status subscriptions.
func (c *Conn) Tracker() *conn.Tracker {
	return c.tracker
}

// State returns the current lifecycle state.
func (c *Conn) State() conn.State {
	return c.tracker.State()
}

// Open begins a connection attempt to url. Any previous socket is
// closed first. Returns model.ErrStillConnected when an attempt is
// already in flight or the connection is live, and
// model.ErrAlreadyDisposed after Dispose.
func (c *Conn) Open(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return model.ErrAlreadyDisposed
	}
	if !c.tracker.BeginConnect() {
		c.mu.Unlock()
		return model.ErrStillConnected
	}
	c.gen++
	gen := c.gen
	prev := c.sock
	c.sock = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	go c.dial(ctx, url, gen)
	return nil
}

func (c *Conn) dial(ctx context.Context, url string, gen int) {
	sock, err := c.dialer.Dial(ctx, url)

	c.mu.Lock()
	if c.disposed || gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			sock.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.fail(fmt.Errorf("dial %s: %w", url, err))
		return
	}
	c.sock = sock
	c.mu.Unlock()

	if c.tracker.MarkConnected() {
		if h := c.handlers.OnOpen; h != nil {
			h()
		}
	}
	go c.readLoop(sock, gen)
}

func (c *Conn) readLoop(sock Socket, gen int) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.disposed || gen != c.gen {
				c.mu.Unlock()
				return
			}
			c.sock = nil
			c.mu.Unlock()
			sock.Close()
			if isCleanClose(err) {
				if c.tracker.MarkDisconnected() {
					if h := c.handlers.OnClose; h != nil {
						h()
					}
				}
			} else {
				c.fail(err)
			}
			return
		}

		if c.stale(gen) {
			sock.Close()
			return
		}
		f, derr := frame.Decode(data)
		if derr != nil {
			log.Printf("transport: dropping frame: %v", derr)
			continue
		}
		if h := c.handlers.OnFrame; h != nil {
			h(f)
		}
	}
}

// fail reports a transport error followed by the close that always
// accompanies it. The state machine suppresses the duplicate
// disconnected transition, so listeners see the failure once, while
// OnClose still fires so retry policies can schedule.
func (c *Conn) fail(err error) {
	if c.tracker.MarkError(err.Error()) {
		if h := c.handlers.OnError; h != nil {
			h(err)
		}
	}
	c.tracker.MarkDisconnected()
	if h := c.handlers.OnClose; h != nil {
		h()
	}
}

func (c *Conn) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed || gen != c.gen
}

// Send encodes f and writes it to the live socket. It returns
// model.ErrNotConnected unless the state is connected; outbound frames
// are never queued.
func (c *Conn) Send(f *frame.Frame) error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()

	if sock == nil || c.tracker.State() != conn.StateConnected {
		return model.ErrNotConnected
	}

	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	err = sock.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s frame: %w", f.Type, err)
	}
	return nil
}

// Close force-closes the current socket without firing handlers. Used
// for operator-requested teardown and manual reconnects; any late
// callbacks from the closed socket are ignored.
func (c *Conn) Close() {
	c.mu.Lock()
	c.gen++
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	c.tracker.MarkDisconnected()
}

// Dispose closes the connection and rejects all further opens. Safe to
// call more than once.
func (c *Conn) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()
	c.Close()
}
