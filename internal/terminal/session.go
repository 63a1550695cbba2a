// Package terminal implements the interactive terminal session
// transport: one WebSocket per session, keystrokes and geometry out,
// remote shell output into a bounded render buffer. Sessions never
// retry on their own; reconnecting attaches a brand-new shell, so the
// operator has to ask for it.
package terminal

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cluster-console/console/internal/conn"
	"github.com/cluster-console/console/internal/frame"
	"github.com/cluster-console/console/internal/model"
	"github.com/cluster-console/console/internal/transport"
)

const (
	// defaultScrollback bounds the render buffer.
	defaultScrollback = 256 * 1024

	// resizeSettle delays the post-connect geometry send long enough
	// for the renderer to report its final size.
	resizeSettle = 100 * time.Millisecond
)

// ANSI colors for inline status notices.
const (
	noticeYellow = "\x1b[33m"
	noticeGreen  = "\x1b[32m"
	noticeRed    = "\x1b[31m"
	noticeReset  = "\x1b[0m"
)

// Options configures a Session. Dialer and After default to the real
// WebSocket dialer and runtime timers.
type Options struct {
	// BaseURL is the console origin, e.g. "https://console.example.com".
	BaseURL string

	// Target selects the remote shell.
	Target Target

	// Scrollback bounds the render buffer in bytes.
	Scrollback int

	// OnNotice, when set, receives status notice text (a toast sink).
	OnNotice func(text string)

	Dialer transport.Dialer
	After  transport.AfterFunc
}

// Session is the transport for one interactive terminal.
type Session struct {
	url   string
	after transport.AfterFunc
	buf   *RenderBuffer
	conn  *transport.Conn

	onNotice func(string)

	mu       sync.Mutex
	geom     *frame.Geometry
	settle   transport.Timer
	outputs  map[int]func([]byte)
	nextSub  int
	disposed bool
}

// NewSession builds a session for the target. It does not connect;
// call Open.
func NewSession(opts Options) (*Session, error) {
	path, err := opts.Target.Path()
	if err != nil {
		return nil, err
	}
	url, err := transport.EndpointURL(opts.BaseURL, path)
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
	scrollback := opts.Scrollback
	if scrollback <= 0 {
		scrollback = defaultScrollback
	}

	s := &Session{
		url:      url,
		after:    after,
		buf:      NewRenderBuffer(scrollback),
		onNotice: opts.OnNotice,
		outputs:  make(map[int]func([]byte)),
	}
	s.conn = transport.New(dialer, transport.Handlers{
		OnOpen:  s.handleOpen,
		OnFrame: s.handleFrame,
		OnError: s.handleError,
		OnClose: s.handleClose,
	})
	return s, nil
}

// Open starts the connection attempt and writes a connecting notice to
// the render buffer.
func (s *Session) Open(ctx context.Context) error {
	s.notice(noticeYellow, "connecting to "+s.url+" ...")
	return s.conn.Open(ctx, s.url)
}

// State returns the session's lifecycle state.
func (s *Session) State() conn.State {
	return s.conn.State()
}

// SubscribeState registers a listener for lifecycle changes; the
// returned function unregisters it.
func (s *Session) SubscribeState(fn func(conn.State)) func() {
	return s.conn.Tracker().Subscribe(fn)
}

// SubscribeOutput registers a listener for render output (remote data
// and notices). The render buffer always receives the same bytes, so a
// late subscriber can catch up from Buffer.
func (s *Session) SubscribeOutput(fn func([]byte)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.outputs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.outputs, id)
		s.mu.Unlock()
	}
}

// Buffer exposes the render buffer.
func (s *Session) Buffer() *RenderBuffer {
	return s.buf
}

// SendInput encodes keystrokes as a data frame. Input typed while not
// connected is dropped, never queued.
func (s *Session) SendInput(data []byte) {
	if len(data) == 0 {
		return
	}
	err := s.conn.Send(frame.Data(string(data)))
	if err != nil && err != model.ErrNotConnected {
		log.Printf("terminal: send input: %v", err)
	}
}

// Resize records the renderer geometry and, when connected, sends it to
// the remote pty. While disconnected only the newest geometry is kept
// and flushed after the next successful open.
func (s *Session) Resize(cols, rows uint16) {
	g := frame.Geometry{Cols: cols, Rows: rows}
	s.mu.Lock()
	s.geom = &g
	s.mu.Unlock()

	err := s.conn.Send(frame.Resize(g))
	if err != nil && err != model.ErrNotConnected {
		log.Printf("terminal: send resize: %v", err)
	}
}

// Reconnect force-closes any current socket, clears the render buffer,
// and opens a fresh connection to the same target. Only valid while not
// connected.
func (s *Session) Reconnect(ctx context.Context) error {
	switch s.conn.State() {
	case conn.StateConnected, conn.StateConnecting:
		return model.ErrStillConnected
	}

	s.conn.Close()
	s.buf.Clear()
	return s.Open(ctx)
}

// Dispose tears the session down. Idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	settle := s.settle
	s.settle = nil
	s.mu.Unlock()

	if settle != nil {
		settle.Stop()
	}
	s.conn.Dispose()
}

func (s *Session) handleOpen() {
	s.notice(noticeGreen, "connected")

	// Let the renderer settle, then sync the remote pty geometry so it
	// never starts at the wrong size.
	s.mu.Lock()
	if s.settle != nil {
		s.settle.Stop()
	}
	s.settle = s.after(resizeSettle, s.flushGeometry)
	s.mu.Unlock()
}

func (s *Session) flushGeometry() {
	s.mu.Lock()
	g := s.geom
	s.mu.Unlock()
	if g == nil {
		return
	}
	if err := s.conn.Send(frame.Resize(*g)); err != nil && err != model.ErrNotConnected {
		log.Printf("terminal: flush geometry: %v", err)
	}
}

func (s *Session) handleFrame(f *frame.Frame) {
	switch f.Type {
	case frame.KindData:
		// Verbatim append: the remote side owns cursor and control
		// sequences.
		s.emit([]byte(f.Data))
	case frame.KindPing:
		if err := s.conn.Send(frame.Pong()); err != nil && err != model.ErrNotConnected {
			log.Printf("terminal: pong: %v", err)
		}
	default:
		log.Printf("terminal: dropping %s frame", f.Type)
	}
}

func (s *Session) handleError(err error) {
	s.notice(noticeRed, "connection error: "+err.Error())
}

func (s *Session) handleClose() {
	s.notice(noticeYellow, "disconnected; reconnect to start a new shell")
}

// notice writes a colored status line to the render buffer and informs
// any toast sink.
func (s *Session) notice(color, text string) {
	s.emit([]byte("\r\n" + color + "[" + text + "]" + noticeReset + "\r\n"))
	if s.onNotice != nil {
		s.onNotice(text)
	}
}

func (s *Session) emit(data []byte) {
	s.buf.Write(data)

	s.mu.Lock()
	fns := make([]func([]byte), 0, len(s.outputs))
	for _, fn := range s.outputs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}
