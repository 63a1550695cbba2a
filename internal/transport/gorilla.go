package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const dialTimeout = 10 * time.Second

// WebSocketDialer opens real connections with gorilla/websocket. The
// upgrade request carries the configured header (and any cookie jar on
// the embedded dialer) so the session layer's credentials reach the
// server.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWebSocketDialer returns a dialer with gorilla defaults and a
// shared cookie jar left to the caller.
func NewWebSocketDialer(jar http.CookieJar, header http.Header) *WebSocketDialer {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = dialTimeout
	d.Jar = jar
	return &WebSocketDialer{Dialer: &d, Header: header}
}

// Dial opens a WebSocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	ws, _, err := d.Dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// isCleanClose reports whether a read error represents an orderly
// shutdown rather than a transport failure.
func isCleanClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, io.EOF)
}
