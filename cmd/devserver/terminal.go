package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cluster-console/console/internal/frame"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Period between server-initiated pings.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local development harness only.
		return true
	},
}

// terminalHandler bridges terminal WebSocket connections to a local
// shell behind a pty.
type terminalHandler struct {
	shell string
}

func (h *terminalHandler) handleManagement(c *gin.Context) {
	h.attach(c, "management")
}

func (h *terminalHandler) handleScoped(c *gin.Context) {
	scope := c.Param("kind") + "/" + c.Param("namespace") + "/" + c.Param("cluster")
	if pod := c.Param("pod"); pod != "" {
		scope += "/" + pod
		if container := c.Param("container"); container != "" {
			scope += "/" + container
		}
	}
	h.attach(c, scope)
}

func (h *terminalHandler) attach(c *gin.Context, scope string) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("terminal %s: upgrade: %v", scope, err)
		return
	}

	sessionID := uuid.New().String()[:8]
	log.Printf("terminal %s: session %s attached", scope, sessionID)

	cmd := exec.Command(h.shell)
	cmd.Env = append(cmd.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		log.Printf("terminal %s: spawn shell: %v", sessionID, err)
		ws.Close()
		return
	}

	sess := &terminalSession{id: sessionID, ws: ws, ptmx: ptmx}
	go sess.pumpOutput()
	go sess.pingLoop()
	sess.pumpInput()

	ptmx.Close()
	cmd.Process.Kill()
	cmd.Wait()
	ws.Close()
	log.Printf("terminal %s: session %s detached", scope, sessionID)
}

type terminalSession struct {
	id   string
	ws   *websocket.Conn
	ptmx *os.File

	writeMu sync.Mutex
}

func (s *terminalSession) send(f *frame.Frame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

// pumpOutput copies shell output to the socket as data frames.
func (s *terminalSession) pumpOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			if serr := s.send(frame.Data(string(buf[:n]))); serr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("terminal %s: read pty: %v", s.id, err)
			}
			s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shell exited"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// pingLoop exercises the client's liveness contract.
func (s *terminalSession) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := s.send(&frame.Frame{Type: frame.KindPing}); err != nil {
			return
		}
	}
}

// pumpInput applies inbound frames to the pty until the socket closes.
func (s *terminalSession) pumpInput() {
	s.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		f, derr := frame.Decode(data)
		if derr != nil {
			log.Printf("terminal %s: dropping frame: %v", s.id, derr)
			continue
		}
		switch f.Type {
		case frame.KindData:
			if _, err := s.ptmx.Write([]byte(f.Data)); err != nil {
				log.Printf("terminal %s: write pty: %v", s.id, err)
			}
		case frame.KindResize:
			if f.Cols == 0 || f.Rows == 0 {
				continue
			}
			if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: f.Cols, Rows: f.Rows}); err != nil {
				log.Printf("terminal %s: resize pty: %v", s.id, err)
			}
		case frame.KindPong:
			// Liveness acknowledged.
		default:
			log.Printf("terminal %s: dropping %s frame", s.id, f.Type)
		}
	}
}
