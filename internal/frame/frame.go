// Package frame implements the JSON envelope exchanged over the console's
// realtime WebSocket connections. Each wire message carries exactly one
// frame; the socket layer preserves message boundaries, so no length
// prefixing is needed.
package frame

import (
	"encoding/json"
	"fmt"

	"github.com/cluster-console/console/internal/model"
)

// Kind discriminates the frame envelope.
type Kind string

const (
	// Terminal session frames.
	KindData   Kind = "data"   // client<->server: raw terminal bytes as text
	KindResize Kind = "resize" // client->server: pty geometry change

	// Liveness frames. The server initiates pings; the client replies.
	KindPing Kind = "ping"
	KindPong Kind = "pong"

	// Event stream frames, server->client only.
	KindClusterUpdate Kind = "cluster_update"
	KindClusterDelete Kind = "cluster_delete"
)

// knownKinds gates decoding; frames with any other type fail with a
// DecodeError and are dropped by the transport.
var knownKinds = map[Kind]bool{
	KindData:          true,
	KindResize:        true,
	KindPing:          true,
	KindPong:          true,
	KindClusterUpdate: true,
	KindClusterDelete: true,
}

// Frame is the wire envelope. Payload shape depends on Type: Data for
// data frames, Cols/Rows for resize frames, Payload for typed events.
type Frame struct {
	Type    Kind            `json:"type"`
	Data    string          `json:"data,omitempty"`
	Cols    uint16          `json:"cols,omitempty"`
	Rows    uint16          `json:"rows,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Geometry is a terminal's column/row dimensions.
type Geometry struct {
	Cols uint16
	Rows uint16
}

// UpdatePayload is the body of a cluster_update frame.
type UpdatePayload struct {
	Cluster *model.Cluster `json:"cluster"`
}

// DeletePayload is the body of a cluster_delete frame: a tombstone
// carrying only the identity of the removed resource.
type DeletePayload struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// DecodeError reports a malformed or unrecognized wire message. Decode
// failures are non-fatal: the owning transport drops the frame and
// continues.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes a frame to its wire form.
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses one wire message into a frame. Malformed JSON and
// unknown kinds produce a *DecodeError.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if !knownKinds[f.Type] {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown kind %q", f.Type)}
	}
	return &f, nil
}

// Data builds a data frame carrying raw terminal bytes.
func Data(payload string) *Frame {
	return &Frame{Type: KindData, Data: payload}
}

// Resize builds a resize frame for the given geometry.
func Resize(g Geometry) *Frame {
	return &Frame{Type: KindResize, Cols: g.Cols, Rows: g.Rows}
}

// Pong builds the reply to a server ping.
func Pong() *Frame {
	return &Frame{Type: KindPong}
}

// ClusterUpdate builds a cluster_update frame for the given snapshot.
func ClusterUpdate(c *model.Cluster) (*Frame, error) {
	payload, err := json.Marshal(UpdatePayload{Cluster: c})
	if err != nil {
		return nil, err
	}
	return &Frame{Type: KindClusterUpdate, Payload: payload}, nil
}

// ClusterDelete builds a cluster_delete tombstone frame.
func ClusterDelete(key model.ResourceKey) (*Frame, error) {
	payload, err := json.Marshal(DeletePayload{Name: key.Name, Namespace: key.Namespace})
	if err != nil {
		return nil, err
	}
	return &Frame{Type: KindClusterDelete, Payload: payload}, nil
}

// UpdateBody parses the payload of a cluster_update frame.
func (f *Frame) UpdateBody() (*UpdatePayload, error) {
	var body UpdatePayload
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		return nil, &DecodeError{Reason: "malformed cluster_update payload", Err: err}
	}
	if body.Cluster == nil {
		return nil, &DecodeError{Reason: "cluster_update payload missing cluster"}
	}
	return &body, nil
}

// DeleteBody parses the payload of a cluster_delete frame.
func (f *Frame) DeleteBody() (*DeletePayload, error) {
	var body DeletePayload
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		return nil, &DecodeError{Reason: "malformed cluster_delete payload", Err: err}
	}
	return &body, nil
}
