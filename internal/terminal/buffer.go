package terminal

import "sync"

// RenderBuffer holds the bytes a terminal renderer would display:
// remote output verbatim plus inline status notices. It keeps at most
// the newest capacity bytes, discarding the oldest when full, and lives
// only for the session (scrollback is not persisted).
type RenderBuffer struct {
	mu       sync.RWMutex
	data     []byte
	capacity int
}

// NewRenderBuffer creates a buffer bounded to capacity bytes. A
// capacity below one is raised to one.
func NewRenderBuffer(capacity int) *RenderBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RenderBuffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write appends p, discarding the oldest bytes once the capacity is
// exceeded. Implements io.Writer.
func (b *RenderBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.capacity {
		b.data = append(b.data[:0], p[len(p)-b.capacity:]...)
		return len(p), nil
	}

	overflow := len(b.data) + len(p) - b.capacity
	if overflow > 0 {
		b.data = append(b.data[:0], b.data[overflow:]...)
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteString appends s.
func (b *RenderBuffer) WriteString(s string) {
	b.Write([]byte(s))
}

// Clear empties the buffer. Called on manual reconnect: a new shell
// starts from a blank screen.
func (b *RenderBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// Bytes returns a copy of the current contents.
func (b *RenderBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// String returns the current contents as text.
func (b *RenderBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.data)
}

// Len returns the number of buffered bytes.
func (b *RenderBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Cap returns the buffer capacity.
func (b *RenderBuffer) Cap() int {
	return b.capacity
}
