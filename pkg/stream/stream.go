// Package stream carries incremental agent output to clients. Sink is the
// port the agent core writes to; SSEWriter is the HTTP implementation.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Sink receives ordered stream frames. Emit after End is a no-op.
type Sink interface {
	// Emit sends one frame. The frame must be JSON-serializable.
	Emit(frame any) error
	// End closes the stream. Idempotent.
	End()
}

// SSEWriter writes frames as Server-Sent Events, one `data:` line per
// frame with compact JSON. Safe for concurrent Emit calls.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	ended   bool
}

// NewSSEWriter prepares w for event streaming and writes the SSE headers.
// Returns an error when w does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("stream: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) Emit(frame any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("stream: marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("stream: write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *SSEWriter) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

var _ Sink = (*SSEWriter)(nil)

// BufferSink collects frames in memory. Test helper and fan-in buffer.
type BufferSink struct {
	mu     sync.Mutex
	frames []any
	ended  bool
}

func (b *BufferSink) Emit(frame any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return nil
	}
	b.frames = append(b.frames, frame)
	return nil
}

func (b *BufferSink) End() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
}

// Frames returns a snapshot of everything emitted so far.
func (b *BufferSink) Frames() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.frames))
	copy(out, b.frames)
	return out
}

// Ended reports whether End was called.
func (b *BufferSink) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

var _ Sink = (*BufferSink)(nil)
