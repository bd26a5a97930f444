package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Writer streams parts over an http.ResponseWriter as Server-Sent Events.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w for SSE streaming and sets the response headers.
// Fails if w cannot flush, since unflushed SSE defeats streaming.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// WritePart encodes and sends one part, then flushes.
func (w *Writer) WritePart(ctx context.Context, p Part) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	event, data, err := Encode(p)
	if err != nil {
		return err
	}
	return w.writeEvent(event, string(data))
}

// WriteError sends an error part directly. Usable even after a partial
// stream, which is exactly when it is needed.
func (w *Writer) WriteError(ctx context.Context, message string) error {
	return w.WritePart(ctx, ErrorPart{Message: message})
}

// writeEvent writes one SSE event, handling multi-line data.
// Every line of the payload needs its own "data: " prefix.
func (w *Writer) writeEvent(event, data string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}

	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}

	// Blank line terminates the event.
	if _, err := io.WriteString(w.w, "\n"); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}

	w.flusher.Flush()
	return nil
}
