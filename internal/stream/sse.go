// Package stream frames wire events for transport: SSE for the streaming
// endpoint, a single aggregated document for the blocking endpoint.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/classpilot/classpilot/pkg/models"
)

// ErrStreamingUnsupported reports a ResponseWriter without flush support.
var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// doneFrame terminates every SSE stream after the finish event.
const doneFrame = "data: [DONE]\n\n"

// SSEWriter frames wire events as server-sent events. Not safe for
// concurrent use; one goroutine owns the response.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
}

// NewSSEWriter prepares the response for SSE and returns the writer. The
// X-Accel-Buffering header keeps nginx-style proxies from buffering the
// stream.
func NewSSEWriter(w http.ResponseWriter, logger *slog.Logger) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher, logger: logger}, nil
}

// Send writes one event frame and flushes.
func (s *SSEWriter) Send(ev *models.WireEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal wire event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Heartbeat writes an SSE comment frame to keep intermediaries from
// timing out an idle connection.
func (s *SSEWriter) Heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Done writes the terminal [DONE] frame.
func (s *SSEWriter) Done() error {
	if _, err := fmt.Fprint(s.w, doneFrame); err != nil {
		return fmt.Errorf("write done frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Pump forwards events to the client until the channel closes, emitting
// heartbeats while the model or a tool is quiet. The [DONE] frame is
// written once the channel closes; client disconnects surface as write
// errors and stop the pump.
func (s *SSEWriter) Pump(ctx context.Context, events <-chan *models.WireEvent, heartbeatInterval time.Duration) error {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Heartbeat(); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return s.Done()
			}
			if err := s.Send(ev); err != nil {
				return err
			}
			ticker.Reset(heartbeatInterval)
		}
	}
}
