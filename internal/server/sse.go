package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sseKeepAlive is how often an idle event stream gets a comment line so
// proxies do not close it.
const sseKeepAlive = 15 * time.Second

// eventStream writes Server-Sent Events with increasing ids.
type eventStream struct {
	out     io.Writer
	flusher http.Flusher
	nextID  int
}

// openEventStream sends the SSE headers. It fails when w cannot flush.
func openEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventStream{out: w, flusher: flusher}, nil
}

// send writes one named event with data encoded as JSON.
func (s *eventStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	s.nextID++
	if _, err := fmt.Fprintf(s.out, "id: %d\nevent: %s\ndata: %s\n\n", s.nextID, event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *eventStream) ping() error {
	if _, err := io.WriteString(s.out, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
