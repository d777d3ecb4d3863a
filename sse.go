package reverie

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Stream event names. Every event on the wire is one of these; close is
// always the final event of a stream, exactly once, on every path.
const (
	EventStatus    = "status"
	EventToken     = "token"
	EventEmote     = "emote"
	EventProactive = "proactive"
	EventError     = "error"
	EventClose     = "close"
)

// Event is one server-sent event: a name plus a JSON payload.
type Event struct {
	Name string
	Data any
}

// StatusEvent reports a coarse processing phase to the client.
func StatusEvent(text string) Event {
	return Event{Name: EventStatus, Data: map[string]string{"text": text}}
}

// TokenEvent carries one incremental fragment of response text.
func TokenEvent(text string) Event {
	return Event{Name: EventToken, Data: map[string]string{"text": text}}
}

// EmoteEvent carries one expressive marker, distinct from prose.
func EmoteEvent(name string) Event {
	return Event{Name: EventEmote, Data: map[string]string{"name": name}}
}

// ProactiveEvent surfaces an unprompted insight.
func ProactiveEvent(text string) Event {
	return Event{Name: EventProactive, Data: map[string]string{"message": text}}
}

// ErrorEvent reports a turn-level failure. At most one per stream.
func ErrorEvent(err error) Event {
	return Event{Name: EventError, Data: map[string]string{"error": err.Error()}}
}

// CloseEvent terminates a stream.
func CloseEvent() Event {
	return Event{Name: EventClose, Data: map[string]string{}}
}

// EventWriter serializes events onto an HTTP response as
// text/event-stream, flushing after each event so fragments reach the
// client as they are produced.
type EventWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewEventWriter prepares w for event streaming and writes the SSE
// headers. Fails if the response writer cannot flush.
func NewEventWriter(w http.ResponseWriter) (*EventWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &EventWriter{w: w, f: f}, nil
}

// Send writes one event and flushes it.
func (ew *EventWriter) Send(ev Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	if _, err := fmt.Fprintf(ew.w, "event: %s\ndata: %s\n\n", ev.Name, payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	ew.f.Flush()
	return nil
}
