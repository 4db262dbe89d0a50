package protocol

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Writer serializes events to the protocol stream, one JSON object per
// line. It is the only code allowed to write to stdout; a mutex keeps
// lines from interleaving when background workers emit heartbeats.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, now: time.Now}
}

// Emit writes one event, stamping it with the current time.
func (w *Writer) Emit(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = float64(w.now().UnixNano()) / float64(time.Second)
	}

	line, err := json.Marshal(event)
	if err != nil {
		// An unmarshalable payload is a programming error; log and keep
		// the stream alive rather than break the line discipline.
		slog.Error("Failed to marshal protocol event", "type", event.Type, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(line, '\n')); err != nil {
		slog.Error("Failed to write protocol event", "type", event.Type, "error", err)
	}
}

// Typed emits an event of the given type tied to a request id.
func (w *Writer) Typed(eventType, id string, data any) {
	w.Emit(Event{Type: eventType, ID: id, Data: data})
}

// Error emits an error event; id may be empty for unparseable commands.
func (w *Writer) Error(id, message string) {
	w.Emit(Event{Type: EventError, ID: id, Message: message})
}
