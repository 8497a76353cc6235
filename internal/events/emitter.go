package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

var buffer = NewRingBuffer(256)

// Sink persists emitted events. The Postgres client implements it.
type Sink interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, runID string) error
}

var (
	sinkMu          sync.RWMutex
	sink            Sink
	sinkErrorLogged bool
	runID           string

	outMu sync.Mutex
	out   io.Writer
)

// SetSink sets the sink used for event persistence. Pass nil to disable.
func SetSink(s Sink) {
	sinkMu.Lock()
	sink = s
	sinkErrorLogged = false
	sinkMu.Unlock()
}

// SetRunID tags every subsequently persisted event with id.
func SetRunID(id string) {
	sinkMu.Lock()
	runID = id
	sinkMu.Unlock()
}

// SetOutput makes Emit write each event as a JSON line to w. Pass nil to
// disable.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an event: it is buffered, broadcast to live subscribers,
// written to the configured output and persisted to the sink. The encoded
// JSON line is returned.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)
	persist(ts, e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outMu.Lock()
	if out != nil {
		out.Write(append(b, '\n'))
	}
	outMu.Unlock()

	return b, nil
}

func persist(ts time.Time, e Event) {
	sinkMu.RLock()
	s := sink
	id := runID
	errorLogged := sinkErrorLogged
	sinkMu.RUnlock()

	if s == nil {
		return
	}
	err := s.Append(ts, e.Level, e.Name, e.Message, e.Fields, id)
	if err == nil || errorLogged {
		return
	}

	// Report once. Goes straight to the buffer: emitting would recurse into
	// the failing sink.
	sinkMu.Lock()
	if sinkErrorLogged {
		sinkMu.Unlock()
		return
	}
	sinkErrorLogged = true
	sinkMu.Unlock()

	errEvent := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "error",
		Name:      "system.error",
		Message:   "event sink append failed",
		Fields: map[string]interface{}{
			"error": err.Error(),
		},
	}
	buffer.Add(errEvent)
	broadcast(errEvent)
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return buffer.Total()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
