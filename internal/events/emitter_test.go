package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu    sync.Mutex
	rows  []string
	runID string
	err   error
}

func (s *fakeSink) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, event)
	s.runID = runID
	return nil
}

func TestEmit_UnknownEvent(t *testing.T) {
	if _, err := Emit("info", "scene.started", "", nil); err == nil {
		t.Error("expected error for unknown event")
	}
}

func TestEmit_WritesJSONLine(t *testing.T) {
	var out bytes.Buffer
	SetOutput(&out)
	defer SetOutput(nil)

	b, err := Emit("warning", "command.failed", "boom", map[string]interface{}{"depth": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if e.Name != "command.failed" || e.Level != "warning" || e.Message != "boom" {
		t.Errorf("unexpected event: %+v", e)
	}
	if out.String() != string(b)+"\n" {
		t.Errorf("expected output line %q, got %q", string(b)+"\n", out.String())
	}
}

func TestEmit_PersistsToSink(t *testing.T) {
	s := &fakeSink{}
	SetSink(s)
	SetRunID("run-1")
	defer SetSink(nil)
	defer SetRunID("")

	Emit("info", "bridge.completed", "", nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rows) != 1 || s.rows[0] != "bridge.completed" {
		t.Errorf("expected one persisted bridge.completed, got %v", s.rows)
	}
	if s.runID != "run-1" {
		t.Errorf("expected run id run-1, got %q", s.runID)
	}
}

func TestEmit_SinkErrorReportedOnce(t *testing.T) {
	Clear()
	s := &fakeSink{err: errors.New("db down")}
	SetSink(s)
	defer SetSink(nil)

	Emit("info", "bridge.started", "", nil)
	Emit("info", "bridge.stopped", "", nil)

	count := 0
	for _, e := range Snapshot() {
		if e.Name == "system.error" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one system.error, got %d", count)
	}
}

func TestTotalCount(t *testing.T) {
	before := TotalCount()
	Emit("info", "loop.completed", "", nil)
	Emit("info", "loop.completed", "", nil)
	if got := TotalCount() - before; got != 2 {
		t.Errorf("expected 2 new events, got %d", got)
	}
}
