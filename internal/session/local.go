// Package session provides in-process target sessions whose exit is
// signalled by the caller.
package session

import (
	"sync"

	"github.com/AaronLay10/SentientBridge/internal/events"
)

// Poster runs a function on the event loop goroutine.
type Poster interface {
	Post(fn func())
}

// Local is a session ended by calling Exit. Exit callbacks are one-shot:
// each registration fires at most once.
type Local struct {
	id     string
	poster Poster

	mu        sync.Mutex
	callbacks []func(int)
	exited    bool
	status    int
}

// NewLocal creates a session. When poster is non-nil callbacks are delivered
// through it, otherwise they run on the goroutine calling Exit.
func NewLocal(id string, poster Poster) *Local {
	return &Local{id: id, poster: poster}
}

// OnExit registers fn to run when the session exits. If it already exited,
// fn is delivered right away with the recorded status.
func (s *Local) OnExit(fn func(status int)) {
	s.mu.Lock()
	if s.exited {
		status := s.status
		s.mu.Unlock()
		s.deliver([]func(int){fn}, status)
		return
	}
	s.callbacks = append(s.callbacks, fn)
	n := len(s.callbacks)
	s.mu.Unlock()

	events.Emit("info", "session.registered", "", map[string]interface{}{
		"session_id": s.id,
		"pending":    n,
	})
}

// Exit ends the session with status and fires the pending callbacks.
// Later calls are ignored.
func (s *Local) Exit(status int) {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.exited = true
	s.status = status
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	events.Emit("info", "session.exit", "", map[string]interface{}{
		"session_id": s.id,
		"status":     status,
	})
	s.deliver(callbacks, status)
}

// Reset reopens an exited session so it can be waited on again.
func (s *Local) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited = false
	s.status = 0
}

// Exited reports whether the session has exited.
func (s *Local) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// Status returns the exit status, valid once Exited is true.
func (s *Local) Status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Local) deliver(callbacks []func(int), status int) {
	for _, fn := range callbacks {
		fn := fn
		if s.poster != nil {
			s.poster.Post(func() { fn(status) })
			continue
		}
		fn(status)
	}
}
