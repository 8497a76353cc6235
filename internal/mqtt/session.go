package mqtt

import (
	"encoding/json"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientBridge/internal/events"
)

// Poster runs a function on the event loop goroutine.
type Poster interface {
	Post(fn func())
}

// TargetMessage is published by a target on its event topic. Read replies
// carry the request ID and either the bytes read or an error.
type TargetMessage struct {
	Event   string `json:"event"`
	Status  int    `json:"status"`
	Data    string `json:"data,omitempty"`
	ID      uint64 `json:"id,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExitSession is a target session whose exit is announced on an MQTT event
// topic as {"event":"exit","status":N}.
//
// Every exit message satisfies the callbacks registered so far. An exit that
// arrives with nobody waiting is held and satisfies the next registration.
type ExitSession struct {
	id     string
	topic  string
	sub    Subscriber
	poster Poster

	mu         sync.Mutex
	subscribed bool
	callbacks  []func(int)
	heldExit   bool
	heldStatus int
	exits      int
	onReply    func(TargetMessage)
}

// NewExitSession creates a session for target id listening on topic.
// Callbacks are delivered through poster when it is non-nil.
func NewExitSession(id string, sub Subscriber, topic string, poster Poster) *ExitSession {
	return &ExitSession{
		id:     id,
		topic:  topic,
		sub:    sub,
		poster: poster,
	}
}

// Open subscribes to the event topic. Calling it again is a no-op.
func (s *ExitSession) Open() error {
	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.sub.Subscribe(s.topic, s.handleMessage); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()
	return nil
}

// Close unsubscribes from the event topic and drops pending callbacks.
func (s *ExitSession) Close() error {
	s.mu.Lock()
	if !s.subscribed {
		s.mu.Unlock()
		return nil
	}
	s.subscribed = false
	s.callbacks = nil
	s.mu.Unlock()

	return s.sub.Unsubscribe(s.topic)
}

// OnExit registers a one-shot callback for the next exit of the target.
func (s *ExitSession) OnExit(fn func(status int)) {
	s.mu.Lock()
	if s.heldExit {
		s.heldExit = false
		status := s.heldStatus
		s.mu.Unlock()
		s.deliver([]func(int){fn}, status)
		return
	}
	s.callbacks = append(s.callbacks, fn)
	n := len(s.callbacks)
	s.mu.Unlock()

	events.Emit("info", "session.registered", "", map[string]interface{}{
		"session_id": s.id,
		"topic":      s.topic,
		"pending":    n,
	})
}

// OnReply sets the handler for read replies. It is called on the MQTT
// client's goroutine, not through the poster, so that a read issued from the
// event loop can wait for it.
func (s *ExitSession) OnReply(fn func(TargetMessage)) {
	s.mu.Lock()
	s.onReply = fn
	s.mu.Unlock()
}

// Exits returns how many exit messages have been received.
func (s *ExitSession) Exits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exits
}

// IsSubscribed reports whether the event topic subscription is active.
func (s *ExitSession) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

func (s *ExitSession) handleMessage(_ paho.Client, msg paho.Message) {
	var m TargetMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		// Raw console output from the target
		events.Emit("info", "target.output", "", map[string]interface{}{
			"target_id": s.id,
			"data":      string(msg.Payload()),
		})
		return
	}

	switch m.Event {
	case "exit":
		s.exit(m.Status)
	case "read":
		s.mu.Lock()
		fn := s.onReply
		s.mu.Unlock()
		if fn == nil {
			events.Emit("warning", "target.error", "read reply with no reader", map[string]interface{}{
				"target_id": s.id,
				"id":        m.ID,
			})
			return
		}
		fn(m)
	case "output":
		events.Emit("info", "target.output", "", map[string]interface{}{
			"target_id": s.id,
			"data":      m.Data,
		})
	default:
		events.Emit("warning", "target.error", "unknown target event", map[string]interface{}{
			"target_id": s.id,
			"event":     m.Event,
		})
	}
}

func (s *ExitSession) exit(status int) {
	s.mu.Lock()
	s.exits++
	callbacks := s.callbacks
	s.callbacks = nil
	if len(callbacks) == 0 {
		s.heldExit = true
		s.heldStatus = status
	}
	s.mu.Unlock()

	events.Emit("info", "session.exit", "", map[string]interface{}{
		"session_id": s.id,
		"status":     status,
		"waiting":    len(callbacks),
	})
	s.deliver(callbacks, status)
}

func (s *ExitSession) deliver(callbacks []func(int), status int) {
	for _, fn := range callbacks {
		fn := fn
		if s.poster != nil {
			s.poster.Post(func() { fn(status) })
			continue
		}
		fn(status)
	}
}
