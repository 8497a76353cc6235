package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// MockSubscriber records subscriptions and lets tests inject messages.
type MockSubscriber struct {
	mu            sync.Mutex
	subscriptions map[string]paho.MessageHandler
	unsubscribed  []string
	subscribeErr  error
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{
		subscriptions: make(map[string]paho.MessageHandler),
	}
}

func (m *MockSubscriber) Subscribe(topic string, handler paho.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.subscriptions[topic] = handler
	return nil
}

func (m *MockSubscriber) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, topic)
	m.unsubscribed = append(m.unsubscribed, topic)
	return nil
}

func (m *MockSubscriber) SimulateMessage(topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.subscriptions[topic]
	m.mu.Unlock()
	if ok {
		handler(nil, &mockMessage{topic: topic, payload: payload})
	}
	return ok
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type mockToken struct {
	err     error
	timeout bool
}

func (t *mockToken) Wait() bool                     { return !t.timeout }
func (t *mockToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }

// mockPahoClient implements the parts of paho.Client the wrapper uses. The
// embedded interface is nil; calling anything else panics.
type mockPahoClient struct {
	paho.Client

	mu        sync.Mutex
	connected bool
	published []publishedMessage
	token     *mockToken
}

type publishedMessage struct {
	Topic   string
	Payload []byte
}

func (c *mockPahoClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockPahoClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.err == nil && !c.token.timeout {
		c.connected = true
	}
	return c.token
}

func (c *mockPahoClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *mockPahoClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishedMessage{Topic: topic, Payload: payload.([]byte)})
	return c.token
}

func (c *mockPahoClient) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return c.token
}

func (c *mockPahoClient) Unsubscribe(...string) paho.Token {
	return c.token
}
