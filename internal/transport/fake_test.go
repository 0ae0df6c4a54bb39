package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/ledsync/internal/protocol"
)

type publishedMessage struct {
	Topic   string
	Payload string
}

type fakeSession struct {
	mu         sync.Mutex
	handlers   map[string]func([]byte)
	published  []publishedMessage
	publishErr error
	closed     bool

	once sync.Once
	done chan struct{}
	err  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		handlers: make(map[string]func([]byte)),
		done:     make(chan struct{}),
	}
}

func (s *fakeSession) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, publishedMessage{Topic: topic, Payload: string(payload)})
	return nil
}

func (s *fakeSession) Subscribe(ctx context.Context, topic string, handler func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = handler
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.drop(nil)
	return nil
}

// drop simulates a lost connection.
func (s *fakeSession) drop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// deliver plays the device publishing on topic.
func (s *fakeSession) deliver(topic, payload string) {
	s.mu.Lock()
	h := s.handlers[topic]
	s.mu.Unlock()
	if h != nil {
		h([]byte(payload))
	}
}

func (s *fakeSession) messages() []publishedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishedMessage(nil), s.published...)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var errBrokerDown = errors.New("broker down")

type fakeDialer struct {
	mu       sync.Mutex
	failing  bool
	attempts int
	options  []DialOptions
	sessions chan *fakeSession
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sessions: make(chan *fakeSession, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, opts DialOptions) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	d.options = append(d.options, opts)
	if d.failing {
		return nil, errBrokerDown
	}
	s := newFakeSession()
	d.sessions <- s
	return s, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = v
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDialer) nextSession(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-d.sessions:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

type recorder struct {
	ch chan protocol.Event
}

func record(c *Client) *recorder {
	r := &recorder{ch: make(chan protocol.Event, 256)}
	c.Subscribe(func(e protocol.Event) { r.ch <- e })
	return r
}

func (r *recorder) next(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func (r *recorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case e := <-r.ch:
		t.Fatalf("unexpected event %#v", e)
	case <-time.After(d):
	}
}

func testConfig() Config {
	return Config{
		CommandTopic:   "led_matrix/commands",
		StatusTopic:    "led_matrix/status",
		ClientIDPrefix: "test",
		ConnectTimeout: time.Second,
		PublishTimeout: time.Second,
		ReconnectDelay: 10 * time.Millisecond,
		MaxReconnects:  3,
	}
}
