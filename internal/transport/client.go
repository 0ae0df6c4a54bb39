package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/ledsync/internal/eventbus"
	"github.com/dokzlo13/ledsync/internal/protocol"
)

// Config controls topics, identity and the reconnect policy.
type Config struct {
	CommandTopic   string
	StatusTopic    string
	ClientID       string // generated from ClientIDPrefix when empty
	ClientIDPrefix string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	ReconnectDelay time.Duration // fixed delay between attempts
	MaxReconnects  int           // consecutive failed attempts before giving up
}

// DefaultConfig returns the settings the web dashboard uses.
func DefaultConfig() Config {
	return Config{
		CommandTopic:   "led_matrix/commands",
		StatusTopic:    "led_matrix/status",
		ClientIDPrefix: "ledsync",
		ConnectTimeout: 30 * time.Second,
		PublishTimeout: 10 * time.Second,
		ReconnectDelay: 3 * time.Second,
		MaxReconnects:  5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CommandTopic == "" {
		c.CommandTopic = d.CommandTopic
	}
	if c.StatusTopic == "" {
		c.StatusTopic = d.StatusTopic
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = d.ClientIDPrefix
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = d.MaxReconnects
	}
	return c
}

// NewClientID returns prefix plus eight random hex characters, so
// concurrently open sessions never collide on the broker.
func NewClientID(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%x", prefix, id[:4])
}

// Stats are counters for diagnostics.
type Stats struct {
	Connected bool  `json:"connected"`
	Received  int64 `json:"received"`
	Dropped   int64 `json:"dropped"`
	Published int64 `json:"published"`
	Rejected  int64 `json:"rejected"`
}

// Client is the single broker client of the process. Construct one with
// New and share it; every consumer registers a listener via Subscribe.
type Client struct {
	dialer   Dialer
	cfg      Config
	clientID string
	bus      *eventbus.Bus[protocol.Event]

	// Throttles malformed-payload warnings; drops are always counted.
	parseLog *rate.Limiter

	received  atomic.Int64
	dropped   atomic.Int64
	published atomic.Int64
	rejected  atomic.Int64

	startOnce sync.Once
	kick      chan struct{}
	wg        sync.WaitGroup

	mu         sync.Mutex
	parent     context.Context
	cancel     context.CancelFunc
	running    bool
	run        uint64
	closed     bool
	session    Session
	connected  bool
	generation uint64
}

// New creates a client. No connection is made until Start, Subscribe or
// Send is first called.
func New(dialer Dialer, cfg Config) *Client {
	cfg = cfg.withDefaults()
	id := cfg.ClientID
	if id == "" {
		id = NewClientID(cfg.ClientIDPrefix)
	}

	return &Client{
		dialer:   dialer,
		cfg:      cfg,
		clientID: id,
		bus:      eventbus.New[protocol.Event](),
		parseLog: rate.NewLimiter(rate.Every(time.Second), 5),
		kick:     make(chan struct{}, 1),
	}
}

// ClientID returns the broker identity of this process.
func (c *Client) ClientID() string {
	return c.clientID
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Start begins connecting in the background. Only the first call (or the
// first lazy start) has an effect; ctx bounds the lifetime of the
// connection supervisor.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.parent = ctx
		c.startLocked()
	})
}

func (c *Client) ensureStarted() {
	c.Start(context.Background())
}

func (c *Client) startLocked() {
	if c.closed || c.running {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case <-c.kick:
	default:
	}
	ctx, cancel := context.WithCancel(c.parent)
	c.cancel = cancel
	c.running = true
	c.run++
	c.wg.Add(1)
	go c.supervise(ctx, c.run)
}

// Subscribe registers a listener for every status event and returns a
// function that removes it.
func (c *Client) Subscribe(h func(protocol.Event)) (unsubscribe func()) {
	unsubscribe = c.bus.Subscribe(h)
	c.ensureStarted()
	return unsubscribe
}

// Listen registers a listener like Subscribe but does not start the
// client, so listeners can be wired before an explicit Start.
func (c *Client) Listen(h func(protocol.Event)) (unsubscribe func()) {
	return c.bus.Subscribe(h)
}

// Connected reports whether a broker session is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected: c.Connected(),
		Received:  c.received.Load(),
		Dropped:   c.dropped.Load(),
		Published: c.published.Load(),
		Rejected:  c.rejected.Load(),
	}
}

// Send publishes a command. It never queues: without a live session it
// fails with ErrNotConnected, which is also delivered to listeners as an
// Error event. It waits for the broker handshake only.
func (c *Client) Send(ctx context.Context, cmd protocol.Command) error {
	c.ensureStarted()

	payload, err := cmd.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	session, connected := c.session, c.connected
	c.mu.Unlock()

	if !connected || session == nil {
		c.rejected.Add(1)
		log.Warn().Str("command", cmd.String()).Msg("Client not connected, rejecting command")
		c.emit(protocol.Error{Message: "Client not connected", Err: ErrNotConnected})
		return fmt.Errorf("%w: %s", ErrNotConnected, cmd)
	}

	pubCtx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	if err := session.Publish(pubCtx, c.cfg.CommandTopic, payload); err != nil {
		wrapped := fmt.Errorf("%w: publish %s: %w", ErrTransport, cmd, err)
		log.Error().Err(err).Str("command", cmd.String()).Msg("Failed to publish command")
		c.emit(protocol.Error{Message: "Failed to send command", Err: wrapped})
		return wrapped
	}

	c.published.Add(1)
	log.Debug().
		Str("topic", c.cfg.CommandTopic).
		Str("command", cmd.String()).
		Msg("Command published")
	return nil
}

// Reconnect drops any pending reconnect wait and tries again immediately
// with a fresh attempt budget. After the client gave up, it starts a new
// connection supervisor.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.parent == nil {
		c.parent = context.Background()
	}
	if !c.running {
		c.startLocked()
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// Disconnect stops the supervisor and closes the session. Reconnect can
// bring the client back.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	wasConnected := c.connected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.teardown()

	if wasConnected {
		log.Info().Str("client_id", c.clientID).Msg("Disconnected from broker")
		c.emit(protocol.Disconnected{Source: protocol.SourceTransport})
	}
}

// Close disconnects and shuts down event delivery. The client cannot be
// used afterwards.
func (c *Client) Close(ctx context.Context) {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.bus.Close(ctx)
}

func (c *Client) emit(e protocol.Event) {
	c.bus.Publish(e)
}

// supervise is the only goroutine that dials and waits, so at most one
// reconnect timer exists at any time.
func (c *Client) supervise(ctx context.Context, run uint64) {
	defer c.wg.Done()
	defer c.stopped(run)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		session, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= c.cfg.MaxReconnects {
				log.Error().
					Err(err).
					Int("max_reconnects", c.cfg.MaxReconnects).
					Msg("Broker: max reconnects exceeded, giving up")
				c.stopped(run)
				c.emit(protocol.Error{
					Message:  fmt.Sprintf("Failed to connect after %d attempts", failures),
					Err:      fmt.Errorf("%w: %w", ErrReconnectsExhausted, err),
					Terminal: true,
				})
				return
			}

			log.Warn().
				Err(err).
				Dur("delay", c.cfg.ReconnectDelay).
				Int("attempt", failures).
				Int("max_reconnects", c.cfg.MaxReconnects).
				Msg("Broker connection failed, retrying")

			proceed, kicked := c.wait(ctx)
			if !proceed {
				return
			}
			if kicked {
				failures = 0
			}
			continue
		}

		failures = 0
		c.mu.Lock()
		c.session = session
		c.connected = true
		c.mu.Unlock()

		// A kick that raced with this attempt is satisfied by it.
		select {
		case <-c.kick:
		default:
		}

		log.Info().
			Str("client_id", c.clientID).
			Str("topic", c.cfg.StatusTopic).
			Msg("Connected to broker")
		c.emit(protocol.Connected{Source: protocol.SourceTransport})

		recycle := false
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
		case <-c.kick:
			recycle = true
		}

		lost := session.Err()
		c.teardown()
		c.emit(protocol.Disconnected{Source: protocol.SourceTransport, Err: lost})
		if recycle {
			log.Info().Msg("Reconnect requested, recycling broker session")
			continue
		}
		log.Warn().Err(lost).Dur("delay", c.cfg.ReconnectDelay).Msg("Broker connection lost, reconnecting")

		proceed, _ := c.wait(ctx)
		if !proceed {
			return
		}
	}
}

// stopped marks supervisor run as finished unless a newer one replaced it.
func (c *Client) stopped(run uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == run {
		c.running = false
	}
}

// dial tears down any previous session, then connects and subscribes to
// the status topic.
func (c *Client) dial(ctx context.Context) (Session, error) {
	gen := c.teardown()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	session, err := c.dialer.Dial(dialCtx, DialOptions{
		ClientID:  c.clientID,
		WillTopic: c.cfg.StatusTopic,
		Will:      protocol.EncodeStatus(protocol.StatusOffline, protocol.TypeWeb),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}

	handler := func(payload []byte) { c.handlePayload(gen, payload) }
	if err := session.Subscribe(dialCtx, c.cfg.StatusTopic, handler); err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %w", ErrTransport, c.cfg.StatusTopic, err)
	}

	return session, nil
}

// teardown closes the live session, if any, and starts a new generation
// so late messages from the old session are ignored.
func (c *Client) teardown() uint64 {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.connected = false
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing broker session")
		}
	}
	return gen
}

// wait sleeps for the reconnect delay. It reports whether to continue and
// whether the wait was cut short by Reconnect.
func (c *Client) wait(ctx context.Context) (proceed, kicked bool) {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, false
	case <-timer.C:
		return true, false
	case <-c.kick:
		return true, true
	}
}

func (c *Client) handlePayload(gen uint64, payload []byte) {
	c.mu.Lock()
	current := c.generation
	c.mu.Unlock()
	if gen != current {
		return
	}

	c.received.Add(1)
	events, err := protocol.Decode(payload)
	if err != nil {
		dropped := c.dropped.Add(1)
		if c.parseLog.Allow() {
			log.Warn().
				Err(err).
				Str("payload", truncate(payload, 256)).
				Int64("dropped_total", dropped).
				Msg("Dropping malformed status message")
		}
		return
	}

	if len(events) == 0 {
		log.Trace().Str("payload", truncate(payload, 256)).Msg("Status message carried no events")
	}
	for _, e := range events {
		c.emit(e)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
