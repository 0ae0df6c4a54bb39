// Package transport owns the broker connection of the process: it
// publishes commands, subscribes to status reports, reconnects with a
// fixed delay up to a bounded number of attempts, and delivers every
// status event to its listeners in arrival order.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotConnected is returned when a command is sent without a live session.
	ErrNotConnected = errors.New("client not connected")
	// ErrTransport wraps broker-level failures.
	ErrTransport = errors.New("transport error")
	// ErrReconnectsExhausted is the terminal error after the attempt cap.
	ErrReconnectsExhausted = errors.New("max reconnects exceeded")
	// ErrClosed is returned by a client after Close.
	ErrClosed = errors.New("client closed")
)

// DialOptions are the per-attempt connection parameters chosen by the Client.
type DialOptions struct {
	ClientID  string
	WillTopic string
	Will      []byte
}

// Session is one live broker connection.
type Session interface {
	// Publish sends payload at-least-once and waits for the broker
	// handshake, not for any consumer.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers every message on topic to handler, one at a
	// time, in broker order.
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	// Err returns the reason the session ended, if any.
	Err() error
	Close() error
}

// Dialer opens sessions to a broker.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Session, error)
}

// BrokerConfig selects and parameterises a broker implementation.
type BrokerConfig struct {
	URL       string
	Username  string
	Password  string
	KeepAlive time.Duration
}

// NewDialer returns the dialer matching the URL scheme: MQTT for
// tcp/mqtt/ssl/tls/ws/wss URLs, Redis pub/sub for redis/rediss URLs.
func NewDialer(cfg BrokerConfig) (Dialer, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url %q: %w", cfg.URL, err)
	}

	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
		return &MQTTDialer{
			URL:       cfg.URL,
			Username:  cfg.Username,
			Password:  cfg.Password,
			KeepAlive: cfg.KeepAlive,
		}, nil

	case "redis", "rediss":
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if cfg.Username != "" {
			opts.Username = cfg.Username
		}
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		return &RedisDialer{Options: opts, HealthInterval: cfg.KeepAlive}, nil

	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}
