package transport

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisDialer uses Redis pub/sub channels as topics. Redis delivers to
// connected subscribers only, so a status report published while the
// session is down is lost; the device's next snapshot repairs the state.
type RedisDialer struct {
	Options *redis.Options
	// HealthInterval is how often the session pings the server to detect
	// a dead connection. Zero means 30s.
	HealthInterval time.Duration
}

// Dial connects and verifies the server with a PING.
func (d *RedisDialer) Dial(ctx context.Context, opts DialOptions) (Session, error) {
	o := *d.Options
	rdb := redis.NewClient(&o)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	interval := d.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s := &redisSession{
		rdb:  rdb,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go s.monitor(interval)

	log.Debug().Str("addr", o.Addr).Str("client_id", opts.ClientID).Msg("Redis session established")
	return s, nil
}

type redisSession struct {
	rdb *redis.Client

	mu      sync.Mutex
	pubsubs []*redis.PubSub
	err     error

	loseOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
	stop      chan struct{}
}

func (s *redisSession) Publish(ctx context.Context, topic string, payload []byte) error {
	return s.rdb.Publish(ctx, topic, payload).Err()
}

func (s *redisSession) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	ps := s.rdb.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return err
	}

	s.mu.Lock()
	s.pubsubs = append(s.pubsubs, ps)
	s.mu.Unlock()

	ch := ps.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()
	return nil
}

func (s *redisSession) Done() <-chan struct{} {
	return s.done
}

func (s *redisSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)

		s.mu.Lock()
		pubsubs := s.pubsubs
		s.pubsubs = nil
		s.mu.Unlock()

		for _, ps := range pubsubs {
			ps.Close()
		}
		err = s.rdb.Close()
		s.lose(nil)
	})
	return err
}

// monitor pings the server and ends the session on the first failure.
func (s *redisSession) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := s.rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				s.lose(err)
				return
			}
		}
	}
}

func (s *redisSession) lose(err error) {
	s.loseOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
