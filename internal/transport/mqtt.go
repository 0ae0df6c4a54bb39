package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	qosAtMostOnce  byte = 0
	qosAtLeastOnce byte = 1

	disconnectQuiesce = 250 // milliseconds
)

// MQTTDialer connects to an MQTT broker. Automatic reconnection of the
// underlying library is disabled; the Client owns the retry policy.
type MQTTDialer struct {
	URL       string
	Username  string
	Password  string
	KeepAlive time.Duration
}

// Dial connects and returns a live session.
func (d *MQTTDialer) Dial(ctx context.Context, opts DialOptions) (Session, error) {
	s := &mqttSession{done: make(chan struct{})}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	o := mqtt.NewClientOptions().
		AddBroker(d.URL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetConnectTimeout(timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.lose(err)
		})
	if d.Username != "" {
		o.SetUsername(d.Username)
		o.SetPassword(d.Password)
	}
	if d.KeepAlive > 0 {
		o.SetKeepAlive(d.KeepAlive)
	}
	if opts.WillTopic != "" {
		o.SetWill(opts.WillTopic, string(opts.Will), qosAtMostOnce, false)
	}

	s.client = mqtt.NewClient(o)
	if err := waitToken(ctx, s.client.Connect()); err != nil {
		s.client.Disconnect(0)
		return nil, err
	}

	log.Debug().Str("broker", d.URL).Str("client_id", opts.ClientID).Msg("MQTT session established")
	return s, nil
}

type mqttSession struct {
	client mqtt.Client

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (s *mqttSession) Publish(ctx context.Context, topic string, payload []byte) error {
	return waitToken(ctx, s.client.Publish(topic, qosAtLeastOnce, false, payload))
}

func (s *mqttSession) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	tok := s.client.Subscribe(topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	return waitToken(ctx, tok)
}

func (s *mqttSession) Done() <-chan struct{} {
	return s.done
}

func (s *mqttSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mqttSession) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesce)
	}
	s.lose(nil)
	return nil
}

func (s *mqttSession) lose(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return errors.Join(ctx.Err(), tok.Error())
	}
}
