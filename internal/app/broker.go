package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledsync/internal/config"
	"github.com/dokzlo13/ledsync/internal/protocol"
	"github.com/dokzlo13/ledsync/internal/transport"
)

// ErrGaveUp is returned by WaitConnected when the client stopped retrying.
var ErrGaveUp = errors.New("broker unreachable")

// NewClient builds the transport client described by cfg. When no broker
// URL is configured and discovery is on, the broker is looked up via mDNS.
func NewClient(ctx context.Context, cfg *config.Config) (*transport.Client, error) {
	url := cfg.Broker.URL
	if url == "" && cfg.Broker.Discover {
		found, err := transport.Discover(ctx, transport.MQTTService, cfg.Broker.DiscoverTimeout.Duration())
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", found).Msg("Discovered broker")
		url = found
	}

	dialer, err := transport.NewDialer(transport.BrokerConfig{
		URL:       url,
		Username:  cfg.Broker.Username,
		Password:  cfg.Broker.Password,
		KeepAlive: cfg.Broker.KeepAlive.Duration(),
	})
	if err != nil {
		return nil, err
	}

	return transport.New(dialer, transport.Config{
		CommandTopic:   cfg.Topics.Commands,
		StatusTopic:    cfg.Topics.Status,
		ClientIDPrefix: cfg.Broker.ClientIDPrefix,
		ConnectTimeout: cfg.Broker.ConnectTimeout.Duration(),
		PublishTimeout: cfg.Broker.PublishTimeout.Duration(),
		ReconnectDelay: cfg.Broker.ReconnectDelay.Duration(),
		MaxReconnects:  cfg.Broker.MaxReconnects,
	}), nil
}

// WaitConnected starts client if needed and blocks until it holds a live
// session, ctx ends, or the client gives up.
func WaitConnected(ctx context.Context, client *transport.Client) error {
	result := make(chan error, 1)
	report := func(err error) {
		select {
		case result <- err:
		default:
		}
	}

	unsubscribe := client.Subscribe(func(e protocol.Event) {
		switch ev := e.(type) {
		case protocol.Connected:
			if ev.Source == protocol.SourceTransport {
				report(nil)
			}
		case protocol.Error:
			if ev.Terminal {
				report(fmt.Errorf("%w: %w", ErrGaveUp, ev.Err))
			}
		}
	})
	defer unsubscribe()

	if client.Connected() {
		return nil
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
