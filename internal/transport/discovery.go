package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/mdns"
)

// MQTTService is the DNS-SD service type advertised by MQTT brokers.
const MQTTService = "_mqtt._tcp"

// ErrNoBroker is returned when discovery finds nothing.
var ErrNoBroker = errors.New("no broker found")

// Discover looks up a broker on the local network via mDNS and returns
// its URL.
func Discover(ctx context.Context, service string, timeout time.Duration) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan string, 1)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for entry := range entries {
			if u := entryURL(entry); u != "" {
				select {
				case found <- u:
				default:
				}
			}
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entries)
	<-collected
	if err != nil {
		return "", fmt.Errorf("mDNS query failed: %w", err)
	}

	select {
	case u := <-found:
		return u, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("%w: no %s service answered within %s", ErrNoBroker, service, timeout)
	}
}

// entryURL builds a tcp:// URL from an mDNS answer.
func entryURL(entry *mdns.ServiceEntry) string {
	if entry == nil || entry.Port == 0 {
		return ""
	}
	host := ""
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = entry.AddrV6.String()
	case entry.Host != "":
		host = entry.Host
		if host[len(host)-1] == '.' {
			host = host[:len(host)-1]
		}
	default:
		return ""
	}
	return "tcp://" + net.JoinHostPort(host, fmt.Sprint(entry.Port))
}
