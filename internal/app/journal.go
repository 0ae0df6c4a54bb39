package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledsync/internal/ledger"
	"github.com/dokzlo13/ledsync/internal/protocol"
	"github.com/dokzlo13/ledsync/internal/state"
	"github.com/dokzlo13/ledsync/internal/transport"
)

// JournalingCommander records every command it forwards in the ledger.
type JournalingCommander struct {
	next   state.Commander
	ledger *ledger.Ledger
	source string
}

// NewJournalingCommander wraps next. source names the caller, e.g. "api".
func NewJournalingCommander(next state.Commander, l *ledger.Ledger, source string) *JournalingCommander {
	return &JournalingCommander{next: next, ledger: l, source: source}
}

// Send forwards cmd and journals the outcome.
func (j *JournalingCommander) Send(ctx context.Context, cmd protocol.Command) error {
	err := j.next.Send(ctx, cmd)

	payload := map[string]any{"command": cmd.String()}
	eventType := ledger.EventCommandSent
	if err != nil {
		eventType = ledger.EventCommandRejected
		payload["error"] = err.Error()
	}
	if appendErr := j.ledger.Append(eventType, j.source, payload); appendErr != nil {
		log.Warn().Err(appendErr).Str("event_type", string(eventType)).Msg("Failed to append to ledger")
	}

	return err
}

// journalConnection returns a transport listener that records
// connection changes and transport failures.
func journalConnection(l *ledger.Ledger) func(protocol.Event) {
	return func(e protocol.Event) {
		var (
			eventType ledger.EventType
			source    string
			payload   map[string]any
		)

		switch ev := e.(type) {
		case protocol.Connected:
			eventType, source = ledger.EventConnected, string(ev.Source)
		case protocol.Disconnected:
			eventType, source = ledger.EventDisconnected, string(ev.Source)
			if ev.Err != nil {
				payload = map[string]any{"error": ev.Err.Error()}
			}
		case protocol.Error:
			// Rejected commands are journaled by the commander.
			if errors.Is(ev.Err, transport.ErrNotConnected) {
				return
			}
			eventType, source = ledger.EventTransportError, string(protocol.SourceTransport)
			payload = map[string]any{"message": ev.Message, "terminal": ev.Terminal}
			if ev.Err != nil {
				payload["error"] = ev.Err.Error()
			}
		default:
			return
		}

		if err := l.Append(eventType, source, payload); err != nil {
			log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to append to ledger")
		}
	}
}
