package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledsync/internal/config"
	"github.com/dokzlo13/ledsync/internal/db"
	"github.com/dokzlo13/ledsync/internal/httpapi"
	"github.com/dokzlo13/ledsync/internal/ledger"
	"github.com/dokzlo13/ledsync/internal/protocol"
	"github.com/dokzlo13/ledsync/internal/state"
	"github.com/dokzlo13/ledsync/internal/storage"
	"github.com/dokzlo13/ledsync/internal/transport"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Ledger  *ledger.Ledger // nil when the ledger is disabled
	Storage *storage.Store
	States  *storage.TypedStore[state.MatrixState]

	// Device link and canonical state
	Client *transport.Client
	Store  *state.Store

	API *httpapi.Server

	persister *statePersister
	detach    []func()
}

// NewServices creates all services with proper dependency injection.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Storage = storage.NewStore(database.DB)
	s.States = NewStateStorage(s.Storage)
	s.persister = newStatePersister(s.States)

	// Initialize broker client (not connected until Start)
	s.Client, err = NewClient(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	var commander state.Commander = s.Client
	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB, s.Client.ClientID())
		commander = NewJournalingCommander(s.Client, s.Ledger, "api")
	}

	s.Store = state.New(commander)

	if cfg.API.IsEnabled() {
		var journal httpapi.Journal
		if s.Ledger != nil {
			journal = s.Ledger
		}
		s.API = httpapi.NewServer(cfg.API.Addr(), s.Store, s.Client, journal)
	}

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when the broker client gives up.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if s.cfg.State.ShouldRestore() {
		restored, err := restoreState(s.Store, s.States)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to restore matrix state, starting empty")
		}
		if restored {
			s.persister.last = s.Store.Confirmed()
			s.persister.saved = true
		}
	}

	s.detach = append(s.detach, s.Store.Subscribe(s.persister.observe))

	// Listeners are wired before Start so no early event is missed
	if s.Ledger != nil {
		s.detach = append(s.detach, s.Client.Listen(journalConnection(s.Ledger)))
	}

	s.detach = append(s.detach, s.Client.Listen(func(e protocol.Event) {
		if ev, ok := e.(protocol.Error); ok && ev.Terminal && onFatalError != nil {
			onFatalError(ev.Err)
		}
	}))

	// The store is attached last so journal entries precede state observers
	s.detach = append(s.detach, s.Store.Attach(listener{s.Client}))
	s.Client.Start(ctx)

	if s.API != nil {
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				log.Error().Err(err).Msg("API server error")
				if onFatalError != nil {
					onFatalError(err)
				}
			}
		}()
	} else {
		log.Debug().Msg("API server disabled")
	}

	if s.Ledger != nil {
		go s.runLedgerCleanup(ctx)
	}

	return nil
}

// listener adapts the client so attaching does not start it.
type listener struct {
	client *transport.Client
}

func (l listener) Subscribe(h func(protocol.Event)) func() {
	return l.client.Listen(h)
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// ClearState removes the persisted matrix state.
func (s *Services) ClearState() error {
	return s.States.Delete(StateID)
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Client.Close(ctx)
		cancel()
	}
	for _, detach := range s.detach {
		detach()
	}
	s.detach = nil
	if s.DB != nil {
		s.DB.Close()
	}
}
