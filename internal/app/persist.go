package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledsync/internal/state"
	"github.com/dokzlo13/ledsync/internal/storage"
)

const (
	// StateKind and StateID address the persisted confirmed state.
	StateKind = "matrix"
	StateID   = "main"
)

// NewStateStorage returns the typed store holding the last confirmed state.
func NewStateStorage(store *storage.Store) *storage.TypedStore[state.MatrixState] {
	return storage.NewTypedStore[state.MatrixState](store, StateKind)
}

// statePersister writes confirmed state whenever LEDs or brightness change.
type statePersister struct {
	states *storage.TypedStore[state.MatrixState]

	mu    sync.Mutex
	seq   uint64
	last  state.MatrixState
	saved bool
}

func newStatePersister(states *storage.TypedStore[state.MatrixState]) *statePersister {
	return &statePersister{states: states}
}

func (p *statePersister) observe(v state.View) {
	current := v.Confirmed
	current.Connected = false

	p.mu.Lock()
	defer p.mu.Unlock()
	// Views are notified outside the store lock, so an older one can
	// arrive after a newer one was written.
	if v.Seq <= p.seq {
		return
	}
	p.seq = v.Seq
	if p.saved && current == p.last {
		return
	}

	if err := p.states.Set(StateID, current); err != nil {
		log.Error().Err(err).Msg("Failed to persist matrix state")
		return
	}
	p.last = current
	p.saved = true
}

// restoreState seeds store from the last run, if anything was saved.
func restoreState(store *state.Store, states *storage.TypedStore[state.MatrixState]) (bool, error) {
	saved, found, err := states.Get(StateID)
	if err != nil || !found {
		return false, err
	}
	store.Restore(saved)
	log.Info().
		Int("active", saved.ActiveLeds.Len()).
		Uint8("brightness", saved.Brightness).
		Msg("Restored last known matrix state")
	return true, nil
}
