package state

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledsync/internal/eventbus"
	"github.com/dokzlo13/ledsync/internal/matrix"
	"github.com/dokzlo13/ledsync/internal/pattern"
	"github.com/dokzlo13/ledsync/internal/protocol"
)

// Store owns the only writable MatrixState of the process.
type Store struct {
	cmd Commander

	mu        sync.RWMutex
	confirmed MatrixState
	draft     *Draft
	lastError string
	terminal  bool
	updatedAt time.Time
	seq       uint64

	observers eventbus.Registry[View]
}

// New creates a store that issues commands through cmd.
func New(cmd Commander) *Store {
	return &Store{
		cmd:       cmd,
		confirmed: MatrixState{Brightness: DefaultBrightness},
		updatedAt: time.Now(),
	}
}

// Attach feeds every event of src into Apply and returns a function that
// detaches the store again.
func (s *Store) Attach(src EventSource) (detach func()) {
	return src.Subscribe(s.Apply)
}

// Subscribe registers an observer called after every mutation, outside
// the store lock.
func (s *Store) Subscribe(h func(View)) (unsubscribe func()) {
	return s.observers.Subscribe(h)
}

// Apply reconciles one status event into confirmed state.
func (s *Store) Apply(e protocol.Event) {
	s.mu.Lock()
	switch ev := e.(type) {
	case protocol.LedChanged:
		s.confirmed.ActiveLeds.Set(ev.Index, ev.On)

	case protocol.BulkState:
		s.confirmed.ActiveLeds = ev.Active()

	case protocol.BrightnessChanged:
		s.confirmed.Brightness = ev.Value

	case protocol.Connected:
		s.confirmed.Connected = true
		s.terminal = false

	case protocol.Disconnected:
		s.confirmed.Connected = false

	case protocol.Error:
		s.lastError = ev.Message
		if s.lastError == "" && ev.Err != nil {
			s.lastError = ev.Err.Error()
		}
		// Only a new connection clears a terminal failure.
		s.terminal = s.terminal || ev.Terminal

	default:
		s.mu.Unlock()
		return
	}
	s.touchLocked()
	view := s.viewLocked()
	s.mu.Unlock()

	log.Trace().Str("event", protocol.Name(e)).Int("active", view.Confirmed.ActiveLeds.Len()).Msg("State applied")
	s.observers.Notify(view)
}

// Toggle asks the device to flip LED i. State changes once the device
// reports it.
func (s *Store) Toggle(ctx context.Context, i matrix.Index) error {
	if !i.Valid() {
		return fmt.Errorf("%w: %d", matrix.ErrInvalidIndex, int(i))
	}
	return s.cmd.Send(ctx, protocol.Toggle(i))
}

// SetBrightness asks the device to change brightness to v.
func (s *Store) SetBrightness(ctx context.Context, v int) error {
	if v < 0 || v > protocol.MaxBrightness {
		return fmt.Errorf("%w: %d not in [0,%d]", ErrInvalidBrightness, v, protocol.MaxBrightness)
	}
	return s.cmd.Send(ctx, protocol.SetBrightness(uint8(v)))
}

// ClearAll asks the device to turn every LED off.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.cmd.Send(ctx, protocol.Clear())
}

// LoadPattern replaces the draft. Confirmed state is untouched.
func (s *Store) LoadPattern(leds matrix.Set, colors map[matrix.Index]string) {
	s.setDraft(&Draft{Leds: leds, Colors: maps.Clone(colors)})
}

// ImportPattern validates raw as a pattern document and loads it as the
// draft. An invalid document changes nothing.
func (s *Store) ImportPattern(raw []byte) (*pattern.Pattern, error) {
	p, err := pattern.Validate(raw)
	if err != nil {
		return nil, err
	}
	leds, colors, err := pattern.ToState(p)
	if err != nil {
		return nil, err
	}
	s.setDraft(&Draft{Name: p.Name, Leds: leds, Colors: colors})
	return p, nil
}

// ExportPattern builds a pattern document from confirmed state.
func (s *Store) ExportPattern(name string, at time.Time) *pattern.Pattern {
	s.mu.RLock()
	leds := s.confirmed.ActiveLeds
	s.mu.RUnlock()
	return pattern.FromState(name, at, leds, nil)
}

// DiscardDraft drops the draft, if any.
func (s *Store) DiscardDraft() {
	s.setDraft(nil)
}

// PushDraft sends the draft to the device as a clear followed by one
// toggle per lit LED, ascending. It stops at the first rejected command;
// the draft is kept until every command was published.
func (s *Store) PushDraft(ctx context.Context) error {
	s.mu.RLock()
	draft := s.draft.clone()
	s.mu.RUnlock()
	if draft == nil {
		return ErrNoDraft
	}

	if err := s.cmd.Send(ctx, protocol.Clear()); err != nil {
		return fmt.Errorf("push draft: clear: %w", err)
	}
	for _, i := range draft.Leds.Indices() {
		if err := s.cmd.Send(ctx, protocol.Toggle(i)); err != nil {
			return fmt.Errorf("push draft: toggle %d: %w", i, err)
		}
	}

	log.Info().Str("name", draft.Name).Int("leds", draft.Leds.Len()).Msg("Draft pushed")
	s.DiscardDraft()
	return nil
}

// Restore seeds confirmed state, typically from the last run. The
// connection flag is always reset.
func (s *Store) Restore(st MatrixState) {
	st.Connected = false
	s.mu.Lock()
	s.confirmed = st
	s.touchLocked()
	view := s.viewLocked()
	s.mu.Unlock()
	s.observers.Notify(view)
}

// Confirmed returns a copy of the confirmed state.
func (s *Store) Confirmed() MatrixState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confirmed
}

// Snapshot returns a copy of the whole store.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *Store) setDraft(d *Draft) {
	s.mu.Lock()
	s.draft = d
	s.touchLocked()
	view := s.viewLocked()
	s.mu.Unlock()
	s.observers.Notify(view)
}

func (s *Store) touchLocked() {
	s.updatedAt = time.Now()
	s.seq++
}

func (s *Store) viewLocked() View {
	return View{
		Seq:       s.seq,
		Confirmed: s.confirmed,
		Draft:     s.draft.clone(),
		LastError: s.lastError,
		Terminal:  s.terminal,
		UpdatedAt: s.updatedAt,
	}
}
