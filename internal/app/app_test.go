package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ledsync/internal/config"
	"github.com/dokzlo13/ledsync/internal/db"
	"github.com/dokzlo13/ledsync/internal/ledger"
	"github.com/dokzlo13/ledsync/internal/matrix"
	"github.com/dokzlo13/ledsync/internal/protocol"
	"github.com/dokzlo13/ledsync/internal/state"
	"github.com/dokzlo13/ledsync/internal/storage"
	"github.com/dokzlo13/ledsync/internal/transport"
)

func testConfig(t *testing.T, brokerURL string) *config.Config {
	t.Helper()
	disabled := false
	cfg, err := config.Parse([]byte(`{}`))
	require.NoError(t, err)
	cfg.Broker.URL = brokerURL
	cfg.Broker.KeepAlive = config.Duration(20 * time.Millisecond)
	cfg.Broker.ReconnectDelay = config.Duration(10 * time.Millisecond)
	cfg.Database.Path = filepath.Join(t.TempDir(), "ledsync.db")
	cfg.API.Enabled = &disabled
	return cfg
}

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return ledger.New(d.DB, "test")
}

type stubCommander struct {
	err error
}

func (s stubCommander) Send(ctx context.Context, cmd protocol.Command) error {
	return s.err
}

func TestJournalingCommander(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	require.NoError(t, NewJournalingCommander(stubCommander{}, l, "cli").Send(ctx, protocol.Toggle(3)))
	err := NewJournalingCommander(stubCommander{err: transport.ErrNotConnected}, l, "api").Send(ctx, protocol.Clear())
	require.ErrorIs(t, err, transport.ErrNotConnected)

	entries, err := l.Find(ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ledger.EventCommandRejected, entries[0].EventType)
	assert.Equal(t, "api", entries[0].Source)
	assert.Equal(t, "clear", entries[0].Payload["command"])
	assert.Contains(t, entries[0].Payload["error"], "not connected")

	assert.Equal(t, ledger.EventCommandSent, entries[1].EventType)
	assert.Equal(t, "toggle(3)", entries[1].Payload["command"])
}

func TestJournalConnection(t *testing.T) {
	l := openLedger(t)
	record := journalConnection(l)

	record(protocol.Connected{Source: protocol.SourceTransport})
	record(protocol.LedChanged{Index: 1, On: true})
	record(protocol.Error{Message: "Client not connected", Err: transport.ErrNotConnected})
	record(protocol.Error{Message: "Failed to connect after 5 attempts", Err: errors.New("refused"), Terminal: true})
	record(protocol.Disconnected{Source: protocol.SourceDevice})

	entries, err := l.Find(ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.EventDisconnected, entries[0].EventType)
	assert.Equal(t, "device", entries[0].Source)
	assert.Equal(t, ledger.EventTransportError, entries[1].EventType)
	assert.Equal(t, true, entries[1].Payload["terminal"])
	assert.Equal(t, ledger.EventConnected, entries[2].EventType)
}

func TestStatePersister(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer d.Close()
	states := NewStateStorage(storage.NewStore(d.DB))

	store := state.New(stubCommander{})
	p := newStatePersister(states)
	store.Subscribe(p.observe)

	store.Apply(protocol.Connected{Source: protocol.SourceTransport})
	store.Apply(protocol.BulkState{States: map[matrix.Index]bool{4: true, 9: true}})
	store.Apply(protocol.BrightnessChanged{Value: 50})
	store.Apply(protocol.Disconnected{Source: protocol.SourceTransport})

	saved, found, err := states.Get(StateID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []matrix.Index{4, 9}, saved.ActiveLeds.Indices())
	assert.EqualValues(t, 50, saved.Brightness)
	assert.False(t, saved.Connected)

	// Connection changes alone do not rewrite the row.
	rec, err := storage.NewStore(d.DB).Get(StateKind, StateID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.Version)

	restored := state.New(stubCommander{})
	ok, err := restoreState(restored, states)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, saved, restored.Confirmed())
}

func TestStatePersister_IgnoresStaleViews(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer d.Close()
	states := NewStateStorage(storage.NewStore(d.DB))
	p := newStatePersister(states)

	newer, err := matrix.NewSet(7)
	require.NoError(t, err)

	// The newer view is delivered first, as when two goroutines race
	// between building a view and notifying it.
	p.observe(state.View{Seq: 2, Confirmed: state.MatrixState{ActiveLeds: newer, Brightness: 255}})
	p.observe(state.View{Seq: 1, Confirmed: state.MatrixState{Brightness: 255}})

	saved, found, err := states.Get(StateID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []matrix.Index{7}, saved.ActiveLeds.Indices())
}

func TestStatePersister_ConcurrentWriters(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer d.Close()
	states := NewStateStorage(storage.NewStore(d.DB))

	store := state.New(stubCommander{})
	store.Subscribe(newStatePersister(states).observe)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			store.Apply(protocol.LedChanged{Index: matrix.Index(i % matrix.Size), On: i%3 != 0})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			store.LoadPattern(matrix.Set{}, nil)
		}
	}()
	wg.Wait()

	saved, found, err := states.Get(StateID)
	require.NoError(t, err)
	require.True(t, found)
	want := store.Confirmed()
	want.Connected = false
	assert.Equal(t, want, saved)
}

func TestNewClient_UnsupportedScheme(t *testing.T) {
	cfg := testConfig(t, "http://example.com")
	_, err := NewClient(context.Background(), cfg)
	assert.Error(t, err)
}

func TestServices_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, "redis://"+mr.Addr())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := NewServices(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, services.Start(ctx, nil))

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, WaitConnected(waitCtx, services.Client))
	require.Eventually(t, func() bool { return services.Store.Confirmed().Connected }, 2*time.Second, 10*time.Millisecond)

	mr.Publish(cfg.Topics.Status, `{"action":"states","states":{"7":true,"8":true}}`)
	mr.Publish(cfg.Topics.Status, `{"action":"toggle","index":8}`)
	require.Eventually(t, func() bool {
		leds := services.Store.Confirmed().ActiveLeds
		return leds.Has(7) && !leds.Has(8)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, services.Store.Toggle(ctx, 12))

	require.NoError(t, services.Stop())

	// A second run restores the persisted state, disconnected.
	again, err := NewServices(ctx, cfg)
	require.NoError(t, err)
	defer again.Close()
	require.NoError(t, again.Start(ctx, nil))

	got := again.Store.Confirmed()
	assert.Equal(t, []matrix.Index{7}, got.ActiveLeds.Indices())

	sent, err := again.Ledger.Find(ledger.Filter{Type: ledger.EventCommandSent})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "toggle(12)", sent[0].Payload["command"])
}

func TestWaitConnected_GivesUp(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t, "redis://"+addr)
	cfg.Broker.MaxReconnects = 2
	cfg.Broker.ConnectTimeout = config.Duration(200 * time.Millisecond)
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = WaitConnected(ctx, client)
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.ErrorIs(t, err, transport.ErrReconnectsExhausted)
}
