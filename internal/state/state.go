// Package state holds the canonical LED matrix state. Confirmed state
// changes only when the device reports it; a separate draft slot holds
// locally loaded patterns that have not been pushed yet.
package state

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/dokzlo13/ledsync/internal/matrix"
	"github.com/dokzlo13/ledsync/internal/protocol"
)

var (
	// ErrInvalidBrightness is returned for brightness outside [0,255].
	ErrInvalidBrightness = errors.New("invalid brightness")
	// ErrNoDraft is returned by PushDraft when no draft is loaded.
	ErrNoDraft = errors.New("no draft loaded")
)

// DefaultBrightness is assumed until the device reports otherwise.
const DefaultBrightness = protocol.MaxBrightness

// MatrixState is the device-confirmed state.
type MatrixState struct {
	ActiveLeds matrix.Set `json:"active_leds"`
	Brightness uint8      `json:"brightness"`
	Connected  bool       `json:"connected"`
}

// Draft is a provisional pattern shown for preview only.
type Draft struct {
	Name   string                  `json:"name,omitempty"`
	Leds   matrix.Set              `json:"leds"`
	Colors map[matrix.Index]string `json:"colors,omitempty"`
}

func (d *Draft) clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	c.Colors = maps.Clone(d.Colors)
	return &c
}

// View is a read-only snapshot of the store. Seq grows with every
// mutation; observers may see views out of order and use it to drop stale
// ones.
type View struct {
	Seq       uint64      `json:"seq"`
	Confirmed MatrixState `json:"confirmed"`
	Draft     *Draft      `json:"draft,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	// Terminal is set once the transport gave up and stays set until it
	// connects again.
	Terminal  bool      `json:"terminal,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Commander sends commands to the device.
type Commander interface {
	Send(ctx context.Context, cmd protocol.Command) error
}

// EventSource delivers status events in arrival order.
type EventSource interface {
	Subscribe(h func(protocol.Event)) (unsubscribe func())
}
