// Package protocol defines the JSON messages exchanged with the matrix
// controller: commands published on the command topic and status reports
// received on the status topic.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dokzlo13/ledsync/internal/matrix"
)

// Action names used on the wire
const (
	ActionToggle     = "toggle"
	ActionBrightness = "brightness"
	ActionClear      = "clear"
	ActionStates     = "states"
)

// MaxBrightness is the upper bound of the brightness scale.
const MaxBrightness = 255

// ErrInvalidCommand is returned when a command cannot be encoded.
var ErrInvalidCommand = errors.New("invalid command")

// Command is an outbound instruction. Build one with Toggle,
// SetBrightness or Clear.
type Command struct {
	Action     string
	Index      matrix.Index
	Brightness uint8
}

// Toggle flips a single LED.
func Toggle(i matrix.Index) Command {
	return Command{Action: ActionToggle, Index: i}
}

// SetBrightness sets the global brightness.
func SetBrightness(v uint8) Command {
	return Command{Action: ActionBrightness, Brightness: v}
}

// Clear turns every LED off.
func Clear() Command {
	return Command{Action: ActionClear}
}

func (c Command) String() string {
	switch c.Action {
	case ActionToggle:
		return fmt.Sprintf("toggle(%d)", c.Index)
	case ActionBrightness:
		return fmt.Sprintf("brightness(%d)", c.Brightness)
	default:
		return c.Action
	}
}

type wireCommand struct {
	Action     string `json:"action"`
	Index      *int   `json:"index,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
}

// MarshalJSON encodes the command in the controller's format.
func (c Command) MarshalJSON() ([]byte, error) {
	w := wireCommand{Action: c.Action}
	switch c.Action {
	case ActionToggle:
		if !c.Index.Valid() {
			return nil, fmt.Errorf("%w: %w: %d", ErrInvalidCommand, matrix.ErrInvalidIndex, int(c.Index))
		}
		i := int(c.Index)
		w.Index = &i
	case ActionBrightness:
		b := int(c.Brightness)
		w.Brightness = &b
	case ActionClear:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, c.Action)
	}
	return json.Marshal(w)
}

// Encode returns the wire payload for the command.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}
