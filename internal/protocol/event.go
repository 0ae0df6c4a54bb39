package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/dokzlo13/ledsync/internal/matrix"
)

// ErrParse marks an inbound payload that could not be decoded.
var ErrParse = errors.New("malformed status payload")

// Source tells where a lifecycle event originated.
type Source string

const (
	SourceTransport Source = "transport" // our own broker session
	SourceDevice    Source = "device"    // reported by the controller
)

// Event is a status event delivered to listeners. The concrete types are
// Connected, Disconnected, Error, LedChanged, BulkState and
// BrightnessChanged.
type Event interface {
	isEvent()
}

// Connected reports that the broker session or the device came online.
type Connected struct {
	Source Source
}

// Disconnected reports that the broker session or the device went away.
type Disconnected struct {
	Source Source
	Err    error
}

// Error carries a failure for display. Terminal is set when the transport
// has stopped retrying.
type Error struct {
	Message  string
	Err      error
	Terminal bool
}

// LedChanged is a single-LED state report.
type LedChanged struct {
	Index matrix.Index
	On    bool
}

// BulkState is a full snapshot of the matrix. Indices missing from States
// are off.
type BulkState struct {
	States map[matrix.Index]bool
}

// BrightnessChanged reports the brightness the device applied.
type BrightnessChanged struct {
	Value uint8
}

func (Connected) isEvent()         {}
func (Disconnected) isEvent()      {}
func (Error) isEvent()             {}
func (LedChanged) isEvent()        {}
func (BulkState) isEvent()         {}
func (BrightnessChanged) isEvent() {}

// Active returns the indices reported as on.
func (b BulkState) Active() matrix.Set {
	var s matrix.Set
	for i, on := range b.States {
		if on {
			s.Add(i)
		}
	}
	return s
}

// Name returns a short event name for logs and journals.
func Name(e Event) string {
	switch e.(type) {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Error:
		return "error"
	case LedChanged:
		return "led_changed"
	case BulkState:
		return "bulk_state"
	case BrightnessChanged:
		return "brightness_changed"
	default:
		return fmt.Sprintf("%T", e)
	}
}

// statusMessage is the union of every field a status report may carry.
type statusMessage struct {
	Status     string                     `json:"status,omitempty"`
	Action     string                     `json:"action,omitempty"`
	Index      *json.Number               `json:"index,omitempty"`
	State      *bool                      `json:"state,omitempty"`
	States     map[string]json.RawMessage `json:"states,omitempty"`
	Error      string                     `json:"error,omitempty"`
	Type       string                     `json:"type,omitempty"`
	Brightness *json.Number               `json:"brightness,omitempty"`
}

// Status values and origin types on the wire
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
	StatusOffline      = "offline"

	TypeDevice = "device"
	TypeWeb    = "web"
)

// Decode turns one status payload into events, in the order status,
// LED report, brightness. A payload that decodes but carries nothing
// actionable returns no events and no error. Any malformed part rejects
// the whole payload with ErrParse.
func Decode(payload []byte) ([]Event, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var msg statusMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var events []Event

	if msg.Type != TypeWeb {
		switch msg.Status {
		case StatusConnected:
			events = append(events, Connected{Source: SourceDevice})
		case StatusDisconnected:
			events = append(events, Disconnected{Source: SourceDevice})
		case StatusError:
			events = append(events, Error{Message: msg.Error})
		}
	}

	switch msg.Action {
	case ActionToggle:
		if msg.Index == nil {
			return nil, fmt.Errorf("%w: toggle report without index", ErrParse)
		}
		idx, err := parseIndex(msg.Index.String())
		if err != nil {
			return nil, err
		}
		on := msg.State != nil && *msg.State
		events = append(events, LedChanged{Index: idx, On: on})

	case ActionStates:
		if msg.States == nil {
			return nil, fmt.Errorf("%w: states report without states", ErrParse)
		}
		states := make(map[matrix.Index]bool, len(msg.States))
		for key, raw := range msg.States {
			idx, err := parseIndex(key)
			if err != nil {
				return nil, err
			}
			var on bool
			if err := json.Unmarshal(raw, &on); err != nil {
				return nil, fmt.Errorf("%w: state of %s is not a boolean", ErrParse, key)
			}
			states[idx] = on
		}
		events = append(events, BulkState{States: states})
	}

	if msg.Brightness != nil {
		f, err := msg.Brightness.Float64()
		if err != nil || f != math.Trunc(f) || f < 0 || f > MaxBrightness {
			return nil, fmt.Errorf("%w: brightness %s", ErrParse, msg.Brightness.String())
		}
		events = append(events, BrightnessChanged{Value: uint8(f)})
	}

	return events, nil
}

func parseIndex(s string) (matrix.Index, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: index %q", ErrParse, s)
	}
	idx := matrix.Index(n)
	if !idx.Valid() {
		return 0, fmt.Errorf("%w: %w: %d", ErrParse, matrix.ErrInvalidIndex, n)
	}
	return idx, nil
}

// EncodeStatus builds a status payload. It is used for the MQTT will
// message and by tests that play the device side.
func EncodeStatus(status, origin string) []byte {
	data, _ := json.Marshal(statusMessage{Status: status, Type: origin})
	return data
}
