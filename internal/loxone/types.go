package loxone

import (
	"strings"
	"time"
)

// Detail keys stored on flattened subcontrols so command and state
// resolution can reconstruct the wire address without re-walking the
// structure document.
const (
	detailParentUUID   = "parent_uuid"
	detailSubcontrolID = "subcontrol_id"
)

// compositeSeparator joins a parent control UUID and a subcontrol id
// into the composite registry key and wire address.
const compositeSeparator = "/"

// Control is an addressable device endpoint exposed by the Miniserver.
//
// Subcontrols flattened out of a parent control carry a composite UUID
// of the form "parent/child" and record their origin in Details under
// parent_uuid and subcontrol_id.
type Control struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`

	// Type is the Miniserver's free-form type tag, e.g. "Switch",
	// "Dimmer", "ColorPickerV2".
	Type string `json:"type"`

	// Room and Category are display labels resolved from the structure
	// document's lookup tables. Empty when the reference is unresolved.
	Room     string `json:"room,omitempty"`
	Category string `json:"category,omitempty"`

	// States maps logical state names to the device-side references used
	// to read them. The "action" entry, when present, is the reference
	// used for writes instead of the control UUID.
	States map[string]any `json:"states,omitempty"`

	// Details holds free-form control attributes (setpoints, formats,
	// and the subcontrol back-references).
	Details map[string]any `json:"details,omitempty"`
}

// IsSubcontrol reports whether the control was flattened out of a
// parent control.
func (c *Control) IsSubcontrol() bool {
	return strings.Contains(c.UUID, compositeSeparator)
}

// ParentUUID returns the parent control UUID recorded on a flattened
// subcontrol, or "" for top-level controls.
func (c *Control) ParentUUID() string {
	parent, _ := c.Details[detailParentUUID].(string)
	return parent
}

// TokenInfo holds a session token and its expiry.
//
// TokenInfo values are replaced, never mutated, on each authentication.
type TokenInfo struct {
	Token      string
	ValidUntil time.Time
}

// Expired reports whether the token is within threshold of its expiry
// and must be replaced before use.
func (t *TokenInfo) Expired(threshold time.Duration) bool {
	if t == nil || t.Token == "" {
		return true
	}
	return !time.Now().Before(t.ValidUntil.Add(-threshold))
}

// StateEvent is a single state change delivered by the event stream or
// produced by an explicit state read.
type StateEvent struct {
	// ControlUUID identifies the control, possibly composite.
	ControlUUID string `json:"control_uuid"`

	// State is the logical state name. The stream does not disambiguate
	// states, so events from it carry the generic name "value".
	State string `json:"state"`

	// Value is the decoded payload: bool, float64, or string. Colour
	// controls deliver six-hex-digit RGB strings such as "ff8800".
	Value any `json:"value"`
}

// Callback receives state events. Callbacks are invoked in registration
// order on the receive goroutine and must not block.
type Callback func(StateEvent)

// Logger defines the logging interface used by the Client.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
