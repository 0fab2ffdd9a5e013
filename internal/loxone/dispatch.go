package loxone

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// commandPathPrefix addresses the Miniserver's IO namespace.
const commandPathPrefix = "/sps/io/"

// commandOKCode is the success value of the response envelope's status
// code field (string or numeric on the wire).
const commandOKCode = "200"

// RegisterCallback subscribes a listener to state events. Listeners are
// notified in registration order.
func (c *Client) RegisterCallback(cb Callback) {
	c.cbMu.Lock()
	c.callbacks = append(c.callbacks, cb)
	c.cbMu.Unlock()
}

// GetControl returns a control from the registry, or nil if unknown.
func (c *Client) GetControl(uuid string) *Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controls[uuid]
}

// Controls returns a snapshot of the control registry. The Control
// values are shared and must be treated as read-only.
func (c *Client) Controls() map[string]*Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registrySnapshotLocked()
}

// GetState returns the cached value for a control, or nil when no
// value has been observed this connection.
func (c *Client) GetState(uuid string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[uuid]
}

// SendCommand sends a control command, e.g.
//
//	client.SendCommand(ctx, uuid, "on", nil)
//	client.SendCommand(ctx, uuid, "setValue", 50)
//
// The wire address is resolved through the composite-address rules (see
// resolveAddress). Transport failures are logged and returned; a
// non-success envelope code is logged but not treated as an error, as
// some firmware reports benign codes for accepted commands. After a
// successful send the control's state is proactively re-fetched so the
// cache converges even if the event stream drops the echo.
func (c *Client) SendCommand(ctx context.Context, uuid, command string, value any) error {
	path := commandPathPrefix + c.resolveAddress(uuid) + "/" + command
	if value != nil {
		path += "/" + formatCommandValue(value)
	}

	body, err := c.jdevGet(ctx, path)
	if err != nil {
		c.logger.Error("command send failed", "uuid", uuid, "command", command, "error", err)
		return err
	}

	env, err := parseEnvelope(body)
	if err != nil {
		c.logger.Warn("command response was not a valid envelope", "uuid", uuid, "command", command, "error", err)
		return nil
	}
	if code := env.statusCode(); code != "" && code != commandOKCode {
		c.logger.Warn("miniserver rejected command", "uuid", uuid, "command", command, "code", code)
		return nil
	}

	c.UpdateState(ctx, uuid)
	return nil
}

// UpdateState reads a control's current value from the Miniserver,
// caches it, and notifies subscribers.
//
// State reads degrade gracefully: on transport failure the previously
// cached value is returned and a warning logged, never an error.
func (c *Client) UpdateState(ctx context.Context, uuid string) any {
	body, err := c.jdevGet(ctx, commandPathPrefix+c.resolveAddress(uuid))
	if err != nil {
		c.logger.Warn("state refresh failed, returning cached value", "uuid", uuid, "error", err)
		return c.GetState(uuid)
	}

	env, err := parseEnvelope(body)
	if err != nil {
		c.logger.Debug("state response was not a valid envelope", "uuid", uuid, "error", err)
		return c.GetState(uuid)
	}

	value := env.valueAny()

	c.mu.Lock()
	c.states[uuid] = value
	c.mu.Unlock()

	c.dispatch(StateEvent{ControlUUID: uuid, State: "value", Value: value})
	return value
}

// resolveAddress maps a registry UUID to the wire-level IO address:
//
//  1. A composite uuid ("parent/child") is used verbatim.
//  2. A control with parent_uuid/subcontrol_id back-references in its
//     Details resolves to the reconstructed composite address.
//  3. An explicit action reference in the control's States map wins
//     next.
//  4. Otherwise the raw uuid addresses the control directly.
func (c *Client) resolveAddress(uuid string) string {
	if strings.Contains(uuid, compositeSeparator) {
		return uuid
	}

	c.mu.RLock()
	ctrl := c.controls[uuid]
	c.mu.RUnlock()
	if ctrl == nil {
		return uuid
	}

	parent, _ := ctrl.Details[detailParentUUID].(string)
	sub, _ := ctrl.Details[detailSubcontrolID].(string)
	if parent != "" && sub != "" {
		return parent + compositeSeparator + sub
	}

	if action, ok := ctrl.States["action"].(string); ok && action != "" {
		return action
	}

	return uuid
}

// formatCommandValue renders a command value for the request path.
// Floats drop their trailing zeros so 50.0 travels as "50"; booleans
// use the Miniserver's 1/0 convention.
func formatCommandValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// handleFrame decodes one stream frame and fans resulting events out to
// subscribers.
//
// A frame is a flat JSON object mapping control identifiers to new
// values; only identifiers present in the registry produce events.
// Frames that are not UTF-8 or not JSON are dropped silently, as the
// stream interleaves housekeeping frames we do not model.
func (c *Client) handleFrame(data []byte) {
	if !utf8.Valid(data) {
		c.logger.Debug("dropped undecodable frame", "bytes", len(data))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Debug("dropped non-JSON frame", "bytes", len(data))
		return
	}

	var events []StateEvent
	c.mu.Lock()
	for id, value := range payload {
		if _, known := c.controls[id]; !known {
			continue
		}
		c.states[id] = value
		events = append(events, StateEvent{ControlUUID: id, State: "value", Value: value})
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.dispatch(ev)
	}
}

// dispatch invokes every subscriber with the event, in registration
// order.
func (c *Client) dispatch(ev StateEvent) {
	c.cbMu.RLock()
	callbacks := make([]Callback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(ev)
	}
}
