package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/loxbridge/loxbridge/internal/history"
	"github.com/loxbridge/loxbridge/internal/infrastructure/influxdb"
	"github.com/loxbridge/loxbridge/internal/infrastructure/logging"
	"github.com/loxbridge/loxbridge/internal/infrastructure/mqtt"
	"github.com/loxbridge/loxbridge/internal/loxone"
)

// commandQoS is the QoS level for the command subscription.
const commandQoS = 1

// Miniserver is the Loxone client surface the bridge depends on.
// Implemented by *loxone.Client; narrowed here for testability.
type Miniserver interface {
	RegisterCallback(cb loxone.Callback)
	GetControl(uuid string) *loxone.Control
	SendCommand(ctx context.Context, uuid, command string, value any) error
}

// Publisher is the MQTT surface the bridge depends on.
// Implemented by *mqtt.Client; may be nil when MQTT is disabled.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Recorder persists state events locally.
// Implemented by *history.Store; may be nil when history is disabled.
type Recorder interface {
	Record(ctx context.Context, controlUUID, state string, value any, source string) error
}

// Telemetry writes numeric samples to the time-series database.
// Implemented by *influxdb.Client; may be nil when telemetry is disabled.
type Telemetry interface {
	WriteControlState(p influxdb.ControlPoint)
}

// Deps holds the dependencies for a Bridge. Miniserver and Logger are
// required; the sinks are optional.
type Deps struct {
	Logger     *logging.Logger
	Miniserver Miniserver
	MQTT       Publisher
	History    Recorder
	Telemetry  Telemetry
}

// statePayload is the JSON shape published to state topics.
type statePayload struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name,omitempty"`
	Room      string `json:"room,omitempty"`
	Category  string `json:"category,omitempty"`
	State     string `json:"state"`
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp"`
}

// Bridge fans Miniserver state events out to MQTT, history, and
// telemetry, and feeds MQTT commands back to the Miniserver.
type Bridge struct {
	logger     *logging.Logger
	miniserver Miniserver
	mqtt       Publisher
	history    Recorder
	telemetry  Telemetry

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Bridge. Call Start to begin forwarding.
func New(deps Deps) (*Bridge, error) {
	if deps.Miniserver == nil {
		return nil, ErrMissingMiniserver
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Bridge{
		logger:     logger,
		miniserver: deps.Miniserver,
		mqtt:       deps.MQTT,
		history:    deps.History,
		telemetry:  deps.Telemetry,
	}, nil
}

// Start registers the state callback and subscribes to the command
// topic tree. The parent context bounds all forwarding work; Close (or
// cancelling the context) stops it.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.started = true

	b.miniserver.RegisterCallback(b.onStateEvent)

	if b.mqtt != nil {
		topic := mqtt.Topics{}.AllCommands()
		if err := b.mqtt.Subscribe(topic, commandQoS, b.onCommandMessage); err != nil {
			b.logger.Error("command subscription failed", "topic", topic, "error", err)
			return err
		}
		b.logger.Info("command subscription active", "topic", topic)
	}

	return nil
}

// Close stops forwarding. The state callback stays registered with the
// Loxone client but becomes a no-op once the context is cancelled.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	b.started = false
	return nil
}

// onStateEvent fans one Miniserver state event out to the configured
// sinks. Sink failures are logged and do not affect each other.
func (b *Bridge) onStateEvent(ev loxone.StateEvent) {
	ctx := b.currentContext()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if b.mqtt != nil {
		b.publishState(ev)
	}

	if b.history != nil {
		if err := b.history.Record(ctx, ev.ControlUUID, ev.State, ev.Value, history.SourceStream); err != nil {
			b.logger.Warn("history record failed", "uuid", ev.ControlUUID, "error", err)
		}
	}

	if b.telemetry != nil {
		if value, ok := numericValue(ev.Value); ok {
			point := influxdb.ControlPoint{UUID: ev.ControlUUID, Value: value}
			if ctrl := b.miniserver.GetControl(ev.ControlUUID); ctrl != nil {
				point.Name = ctrl.Name
				point.Room = ctrl.Room
				point.Category = ctrl.Category
			}
			b.telemetry.WriteControlState(point)
		}
	}
}

// publishState publishes one event retained to its state topic.
func (b *Bridge) publishState(ev loxone.StateEvent) {
	payload := statePayload{
		UUID:      ev.ControlUUID,
		State:     ev.State,
		Value:     ev.Value,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if ctrl := b.miniserver.GetControl(ev.ControlUUID); ctrl != nil {
		payload.Name = ctrl.Name
		payload.Room = ctrl.Room
		payload.Category = ctrl.Category
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("state payload marshal failed", "uuid", ev.ControlUUID, "error", err)
		return
	}

	topic := mqtt.Topics{}.ControlState(ev.ControlUUID)
	if err := b.mqtt.PublishRetained(topic, data); err != nil {
		b.logger.Warn("state publish failed", "topic", topic, "error", err)
	}
}

// onCommandMessage handles one inbound command message.
//
// The topic carries the control UUID and command name; an optional
// value rides in the payload as JSON. A payload that is not valid JSON
// is passed through as a string, which keeps plain `50` and `on`
// payloads from simple publishers working.
func (b *Bridge) onCommandMessage(topic string, payload []byte) error {
	ctx := b.currentContext()
	if ctx == nil || ctx.Err() != nil {
		return nil
	}

	uuid, command, err := mqtt.ParseCommandTopic(topic)
	if err != nil {
		b.logger.Warn("ignoring malformed command topic", "topic", topic, "error", err)
		return nil
	}

	value := decodeCommandValue(payload)

	b.logger.Debug("forwarding command",
		"uuid", uuid,
		"command", command,
		"value", value,
	)

	if err := b.miniserver.SendCommand(ctx, uuid, command, value); err != nil {
		b.logger.Error("command forward failed", "uuid", uuid, "command", command, "error", err)
		return err
	}

	return nil
}

// currentContext returns the forwarding context, or nil before Start.
func (b *Bridge) currentContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// decodeCommandValue turns a command payload into a value argument.
// Empty payloads mean a value-less command.
func decodeCommandValue(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	return v
}

// numericValue extracts a float64 from an event value. Bools map to
// 1/0 so switch states chart cleanly.
func numericValue(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case bool:
		if value {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
