package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
	"github.com/nerrad567/homeflow/internal/infrastructure/mqtt"
)

const (
	// ingressQoS is used for every subscription.
	ingressQoS = 1

	// applyTimeout bounds one command applied from MQTT.
	applyTimeout = 5 * time.Second

	// sourceLabel identifies MQTT callers in device history.
	sourceLabel = "mqtt"
)

// ErrEmptyStatus rejects a command or report with nothing to apply.
var ErrEmptyStatus = errors.New("bridge: empty status")

// Client is the MQTT surface the bridge needs. *mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
}

// DeviceApplier applies status patches. *device.Store satisfies it.
type DeviceApplier interface {
	Apply(ctx context.Context, id string, patch device.Patch, src device.Source) (*device.Device, error)
}

// TriggerHandler receives location and voice triggers.
// *automation.Engine satisfies it.
type TriggerHandler interface {
	HandleLocation(ctx context.Context, ev automation.LocationEvent) int
	HandleVoiceCommand(ctx context.Context, phrase string) int
}

// Logger is the logging dependency.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Bridge connects the MQTT broker to the device store, the automation
// engine and the event bus.
//
// Ingress:
//   - command/{id}: manual patch, acked on ack/{id}
//   - report/{id}: hardware status, applied with the device source
//   - trigger/location and trigger/voice: forwarded to the engine
//
// Egress:
//   - every device.state_changed event as retained state/{id}
//   - every bus event as event/{topic}
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	client   Client
	topics   mqtt.Topics
	devices  DeviceApplier
	triggers TriggerHandler
	logger   Logger

	mu       sync.Mutex
	sub      *events.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a bridge. logger may be nil.
func New(client Client, devices DeviceApplier, triggers TriggerHandler, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:   client,
		topics:   client.Topics(),
		devices:  devices,
		triggers: triggers,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingress topics and relays bus events to MQTT.
func (b *Bridge) Start(bus *events.Bus) error {
	ingress := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.AllCommands(), b.handleCommand},
		{b.topics.AllReports(), b.handleReport},
		{b.topics.LocationTrigger(), b.handleLocation},
		{b.topics.VoiceTrigger(), b.handleVoice},
	}
	for _, in := range ingress {
		if err := b.client.Subscribe(in.topic, ingressQoS, in.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", in.topic, err)
		}
	}

	b.mu.Lock()
	b.sub = bus.Subscribe("mqtt-bridge", b.relay, "*")
	b.mu.Unlock()

	b.logger.Info("mqtt bridge started", "prefix", b.topics.Prefix)
	return nil
}

// Stop detaches from the bus and aborts in-flight commands.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		if b.sub != nil {
			b.sub.Close()
		}
		b.mu.Unlock()
		b.logger.Info("mqtt bridge stopped")
	})
}

// ─── Ingress ────────────────────────────────────────────────────────

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	id, ok := b.topics.DeviceID(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.ack(AckMessage{DeviceID: id, Status: AckRejected, Error: "invalid JSON payload"})
		return fmt.Errorf("decoding command for %s: %w", id, err)
	}

	err := b.apply(id, cmd.Status, device.Source{Kind: device.SourceManual, ID: sourceLabel})
	msg := AckMessage{RequestID: cmd.RequestID, DeviceID: id, Status: AckAccepted}
	if err != nil {
		msg.Status = AckRejected
		msg.Error = ackError(err)
	}
	b.ack(msg)
	return err
}

func (b *Bridge) handleReport(topic string, payload []byte) error {
	id, ok := b.topics.DeviceID(topic)
	if !ok {
		return fmt.Errorf("unexpected report topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding report for %s: %w", id, err)
	}
	return b.apply(id, cmd.Status, device.Source{Kind: device.SourceDevice, ID: id})
}

func (b *Bridge) apply(id string, patch device.Patch, src device.Source) error {
	if len(patch) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyStatus, id)
	}
	ctx, cancel := context.WithTimeout(b.ctx, applyTimeout)
	defer cancel()

	if _, err := b.devices.Apply(ctx, id, patch, src); err != nil {
		return fmt.Errorf("applying %s to %s: %w", src, id, err)
	}
	return nil
}

func (b *Bridge) handleLocation(_ string, payload []byte) error {
	var ev automation.LocationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding location trigger: %w", err)
	}
	if ev.Zone == "" || (ev.Transition != automation.TransitionEnter && ev.Transition != automation.TransitionLeave) {
		return fmt.Errorf("invalid location trigger: zone %q transition %q", ev.Zone, ev.Transition)
	}
	fired := b.triggers.HandleLocation(b.ctx, ev)
	b.logger.Debug("location trigger", "zone", ev.Zone, "transition", ev.Transition, "fired", fired)
	return nil
}

func (b *Bridge) handleVoice(_ string, payload []byte) error {
	var msg VoiceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		// A bare string payload is the phrase itself.
		msg.Phrase = string(payload)
	}
	msg.Phrase = strings.TrimSpace(msg.Phrase)
	if msg.Phrase == "" {
		return errors.New("empty voice phrase")
	}
	fired := b.triggers.HandleVoiceCommand(b.ctx, msg.Phrase)
	b.logger.Debug("voice trigger", "phrase", msg.Phrase, "fired", fired)
	return nil
}

func (b *Bridge) ack(msg AckMessage) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := b.client.Publish(b.topics.Ack(msg.DeviceID), data, ingressQoS, false); err != nil {
		b.logger.Warn("mqtt ack publish failed", "device_id", msg.DeviceID, "error", err)
	}
}

// ackError maps domain errors to the short text sent to MQTT clients.
func ackError(err error) string {
	switch {
	case errors.Is(err, device.ErrLocked):
		return device.ErrLocked.Error()
	case errors.Is(err, device.ErrDeviceNotFound):
		return "device not found"
	default:
		return err.Error()
	}
}

// ─── Egress ─────────────────────────────────────────────────────────

// relay publishes one bus event. State changes also update the retained
// state topic.
func (b *Bridge) relay(ev events.Event) {
	if sc, ok := ev.Payload.(device.StateChange); ok {
		b.publishState(sc)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("mqtt event encode failed", "topic", ev.Topic, "error", err)
		return
	}
	if err := b.client.Publish(b.topics.Event(ev.Topic), data, ingressQoS, false); err != nil {
		b.logger.Warn("mqtt event publish failed", "topic", ev.Topic, "error", err)
	}
}

func (b *Bridge) publishState(sc device.StateChange) {
	data, err := json.Marshal(StateMessage{
		DeviceID:  sc.DeviceID,
		Type:      sc.Type,
		RoomID:    sc.RoomID,
		Status:    sc.Status,
		Source:    sc.Source.String(),
		Seq:       sc.Seq,
		Timestamp: sc.At,
	})
	if err != nil {
		b.logger.Warn("mqtt state encode failed", "device_id", sc.DeviceID, "error", err)
		return
	}
	if err := b.client.Publish(b.topics.State(sc.DeviceID), data, ingressQoS, true); err != nil {
		b.logger.Warn("mqtt state publish failed", "device_id", sc.DeviceID, "error", err)
	}
}
