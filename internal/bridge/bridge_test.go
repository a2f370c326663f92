package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
	"github.com/nerrad567/homeflow/internal/infrastructure/mqtt"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeClient struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	messages []published
	subErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic, payload, retained})
	return nil
}

func (f *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) Topics() mqtt.Topics { return mqtt.NewTopics("homeflow") }

// deliver invokes the handler subscribed to pattern as if topic arrived.
func (f *fakeClient) deliver(pattern, topic string, payload string) error {
	f.mu.Lock()
	h := f.handlers[pattern]
	f.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no handler for %s", pattern)
	}
	return h(topic, []byte(payload))
}

func (f *fakeClient) find(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].topic == topic {
			return f.messages[i], true
		}
	}
	return published{}, false
}

type applyCall struct {
	id    string
	patch device.Patch
	src   device.Source
}

type fakeApplier struct {
	mu    sync.Mutex
	calls []applyCall
	err   error
}

func (f *fakeApplier) Apply(_ context.Context, id string, patch device.Patch, src device.Source) (*device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, applyCall{id, patch, src})
	if f.err != nil {
		return nil, f.err
	}
	return &device.Device{ID: id}, nil
}

type fakeTriggers struct {
	mu        sync.Mutex
	locations []automation.LocationEvent
	phrases   []string
}

func (f *fakeTriggers) HandleLocation(_ context.Context, ev automation.LocationEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations = append(f.locations, ev)
	return 1
}

func (f *fakeTriggers) HandleVoiceCommand(_ context.Context, phrase string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phrases = append(f.phrases, phrase)
	return 1
}

type bridgeFixture struct {
	bridge   *Bridge
	client   *fakeClient
	applier  *fakeApplier
	triggers *fakeTriggers
	bus      *events.Bus
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		client:   newFakeClient(),
		applier:  &fakeApplier{},
		triggers: &fakeTriggers{},
		bus:      events.NewBus(),
	}
	t.Cleanup(f.bus.Close)

	f.bridge = New(f.client, f.applier, f.triggers, nil)
	if err := f.bridge.Start(f.bus); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(f.bridge.Stop)
	return f
}

// ─── Ingress ────────────────────────────────────────────────────────

func TestStartSubscribesIngress(t *testing.T) {
	f := newBridgeFixture(t)

	for _, topic := range []string{
		"homeflow/command/+",
		"homeflow/report/+",
		"homeflow/trigger/location",
		"homeflow/trigger/voice",
	} {
		if _, ok := f.client.handlers[topic]; !ok {
			t.Errorf("no subscription for %s", topic)
		}
	}
}

func TestStartSubscribeFailure(t *testing.T) {
	client := newFakeClient()
	client.subErr = errors.New("broker down")
	b := New(client, &fakeApplier{}, &fakeTriggers{}, nil)

	bus := events.NewBus()
	defer bus.Close()
	if err := b.Start(bus); err == nil {
		t.Fatal("Start() should fail when subscribe fails")
	}
}

func TestCommandAppliesManualPatch(t *testing.T) {
	f := newBridgeFixture(t)

	err := f.client.deliver("homeflow/command/+", "homeflow/command/hall-light",
		`{"request_id":"r-1","status":{"isOn":true}}`)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if len(f.applier.calls) != 1 {
		t.Fatalf("Apply calls = %d, want 1", len(f.applier.calls))
	}
	call := f.applier.calls[0]
	if call.id != "hall-light" || call.patch["isOn"] != true {
		t.Errorf("call = %+v", call)
	}
	if call.src.Kind != device.SourceManual {
		t.Errorf("source = %s, want manual", call.src.Kind)
	}

	msg, ok := f.client.find("homeflow/ack/hall-light")
	if !ok {
		t.Fatal("no ack published")
	}
	var ack AckMessage
	if err := json.Unmarshal(msg.payload, &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack.Status != AckAccepted || ack.RequestID != "r-1" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCommandRejections(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		applyErr  error
		wantError string
	}{
		{"invalid json", `{`, nil, "invalid JSON payload"},
		{"empty status", `{"status":{}}`, nil, "bridge: empty status: hall-light"},
		{"locked", `{"status":{"isOn":true}}`, fmt.Errorf("arbiter: %w", device.ErrLocked), "device restricted"},
		{"unknown device", `{"status":{"isOn":true}}`, device.ErrDeviceNotFound, "device not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			f.applier.err = tt.applyErr

			err := f.client.deliver("homeflow/command/+", "homeflow/command/hall-light", tt.payload)
			if err == nil {
				t.Fatal("handler should return an error")
			}

			msg, ok := f.client.find("homeflow/ack/hall-light")
			if !ok {
				t.Fatal("no ack published")
			}
			var ack AckMessage
			if err := json.Unmarshal(msg.payload, &ack); err != nil {
				t.Fatalf("ack: %v", err)
			}
			if ack.Status != AckRejected || ack.Error != tt.wantError {
				t.Errorf("ack = %+v, want rejected %q", ack, tt.wantError)
			}
		})
	}
}

func TestReportUsesDeviceSource(t *testing.T) {
	f := newBridgeFixture(t)

	err := f.client.deliver("homeflow/report/+", "homeflow/report/basement-leak", `{"status":{"isLeaking":true}}`)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(f.applier.calls) != 1 || f.applier.calls[0].src.Kind != device.SourceDevice {
		t.Fatalf("calls = %+v", f.applier.calls)
	}
	if _, ok := f.client.find("homeflow/ack/basement-leak"); ok {
		t.Error("reports must not be acked")
	}
}

func TestLocationTrigger(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.client.deliver("homeflow/trigger/location", "homeflow/trigger/location",
		`{"zone":"home","transition":"enter","person":"sam"}`); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(f.triggers.locations) != 1 || f.triggers.locations[0].Zone != "home" {
		t.Errorf("locations = %+v", f.triggers.locations)
	}

	for _, bad := range []string{`{`, `{"zone":"home","transition":"hover"}`, `{"transition":"leave"}`} {
		if err := f.client.deliver("homeflow/trigger/location", "homeflow/trigger/location", bad); err == nil {
			t.Errorf("payload %s should be rejected", bad)
		}
	}
	if len(f.triggers.locations) != 1 {
		t.Errorf("invalid triggers reached the engine: %+v", f.triggers.locations)
	}
}

func TestVoiceTrigger(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.client.deliver("homeflow/trigger/voice", "homeflow/trigger/voice", `{"phrase":"good night"}`); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := f.client.deliver("homeflow/trigger/voice", "homeflow/trigger/voice", "movie time"); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := f.client.deliver("homeflow/trigger/voice", "homeflow/trigger/voice", `{"phrase":"  "}`); err == nil {
		t.Error("blank phrase should be rejected")
	}

	want := []string{"good night", "movie time"}
	if len(f.triggers.phrases) != 2 || f.triggers.phrases[0] != want[0] || f.triggers.phrases[1] != want[1] {
		t.Errorf("phrases = %v, want %v", f.triggers.phrases, want)
	}
}

// ─── Egress ─────────────────────────────────────────────────────────

func waitForMessage(t *testing.T, c *fakeClient, topic string) published {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := c.find(topic); ok {
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", topic)
	return published{}
}

func TestStateChangeRelayedRetained(t *testing.T) {
	f := newBridgeFixture(t)

	f.bus.Publish(events.TopicDeviceStateChanged, device.StateChange{
		DeviceID: "hall-light",
		Type:     device.TypeLight,
		RoomID:   "hall",
		Changes:  device.Changes{"isOn": true},
		Status:   map[string]any{"isOn": true, "brightness": 40},
		Source:   device.Source{Kind: device.SourceRule, ID: "motion-light"},
		Seq:      7,
	})

	state := waitForMessage(t, f.client, "homeflow/state/hall-light")
	if !state.retained {
		t.Error("state topic must be retained")
	}
	var msg StateMessage
	if err := json.Unmarshal(state.payload, &msg); err != nil {
		t.Fatalf("state: %v", err)
	}
	if msg.Source != "rule:motion-light" || msg.Seq != 7 || msg.Status["brightness"] != float64(40) {
		t.Errorf("state = %+v", msg)
	}

	event := waitForMessage(t, f.client, "homeflow/event/device.state_changed")
	if event.retained {
		t.Error("event topics must not be retained")
	}
}

func TestBusEventsRelayed(t *testing.T) {
	f := newBridgeFixture(t)

	f.bus.Publish(events.TopicRoutineFired, automation.FiredEvent{ID: "good-night", Kind: automation.KindRoutine})

	msg := waitForMessage(t, f.client, "homeflow/event/routine.fired")
	var ev events.Event
	if err := json.Unmarshal(msg.payload, &ev); err != nil {
		t.Fatalf("event: %v", err)
	}
	if ev.Topic != events.TopicRoutineFired {
		t.Errorf("topic = %q", ev.Topic)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := newBridgeFixture(t)
	f.bridge.Stop()
	f.bridge.Stop()
}
