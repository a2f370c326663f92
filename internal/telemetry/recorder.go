package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/homeflow/internal/anomaly"
	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
)

// mirrorTimeout bounds each Redis round trip made from an event handler.
const mirrorTimeout = 2 * time.Second

// PointWriter receives time-series points. influxdb.Client satisfies it.
type PointWriter interface {
	WriteDeviceState(deviceID, deviceType, roomID string, changes map[string]any, ts time.Time)
	WriteAlert(alertID, alertType, severity, deviceID, status string, ts time.Time)
	WriteAutomationRun(kind, automationID string, actions int, ts time.Time)
}

// Mirror holds the latest device status and active alerts for external
// readers. redis.Client satisfies it.
type Mirror interface {
	SetDevice(ctx context.Context, id string, status []byte) error
	SetAlert(ctx context.Context, id string, alert []byte) error
	ClearAlert(ctx context.Context, id string) error
}

// Logger is the logging dependency.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// DeviceDoc is the mirrored form of one device.
type DeviceDoc struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id,omitempty"`
	Status    any       `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recorder feeds bus events to the time-series writer and the mirror.
// Either sink may be nil.
type Recorder struct {
	points PointWriter
	mirror Mirror
	logger Logger
	sub    *events.Subscription
}

// NewRecorder creates a recorder. Pass nil for a sink that is not
// configured.
func NewRecorder(points PointWriter, mirror Mirror, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{points: points, mirror: mirror, logger: logger}
}

// Topics returns the bus topics the recorder consumes.
func (r *Recorder) Topics() []string {
	return []string{
		events.TopicDeviceStateChanged,
		events.TopicRuleFired,
		events.TopicRoutineFired,
		events.TopicScenarioExecuted,
		"alert.*",
	}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *events.Bus) {
	r.sub = bus.Subscribe("telemetry", r.Handle, r.Topics()...)
}

// Close detaches from the bus.
func (r *Recorder) Close() {
	if r.sub != nil {
		r.sub.Close()
	}
}

// Sync writes every device to the mirror. Call it once after the store has
// loaded so readers see devices that have not changed since start.
func (r *Recorder) Sync(ctx context.Context, devices []device.Device) error {
	if r.mirror == nil {
		return nil
	}
	now := time.Now().UTC()
	for _, d := range devices {
		data, err := json.Marshal(DeviceDoc{
			ID:        d.ID,
			Type:      string(d.Type),
			RoomID:    d.RoomID,
			Status:    d.Status,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if err := r.mirror.SetDevice(ctx, d.ID, data); err != nil {
			return err
		}
	}
	return nil
}

// Handle processes one bus event. Unknown payloads are ignored.
func (r *Recorder) Handle(ev events.Event) {
	switch p := ev.Payload.(type) {
	case device.StateChange:
		r.recordStateChange(p)
	case automation.FiredEvent:
		if r.points != nil {
			r.points.WriteAutomationRun(string(p.Kind), p.ID, p.ActionCount, p.At)
		}
	case anomaly.Alert:
		r.recordAlert(p)
	default:
		r.logger.Debug("telemetry ignored event", "topic", ev.Topic)
	}
}

func (r *Recorder) recordStateChange(sc device.StateChange) {
	if r.points != nil {
		r.points.WriteDeviceState(sc.DeviceID, string(sc.Type), sc.RoomID, sc.Changes, sc.At)
	}
	if r.mirror == nil {
		return
	}

	data, err := json.Marshal(DeviceDoc{
		ID:        sc.DeviceID,
		Type:      string(sc.Type),
		RoomID:    sc.RoomID,
		Status:    sc.Status,
		UpdatedAt: sc.At,
	})
	if err != nil {
		r.logger.Warn("telemetry encode failed", "device_id", sc.DeviceID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.mirror.SetDevice(ctx, sc.DeviceID, data); err != nil {
		r.logger.Warn("mirror device failed", "device_id", sc.DeviceID, "error", err)
	}
}

func (r *Recorder) recordAlert(a anomaly.Alert) {
	if r.points != nil {
		r.points.WriteAlert(a.ID, string(a.Type), string(a.Severity), a.DeviceID, string(a.Status), time.Now().UTC())
	}
	if r.mirror == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if a.Status != anomaly.StatusActive {
		if err := r.mirror.ClearAlert(ctx, a.ID); err != nil {
			r.logger.Warn("mirror alert clear failed", "alert_id", a.ID, "error", err)
		}
		return
	}

	data, err := json.Marshal(a)
	if err != nil {
		r.logger.Warn("telemetry encode failed", "alert_id", a.ID, "error", err)
		return
	}
	if err := r.mirror.SetAlert(ctx, a.ID, data); err != nil {
		r.logger.Warn("mirror alert failed", "alert_id", a.ID, "error", err)
	}
}
