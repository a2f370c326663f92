package audit

import (
	"context"
	"time"

	"github.com/nerrad567/homeflow/internal/anomaly"
	"github.com/nerrad567/homeflow/internal/automation"
	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
)

// Action names what an entry records.
type Action string

// Audited actions.
const (
	ActionLockSet           Action = "lock_set"
	ActionLockCleared       Action = "lock_cleared"
	ActionBlocked           Action = "action_blocked"
	ActionFailed            Action = "action_failed"
	ActionAlertAcknowledged Action = "alert_acknowledged"
)

// Entity types.
const (
	EntityDevice = "device"
	EntityAlert  = "alert"
)

const writeTimeout = 2 * time.Second

// Logger is the logging dependency.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder turns safety-relevant bus events into audit entries.
type Recorder struct {
	repo   Repository
	logger Logger
	sub    *events.Subscription
}

// NewRecorder creates a recorder writing to repo. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *events.Bus) {
	r.sub = bus.Subscribe("audit", r.Handle,
		events.TopicDeviceStateChanged,
		events.TopicActionFailed,
		events.TopicAlertUpdated)
}

// Close detaches from the bus.
func (r *Recorder) Close() {
	if r.sub != nil {
		r.sub.Close()
	}
}

// Handle records ev when it is auditable. Other events are ignored.
func (r *Recorder) Handle(ev events.Event) {
	entry, ok := entryFor(ev)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Warn("audit write failed", "action", entry.Action, "entity_id", entry.EntityID, "error", err)
	}
}

func entryFor(ev events.Event) (*Entry, bool) {
	switch p := ev.Payload.(type) {
	case device.StateChange:
		locked, ok := p.Changes[device.LockProperty].(bool)
		if !ok {
			return nil, false
		}
		action := ActionLockCleared
		if locked {
			action = ActionLockSet
		}
		return &Entry{
			Action:     action,
			EntityType: EntityDevice,
			EntityID:   p.DeviceID,
			Source:     p.Source.String(),
			Details:    map[string]any{"seq": p.Seq, "capabilities": p.Source.Capabilities},
			CreatedAt:  utc(p.At),
		}, true

	case automation.ActionFailedEvent:
		action := ActionFailed
		if p.Locked {
			action = ActionBlocked
		}
		return &Entry{
			Action:     action,
			EntityType: EntityDevice,
			EntityID:   p.DeviceID,
			Source:     p.Owner.Key(),
			Details:    map[string]any{"index": p.Index, "error": p.Error},
			CreatedAt:  utc(p.At),
		}, true

	case anomaly.Alert:
		if p.Status != anomaly.StatusAcknowledged {
			return nil, false
		}
		details := map[string]any{"type": string(p.Type), "device_id": p.DeviceID}
		if p.Feedback != "" {
			details["feedback"] = string(p.Feedback)
		}
		at := time.Now().UTC()
		if p.AcknowledgedAt != nil {
			at = p.AcknowledgedAt.UTC()
		}
		return &Entry{
			Action:     ActionAlertAcknowledged,
			EntityType: EntityAlert,
			EntityID:   p.ID,
			Source:     "user",
			Details:    details,
			CreatedAt:  at,
		}, true
	}
	return nil, false
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
