package automation

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
	"github.com/nerrad567/homeflow/internal/infrastructure/database"
	"github.com/nerrad567/homeflow/migrations"
)

// setupTestDB opens a migrated SQLite database in a temp directory.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "automation.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if _, err := db.Migrate(context.Background(), migrations.Source()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

// testDevices builds the devices most tests reference.
func testDevices(t *testing.T) []*device.Device {
	t.Helper()
	specs := []struct {
		id, room string
		typ      device.Type
		status   map[string]any
	}{
		{"hall-light", "hall", device.TypeLight, map[string]any{"isOn": false, "brightness": 50}},
		{"hall-motion", "hall", device.TypeMotionSensor, map[string]any{"motionDetected": false}},
		{"front-door", "hall", device.TypeLock, map[string]any{"isLocked": true}},
		{"living-thermo", "living", device.TypeThermostat, map[string]any{"currentTemperature": 19, "targetTemperature": 21}},
	}
	out := make([]*device.Device, 0, len(specs))
	for _, s := range specs {
		d, err := device.NewDevice(s.id, "", s.room, s.typ, s.status)
		if err != nil {
			t.Fatalf("NewDevice(%s) error = %v", s.id, err)
		}
		out = append(out, d)
	}
	return out
}

// staticDevices is a Snapshotter over a fixed, replaceable device set.
type staticDevices struct {
	mu   sync.Mutex
	snap device.Snapshot
}

func newStaticDevices(t *testing.T) *staticDevices {
	t.Helper()
	return &staticDevices{snap: device.NewSnapshot(testDevices(t)...)}
}

func (s *staticDevices) Snapshot() device.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// set replaces one property and returns the matching state change.
func (s *staticDevices) set(t *testing.T, id string, patch device.Patch) device.StateChange {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var devices []*device.Device
	var change device.StateChange
	for _, d := range s.snap.Devices() {
		d := d
		if d.ID == id {
			next, changes, previous, err := device.ApplyPatch(d.Status, patch)
			if err != nil {
				t.Fatalf("ApplyPatch(%s) error = %v", id, err)
			}
			d.Status = next
			change = device.StateChange{
				DeviceID: id,
				Type:     d.Type,
				RoomID:   d.RoomID,
				Changes:  changes,
				Previous: previous,
				Status:   device.StatusMap(next),
				Device:   d.Clone(),
			}
		}
		devices = append(devices, &d)
	}
	s.snap = device.NewSnapshot(devices...)
	return change
}

// applied is one call seen by recordingApplier.
type applied struct {
	deviceID string
	patch    device.Patch
	source   device.Source
}

// recordingApplier records Apply calls and fails devices listed in errs.
type recordingApplier struct {
	mu    sync.Mutex
	calls []applied
	errs  map[string]error
	block map[string]chan struct{}
	seen  chan applied
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{
		errs:  make(map[string]error),
		block: make(map[string]chan struct{}),
		seen:  make(chan applied, 100),
	}
}

func (a *recordingApplier) Apply(_ context.Context, id string, patch device.Patch, src device.Source) (*device.Device, error) {
	a.mu.Lock()
	gate := a.block[id]
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	call := applied{deviceID: id, patch: patch, source: src}
	a.calls = append(a.calls, call)
	err := a.errs[id]
	a.mu.Unlock()

	a.seen <- call
	if err != nil {
		return nil, err
	}
	return &device.Device{ID: id}, nil
}

func (a *recordingApplier) snapshot() []applied {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]applied(nil), a.calls...)
}

// waitApplied waits for n Apply calls or fails the test.
func (a *recordingApplier) waitApplied(t *testing.T, n int) []applied {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-a.seen:
		case <-deadline:
			t.Fatalf("timed out after %d of %d applied actions", i, n)
		}
	}
	return a.snapshot()
}

// expectNoApply fails if another Apply call arrives shortly.
func (a *recordingApplier) expectNoApply(t *testing.T) {
	t.Helper()
	select {
	case call := <-a.seen:
		t.Fatalf("unexpected apply on %s: %v", call.deviceID, call.patch)
	case <-time.After(50 * time.Millisecond):
	}
}

// recordingBus is an events.Bus that also records every publish.
type recordingBus struct {
	*events.Bus

	mu       sync.Mutex
	topics   []string
	payloads []any
}

func newRecordingBus(t *testing.T) *recordingBus {
	t.Helper()
	b := &recordingBus{Bus: events.NewBus()}
	t.Cleanup(b.Close)
	return b
}

func (b *recordingBus) Publish(topic string, payload any) {
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	b.mu.Unlock()
	b.Bus.Publish(topic, payload)
}

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, tp := range b.topics {
		if tp == topic {
			n++
		}
	}
	return n
}

func (b *recordingBus) payloadsFor(topic string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for i, tp := range b.topics {
		if tp == topic {
			out = append(out, b.payloads[i])
		}
	}
	return out
}

// engineFixture wires an Engine over real persistence and fakes for the
// device side.
type engineFixture struct {
	engine   *Engine
	registry *Registry
	executor *Executor
	devices  *staticDevices
	applier  *recordingApplier
	bus      *recordingBus
	clock    *clock.Mock
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	f := &engineFixture{
		devices: newStaticDevices(t),
		applier: newRecordingApplier(),
		bus:     newRecordingBus(t),
		clock:   clock.NewMock(),
	}
	f.registry = NewRegistry(NewSQLiteRepository(setupTestDB(t)), f.devices)
	f.executor = NewExecutor(f.applier, f.bus, f.clock, nil)
	t.Cleanup(f.executor.Close)
	f.engine = NewEngine(cfg, f.registry, f.executor, f.devices, f.bus, f.clock, nil)
	return f
}

func lightOn(delay int) Action {
	return Action{DeviceID: "hall-light", TargetStatus: device.Patch{"isOn": true}, DelaySeconds: delay}
}

func motionRule(name string) *Rule {
	return &Rule{
		Name: name,
		Condition: Condition{
			DeviceID: "hall-motion",
			Property: "motionDetected",
			Operator: OpIsTrue,
		},
		Actions:       []Action{lightOn(0)},
		IsEnabled:     true,
		IsUserDefined: true,
	}
}
