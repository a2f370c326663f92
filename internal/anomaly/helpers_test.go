package anomaly

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
		Path:        filepath.Join(t.TempDir(), "anomaly.db"),
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

func mustDevice(t *testing.T, id, room string, typ device.Type, status map[string]any) *device.Device {
	t.Helper()
	d, err := device.NewDevice(id, "", room, typ, status)
	if err != nil {
		t.Fatalf("NewDevice(%s) error = %v", id, err)
	}
	return d
}

// fakeDevices is a Snapshotter over a replaceable device set.
type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]*device.Device
}

func newFakeDevices(devs ...*device.Device) *fakeDevices {
	f := &fakeDevices{devices: make(map[string]*device.Device)}
	for _, d := range devs {
		f.devices[d.ID] = d.Clone()
	}
	return f
}

func (f *fakeDevices) Snapshot() device.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	devs := make([]*device.Device, 0, len(f.devices))
	for _, d := range f.devices {
		devs = append(devs, d)
	}
	return device.NewSnapshot(devs...)
}

// set applies a status patch to one device and returns the matching state
// change.
func (f *fakeDevices) set(t *testing.T, id string, patch device.Patch) device.StateChange {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		t.Fatalf("unknown device %s", id)
	}
	next, changes, previous, err := device.ApplyPatch(d.Status, patch)
	if err != nil {
		t.Fatalf("ApplyPatch(%s) error = %v", id, err)
	}
	d.Status = next
	return device.StateChange{
		DeviceID: id,
		Type:     d.Type,
		RoomID:   d.RoomID,
		Changes:  changes,
		Previous: previous,
		Status:   device.StatusMap(next),
		Device:   d.Clone(),
	}
}

// update changes non-status fields of one device.
func (f *fakeDevices) update(id string, fn func(d *device.Device)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.devices[id])
}

func (f *fakeDevices) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, id)
}

// recordingBus is an events.Bus that also records every publish.
type recordingBus struct {
	*events.Bus

	mu     sync.Mutex
	alerts map[string][]Alert
}

func newRecordingBus(t *testing.T) *recordingBus {
	t.Helper()
	b := &recordingBus{Bus: events.NewBus(), alerts: make(map[string][]Alert)}
	t.Cleanup(b.Close)
	return b
}

func (b *recordingBus) Publish(topic string, payload any) {
	if a, ok := payload.(Alert); ok {
		b.mu.Lock()
		b.alerts[topic] = append(b.alerts[topic], a)
		b.mu.Unlock()
	}
	b.Bus.Publish(topic, payload)
}

func (b *recordingBus) published(topic string) []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Alert(nil), b.alerts[topic]...)
}

// detectorFixture wires a Detector over real persistence and fake devices.
type detectorFixture struct {
	detector *Detector
	repo     *SQLiteRepository
	devices  *fakeDevices
	bus      *recordingBus
	clock    *clock.Mock
}

func newDetectorFixture(t *testing.T, devs ...*device.Device) *detectorFixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	f := &detectorFixture{
		repo:    NewSQLiteRepository(setupTestDB(t)),
		devices: newFakeDevices(devs...),
		bus:     newRecordingBus(t),
		clock:   clk,
	}
	f.detector = NewDetector(f.repo, f.devices, f.bus, Config{TTL: time.Hour, Tick: time.Minute}, clk, nil)
	return f
}

func (f *detectorFixture) activeAlerts(t *testing.T) []Alert {
	t.Helper()
	alerts, err := f.repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	return alerts
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
