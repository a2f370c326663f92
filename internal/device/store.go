package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/homeflow/internal/events"
)

// Logger defines the logging interface used by the Store.
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

// Publisher receives the events produced by the Store.
type Publisher interface {
	Publish(topic string, payload any)
}

// Authorizer decides whether a mutation may proceed. It is consulted on
// every Apply while the device's write lock is held, but never while the
// store-wide map lock is held.
type Authorizer interface {
	Authorize(ctx context.Context, current *Device, patch Patch, src Source) error
}

// StateChange is the payload of events.TopicDeviceStateChanged.
type StateChange struct {
	DeviceID string  `json:"device_id"`
	Type     Type    `json:"type"`
	RoomID   string  `json:"room_id"`
	Changes  Changes `json:"changes"`
	Previous Changes `json:"previous"`
	Source   Source  `json:"source"`
	Seq      uint64  `json:"seq"`

	// Status is the complete status after the change.
	Status map[string]any `json:"status"`

	At time.Time `json:"at"`

	// Device is a copy of the device as it stood right after this change.
	// Observers that run later evaluate against it, not the live map.
	Device *Device `json:"-"`
}

// DiagnosticsChange is the payload of events.TopicDeviceDiagnosticsChanged.
type DiagnosticsChange struct {
	DeviceID         string    `json:"device_id"`
	EnergyUsage      *float64  `json:"energy_usage,omitempty"`
	ErrorStatus      *string   `json:"error_status,omitempty"`
	ConnectionIssues bool      `json:"connection_issues"`
	At               time.Time `json:"at"`
}

// entry holds one device. mu serialises writers of that device; the
// published value (dev, props) is replaced, never modified, and is read
// under Store.mu.
type entry struct {
	mu    sync.Mutex
	dev   *Device
	props map[string]any
}

// Store is the authoritative device map and the single mutation entry point.
//
// Writers to the same device are serialised by a per-device mutex; writers
// to different devices proceed concurrently. The map lock is held only to
// look up entries and to swap in a new value, so a slow Authorizer never
// blocks reads or writes of other devices.
type Store struct {
	repo       Repository
	history    StateHistoryRepository
	authorizer Authorizer
	publisher  Publisher
	clock      clock.Clock
	logger     Logger

	mu      sync.RWMutex
	entries map[string]*entry

	seq atomic.Uint64
}

// NewStore creates a device store backed by repo.
//
// Parameters:
//   - repo: Device persistence
//   - publisher: Event sink for state changes (may be nil)
//   - logger: Logger instance (may be nil)
func NewStore(repo Repository, publisher Publisher, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{
		repo:      repo,
		publisher: publisher,
		clock:     clock.New(),
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// SetAuthorizer installs the arbiter consulted by Apply. Call before use.
func (s *Store) SetAuthorizer(a Authorizer) { s.authorizer = a }

// SetHistory installs the state history recorder. Call before use.
func (s *Store) SetHistory(h StateHistoryRepository) { s.history = h }

// SetClock replaces the clock used for timestamps. Call before use.
func (s *Store) SetClock(c clock.Clock) { s.clock = c }

// Load replaces the in-memory map with the persisted devices.
// It should be called once on startup.
func (s *Store) Load(ctx context.Context) error {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	entries := make(map[string]*entry, len(devices))
	for i := range devices {
		d := devices[i].Clone()
		entries[d.ID] = &entry{dev: d, props: StatusMap(d.Status)}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.logger.Info("device store loaded", "count", len(devices))
	return nil
}

// Get returns a copy of the device.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) Get(_ context.Context, id string) (*Device, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	var dev *Device
	if ok {
		dev = e.dev
	}
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return dev.Clone(), nil
}

// List returns copies of all devices ordered by room, then name.
func (s *Store) List(_ context.Context) []Device {
	return s.Snapshot().Devices()
}

// Count returns the number of registered devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a point-in-time, read-only view of every device.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		devices: make(map[string]*Device, len(s.entries)),
		props:   make(map[string]map[string]any, len(s.entries)),
	}
	for id, e := range s.entries {
		snap.devices[id] = e.dev
		snap.props[id] = e.props
	}
	s.mu.RUnlock()
	return snap
}

// Register adds a device. A missing ID is generated and a missing status is
// filled with the type's defaults.
// Returns ErrDeviceExists if the ID is taken.
func (s *Store) Register(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Status == nil {
		status, err := NewStatus(d.Type)
		if err != nil {
			return err
		}
		d.Status = status
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return err
	}
	stored := d.Clone()
	s.entries[d.ID] = &entry{dev: stored, props: StatusMap(stored.Status)}

	s.logger.Info("device registered", "id", d.ID, "type", d.Type, "room", d.RoomID)
	return nil
}

// Remove deletes a device.
// Returns ErrDeviceNotFound if the device does not exist.
func (s *Store) Remove(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, id)
	e.dev = nil
	e.props = nil
	s.mu.Unlock()

	s.logger.Info("device removed", "id", id)
	return nil
}

// Apply merges patch into the device's status on behalf of src.
//
// The patch is validated against the device type, the Authorizer is
// consulted, the new status is persisted, and exactly one
// events.TopicDeviceStateChanged event is published. Nothing is changed when
// any step fails.
//
// Errors:
//   - ErrDeviceNotFound: unknown device
//   - ErrTypeMismatch: property not declared by the type, or wrong kind
//   - ErrOutOfRange: value outside the allowed range
//   - ErrLocked: denied by the Authorizer
func (s *Store) Apply(ctx context.Context, id string, patch Patch, src Source) (*Device, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.RLock()
	current := e.dev
	s.mu.RUnlock()
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	nextStatus, changes, previous, err := ApplyPatch(current.Status, patch)
	if err != nil {
		return nil, err
	}

	if s.authorizer != nil {
		if err := s.authorizer.Authorize(ctx, current.Clone(), patch.Clone(), src); err != nil {
			s.logger.Warn("device mutation denied",
				"device_id", id,
				"source", src.String(),
				"error", err,
			)
			return nil, err
		}
	}

	now := s.clock.Now().UTC()
	next := current.Clone()
	next.Status = nextStatus
	next.UpdatedAt = now
	next.Usage = trackUsage(next.Usage, changes, now)

	if err := s.repo.UpdateStatus(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting status: %w", err)
	}

	props := StatusMap(nextStatus)
	s.mu.Lock()
	e.dev = next
	e.props = props
	s.mu.Unlock()

	change := StateChange{
		DeviceID: id,
		Type:     next.Type,
		RoomID:   next.RoomID,
		Changes:  changes,
		Previous: previous,
		Source:   src,
		Seq:      s.seq.Add(1),
		Status:   props,
		At:       now,
		Device:   next.Clone(),
	}

	if s.history != nil && len(changes) > 0 {
		if err := s.history.RecordStateChange(ctx, HistoryEntryFrom(change)); err != nil {
			s.logger.Warn("recording state history failed", "device_id", id, "error", err)
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(events.TopicDeviceStateChanged, change)
	}

	s.logger.Debug("device status applied",
		"device_id", id,
		"source", src.String(),
		"changed", len(changes),
	)
	return next.Clone(), nil
}

// UpdateDiagnostics merges d into the device's health fields and publishes
// events.TopicDeviceDiagnosticsChanged. It does not touch status and is not
// subject to the Authorizer.
func (s *Store) UpdateDiagnostics(ctx context.Context, id string, d Diagnostics) (*Device, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.RLock()
	next := e.dev.Clone()
	s.mu.RUnlock()
	if next == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	if d.EnergyUsage != nil {
		v := *d.EnergyUsage
		next.EnergyUsage = &v
	}
	if d.ErrorStatus != nil {
		if *d.ErrorStatus == "" {
			next.ErrorStatus = nil
		} else {
			v := *d.ErrorStatus
			next.ErrorStatus = &v
		}
	}
	if d.ConnectionIssues != nil {
		next.ConnectionIssues = *d.ConnectionIssues
	}
	now := s.clock.Now().UTC()
	next.UpdatedAt = now

	if err := s.repo.UpdateDiagnostics(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting diagnostics: %w", err)
	}

	s.mu.Lock()
	e.dev = next
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.Publish(events.TopicDeviceDiagnosticsChanged, DiagnosticsChange{
			DeviceID:         id,
			EnergyUsage:      next.EnergyUsage,
			ErrorStatus:      next.ErrorStatus,
			ConnectionIssues: next.ConnectionIssues,
			At:               now,
		})
	}
	return next.Clone(), nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return e, nil
}

// trackUsage updates lifetime counters from an isOn transition.
func trackUsage(u *UsageCounters, changes Changes, now time.Time) *UsageCounters {
	on, ok := changes["isOn"].(bool)
	if !ok {
		return u
	}
	if u == nil {
		u = &UsageCounters{}
	}
	if on {
		u.Cycles++
		started := now
		u.OnSince = &started
		return u
	}
	if u.OnSince != nil {
		u.OnSeconds += int64(now.Sub(*u.OnSince) / time.Second)
		u.OnSince = nil
	}
	return u
}

// Snapshot is a point-in-time, read-only view of the device map. Values
// obtained from it are copies.
type Snapshot struct {
	devices map[string]*Device
	props   map[string]map[string]any
}

// With returns a snapshot in which d replaces the device with the same ID.
// The receiver is not modified. A nil d returns the receiver unchanged.
func (s Snapshot) With(d *Device) Snapshot {
	if d == nil {
		return s
	}
	out := Snapshot{
		devices: make(map[string]*Device, len(s.devices)+1),
		props:   make(map[string]map[string]any, len(s.props)+1),
	}
	for id, dev := range s.devices {
		out.devices[id] = dev
	}
	for id, p := range s.props {
		out.props[id] = p
	}
	c := d.Clone()
	out.devices[c.ID] = c
	out.props[c.ID] = StatusMap(c.Status)
	return out
}

// Get returns a copy of one device.
func (s Snapshot) Get(id string) (*Device, bool) {
	d, ok := s.devices[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Type returns the type of a device.
func (s Snapshot) Type(id string) (Type, bool) {
	d, ok := s.devices[id]
	if !ok {
		return "", false
	}
	return d.Type, true
}

// Property returns the current value of one status property.
func (s Snapshot) Property(id, property string) (any, bool) {
	props, ok := s.props[id]
	if !ok {
		return nil, false
	}
	v, ok := props[property]
	return v, ok
}

// Devices returns copies of every device ordered by room, then name.
func (s Snapshot) Devices() []Device {
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// InRoom returns copies of the devices in a room.
func (s Snapshot) InRoom(roomID string) []Device {
	var out []Device
	for _, d := range s.Devices() {
		if d.RoomID == roomID {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of devices in the snapshot.
func (s Snapshot) Len() int { return len(s.devices) }

// NewSnapshot builds a snapshot from explicit devices. It is intended for
// callers that evaluate conditions outside a Store, such as tests.
func NewSnapshot(devices ...*Device) Snapshot {
	snap := Snapshot{
		devices: make(map[string]*Device, len(devices)),
		props:   make(map[string]map[string]any, len(devices)),
	}
	for _, d := range devices {
		c := d.Clone()
		snap.devices[c.ID] = c
		snap.props[c.ID] = StatusMap(c.Status)
	}
	return snap
}
