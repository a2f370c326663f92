package anomaly

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
)

// Logger defines the logging interface used by the Detector.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Snapshotter provides read-only views of the device map.
type Snapshotter interface {
	Snapshot() device.Snapshot
}

// EventBus is the slice of events.Bus the detector uses.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(name string, handler events.Handler, patterns ...string) *events.Subscription
}

// Config holds detector settings.
type Config struct {
	Thresholds Thresholds

	// TTL is how long an alert stays active before it expires.
	TTL time.Duration

	// Tick is the interval of the drift and battery pass and the expiry sweep.
	Tick time.Duration
}

// Defaults.
const (
	DefaultTTL  = 24 * time.Hour
	DefaultTick = time.Minute
)

// latch records that a heuristic has fired for a device.
type latch struct {
	alertID   string
	heuristic string
}

// Detector observes device state and raises alerts. It never mutates
// device state.
//
// Each (device, heuristic) pair is latched when its alert is raised and is
// not raised again until the alert is acknowledged or the condition stops
// holding.
type Detector struct {
	repo    Repository
	devices Snapshotter
	bus     EventBus
	cfg     Config
	clock   clock.Clock
	logger  Logger

	mu      sync.Mutex
	latches map[string]latch  // device/heuristic -> latch
	active  map[string]*Alert // alert id -> active alert

	runMu  sync.Mutex
	sub    *events.Subscription
	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// NewDetector creates an anomaly detector.
//
// Parameters:
//   - repo: Alert persistence
//   - devices: Source of device snapshots
//   - bus: Event bus for state changes in and alert events out
//   - cfg: Thresholds and timings (zero values take defaults)
//   - clk: Clock (nil for the wall clock)
//   - logger: Logger instance (may be nil)
func NewDetector(repo Repository, devices Snapshotter, bus EventBus, cfg Config, clk clock.Clock, logger Logger) *Detector {
	if logger == nil {
		logger = noopLogger{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Detector{
		repo:    repo,
		devices: devices,
		bus:     bus,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		latches: make(map[string]latch),
		active:  make(map[string]*Alert),
	}
}

// Load rebuilds the latches from the persisted active alerts.
// It should be called once on startup, before Start.
func (d *Detector) Load(ctx context.Context) error {
	alerts, err := d.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading active alerts: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.latches = make(map[string]latch, len(alerts))
	d.active = make(map[string]*Alert, len(alerts))
	for i := range alerts {
		a := alerts[i]
		d.active[a.ID] = &a
		d.latches[a.key()] = latch{alertID: a.ID, heuristic: a.Heuristic}
	}
	d.logger.Info("active alerts loaded", "count", len(alerts))
	return nil
}

// Start subscribes to device events and starts the periodic tick.
func (d *Detector) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.sub != nil {
		return
	}

	d.sub = d.bus.Subscribe("anomaly-detector", func(ev events.Event) {
		if sc, ok := ev.Payload.(device.StateChange); ok {
			d.CheckChange(ctx, sc)
			return
		}
		d.Check(ctx)
	}, events.TopicDeviceStateChanged, events.TopicDeviceDiagnosticsChanged)

	d.ticker = d.clock.Ticker(d.cfg.Tick)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.tickLoop(ctx, d.ticker, d.stop, d.done)

	d.logger.Info("anomaly detector started", "tick", d.cfg.Tick.String(), "ttl", d.cfg.TTL.String())
}

// Stop unsubscribes and stops the tick. It waits for a running pass.
func (d *Detector) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.sub == nil {
		return
	}
	d.sub.Close()
	d.ticker.Stop()
	close(d.stop)
	<-d.done
	d.sub = nil
	d.logger.Info("anomaly detector stopped")
}

func (d *Detector) tickLoop(ctx context.Context, t *clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			d.Tick(ctx)
		}
	}
}

// Check runs the state-change heuristics against the current snapshot.
func (d *Detector) Check(ctx context.Context) {
	d.run(ctx, PassEvent, d.devices.Snapshot())
}

// CheckChange runs the state-change heuristics with the changed device as
// it stood right after sc. A value that held only briefly is still seen
// after a later change has replaced it. Other devices, needed by the
// room-scoped checks, come from the current snapshot.
func (d *Detector) CheckChange(ctx context.Context, sc device.StateChange) {
	d.run(ctx, PassEvent, d.devices.Snapshot().With(sc.Device))
}

// Tick runs the periodic heuristics and expires stale alerts.
func (d *Detector) Tick(ctx context.Context) {
	d.run(ctx, PassTick, d.devices.Snapshot())
	d.Sweep(ctx)
}

func (d *Detector) run(ctx context.Context, pass Pass, snap device.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("anomaly pass panicked", "pass", int(pass), "panic", fmt.Sprint(r))
		}
	}()

	findings := Evaluate(snap, d.cfg.Thresholds, pass)
	inPass := make(map[string]bool)
	for _, name := range HeuristicsFor(pass) {
		inPass[name] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	holding := make(map[string]bool, len(findings))
	for _, f := range findings {
		holding[f.key()] = true
		if _, latched := d.latches[f.key()]; latched {
			continue
		}
		d.raiseLocked(ctx, f)
	}

	// Release latches whose condition no longer holds. Keys are sorted so
	// that cleared events are published in a stable order.
	var released []string
	for key, l := range d.latches {
		if inPass[l.heuristic] && !holding[key] {
			released = append(released, key)
		}
	}
	sort.Strings(released)
	for _, key := range released {
		l := d.latches[key]
		delete(d.latches, key)
		d.closeLocked(ctx, l.alertID, StatusCleared)
	}
}

func (d *Detector) raiseLocked(ctx context.Context, f Finding) {
	now := d.clock.Now().UTC()
	a := &Alert{
		ID:              "alert-" + uuid.NewString()[:8],
		Type:            f.Type,
		Severity:        f.Severity,
		DeviceID:        f.DeviceID,
		Heuristic:       f.Heuristic,
		Message:         f.Message,
		SuggestedAction: f.SuggestedAction,
		Status:          StatusActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(d.cfg.TTL),
	}
	if err := d.repo.Create(ctx, a); err != nil {
		// Not latched, so the next pass retries.
		d.logger.Error("failed to store alert",
			"device_id", f.DeviceID,
			"heuristic", f.Heuristic,
			"error", err,
		)
		return
	}

	d.latches[f.key()] = latch{alertID: a.ID, heuristic: f.Heuristic}
	d.active[a.ID] = a
	d.logger.Warn("alert raised",
		"alert_id", a.ID,
		"device_id", a.DeviceID,
		"heuristic", a.Heuristic,
		"severity", string(a.Severity),
	)
	d.bus.Publish(events.TopicAlertRaised, *a.Clone())
}

// closeLocked moves an active alert to a terminal status. Alerts that are
// no longer active are left as they are.
func (d *Detector) closeLocked(ctx context.Context, id string, status Status) {
	a, ok := d.active[id]
	if !ok {
		return
	}
	next := a.Clone()
	next.Status = status
	if err := d.repo.UpdateStatus(ctx, next); err != nil {
		d.logger.Error("failed to update alert", "alert_id", id, "status", string(status), "error", err)
		return
	}
	delete(d.active, id)
	d.logger.Info("alert closed", "alert_id", id, "status", string(status))
	d.bus.Publish(events.TopicAlertUpdated, *next)
}

// Sweep expires active alerts whose ExpiresAt has passed. The latch is kept,
// so a condition that still holds is not raised again.
func (d *Detector) Sweep(ctx context.Context) int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	var expired []string
	for id, a := range d.active {
		if !now.Before(a.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		d.closeLocked(ctx, id, StatusExpired)
	}
	return len(expired)
}

// Acknowledge closes an active alert with optional feedback and releases
// its latch.
//
// Returns ErrInvalidFeedback, ErrAlertNotFound, or ErrAlertClosed when the
// alert is no longer active.
func (d *Detector) Acknowledge(ctx context.Context, id string, feedback Feedback) (*Alert, error) {
	if !feedback.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFeedback, feedback)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.active[id]
	if !ok {
		stored, err := d.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s is %s", ErrAlertClosed, id, stored.Status)
	}

	now := d.clock.Now().UTC()
	next := a.Clone()
	next.Status = StatusAcknowledged
	next.Feedback = feedback
	next.AcknowledgedAt = &now
	if err := d.repo.UpdateStatus(ctx, next); err != nil {
		return nil, err
	}

	delete(d.active, id)
	if l, ok := d.latches[a.key()]; ok && l.alertID == id {
		delete(d.latches, a.key())
	}
	d.logger.Info("alert acknowledged", "alert_id", id, "feedback", string(feedback))
	d.bus.Publish(events.TopicAlertUpdated, *next.Clone())
	return next, nil
}

// Get returns one alert.
func (d *Detector) Get(ctx context.Context, id string) (*Alert, error) {
	d.mu.Lock()
	if a, ok := d.active[id]; ok {
		c := a.Clone()
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()
	return d.repo.GetByID(ctx, id)
}

// List returns stored alerts matching the filter, newest first.
func (d *Detector) List(ctx context.Context, filter Filter) ([]Alert, error) {
	return d.repo.List(ctx, filter)
}

// ActiveCount returns the number of active alerts.
func (d *Detector) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}
