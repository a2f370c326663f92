package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"

	"github.com/nerrad567/homeflow/internal/device"
	"github.com/nerrad567/homeflow/internal/events"
)

// EventBus is the slice of events.Bus the engine uses.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(name string, handler events.Handler, patterns ...string) *events.Subscription
}

// EngineConfig holds engine-wide settings.
type EngineConfig struct {
	// FiringPolicy is the default for rules without an override.
	FiringPolicy FiringPolicy

	// Location is the site time zone for time and solar triggers.
	Location *time.Location

	// Latitude and Longitude locate the site for sunrise/sunset.
	Latitude  float64
	Longitude float64

	// SuggestionTTL is how long drafts stay in the inbox.
	SuggestionTTL time.Duration
}

// LocationEvent reports a person entering or leaving a zone.
type LocationEvent struct {
	Zone       string `json:"zone"`
	Transition string `json:"transition"`
	Person     string `json:"person,omitempty"`
}

// ruleRuntime is the engine-side state of one enabled rule.
type ruleRuntime struct {
	state RuleState
	last  bool // condition result after the previous triggering event
}

// routineRuntime holds the registered triggers of one enabled routine.
type routineRuntime struct {
	cronIDs   []cron.EntryID
	solar     map[int]*clock.Timer
	eventLast map[int]bool
}

// Engine evaluates rules and routines and runs scenarios.
//
// Rules move Disabled → Armed → Firing → Armed. The engine subscribes to
// device.state_changed; each event re-evaluates the enabled rules whose
// condition references the changed device. Under the edge policy a rule
// fires when its condition goes from false to true (seeded false when
// armed); under the level policy it fires on every triggering event while
// the condition holds. Firing submits the actions to the Executor.
//
// Routines fire from cron schedules, sunrise/sunset timers, event
// conditions, location and voice triggers, or RunRoutine.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	cfg       EngineConfig
	registry  *Registry
	executor  *Executor
	devices   Snapshotter
	bus       EventBus
	suggester SuggestionService
	inbox     *Inbox
	cron      *cron.Cron
	clock     clock.Clock
	logger    Logger

	mu       sync.Mutex
	rules    map[string]*ruleRuntime
	routines map[string]*routineRuntime
	sub      *events.Subscription
	started  bool
}

// NewEngine creates a rule engine.
//
// Parameters:
//   - cfg: Default firing policy, site location and suggestion TTL
//   - registry: Rule/routine/scenario registry (cache must be refreshed)
//   - executor: Action executor shared with other components
//   - devices: Source of device snapshots for condition evaluation
//   - bus: Event bus for state changes in and fire events out
//   - clk: Clock for solar timers and timestamps (nil for the wall clock)
//   - logger: Logger instance (may be nil)
func NewEngine(cfg EngineConfig, registry *Registry, executor *Executor, devices Snapshotter, bus EventBus, clk clock.Clock, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.FiringPolicy == "" {
		cfg.FiringPolicy = PolicyEdge
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		executor: executor,
		devices:  devices,
		bus:      bus,
		inbox:    NewInbox(cfg.SuggestionTTL, clk),
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		clock:    clk,
		logger:   logger,
		rules:    make(map[string]*ruleRuntime),
		routines: make(map[string]*routineRuntime),
	}
}

// SetSuggestionService installs the external suggestion generator.
func (e *Engine) SetSuggestionService(s SuggestionService) { e.suggester = s }

// Registry returns the underlying registry for read access.
func (e *Engine) Registry() *Registry { return e.registry }

// Start arms enabled rules, registers routine triggers, subscribes to
// device state changes and starts the cron scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	for _, r := range e.registry.ListRules(ctx) {
		if r.IsEnabled {
			e.armRule(r.ID)
		}
	}
	for _, rt := range e.registry.ListRoutines(ctx) {
		if rt.IsEnabled {
			e.scheduleRoutine(&rt)
		}
	}

	sub := e.bus.Subscribe("automation-engine", func(ev events.Event) {
		sc, ok := ev.Payload.(device.StateChange)
		if !ok {
			return
		}
		e.HandleStateChange(sc)
	}, events.TopicDeviceStateChanged)

	e.mu.Lock()
	e.sub = sub
	armed, scheduled := len(e.rules), len(e.routines)
	e.mu.Unlock()

	e.cron.Start()
	e.logger.Info("automation engine started",
		"rules", armed,
		"routines", scheduled,
		"firing_policy", string(e.cfg.FiringPolicy),
	)
	return nil
}

// Stop unsubscribes from events and stops all triggers. Pending executor
// work is left to Executor.Close.
func (e *Engine) Stop() {
	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	wasStarted := e.started
	e.started = false
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if wasStarted {
		<-e.cron.Stop().Done()
	}

	e.mu.Lock()
	for id, rt := range e.routines {
		e.unscheduleLocked(rt)
		delete(e.routines, id)
	}
	e.mu.Unlock()
	e.logger.Info("automation engine stopped")
}

// --- State changes ---

// HandleStateChange evaluates rules and event-triggered routines that
// reference the changed device. The changed device is evaluated as it stood
// right after this change, so a short-lived value is seen even when a later
// change has already landed. A failure in one evaluation is logged and does
// not stop the others.
func (e *Engine) HandleStateChange(sc device.StateChange) {
	ctx := context.Background()
	snap := e.devices.Snapshot().With(sc.Device)
	changes := ChangeSetFrom(sc)

	for _, r := range e.registry.ListRules(ctx) {
		if !r.IsEnabled || !r.Condition.References(sc.DeviceID) {
			continue
		}
		e.evaluateRule(ctx, &r, snap, changes)
	}

	for _, rt := range e.registry.ListRoutines(ctx) {
		if !rt.IsEnabled {
			continue
		}
		fired := false
		for i, t := range rt.Triggers {
			if t.Kind != TriggerEvent || t.Condition == nil || !t.Condition.References(sc.DeviceID) {
				continue
			}
			if e.evaluateRoutineTrigger(&rt, i, *t.Condition, snap, changes) {
				fired = true
			}
		}
		if fired {
			e.fireRoutine(ctx, &rt, TriggerEvent)
		}
	}
}

func (e *Engine) evaluateRule(ctx context.Context, r *Rule, snap device.Snapshot, changes ChangeSet) {
	result, ok := e.safeEvaluate(r.ID, r.Condition, snap, changes)
	if !ok {
		return
	}

	policy := r.FiringPolicy
	if policy == "" {
		policy = e.cfg.FiringPolicy
	}

	e.mu.Lock()
	st, armed := e.rules[r.ID]
	if !armed {
		e.mu.Unlock()
		return
	}
	prev := st.last
	st.last = result
	fire := result && (policy == PolicyLevel || !prev)
	if fire {
		st.state = StateFiring
	}
	e.mu.Unlock()

	if !fire {
		return
	}

	e.fire(ctx, Owner{Kind: KindRule, ID: r.ID}, r.Name, r.Actions, "state_change")

	e.mu.Lock()
	if st, ok := e.rules[r.ID]; ok && st.state == StateFiring {
		st.state = StateArmed
	}
	e.mu.Unlock()
}

func (e *Engine) evaluateRoutineTrigger(rt *Routine, idx int, cond Condition, snap device.Snapshot, changes ChangeSet) bool {
	result, ok := e.safeEvaluate(rt.ID, cond, snap, changes)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	run, scheduled := e.routines[rt.ID]
	if !scheduled {
		return false
	}
	prev := run.eventLast[idx]
	run.eventLast[idx] = result
	return result && !prev
}

// safeEvaluate runs Evaluate with panic recovery.
func (e *Engine) safeEvaluate(ownerID string, cond Condition, snap device.Snapshot, changes ChangeSet) (result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("condition evaluation panicked", "owner", ownerID, "panic", r)
			result, ok = false, false
		}
	}()
	return Evaluate(cond, snap, changes), true
}

// fire submits actions, records the run and publishes the fire event.
//
// The enabled check and the submission happen under e.mu. Disabling or
// deleting an owner takes e.mu before it cancels pending actions, so a
// submission either sees the owner disabled or is cancelled afterwards.
func (e *Engine) fire(ctx context.Context, owner Owner, name string, actions []Action, triggerKind string) {
	e.mu.Lock()
	if !e.activeLocked(ctx, owner) {
		e.mu.Unlock()
		e.logger.Debug("skipping fire of inactive automation", "owner", owner.Key(), "trigger", triggerKind)
		return
	}
	err := e.executor.Submit(owner, actions, owner.Source())
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("submitting actions failed", "owner", owner.Key(), "error", err)
		return
	}

	now := e.clock.Now().UTC()
	run := &Run{
		AutomationID: owner.ID,
		Kind:         owner.Kind,
		TriggerKind:  triggerKind,
		ActionCount:  len(actions),
		CreatedAt:    now,
	}
	if err := e.registry.RecordRun(ctx, run); err != nil {
		e.logger.Warn("recording run failed", "owner", owner.Key(), "error", err)
	}

	topic := events.TopicRuleFired
	switch owner.Kind {
	case KindRoutine:
		topic = events.TopicRoutineFired
	case KindScenario:
		topic = events.TopicScenarioExecuted
	}
	e.bus.Publish(topic, FiredEvent{
		ID:          owner.ID,
		Kind:        owner.Kind,
		Name:        name,
		TriggerKind: triggerKind,
		ActionCount: len(actions),
		At:          now,
	})

	e.logger.Info("automation fired",
		"kind", string(owner.Kind),
		"id", owner.ID,
		"trigger", triggerKind,
		"actions", len(actions),
	)
}

// activeLocked reports whether owner may still submit actions. Rules must
// be armed; routines must exist and be enabled; scenarios must exist.
// Caller holds e.mu.
func (e *Engine) activeLocked(ctx context.Context, owner Owner) bool {
	switch owner.Kind {
	case KindRule:
		_, armed := e.rules[owner.ID]
		return armed
	case KindRoutine:
		rt, err := e.registry.GetRoutine(ctx, owner.ID)
		return err == nil && rt.IsEnabled
	default:
		_, err := e.registry.GetScenario(ctx, owner.ID)
		return err == nil
	}
}

// --- Rules ---

// RuleState returns the lifecycle state of a rule.
func (e *Engine) RuleState(ctx context.Context, id string) (RuleState, error) {
	r, err := e.registry.GetRule(ctx, id)
	if err != nil {
		return "", err
	}
	if !r.IsEnabled {
		return StateDisabled, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.rules[id]; ok {
		return st.state, nil
	}
	return StateDisabled, nil
}

// CreateRule validates and stores a rule, arming it when enabled.
func (e *Engine) CreateRule(ctx context.Context, r *Rule) error {
	if err := e.registry.CreateRule(ctx, r); err != nil {
		return err
	}
	if r.IsEnabled {
		e.armRule(r.ID)
	}
	return nil
}

// UpdateRule replaces a rule. The rule is re-armed with its condition
// result seeded false; disabling it cancels its pending actions.
func (e *Engine) UpdateRule(ctx context.Context, r *Rule) error {
	if err := e.registry.UpdateRule(ctx, r); err != nil {
		return err
	}
	if r.IsEnabled {
		e.armRule(r.ID)
	} else {
		e.disarmRule(r.ID)
	}
	return nil
}

// SetRuleEnabled enables or disables a rule.
func (e *Engine) SetRuleEnabled(ctx context.Context, id string, enabled bool) (*Rule, error) {
	r, err := e.registry.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	r.IsEnabled = enabled
	if err := e.UpdateRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ToggleRule flips a rule's enabled flag.
func (e *Engine) ToggleRule(ctx context.Context, id string) (*Rule, error) {
	r, err := e.registry.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.SetRuleEnabled(ctx, id, !r.IsEnabled)
}

// DeleteRule removes a rule and cancels its pending actions.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if err := e.registry.DeleteRule(ctx, id); err != nil {
		return err
	}
	e.disarmRule(id)
	return nil
}

func (e *Engine) armRule(id string) {
	e.mu.Lock()
	e.rules[id] = &ruleRuntime{state: StateArmed}
	e.mu.Unlock()
}

func (e *Engine) disarmRule(id string) {
	e.mu.Lock()
	delete(e.rules, id)
	e.mu.Unlock()
	e.executor.Cancel(Owner{Kind: KindRule, ID: id})
}

// --- Routines ---

// CreateRoutine validates and stores a routine, registering its triggers
// when enabled.
func (e *Engine) CreateRoutine(ctx context.Context, rt *Routine) error {
	if err := e.registry.CreateRoutine(ctx, rt); err != nil {
		return err
	}
	if rt.IsEnabled {
		e.scheduleRoutine(rt)
	}
	return nil
}

// UpdateRoutine replaces a routine and re-registers its triggers.
// Disabling it cancels its pending actions.
func (e *Engine) UpdateRoutine(ctx context.Context, rt *Routine) error {
	if err := e.registry.UpdateRoutine(ctx, rt); err != nil {
		return err
	}
	if rt.IsEnabled {
		e.scheduleRoutine(rt)
	} else {
		e.unscheduleRoutine(rt.ID)
		e.executor.Cancel(Owner{Kind: KindRoutine, ID: rt.ID})
	}
	return nil
}

// SetRoutineEnabled enables or disables a routine.
func (e *Engine) SetRoutineEnabled(ctx context.Context, id string, enabled bool) (*Routine, error) {
	rt, err := e.registry.GetRoutine(ctx, id)
	if err != nil {
		return nil, err
	}
	rt.IsEnabled = enabled
	if err := e.UpdateRoutine(ctx, rt); err != nil {
		return nil, err
	}
	return rt, nil
}

// ToggleRoutine flips a routine's enabled flag.
func (e *Engine) ToggleRoutine(ctx context.Context, id string) (*Routine, error) {
	rt, err := e.registry.GetRoutine(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.SetRoutineEnabled(ctx, id, !rt.IsEnabled)
}

// DeleteRoutine removes a routine, unregisters its triggers and cancels
// its pending actions.
func (e *Engine) DeleteRoutine(ctx context.Context, id string) error {
	if err := e.registry.DeleteRoutine(ctx, id); err != nil {
		return err
	}
	e.unscheduleRoutine(id)
	e.executor.Cancel(Owner{Kind: KindRoutine, ID: id})
	return nil
}

// RunRoutine fires a routine on demand.
func (e *Engine) RunRoutine(ctx context.Context, id string) error {
	rt, err := e.registry.GetRoutine(ctx, id)
	if err != nil {
		return err
	}
	if !rt.IsEnabled {
		return fmt.Errorf("%w: %s", ErrRoutineDisabled, id)
	}
	e.fireRoutine(ctx, rt, TriggerManual)
	return nil
}

// HandleLocation fires every enabled routine with a matching location
// trigger and returns how many fired. Zones compare case-insensitively; a
// trigger without a person matches anyone.
func (e *Engine) HandleLocation(ctx context.Context, ev LocationEvent) int {
	fired := 0
	for _, rt := range e.registry.ListRoutines(ctx) {
		if !rt.IsEnabled {
			continue
		}
		for _, t := range rt.Triggers {
			if t.Kind != TriggerLocation {
				continue
			}
			if !strings.EqualFold(t.Zone, ev.Zone) || t.Transition != ev.Transition {
				continue
			}
			if t.Person != "" && !strings.EqualFold(t.Person, ev.Person) {
				continue
			}
			e.fireRoutine(ctx, &rt, TriggerLocation)
			fired++
			break
		}
	}
	e.logger.Debug("location event handled", "zone", ev.Zone, "transition", ev.Transition, "fired", fired)
	return fired
}

// HandleVoiceCommand fires every enabled routine whose voice phrase
// matches and returns how many fired. Matching ignores case and folds
// whitespace.
func (e *Engine) HandleVoiceCommand(ctx context.Context, phrase string) int {
	want := NormalizePhrase(phrase)
	if want == "" {
		return 0
	}
	fired := 0
	for _, rt := range e.registry.ListRoutines(ctx) {
		if !rt.IsEnabled {
			continue
		}
		for _, t := range rt.Triggers {
			if t.Kind == TriggerVoiceCommand && NormalizePhrase(t.Phrase) == want {
				e.fireRoutine(ctx, &rt, TriggerVoiceCommand)
				fired++
				break
			}
		}
	}
	e.logger.Debug("voice command handled", "phrase", want, "fired", fired)
	return fired
}

func (e *Engine) fireRoutine(ctx context.Context, rt *Routine, trigger TriggerKind) {
	e.fire(ctx, Owner{Kind: KindRoutine, ID: rt.ID}, rt.Name, rt.Actions, string(trigger))
}

// fireRoutineByID re-reads the routine so scheduled triggers act on the
// current definition.
func (e *Engine) fireRoutineByID(id string, trigger TriggerKind) {
	ctx := context.Background()
	rt, err := e.registry.GetRoutine(ctx, id)
	if err != nil || !rt.IsEnabled {
		return
	}
	e.fireRoutine(ctx, rt, trigger)
}

// ScheduledRoutines returns the number of routines with registered
// triggers.
func (e *Engine) ScheduledRoutines() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.routines)
}

// scheduleRoutine registers cron, solar and event triggers, replacing any
// earlier registration.
func (e *Engine) scheduleRoutine(rt *Routine) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.routines[rt.ID]; ok {
		e.unscheduleLocked(old)
	}
	run := &routineRuntime{
		solar:     make(map[int]*clock.Timer),
		eventLast: make(map[int]bool),
	}
	e.routines[rt.ID] = run

	id := rt.ID
	for i, t := range rt.Triggers {
		switch t.Kind {
		case TriggerTime:
			entryID, err := e.cron.AddFunc(t.CronSpec(), func() { e.fireRoutineByID(id, TriggerTime) })
			if err != nil {
				e.logger.Warn("scheduling time trigger failed", "routine_id", id, "cron", t.CronSpec(), "error", err)
				continue
			}
			run.cronIDs = append(run.cronIDs, entryID)
		case TriggerSunriseSunset:
			e.scheduleSolarLocked(id, run, i, t)
		}
	}
	e.logger.Debug("routine scheduled", "routine_id", id, "cron_entries", len(run.cronIDs), "solar_timers", len(run.solar))
}

// scheduleSolarLocked arms the timer for the next occurrence of a solar
// trigger. Caller holds e.mu.
func (e *Engine) scheduleSolarLocked(id string, run *routineRuntime, idx int, t Trigger) {
	now := e.clock.Now()
	offset := time.Duration(t.OffsetMinutes) * time.Minute
	next, ok := NextSolarEvent(now, e.cfg.Location, e.cfg.Latitude, e.cfg.Longitude, t.SolarEvent, offset)
	if !ok {
		e.logger.Warn("no upcoming solar event", "routine_id", id, "event", t.SolarEvent)
		return
	}

	run.solar[idx] = e.clock.AfterFunc(next.Sub(now), func() {
		e.mu.Lock()
		current := e.routines[id]
		e.mu.Unlock()
		if current != run {
			return
		}

		e.fireRoutineByID(id, TriggerSunriseSunset)

		e.mu.Lock()
		if e.routines[id] == run {
			e.scheduleSolarLocked(id, run, idx, t)
		}
		e.mu.Unlock()
	})
	e.logger.Debug("solar trigger armed", "routine_id", id, "event", t.SolarEvent, "at", next)
}

// NextSolarRun returns when a sunrise_sunset trigger fires next.
func (e *Engine) NextSolarRun(t Trigger) (time.Time, bool) {
	offset := time.Duration(t.OffsetMinutes) * time.Minute
	return NextSolarEvent(e.clock.Now(), e.cfg.Location, e.cfg.Latitude, e.cfg.Longitude, t.SolarEvent, offset)
}

func (e *Engine) unscheduleRoutine(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run, ok := e.routines[id]; ok {
		e.unscheduleLocked(run)
		delete(e.routines, id)
	}
}

// unscheduleLocked removes cron entries and stops solar timers. Caller
// holds e.mu.
func (e *Engine) unscheduleLocked(run *routineRuntime) {
	for _, entryID := range run.cronIDs {
		e.cron.Remove(entryID)
	}
	for _, t := range run.solar {
		t.Stop()
	}
}

// --- Scenarios ---

// CreateScenario validates and stores a scenario.
func (e *Engine) CreateScenario(ctx context.Context, s *Scenario) error {
	return e.registry.CreateScenario(ctx, s)
}

// UpdateScenario replaces a scenario.
func (e *Engine) UpdateScenario(ctx context.Context, s *Scenario) error {
	return e.registry.UpdateScenario(ctx, s)
}

// DeleteScenario removes a scenario and cancels its pending actions.
func (e *Engine) DeleteScenario(ctx context.Context, id string) error {
	if err := e.registry.DeleteScenario(ctx, id); err != nil {
		return err
	}
	e.executor.Cancel(Owner{Kind: KindScenario, ID: id})
	return nil
}

// ExecuteScenario submits a scenario's actions immediately.
func (e *Engine) ExecuteScenario(ctx context.Context, id string) error {
	s, err := e.registry.GetScenario(ctx, id)
	if err != nil {
		return err
	}
	e.fire(ctx, Owner{Kind: KindScenario, ID: s.ID}, s.Name, s.Actions, string(TriggerManual))
	return nil
}

// cronLogger adapts Logger to cron.Logger so recovered job panics are
// logged.
type cronLogger struct{ l Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
