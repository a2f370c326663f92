package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/homeflow/internal/device"
)

// Logger defines the logging interface used by the Registry, Executor and
// Engine. This allows different logging implementations to be used.
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

// Snapshotter provides read-only views of the device map. device.Store
// satisfies it.
type Snapshotter interface {
	Snapshot() device.Snapshot
}

// Registry provides rule, routine and scenario management with caching and
// thread safety. It wraps a Repository and validates every definition
// against the current device types before persisting it.
//
// The cache is populated on startup via RefreshCache() and kept in sync by
// the CRUD operations. Values handed out are deep copies.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	devices Snapshotter
	logger  Logger

	mu        sync.RWMutex
	rules     map[string]*Rule
	routines  map[string]*Routine
	scenarios map[string]*Scenario
}

// NewRegistry creates a new automation registry.
func NewRegistry(repo Repository, devices Snapshotter) *Registry {
	return &Registry{
		repo:      repo,
		devices:   devices,
		logger:    noopLogger{},
		rules:     make(map[string]*Rule),
		routines:  make(map[string]*Routine),
		scenarios: make(map[string]*Scenario),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache reloads everything from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rules, err := r.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	routines, err := r.repo.ListRoutines(ctx)
	if err != nil {
		return fmt.Errorf("loading routines: %w", err)
	}
	scenarios, err := r.repo.ListScenarios(ctx)
	if err != nil {
		return fmt.Errorf("loading scenarios: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = make(map[string]*Rule, len(rules))
	for i := range rules {
		r.rules[rules[i].ID] = rules[i].DeepCopy()
	}
	r.routines = make(map[string]*Routine, len(routines))
	for i := range routines {
		r.routines[routines[i].ID] = routines[i].DeepCopy()
	}
	r.scenarios = make(map[string]*Scenario, len(scenarios))
	for i := range scenarios {
		r.scenarios[scenarios[i].ID] = scenarios[i].DeepCopy()
	}

	r.logger.Info("automation cache refreshed",
		"rules", len(rules),
		"routines", len(routines),
		"scenarios", len(scenarios),
	)
	return nil
}

// --- Rules ---

// GetRule retrieves a rule by ID. The returned rule is a deep copy.
func (r *Registry) GetRule(_ context.Context, id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rule, ok := r.rules[id]; ok {
		return rule.DeepCopy(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// ListRules returns deep copies of every rule sorted by name.
func (r *Registry) ListRules(_ context.Context) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, *rule.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return lessByName(out[i].Name, out[i].ID, out[j].Name, out[j].ID) })
	return out
}

// CreateRule validates, persists and caches a new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = GenerateID()
	}
	if err := ValidateRule(rule, r.devices.Snapshot()); err != nil {
		return err
	}
	if err := r.repo.CreateRule(ctx, rule); err != nil {
		return err
	}

	r.mu.Lock()
	r.rules[rule.ID] = rule.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("rule created", "id", rule.ID, "name", rule.Name, "ai_suggested", rule.IsAISuggested)
	return nil
}

// UpdateRule validates and persists a rule. Stats and creation time are
// kept from the stored rule.
func (r *Registry) UpdateRule(ctx context.Context, rule *Rule) error {
	r.mu.RLock()
	existing, ok := r.rules[rule.ID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	rule.Stats = existing.Stats.clone()
	rule.CreatedAt = existing.CreatedAt

	if err := ValidateRule(rule, r.devices.Snapshot()); err != nil {
		return err
	}
	if err := r.repo.UpdateRule(ctx, rule); err != nil {
		return err
	}

	// Runs recorded since the read above must not be lost.
	r.mu.Lock()
	if cur, ok := r.rules[rule.ID]; ok {
		rule.Stats = cur.Stats.clone()
	}
	r.rules[rule.ID] = rule.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("rule updated", "id", rule.ID, "enabled", rule.IsEnabled)
	return nil
}

// DeleteRule removes a rule from persistence and cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, KindRule, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.rules, id)
	r.mu.Unlock()

	r.logger.Info("rule deleted", "id", id)
	return nil
}

// --- Routines ---

// GetRoutine retrieves a routine by ID. The returned routine is a deep copy.
func (r *Registry) GetRoutine(_ context.Context, id string) (*Routine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.routines[id]; ok {
		return rt.DeepCopy(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRoutineNotFound, id)
}

// ListRoutines returns deep copies of every routine sorted by name.
func (r *Registry) ListRoutines(_ context.Context) []Routine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Routine, 0, len(r.routines))
	for _, rt := range r.routines {
		out = append(out, *rt.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return lessByName(out[i].Name, out[i].ID, out[j].Name, out[j].ID) })
	return out
}

// CreateRoutine validates, persists and caches a new routine.
func (r *Registry) CreateRoutine(ctx context.Context, rt *Routine) error {
	if rt.ID == "" {
		rt.ID = GenerateID()
	}
	if err := ValidateRoutine(rt, r.devices.Snapshot()); err != nil {
		return err
	}
	if err := r.repo.CreateRoutine(ctx, rt); err != nil {
		return err
	}

	r.mu.Lock()
	r.routines[rt.ID] = rt.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("routine created", "id", rt.ID, "name", rt.Name, "triggers", len(rt.Triggers))
	return nil
}

// UpdateRoutine validates and persists a routine. Stats and creation time
// are kept from the stored routine.
func (r *Registry) UpdateRoutine(ctx context.Context, rt *Routine) error {
	r.mu.RLock()
	existing, ok := r.routines[rt.ID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoutineNotFound, rt.ID)
	}
	rt.Stats = existing.Stats.clone()
	rt.CreatedAt = existing.CreatedAt

	if err := ValidateRoutine(rt, r.devices.Snapshot()); err != nil {
		return err
	}
	if err := r.repo.UpdateRoutine(ctx, rt); err != nil {
		return err
	}

	// Runs recorded since the read above must not be lost.
	r.mu.Lock()
	if cur, ok := r.routines[rt.ID]; ok {
		rt.Stats = cur.Stats.clone()
	}
	r.routines[rt.ID] = rt.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("routine updated", "id", rt.ID, "enabled", rt.IsEnabled)
	return nil
}

// DeleteRoutine removes a routine from persistence and cache.
func (r *Registry) DeleteRoutine(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, KindRoutine, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.routines, id)
	r.mu.Unlock()

	r.logger.Info("routine deleted", "id", id)
	return nil
}

// --- Scenarios ---

// GetScenario retrieves a scenario by ID. The returned scenario is a deep copy.
func (r *Registry) GetScenario(_ context.Context, id string) (*Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.scenarios[id]; ok {
		return s.DeepCopy(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrScenarioNotFound, id)
}

// ListScenarios returns deep copies of every scenario sorted by name.
func (r *Registry) ListScenarios(_ context.Context) []Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		out = append(out, *s.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return lessByName(out[i].Name, out[i].ID, out[j].Name, out[j].ID) })
	return out
}

// CreateScenario validates, persists and caches a new scenario.
func (r *Registry) CreateScenario(ctx context.Context, s *Scenario) error {
	if s.ID == "" {
		s.ID = GenerateID()
	}
	if err := ValidateScenario(s, r.devices.Snapshot()); err != nil {
		return err
	}
	if err := r.repo.CreateScenario(ctx, s); err != nil {
		return err
	}

	r.mu.Lock()
	r.scenarios[s.ID] = s.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("scenario created", "id", s.ID, "name", s.Name)
	return nil
}

// UpdateScenario validates and persists a scenario.
func (r *Registry) UpdateScenario(ctx context.Context, s *Scenario) error {
	r.mu.RLock()
	existing, ok := r.scenarios[s.ID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrScenarioNotFound, s.ID)
	}
	s.Stats = existing.Stats.clone()
	s.CreatedAt = existing.CreatedAt

	if err := ValidateScenario(s, r.devices.Snapshot()); err != nil {
		return err
	}
	if err := r.repo.UpdateScenario(ctx, s); err != nil {
		return err
	}

	// Runs recorded since the read above must not be lost.
	r.mu.Lock()
	if cur, ok := r.scenarios[s.ID]; ok {
		s.Stats = cur.Stats.clone()
	}
	r.scenarios[s.ID] = s.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("scenario updated", "id", s.ID)
	return nil
}

// DeleteScenario removes a scenario from persistence and cache.
func (r *Registry) DeleteScenario(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, KindScenario, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.scenarios, id)
	r.mu.Unlock()

	r.logger.Info("scenario deleted", "id", id)
	return nil
}

// --- Runs ---

// RecordRun persists a run and bumps the cached stats of its owner.
func (r *Registry) RecordRun(ctx context.Context, run *Run) error {
	if err := r.repo.RecordRun(ctx, run); err != nil {
		return err
	}

	at := run.CreatedAt
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats *Stats
	switch run.Kind {
	case KindRule:
		if v, ok := r.rules[run.AutomationID]; ok {
			stats = &v.Stats
		}
	case KindRoutine:
		if v, ok := r.routines[run.AutomationID]; ok {
			stats = &v.Stats
		}
	case KindScenario:
		if v, ok := r.scenarios[run.AutomationID]; ok {
			stats = &v.Stats
		}
	}
	if stats != nil {
		stats.TriggerCount++
		stats.LastTriggeredAt = &at
	}
	return nil
}

// ListRuns returns recent runs of one automation, newest first.
func (r *Registry) ListRuns(ctx context.Context, automationID string, limit int) ([]Run, error) {
	return r.repo.ListRuns(ctx, automationID, limit)
}

// Counts returns the number of cached rules, routines and scenarios.
func (r *Registry) Counts() (rules, routines, scenarios int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules), len(r.routines), len(r.scenarios)
}

func lessByName(nameA, idA, nameB, idB string) bool {
	if nameA != nameB {
		return nameA < nameB
	}
	return idA < idB
}
