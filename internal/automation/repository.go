package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// timestampLayout is fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run query limits.
const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// Repository defines the interface for automation persistence.
// Rules, routines and scenarios share one table keyed by kind; their
// kind-specific bodies are stored as JSON.
type Repository interface {
	ListRules(ctx context.Context) ([]Rule, error)
	CreateRule(ctx context.Context, r *Rule) error
	UpdateRule(ctx context.Context, r *Rule) error

	ListRoutines(ctx context.Context) ([]Routine, error)
	CreateRoutine(ctx context.Context, r *Routine) error
	UpdateRoutine(ctx context.Context, r *Routine) error

	ListScenarios(ctx context.Context) ([]Scenario, error)
	CreateScenario(ctx context.Context, s *Scenario) error
	UpdateScenario(ctx context.Context, s *Scenario) error

	// Delete removes an item of the given kind.
	// Returns the kind's not-found error if it does not exist.
	Delete(ctx context.Context, kind Kind, id string) error

	// RecordRun appends to the run log and bumps the owner's stats.
	RecordRun(ctx context.Context, run *Run) error

	// ListRuns returns the newest runs of one automation first.
	ListRuns(ctx context.Context, automationID string, limit int) ([]Run, error)
}

// record is the row shape shared by every kind.
type record struct {
	ID          string
	Kind        Kind
	Name        string
	Definition  []byte
	Enabled     bool
	UserDefined bool
	AISuggested bool
	Stats       Stats
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ruleBody struct {
	Condition    Condition    `json:"condition"`
	Actions      []Action     `json:"actions"`
	FiringPolicy FiringPolicy `json:"firing_policy,omitempty"`
}

type routineBody struct {
	Triggers []Trigger `json:"triggers"`
	Actions  []Action  `json:"actions"`
}

type scenarioBody struct {
	Description string   `json:"description,omitempty"`
	Actions     []Action `json:"actions"`
}

const automationColumns = `id, kind, name, definition, is_enabled, is_user_defined,
	is_ai_suggested, trigger_count, last_triggered_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// ListRules retrieves every rule ordered by name.
func (r *SQLiteRepository) ListRules(ctx context.Context) ([]Rule, error) {
	recs, err := r.list(ctx, KindRule)
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(recs))
	for _, rec := range recs {
		var body ruleBody
		if err := json.Unmarshal(rec.Definition, &body); err != nil {
			return nil, fmt.Errorf("decoding rule %s: %w", rec.ID, err)
		}
		rules = append(rules, Rule{
			ID:            rec.ID,
			Name:          rec.Name,
			Condition:     body.Condition,
			Actions:       body.Actions,
			FiringPolicy:  body.FiringPolicy,
			IsEnabled:     rec.Enabled,
			IsUserDefined: rec.UserDefined,
			IsAISuggested: rec.AISuggested,
			Stats:         rec.Stats,
			CreatedAt:     rec.CreatedAt,
			UpdatedAt:     rec.UpdatedAt,
		})
	}
	return rules, nil
}

// CreateRule inserts a new rule.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule *Rule) error {
	r.stamp(&rule.CreatedAt, &rule.UpdatedAt)
	return r.insert(ctx, record{
		ID:          rule.ID,
		Kind:        KindRule,
		Name:        rule.Name,
		Enabled:     rule.IsEnabled,
		UserDefined: rule.IsUserDefined,
		AISuggested: rule.IsAISuggested,
		Stats:       rule.Stats,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   rule.UpdatedAt,
	}, ruleBody{Condition: rule.Condition, Actions: rule.Actions, FiringPolicy: rule.FiringPolicy})
}

// UpdateRule replaces a rule's definition, name and flags.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = r.now().UTC()
	return r.update(ctx, record{
		ID:          rule.ID,
		Kind:        KindRule,
		Name:        rule.Name,
		Enabled:     rule.IsEnabled,
		UserDefined: rule.IsUserDefined,
		AISuggested: rule.IsAISuggested,
		UpdatedAt:   rule.UpdatedAt,
	}, ruleBody{Condition: rule.Condition, Actions: rule.Actions, FiringPolicy: rule.FiringPolicy})
}

// ListRoutines retrieves every routine ordered by name.
func (r *SQLiteRepository) ListRoutines(ctx context.Context) ([]Routine, error) {
	recs, err := r.list(ctx, KindRoutine)
	if err != nil {
		return nil, err
	}
	routines := make([]Routine, 0, len(recs))
	for _, rec := range recs {
		var body routineBody
		if err := json.Unmarshal(rec.Definition, &body); err != nil {
			return nil, fmt.Errorf("decoding routine %s: %w", rec.ID, err)
		}
		routines = append(routines, Routine{
			ID:            rec.ID,
			Name:          rec.Name,
			Triggers:      body.Triggers,
			Actions:       body.Actions,
			IsEnabled:     rec.Enabled,
			IsUserDefined: rec.UserDefined,
			IsAISuggested: rec.AISuggested,
			Stats:         rec.Stats,
			CreatedAt:     rec.CreatedAt,
			UpdatedAt:     rec.UpdatedAt,
		})
	}
	return routines, nil
}

// CreateRoutine inserts a new routine.
func (r *SQLiteRepository) CreateRoutine(ctx context.Context, rt *Routine) error {
	r.stamp(&rt.CreatedAt, &rt.UpdatedAt)
	return r.insert(ctx, record{
		ID:          rt.ID,
		Kind:        KindRoutine,
		Name:        rt.Name,
		Enabled:     rt.IsEnabled,
		UserDefined: rt.IsUserDefined,
		AISuggested: rt.IsAISuggested,
		Stats:       rt.Stats,
		CreatedAt:   rt.CreatedAt,
		UpdatedAt:   rt.UpdatedAt,
	}, routineBody{Triggers: rt.Triggers, Actions: rt.Actions})
}

// UpdateRoutine replaces a routine's definition, name and flags.
func (r *SQLiteRepository) UpdateRoutine(ctx context.Context, rt *Routine) error {
	rt.UpdatedAt = r.now().UTC()
	return r.update(ctx, record{
		ID:          rt.ID,
		Kind:        KindRoutine,
		Name:        rt.Name,
		Enabled:     rt.IsEnabled,
		UserDefined: rt.IsUserDefined,
		AISuggested: rt.IsAISuggested,
		UpdatedAt:   rt.UpdatedAt,
	}, routineBody{Triggers: rt.Triggers, Actions: rt.Actions})
}

// ListScenarios retrieves every scenario ordered by name.
func (r *SQLiteRepository) ListScenarios(ctx context.Context) ([]Scenario, error) {
	recs, err := r.list(ctx, KindScenario)
	if err != nil {
		return nil, err
	}
	scenarios := make([]Scenario, 0, len(recs))
	for _, rec := range recs {
		var body scenarioBody
		if err := json.Unmarshal(rec.Definition, &body); err != nil {
			return nil, fmt.Errorf("decoding scenario %s: %w", rec.ID, err)
		}
		scenarios = append(scenarios, Scenario{
			ID:            rec.ID,
			Name:          rec.Name,
			Description:   body.Description,
			Actions:       body.Actions,
			IsUserDefined: rec.UserDefined,
			IsAISuggested: rec.AISuggested,
			Stats:         rec.Stats,
			CreatedAt:     rec.CreatedAt,
			UpdatedAt:     rec.UpdatedAt,
		})
	}
	return scenarios, nil
}

// CreateScenario inserts a new scenario. Scenarios are always enabled.
func (r *SQLiteRepository) CreateScenario(ctx context.Context, s *Scenario) error {
	r.stamp(&s.CreatedAt, &s.UpdatedAt)
	return r.insert(ctx, record{
		ID:          s.ID,
		Kind:        KindScenario,
		Name:        s.Name,
		Enabled:     true,
		UserDefined: s.IsUserDefined,
		AISuggested: s.IsAISuggested,
		Stats:       s.Stats,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}, scenarioBody{Description: s.Description, Actions: s.Actions})
}

// UpdateScenario replaces a scenario's definition and name.
func (r *SQLiteRepository) UpdateScenario(ctx context.Context, s *Scenario) error {
	s.UpdatedAt = r.now().UTC()
	return r.update(ctx, record{
		ID:          s.ID,
		Kind:        KindScenario,
		Name:        s.Name,
		Enabled:     true,
		UserDefined: s.IsUserDefined,
		AISuggested: s.IsAISuggested,
		UpdatedAt:   s.UpdatedAt,
	}, scenarioBody{Description: s.Description, Actions: s.Actions})
}

// Delete removes an item of the given kind.
func (r *SQLiteRepository) Delete(ctx context.Context, kind Kind, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automations WHERE id = ? AND kind = ?", id, string(kind))
	if err != nil {
		return fmt.Errorf("deleting %s: %w", kind, err)
	}
	return requireRow(result, kind, id)
}

// RecordRun appends to automation_runs and bumps trigger_count and
// last_triggered_at in one transaction.
func (r *SQLiteRepository) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = GenerateID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now().UTC()
	}
	at := run.CreatedAt.UTC().Format(timestampLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO automation_runs (id, automation_id, kind, trigger_kind, action_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.AutomationID, string(run.Kind), run.TriggerKind, run.ActionCount, at,
	); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE automations SET trigger_count = trigger_count + 1, last_triggered_at = ?
		WHERE id = ? AND kind = ?`,
		at, run.AutomationID, string(run.Kind),
	); err != nil {
		return fmt.Errorf("updating stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs of one automation first.
// limit defaults to 50 and is capped at 500.
func (r *SQLiteRepository) ListRuns(ctx context.Context, automationID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, automation_id, kind, trigger_kind, action_count, created_at
		FROM automation_runs WHERE automation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run       Run
			kind      string
			createdAt string
		)
		if err := rows.Scan(&run.ID, &run.AutomationID, &kind, &run.TriggerKind, &run.ActionCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Kind = Kind(kind)
		if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing run time: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

func (r *SQLiteRepository) stamp(created, updated *time.Time) {
	now := r.now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func (r *SQLiteRepository) list(ctx context.Context, kind Kind) ([]record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+automationColumns+" FROM automations WHERE kind = ? ORDER BY name, id", string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying %ss: %w", kind, err)
	}
	defer rows.Close()

	var recs []record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %ss: %w", kind, err)
	}
	return recs, nil
}

func (r *SQLiteRepository) insert(ctx context.Context, rec record, body any) error {
	def, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", rec.Kind, err)
	}

	var lastTriggered sql.NullString
	if rec.Stats.LastTriggeredAt != nil {
		lastTriggered = sql.NullString{String: rec.Stats.LastTriggeredAt.UTC().Format(timestampLayout), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO automations (`+automationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Kind),
		rec.Name,
		string(def),
		boolToInt(rec.Enabled),
		boolToInt(rec.UserDefined),
		boolToInt(rec.AISuggested),
		rec.Stats.TriggerCount,
		lastTriggered,
		rec.CreatedAt.UTC().Format(timestampLayout),
		rec.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrAutomationExists, rec.ID)
		}
		return fmt.Errorf("inserting %s: %w", rec.Kind, err)
	}
	return nil
}

func (r *SQLiteRepository) update(ctx context.Context, rec record, body any) error {
	def, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", rec.Kind, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE automations SET
			name = ?, definition = ?, is_enabled = ?, is_user_defined = ?,
			is_ai_suggested = ?, updated_at = ?
		WHERE id = ? AND kind = ?`,
		rec.Name,
		string(def),
		boolToInt(rec.Enabled),
		boolToInt(rec.UserDefined),
		boolToInt(rec.AISuggested),
		rec.UpdatedAt.UTC().Format(timestampLayout),
		rec.ID,
		string(rec.Kind),
	)
	if err != nil {
		return fmt.Errorf("updating %s: %w", rec.Kind, err)
	}
	return requireRow(result, rec.Kind, rec.ID)
}

func scanRecord(rows *sql.Rows) (record, error) {
	var (
		rec                  record
		kind, def            string
		enabled, user, ai    int
		lastTriggered        sql.NullString
		createdAt, updatedAt string
	)
	if err := rows.Scan(&rec.ID, &kind, &rec.Name, &def, &enabled, &user, &ai,
		&rec.Stats.TriggerCount, &lastTriggered, &createdAt, &updatedAt); err != nil {
		return record{}, fmt.Errorf("scanning automation: %w", err)
	}
	rec.Kind = Kind(kind)
	rec.Definition = []byte(def)
	rec.Enabled = enabled != 0
	rec.UserDefined = user != 0
	rec.AISuggested = ai != 0

	if lastTriggered.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastTriggered.String)
		if err != nil {
			return record{}, fmt.Errorf("parsing last_triggered_at: %w", err)
		}
		rec.Stats.LastTriggeredAt = &t
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return record{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return record{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

// notFound returns the sentinel for a missing item of kind.
func notFound(kind Kind) error {
	switch kind {
	case KindRoutine:
		return ErrRoutineNotFound
	case KindScenario:
		return ErrScenarioNotFound
	default:
		return ErrRuleNotFound
	}
}

func requireRow(result sql.Result, kind Kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound(kind), id)
	}
	return nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
