package automation

import (
	"time"

	"github.com/nerrad567/homeflow/internal/device"
)

// Kind distinguishes the three automation collections.
type Kind string

// Automation kinds.
const (
	KindRule     Kind = "rule"
	KindRoutine  Kind = "routine"
	KindScenario Kind = "scenario"
)

// Operator is a leaf condition comparison.
type Operator string

// Condition operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsTrue      Operator = "is_true"
	OpIsFalse     Operator = "is_false"
	OpChangesTo   Operator = "changes_to"
)

// AllOperators returns every supported operator.
func AllOperators() []Operator {
	return []Operator{OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpIsTrue, OpIsFalse, OpChangesTo}
}

// Logic joins the children of a condition group.
type Logic string

// Group logic.
const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Condition is either a leaf comparison on one device property or a group
// of nested conditions. A node with Logic set is a group.
type Condition struct {
	// Leaf
	DeviceID string   `json:"device_id,omitempty"`
	Property string   `json:"property,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	// Group
	Logic      Logic       `json:"logic,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// IsGroup reports whether c is a group node.
func (c Condition) IsGroup() bool {
	return c.Logic != "" || len(c.Conditions) > 0
}

// DeviceIDs returns the devices referenced anywhere in the tree, without
// duplicates, in first-seen order.
func (c Condition) DeviceIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(Condition)
	walk = func(n Condition) {
		if n.IsGroup() {
			for _, child := range n.Conditions {
				walk(child)
			}
			return
		}
		if n.DeviceID == "" {
			return
		}
		if _, ok := seen[n.DeviceID]; !ok {
			seen[n.DeviceID] = struct{}{}
			out = append(out, n.DeviceID)
		}
	}
	walk(c)
	return out
}

// References reports whether the tree mentions deviceID.
func (c Condition) References(deviceID string) bool {
	for _, id := range c.DeviceIDs() {
		if id == deviceID {
			return true
		}
	}
	return false
}

// Action sets part of one device's status, optionally after a delay.
type Action struct {
	DeviceID     string       `json:"device_id"`
	TargetStatus device.Patch `json:"target_status"`
	DelaySeconds int          `json:"delay_seconds,omitempty"`
}

// Delay returns the action delay as a duration.
func (a Action) Delay() time.Duration {
	return time.Duration(a.DelaySeconds) * time.Second
}

// FiringPolicy decides when a rule whose condition is true fires.
type FiringPolicy string

// Firing policies.
const (
	// PolicyEdge fires when the condition result goes from false to true.
	PolicyEdge FiringPolicy = "edge"

	// PolicyLevel fires on every triggering event while the condition holds.
	PolicyLevel FiringPolicy = "level"
)

// Valid reports whether p is a known policy. The empty policy is valid and
// means "use the engine default".
func (p FiringPolicy) Valid() bool {
	return p == "" || p == PolicyEdge || p == PolicyLevel
}

// Stats counts how often an automation has fired.
type Stats struct {
	TriggerCount    int64      `json:"trigger_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// Rule is a condition-action automation evaluated on device state changes.
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Condition Condition `json:"condition"`
	Actions   []Action  `json:"actions"`
	IsEnabled bool      `json:"is_enabled"`

	// Provenance
	IsUserDefined bool `json:"is_user_defined"`
	IsAISuggested bool `json:"is_ai_suggested"`

	// FiringPolicy overrides the engine default when set.
	FiringPolicy FiringPolicy `json:"firing_policy,omitempty"`

	Stats     Stats     `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerKind is the kind of a routine trigger.
type TriggerKind string

// Routine trigger kinds.
const (
	TriggerTime          TriggerKind = "time"
	TriggerEvent         TriggerKind = "event"
	TriggerLocation      TriggerKind = "location"
	TriggerSunriseSunset TriggerKind = "sunrise_sunset"
	TriggerManual        TriggerKind = "manual"
	TriggerVoiceCommand  TriggerKind = "voice_command"
)

// Solar events for sunrise_sunset triggers.
const (
	SolarSunrise = "sunrise"
	SolarSunset  = "sunset"
)

// Location transitions.
const (
	TransitionEnter = "enter"
	TransitionLeave = "leave"
)

// Trigger starts a routine. Only the fields for its Kind are meaningful.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// time: At is "HH:MM" in site local time; Days limits it to weekdays
	// (0 = Sunday). Cron is a raw five-field spec used instead of At.
	At   string `json:"at,omitempty"`
	Days []int  `json:"days,omitempty"`
	Cron string `json:"cron,omitempty"`

	// event: a leaf condition that fires when it becomes true.
	Condition *Condition `json:"condition,omitempty"`

	// location
	Zone       string `json:"zone,omitempty"`
	Transition string `json:"transition,omitempty"`
	Person     string `json:"person,omitempty"`

	// sunrise_sunset
	SolarEvent    string `json:"solar_event,omitempty"`
	OffsetMinutes int    `json:"offset_minutes,omitempty"`

	// voice_command
	Phrase string `json:"phrase,omitempty"`
}

// Routine runs its actions when any of its triggers fires.
type Routine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Triggers  []Trigger `json:"triggers"`
	Actions   []Action  `json:"actions"`
	IsEnabled bool      `json:"is_enabled"`

	IsUserDefined bool `json:"is_user_defined"`
	IsAISuggested bool `json:"is_ai_suggested"`

	Stats     Stats     `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTrigger reports whether the routine has a trigger of kind k.
func (r *Routine) HasTrigger(k TriggerKind) bool {
	for _, t := range r.Triggers {
		if t.Kind == k {
			return true
		}
	}
	return false
}

// Scenario is a named bundle of actions executed on demand.
type Scenario struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Actions     []Action `json:"actions"`

	IsUserDefined bool `json:"is_user_defined"`
	IsAISuggested bool `json:"is_ai_suggested"`

	Stats     Stats     `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleState is the lifecycle state of a rule inside the engine.
type RuleState string

// Rule states.
const (
	StateDisabled RuleState = "disabled"
	StateArmed    RuleState = "armed"
	StateFiring   RuleState = "firing"
)

// Owner identifies the automation that submitted actions to the Executor.
type Owner struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Key returns the string used to index pending work by owner.
func (o Owner) Key() string { return string(o.Kind) + ":" + o.ID }

// Source converts the owner into the mutation source given to the Store.
func (o Owner) Source() device.Source {
	kind := device.SourceSystem
	switch o.Kind {
	case KindRule:
		kind = device.SourceRule
	case KindRoutine:
		kind = device.SourceRoutine
	case KindScenario:
		kind = device.SourceScenario
	}
	return device.Source{Kind: kind, ID: o.ID}
}

// Run records one firing of a rule, routine or scenario.
type Run struct {
	ID           string    `json:"id"`
	AutomationID string    `json:"automation_id"`
	Kind         Kind      `json:"kind"`
	TriggerKind  string    `json:"trigger_kind"`
	ActionCount  int       `json:"action_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// FiredEvent is the payload of the rule.fired, routine.fired and
// scenario.executed topics.
type FiredEvent struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	TriggerKind string    `json:"trigger_kind"`
	ActionCount int       `json:"action_count"`
	At          time.Time `json:"at"`
}

// ActionFailedEvent is the payload of the action.failed topic.
type ActionFailedEvent struct {
	Owner    Owner     `json:"owner"`
	DeviceID string    `json:"device_id"`
	Index    int       `json:"index"`
	Error    string    `json:"error"`
	Locked   bool      `json:"locked"`
	At       time.Time `json:"at"`
}

// DeepCopy creates an independent copy of the rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.Condition = r.Condition.clone()
	cpy.Actions = cloneActions(r.Actions)
	cpy.Stats = r.Stats.clone()
	return &cpy
}

// DeepCopy creates an independent copy of the routine.
func (r *Routine) DeepCopy() *Routine {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.Triggers != nil {
		cpy.Triggers = make([]Trigger, len(r.Triggers))
		for i, t := range r.Triggers {
			cpy.Triggers[i] = t
			if t.Days != nil {
				cpy.Triggers[i].Days = append([]int(nil), t.Days...)
			}
			if t.Condition != nil {
				c := t.Condition.clone()
				cpy.Triggers[i].Condition = &c
			}
		}
	}
	cpy.Actions = cloneActions(r.Actions)
	cpy.Stats = r.Stats.clone()
	return &cpy
}

// DeepCopy creates an independent copy of the scenario.
func (s *Scenario) DeepCopy() *Scenario {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Actions = cloneActions(s.Actions)
	cpy.Stats = s.Stats.clone()
	return &cpy
}

func (s Stats) clone() Stats {
	if s.LastTriggeredAt != nil {
		t := *s.LastTriggeredAt
		s.LastTriggeredAt = &t
	}
	return s
}

func (c Condition) clone() Condition {
	cpy := c
	cpy.Value = deepCopyValue(c.Value)
	if c.Conditions != nil {
		cpy.Conditions = make([]Condition, len(c.Conditions))
		for i, child := range c.Conditions {
			cpy.Conditions[i] = child.clone()
		}
	}
	return cpy
}

func cloneActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = a
		if a.TargetStatus != nil {
			out[i].TargetStatus = device.Patch(deepCopyMap(a.TargetStatus))
		}
	}
	return out
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
