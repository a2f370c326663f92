package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nerrad567/homeflow/internal/device"
)

// Validation constants.
const (
	maxNameLength      = 100
	maxActions         = 50
	maxTriggers        = 10
	maxConditionDepth  = 8
	maxDelaySeconds    = 24 * 60 * 60
	maxSolarOffsetMins = 12 * 60
	maxPhraseLength    = 200
)

// DeviceTypes resolves the type of a device. device.Snapshot satisfies it.
type DeviceTypes interface {
	Type(id string) (device.Type, bool)
}

// ValidateName checks an automation name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRuleDefinition)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRuleDefinition, maxNameLength)
	}
	return nil
}

// ValidateRule checks a rule against the current device types.
func ValidateRule(r *Rule, types DeviceTypes) error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRuleDefinition)
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if !r.FiringPolicy.Valid() {
		return fmt.Errorf("%w: unknown firing policy %q", ErrInvalidRuleDefinition, r.FiringPolicy)
	}
	if err := ValidateCondition(r.Condition, types); err != nil {
		return err
	}
	return ValidateActions(r.Actions, types)
}

// ValidateRoutine checks a routine against the current device types.
func ValidateRoutine(r *Routine, types DeviceTypes) error {
	if r == nil {
		return fmt.Errorf("%w: nil routine", ErrInvalidRuleDefinition)
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if len(r.Triggers) == 0 {
		return fmt.Errorf("%w: routine needs at least one trigger", ErrInvalidRuleDefinition)
	}
	if len(r.Triggers) > maxTriggers {
		return fmt.Errorf("%w: exceeds maximum of %d triggers", ErrInvalidRuleDefinition, maxTriggers)
	}
	for i, t := range r.Triggers {
		if err := ValidateTrigger(t, types); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}
	return ValidateActions(r.Actions, types)
}

// ValidateScenario checks a scenario against the current device types.
func ValidateScenario(s *Scenario, types DeviceTypes) error {
	if s == nil {
		return fmt.Errorf("%w: nil scenario", ErrInvalidRuleDefinition)
	}
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	return ValidateActions(s.Actions, types)
}

// ValidateCondition checks a condition tree: every leaf must reference a
// known device and a property its type declares, and the operator must
// suit the property kind and value.
func ValidateCondition(c Condition, types DeviceTypes) error {
	return validateCondition(c, types, 0)
}

func validateCondition(c Condition, types DeviceTypes, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("%w: conditions nested deeper than %d", ErrInvalidRuleDefinition, maxConditionDepth)
	}
	if c.IsGroup() {
		if c.Logic != LogicAnd && c.Logic != LogicOr {
			return fmt.Errorf("%w: unknown logic %q", ErrInvalidRuleDefinition, c.Logic)
		}
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%w: empty %s group", ErrInvalidRuleDefinition, c.Logic)
		}
		if c.DeviceID != "" || c.Operator != "" {
			return fmt.Errorf("%w: group must not carry leaf fields", ErrInvalidRuleDefinition)
		}
		for _, child := range c.Conditions {
			if err := validateCondition(child, types, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return validateLeaf(c, types)
}

func validateLeaf(c Condition, types DeviceTypes) error {
	if c.DeviceID == "" || c.Property == "" {
		return fmt.Errorf("%w: condition needs device_id and property", ErrInvalidRuleDefinition)
	}
	t, ok := types.Type(c.DeviceID)
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrInvalidRuleDefinition, device.ErrDeviceNotFound, c.DeviceID)
	}
	kind, ok := device.PropertyKind(t, c.Property)
	if !ok {
		return fmt.Errorf("%w: %s has no property %q", ErrInvalidRuleDefinition, t, c.Property)
	}

	switch c.Operator {
	case OpIsTrue, OpIsFalse:
		if c.Value != nil {
			return fmt.Errorf("%w: %s takes no value", ErrInvalidRuleDefinition, c.Operator)
		}
		if kind != device.KindBool {
			return fmt.Errorf("%w: %s needs a boolean property, %q is %s", ErrInvalidRuleDefinition, c.Operator, c.Property, kind)
		}
	case OpGreaterThan, OpLessThan:
		if kind != device.KindNumber {
			return fmt.Errorf("%w: %s needs a numeric property, %q is %s", ErrInvalidRuleDefinition, c.Operator, c.Property, kind)
		}
		if _, ok := device.ToFloat(c.Value); !ok {
			return fmt.Errorf("%w: %s needs a numeric value", ErrInvalidRuleDefinition, c.Operator)
		}
	case OpEquals, OpNotEquals, OpChangesTo:
		if c.Value == nil {
			return fmt.Errorf("%w: %s needs a value", ErrInvalidRuleDefinition, c.Operator)
		}
		if !valueMatchesKind(c.Value, kind) {
			return fmt.Errorf("%w: value %v does not suit %s property %q", ErrInvalidRuleDefinition, c.Value, kind, c.Property)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRuleDefinition, c.Operator)
	}
	return nil
}

func valueMatchesKind(v any, kind device.Kind) bool {
	switch kind {
	case device.KindBool:
		_, ok := v.(bool)
		return ok
	case device.KindNumber:
		_, ok := device.ToFloat(v)
		return ok
	case device.KindString, device.KindTime:
		_, ok := v.(string)
		return ok
	default:
		return false
	}
}

// ValidateActions checks an action list. Each target status must be a valid
// patch for the referenced device's type.
func ValidateActions(actions []Action, types DeviceTypes) error {
	if len(actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRuleDefinition)
	}
	if len(actions) > maxActions {
		return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalidRuleDefinition, maxActions)
	}
	for i, a := range actions {
		if a.DeviceID == "" {
			return fmt.Errorf("%w: action %d: device_id is required", ErrInvalidRuleDefinition, i)
		}
		t, ok := types.Type(a.DeviceID)
		if !ok {
			return fmt.Errorf("%w: action %d: %w: %s", ErrInvalidRuleDefinition, i, device.ErrDeviceNotFound, a.DeviceID)
		}
		if err := device.ValidatePatch(t, a.TargetStatus); err != nil {
			return fmt.Errorf("%w: action %d: %w", ErrInvalidRuleDefinition, i, err)
		}
		if a.DelaySeconds < 0 || a.DelaySeconds > maxDelaySeconds {
			return fmt.Errorf("%w: action %d: delay_seconds must be 0-%d", ErrInvalidRuleDefinition, i, maxDelaySeconds)
		}
	}
	return nil
}

// ValidateTrigger checks one routine trigger.
func ValidateTrigger(t Trigger, types DeviceTypes) error { //nolint:gocyclo // one case per trigger kind
	switch t.Kind {
	case TriggerTime:
		if (t.At == "") == (t.Cron == "") {
			return fmt.Errorf("%w: time trigger needs exactly one of at or cron", ErrInvalidRuleDefinition)
		}
		if t.At != "" {
			if _, err := time.Parse("15:04", t.At); err != nil {
				return fmt.Errorf("%w: at must be HH:MM, got %q", ErrInvalidRuleDefinition, t.At)
			}
			for _, d := range t.Days {
				if d < 0 || d > 6 {
					return fmt.Errorf("%w: day %d outside 0-6", ErrInvalidRuleDefinition, d)
				}
			}
		}
		if _, err := cron.ParseStandard(t.CronSpec()); err != nil {
			return fmt.Errorf("%w: cron %q: %w", ErrInvalidRuleDefinition, t.CronSpec(), err)
		}
	case TriggerEvent:
		if t.Condition == nil {
			return fmt.Errorf("%w: event trigger needs a condition", ErrInvalidRuleDefinition)
		}
		if t.Condition.IsGroup() {
			return fmt.Errorf("%w: event trigger condition must be a leaf", ErrInvalidRuleDefinition)
		}
		return ValidateCondition(*t.Condition, types)
	case TriggerLocation:
		if strings.TrimSpace(t.Zone) == "" {
			return fmt.Errorf("%w: location trigger needs a zone", ErrInvalidRuleDefinition)
		}
		if t.Transition != TransitionEnter && t.Transition != TransitionLeave {
			return fmt.Errorf("%w: transition must be enter or leave", ErrInvalidRuleDefinition)
		}
	case TriggerSunriseSunset:
		if t.SolarEvent != SolarSunrise && t.SolarEvent != SolarSunset {
			return fmt.Errorf("%w: solar_event must be sunrise or sunset", ErrInvalidRuleDefinition)
		}
		if t.OffsetMinutes < -maxSolarOffsetMins || t.OffsetMinutes > maxSolarOffsetMins {
			return fmt.Errorf("%w: offset_minutes outside ±%d", ErrInvalidRuleDefinition, maxSolarOffsetMins)
		}
	case TriggerManual:
	case TriggerVoiceCommand:
		phrase := NormalizePhrase(t.Phrase)
		if phrase == "" {
			return fmt.Errorf("%w: voice trigger needs a phrase", ErrInvalidRuleDefinition)
		}
		if len(phrase) > maxPhraseLength {
			return fmt.Errorf("%w: phrase exceeds %d characters", ErrInvalidRuleDefinition, maxPhraseLength)
		}
	default:
		return fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidRuleDefinition, t.Kind)
	}
	return nil
}

// CronSpec returns the five-field cron spec of a time trigger. An At
// trigger becomes "MM HH * * days".
func (t Trigger) CronSpec() string {
	if t.Cron != "" {
		return t.Cron
	}
	at, err := time.Parse("15:04", t.At)
	if err != nil {
		return ""
	}
	days := "*"
	if len(t.Days) > 0 {
		parts := make([]string, len(t.Days))
		for i, d := range t.Days {
			parts[i] = fmt.Sprint(d)
		}
		days = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", at.Minute(), at.Hour(), days)
}

// NormalizePhrase lower-cases a voice phrase and folds runs of whitespace.
func NormalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// GenerateID creates a new unique ID for a rule, routine, scenario or run.
func GenerateID() string {
	return uuid.NewString()
}
