package automation

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/homeflow/internal/device"
)

func TestValidateRule(t *testing.T) {
	snap := device.NewSnapshot(testDevices(t)...)

	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr bool
	}{
		{"valid", func(*Rule) {}, false},
		{"empty name", func(r *Rule) { r.Name = "  " }, true},
		{"long name", func(r *Rule) { r.Name = strings.Repeat("x", maxNameLength+1) }, true},
		{"unknown policy", func(r *Rule) { r.FiringPolicy = "sometimes" }, true},
		{"level policy", func(r *Rule) { r.FiringPolicy = PolicyLevel }, false},
		{"unknown property", func(r *Rule) { r.Condition.Property = "volume" }, true},
		{"is_true with value", func(r *Rule) { r.Condition.Value = true }, true},
		{"is_true on number", func(r *Rule) { r.Condition.Property = "batteryLevel" }, true},
		{"greater_than on bool", func(r *Rule) {
			r.Condition = leaf("hall-light", "isOn", OpGreaterThan, 1)
		}, true},
		{"greater_than with string value", func(r *Rule) {
			r.Condition = leaf("living-thermo", "currentTemperature", OpGreaterThan, "hot")
		}, true},
		{"equals without value", func(r *Rule) {
			r.Condition = leaf("hall-light", "isOn", OpEquals, nil)
		}, true},
		{"equals wrong kind", func(r *Rule) {
			r.Condition = leaf("hall-light", "isOn", OpEquals, "yes")
		}, true},
		{"changes_to", func(r *Rule) {
			r.Condition = leaf("hall-motion", "motionDetected", OpChangesTo, true)
		}, false},
		{"unknown operator", func(r *Rule) { r.Condition.Operator = "near" }, true},
		{"empty group", func(r *Rule) { r.Condition = Condition{Logic: LogicAnd} }, true},
		{"group with leaf fields", func(r *Rule) {
			r.Condition = Condition{Logic: LogicOr, DeviceID: "hall-light", Conditions: []Condition{r.Condition}}
		}, true},
		{"unknown logic", func(r *Rule) {
			r.Condition = Condition{Logic: "xor", Conditions: []Condition{r.Condition}}
		}, true},
		{"no actions", func(r *Rule) { r.Actions = nil }, true},
		{"action without device", func(r *Rule) { r.Actions[0].DeviceID = "" }, true},
		{"action bad property", func(r *Rule) { r.Actions[0].TargetStatus = device.Patch{"volume": 3} }, true},
		{"action out of range", func(r *Rule) { r.Actions[0].TargetStatus = device.Patch{"brightness": 150} }, true},
		{"action negative delay", func(r *Rule) { r.Actions[0].DelaySeconds = -1 }, true},
		{"action delay too long", func(r *Rule) { r.Actions[0].DelaySeconds = maxDelaySeconds + 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := motionRule("Hall light on motion")
			tt.mutate(r)
			err := ValidateRule(r, snap)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRule() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRuleDefinition) {
				t.Errorf("error %v does not wrap ErrInvalidRuleDefinition", err)
			}
		})
	}
}

func TestValidateRule_UnknownDevice(t *testing.T) {
	snap := device.NewSnapshot(testDevices(t)...)

	r := motionRule("ghost")
	r.Condition.DeviceID = "ghost"
	err := ValidateRule(r, snap)
	if !errors.Is(err, ErrInvalidRuleDefinition) || !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("ValidateRule() error = %v, want both ErrInvalidRuleDefinition and ErrDeviceNotFound", err)
	}

	r = motionRule("ghost action")
	r.Actions[0].DeviceID = "ghost"
	err = ValidateRule(r, snap)
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("ValidateRule() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestValidateCondition_Depth(t *testing.T) {
	snap := device.NewSnapshot(testDevices(t)...)

	cond := leaf("front-door", "isLocked", OpIsTrue, nil)
	for i := 0; i <= maxConditionDepth; i++ {
		cond = Condition{Logic: LogicAnd, Conditions: []Condition{cond}}
	}
	if err := ValidateCondition(cond, snap); !errors.Is(err, ErrInvalidRuleDefinition) {
		t.Errorf("ValidateCondition() error = %v, want ErrInvalidRuleDefinition", err)
	}
}

func TestValidateTrigger(t *testing.T) {
	snap := device.NewSnapshot(testDevices(t)...)
	motion := leaf("hall-motion", "motionDetected", OpIsTrue, nil)
	group := Condition{Logic: LogicAnd, Conditions: []Condition{motion}}

	tests := []struct {
		name    string
		trigger Trigger
		wantErr bool
	}{
		{"time at", Trigger{Kind: TriggerTime, At: "07:30"}, false},
		{"time at weekdays", Trigger{Kind: TriggerTime, At: "07:30", Days: []int{1, 2, 3, 4, 5}}, false},
		{"time bad at", Trigger{Kind: TriggerTime, At: "7.30pm"}, true},
		{"time bad day", Trigger{Kind: TriggerTime, At: "07:30", Days: []int{7}}, true},
		{"time cron", Trigger{Kind: TriggerTime, Cron: "*/15 * * * *"}, false},
		{"time bad cron", Trigger{Kind: TriggerTime, Cron: "every day"}, true},
		{"time both", Trigger{Kind: TriggerTime, At: "07:30", Cron: "0 7 * * *"}, true},
		{"time neither", Trigger{Kind: TriggerTime}, true},
		{"event", Trigger{Kind: TriggerEvent, Condition: &motion}, false},
		{"event without condition", Trigger{Kind: TriggerEvent}, true},
		{"event group", Trigger{Kind: TriggerEvent, Condition: &group}, true},
		{"location", Trigger{Kind: TriggerLocation, Zone: "home", Transition: TransitionEnter}, false},
		{"location no zone", Trigger{Kind: TriggerLocation, Transition: TransitionLeave}, true},
		{"location bad transition", Trigger{Kind: TriggerLocation, Zone: "home", Transition: "near"}, true},
		{"sunset", Trigger{Kind: TriggerSunriseSunset, SolarEvent: SolarSunset, OffsetMinutes: -30}, false},
		{"solar bad event", Trigger{Kind: TriggerSunriseSunset, SolarEvent: "noon"}, true},
		{"solar offset too large", Trigger{Kind: TriggerSunriseSunset, SolarEvent: SolarSunrise, OffsetMinutes: 721}, true},
		{"manual", Trigger{Kind: TriggerManual}, false},
		{"voice", Trigger{Kind: TriggerVoiceCommand, Phrase: "Good night"}, false},
		{"voice blank", Trigger{Kind: TriggerVoiceCommand, Phrase: "   "}, true},
		{"voice too long", Trigger{Kind: TriggerVoiceCommand, Phrase: strings.Repeat("a", maxPhraseLength+1)}, true},
		{"unknown kind", Trigger{Kind: "telepathy"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrigger(tt.trigger, snap)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTrigger() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRoutine(t *testing.T) {
	snap := device.NewSnapshot(testDevices(t)...)

	rt := &Routine{Name: "Evening", Actions: []Action{lightOn(0)}}
	if err := ValidateRoutine(rt, snap); !errors.Is(err, ErrInvalidRuleDefinition) {
		t.Errorf("routine without triggers: error = %v, want ErrInvalidRuleDefinition", err)
	}

	for i := 0; i <= maxTriggers; i++ {
		rt.Triggers = append(rt.Triggers, Trigger{Kind: TriggerManual})
	}
	if err := ValidateRoutine(rt, snap); !errors.Is(err, ErrInvalidRuleDefinition) {
		t.Errorf("routine with too many triggers: error = %v, want ErrInvalidRuleDefinition", err)
	}

	rt.Triggers = []Trigger{{Kind: TriggerTime, At: "19:00"}, {Kind: TriggerManual}}
	if err := ValidateRoutine(rt, snap); err != nil {
		t.Errorf("ValidateRoutine() error = %v", err)
	}
}

func TestValidateScenario(t *testing.T) {
	snap := device.NewSnapshot(testDevices(t)...)

	s := &Scenario{Name: "Movie night", Actions: []Action{
		{DeviceID: "hall-light", TargetStatus: device.Patch{"isOn": true, "brightness": 20}},
		{DeviceID: "living-thermo", TargetStatus: device.Patch{"targetTemperature": 22, "mode": device.ModeHeat}},
	}}
	if err := ValidateScenario(s, snap); err != nil {
		t.Fatalf("ValidateScenario() error = %v", err)
	}

	s.Actions[1].TargetStatus["mode"] = "turbo"
	if err := ValidateScenario(s, snap); !errors.Is(err, device.ErrOutOfRange) {
		t.Errorf("ValidateScenario() error = %v, want ErrOutOfRange", err)
	}
}

func TestTrigger_CronSpec(t *testing.T) {
	tests := []struct {
		trigger Trigger
		want    string
	}{
		{Trigger{At: "07:05"}, "5 7 * * *"},
		{Trigger{At: "22:30", Days: []int{0, 6}}, "30 22 * * 0,6"},
		{Trigger{Cron: "*/10 * * * *"}, "*/10 * * * *"},
		{Trigger{At: "bad"}, ""},
	}
	for _, tt := range tests {
		if got := tt.trigger.CronSpec(); got != tt.want {
			t.Errorf("CronSpec(%+v) = %q, want %q", tt.trigger, got, tt.want)
		}
	}
}

func TestNormalizePhrase(t *testing.T) {
	if got := NormalizePhrase("  Good   NIGHT\thouse "); got != "good night house" {
		t.Errorf("NormalizePhrase() = %q", got)
	}
}
