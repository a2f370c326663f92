package automation

import (
	"testing"

	"github.com/nerrad567/homeflow/internal/device"
)

func conditionSnapshot(t *testing.T) device.Snapshot {
	t.Helper()
	return device.NewSnapshot(testDevices(t)...)
}

func leaf(id, prop string, op Operator, value any) Condition {
	return Condition{DeviceID: id, Property: prop, Operator: op, Value: value}
}

func TestEvaluate_Leaves(t *testing.T) {
	snap := conditionSnapshot(t)

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals bool", leaf("front-door", "isLocked", OpEquals, true), true},
		{"equals bool mismatch", leaf("front-door", "isLocked", OpEquals, false), false},
		{"equals int against float", leaf("hall-light", "brightness", OpEquals, 50), true},
		{"equals float", leaf("hall-light", "brightness", OpEquals, 50.0), true},
		{"equals string", leaf("hall-light", "color", OpEquals, "#ffffff"), true},
		{"equals nil value", leaf("hall-light", "isOn", OpEquals, nil), false},
		{"not equals", leaf("hall-light", "isOn", OpNotEquals, true), true},
		{"not equals nil value", leaf("hall-light", "isOn", OpNotEquals, nil), false},
		{"greater than", leaf("living-thermo", "targetTemperature", OpGreaterThan, 20), true},
		{"greater than equal bound", leaf("living-thermo", "targetTemperature", OpGreaterThan, 21), false},
		{"less than", leaf("living-thermo", "currentTemperature", OpLessThan, 19.5), true},
		{"greater than string value", leaf("living-thermo", "targetTemperature", OpGreaterThan, "20"), false},
		{"greater than bool property", leaf("hall-light", "isOn", OpGreaterThan, 0), false},
		{"is true", leaf("front-door", "isLocked", OpIsTrue, nil), true},
		{"is true on false", leaf("hall-light", "isOn", OpIsTrue, nil), false},
		{"is false", leaf("hall-light", "isOn", OpIsFalse, nil), true},
		{"is true with value", leaf("front-door", "isLocked", OpIsTrue, true), false},
		{"is false on number", leaf("hall-light", "brightness", OpIsFalse, nil), false},
		{"unknown device", leaf("ghost", "isOn", OpEquals, true), false},
		{"unknown property", leaf("hall-light", "volume", OpEquals, 1), false},
		{"unknown operator", leaf("hall-light", "isOn", Operator("between"), true), false},
		{"missing property", Condition{DeviceID: "hall-light", Operator: OpIsFalse}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.cond, snap, ChangeSet{}); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_ChangesTo(t *testing.T) {
	snap := conditionSnapshot(t)
	cond := leaf("hall-motion", "motionDetected", OpChangesTo, true)

	tests := []struct {
		name    string
		changes ChangeSet
		want    bool
	}{
		{"matching change", ChangeSet{DeviceID: "hall-motion", Changes: device.Changes{"motionDetected": true}}, true},
		{"no triggering change", ChangeSet{}, false},
		{"other device", ChangeSet{DeviceID: "hall-light", Changes: device.Changes{"motionDetected": true}}, false},
		{"property unchanged", ChangeSet{DeviceID: "hall-motion", Changes: device.Changes{"batteryLevel": 80.0}}, false},
		{"changed to other value", ChangeSet{DeviceID: "hall-motion", Changes: device.Changes{"motionDetected": false}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(cond, snap, tt.changes); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}

	// The stored value is irrelevant to changes_to: the snapshot still says
	// motionDetected is false.
	numeric := leaf("hall-light", "brightness", OpChangesTo, 80)
	cs := ChangeSet{DeviceID: "hall-light", Changes: device.Changes{"brightness": 80.0}}
	if !Evaluate(numeric, snap, cs) {
		t.Error("changes_to should compare numbers numerically")
	}
}

func TestEvaluate_Groups(t *testing.T) {
	snap := conditionSnapshot(t)
	yes := leaf("front-door", "isLocked", OpIsTrue, nil)
	no := leaf("hall-light", "isOn", OpIsTrue, nil)

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"and all true", Condition{Logic: LogicAnd, Conditions: []Condition{yes, yes}}, true},
		{"and one false", Condition{Logic: LogicAnd, Conditions: []Condition{yes, no}}, false},
		{"or one true", Condition{Logic: LogicOr, Conditions: []Condition{no, yes}}, true},
		{"or all false", Condition{Logic: LogicOr, Conditions: []Condition{no, no}}, false},
		{"empty and", Condition{Logic: LogicAnd, Conditions: []Condition{}}, false},
		{"empty or", Condition{Logic: LogicOr}, false},
		{"unknown logic", Condition{Logic: Logic("xor"), Conditions: []Condition{yes}}, false},
		{
			"nested",
			Condition{Logic: LogicAnd, Conditions: []Condition{
				yes,
				{Logic: LogicOr, Conditions: []Condition{no, leaf("hall-light", "brightness", OpLessThan, 60)}},
			}},
			true,
		},
		{
			"nested unknown device fails closed",
			Condition{Logic: LogicOr, Conditions: []Condition{
				no,
				{Logic: LogicAnd, Conditions: []Condition{leaf("ghost", "isOn", OpIsTrue, nil)}},
			}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.cond, snap, ChangeSet{}); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCondition_References(t *testing.T) {
	cond := Condition{Logic: LogicOr, Conditions: []Condition{
		leaf("hall-motion", "motionDetected", OpIsTrue, nil),
		{Logic: LogicAnd, Conditions: []Condition{
			leaf("front-door", "isLocked", OpIsFalse, nil),
			leaf("hall-motion", "batteryLevel", OpLessThan, 10),
		}},
	}}

	if !cond.References("front-door") {
		t.Error("References(front-door) = false, want true")
	}
	if cond.References("hall-light") {
		t.Error("References(hall-light) = true, want false")
	}

	ids := cond.DeviceIDs()
	if len(ids) != 2 {
		t.Errorf("DeviceIDs() = %v, want 2 distinct IDs", ids)
	}
}
