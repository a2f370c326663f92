package automation

import (
	"reflect"

	"github.com/nerrad567/homeflow/internal/device"
)

// ChangeSet is the diff carried by the event being evaluated. The zero
// value means "no triggering change", which makes every changes_to leaf
// false.
type ChangeSet struct {
	DeviceID string
	Changes  device.Changes
}

// ChangeSetFrom extracts the change set of a state change event.
func ChangeSetFrom(sc device.StateChange) ChangeSet {
	return ChangeSet{DeviceID: sc.DeviceID, Changes: sc.Changes}
}

// Evaluate reports whether cond holds against snap.
//
// Evaluation is pure and fails closed: an unknown device or property, a
// non-numeric ordered comparison or a malformed node all yield false.
// changes_to is true only when changes contains the property for the
// referenced device with the compared value. An empty group is false.
func Evaluate(cond Condition, snap device.Snapshot, changes ChangeSet) bool {
	if cond.IsGroup() {
		return evaluateGroup(cond, snap, changes)
	}
	return evaluateLeaf(cond, snap, changes)
}

func evaluateGroup(cond Condition, snap device.Snapshot, changes ChangeSet) bool {
	if len(cond.Conditions) == 0 {
		return false
	}
	switch cond.Logic {
	case LogicAnd:
		for _, child := range cond.Conditions {
			if !Evaluate(child, snap, changes) {
				return false
			}
		}
		return true
	case LogicOr:
		for _, child := range cond.Conditions {
			if Evaluate(child, snap, changes) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evaluateLeaf(cond Condition, snap device.Snapshot, changes ChangeSet) bool {
	if cond.DeviceID == "" || cond.Property == "" {
		return false
	}
	current, ok := snap.Property(cond.DeviceID, cond.Property)
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return cond.Value != nil && equalValues(current, cond.Value)
	case OpNotEquals:
		return cond.Value != nil && !equalValues(current, cond.Value)
	case OpGreaterThan, OpLessThan:
		a, okA := device.ToFloat(current)
		b, okB := device.ToFloat(cond.Value)
		if !okA || !okB {
			return false
		}
		if cond.Operator == OpGreaterThan {
			return a > b
		}
		return a < b
	case OpIsTrue:
		b, isBool := current.(bool)
		return cond.Value == nil && isBool && b
	case OpIsFalse:
		b, isBool := current.(bool)
		return cond.Value == nil && isBool && !b
	case OpChangesTo:
		if cond.Value == nil || changes.DeviceID != cond.DeviceID {
			return false
		}
		changed, ok := changes.Changes[cond.Property]
		return ok && equalValues(changed, cond.Value)
	default:
		return false
	}
}

// equalValues compares numbers numerically and everything else deeply.
func equalValues(a, b any) bool {
	if fa, ok := device.ToFloat(a); ok {
		fb, ok := device.ToFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}
