package device

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Patch is a partial status: property name to new value.
type Patch map[string]any

// Changes maps each property that changed to its value.
type Changes map[string]any

// Keys returns the patch property names in sorted order.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the patch.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Has reports whether the change set includes property.
func (c Changes) Has(property string) bool {
	_, ok := c[property]
	return ok
}

// CheckPatch verifies that every key in p is declared by type t.
func CheckPatch(t Type, p Patch) error {
	s, err := schemaFor(t)
	if err != nil {
		return err
	}
	for _, key := range p.Keys() {
		if _, ok := s.properties[key]; !ok {
			return fmt.Errorf("%w: %s has no property %q", ErrTypeMismatch, t, key)
		}
	}
	return nil
}

// ApplyPatch merges p into current and returns the resulting status together
// with the changed properties (new values) and their previous values.
//
// The result is always a variant of the same type as current, so a patch can
// never introduce a field the type does not declare.
//
// Errors:
//   - ErrTypeMismatch: unknown key or value of the wrong kind
//   - ErrOutOfRange: the merged status violates a range or enumeration
func ApplyPatch(current Status, p Patch) (next Status, changes, previous Changes, err error) {
	if current == nil {
		return nil, nil, nil, fmt.Errorf("%w: nil status", ErrInvalidDevice)
	}
	t := current.DeviceType()
	if err := CheckPatch(t, p); err != nil {
		return nil, nil, nil, err
	}

	before := StatusMap(current)
	merged := make(map[string]any, len(before))
	for k, v := range before {
		merged[k] = v
	}
	for k, v := range p {
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	next, err = DecodeStatus(t, raw)
	if err != nil {
		return nil, nil, nil, err
	}

	changes, previous = Diff(before, StatusMap(next))
	return next, changes, previous, nil
}

// Diff compares two status maps and returns the new and old values of every
// property that differs.
func Diff(before, after map[string]any) (changes, previous Changes) {
	changes = Changes{}
	previous = Changes{}
	for k, v := range after {
		old, ok := before[k]
		if !ok || !reflect.DeepEqual(old, v) {
			changes[k] = v
			previous[k] = old
		}
	}
	return changes, previous
}

// PatchChanges reports which properties p would change on current, without
// validating ranges. Unknown keys are reported as changes.
func PatchChanges(current Status, p Patch) Changes {
	before := StatusMap(current)
	out := Changes{}
	for k, v := range p {
		old, ok := before[k]
		if !ok || !sameValue(old, v) {
			out[k] = v
		}
	}
	return out
}

// sameValue compares a stored value with a patch value, treating numbers of
// different Go types as equal when they are numerically equal.
func sameValue(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// ToFloat converts any Go numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
