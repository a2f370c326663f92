package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Kind is the value kind of a status property.
type Kind string

// Property kinds.
const (
	KindBool   Kind = "bool"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindTime   Kind = "time"
)

// schema describes one Status variant.
type schema struct {
	zero       Status
	decode     func(raw []byte) (Status, error)
	properties map[string]Kind
}

var schemas = map[Type]schema{
	TypeLight:         newSchema(LightStatus{Brightness: 100, Color: "#ffffff", ColorTemperature: 2700}),
	TypeThermostat:    newSchema(ThermostatStatus{TargetTemperature: 20, CurrentTemperature: 20, Mode: ModeOff}),
	TypeLock:          newSchema(LockStatus{BatteryLevel: 100}),
	TypeDoorSensor:    newSchema(DoorSensorStatus{BatteryLevel: 100}),
	TypeMotionSensor:  newSchema(MotionSensorStatus{BatteryLevel: 100}),
	TypeWaterSensor:   newSchema(WaterSensorStatus{BatteryLevel: 100}),
	TypeSmokeDetector: newSchema(SmokeDetectorStatus{BatteryLevel: 100}),
	TypeCamera:        newSchema(CameraStatus{Volume: 50}),
	TypeSpeaker:       newSchema(SpeakerStatus{Volume: 30}),
	TypeAirPurifier:   newSchema(AirPurifierStatus{}),
	TypeWaterMeter:    newSchema(WaterMeterStatus{}),
	TypeBlinds:        newSchema(BlindsStatus{}),
	TypeAppliance:     newSchema(ApplianceStatus{}),
}

func newSchema[T Status](zero T) schema {
	return schema{
		zero:       zero,
		decode:     decodeStrict[T],
		properties: propertyKinds(reflect.TypeOf(zero)),
	}
}

// decodeStrict decodes raw into the variant T, rejecting unknown fields.
func decodeStrict[T Status](raw []byte) (Status, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

var timePtrType = reflect.TypeOf((*time.Time)(nil))

// propertyKinds maps each JSON property of a variant struct to its Kind.
func propertyKinds(t reflect.Type) map[string]Kind {
	kinds := make(map[string]Kind)
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		switch {
		case f.Type == timePtrType:
			kinds[name] = KindTime
		case f.Type.Kind() == reflect.Bool:
			kinds[name] = KindBool
		case f.Type.Kind() == reflect.String:
			kinds[name] = KindString
		case f.Type.Kind() >= reflect.Int && f.Type.Kind() <= reflect.Float64:
			kinds[name] = KindNumber
		}
	}
	return kinds
}

func schemaFor(t Type) (schema, error) {
	s, ok := schemas[t]
	if !ok {
		return schema{}, fmt.Errorf("%w: %q", ErrInvalidDeviceType, t)
	}
	return s, nil
}

// NewStatus returns the default status for a device type.
func NewStatus(t Type) (Status, error) {
	s, err := schemaFor(t)
	if err != nil {
		return nil, err
	}
	return s.zero, nil
}

// DecodeStatus decodes a complete JSON status for type t. Unknown keys or
// values of the wrong kind wrap ErrTypeMismatch; range violations wrap
// ErrOutOfRange.
func DecodeStatus(t Type, raw []byte) (Status, error) {
	s, err := schemaFor(t)
	if err != nil {
		return nil, err
	}
	status, err := s.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, t, err)
	}
	if err := status.Validate(); err != nil {
		return nil, err
	}
	return status, nil
}

// Properties returns the property names and kinds declared by type t, or nil
// for an unknown type. The returned map is a copy.
func Properties(t Type) map[string]Kind {
	s, ok := schemas[t]
	if !ok {
		return nil
	}
	out := make(map[string]Kind, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}

// PropertyKind returns the kind of property on type t.
func PropertyKind(t Type, property string) (Kind, bool) {
	s, ok := schemas[t]
	if !ok {
		return "", false
	}
	k, ok := s.properties[property]
	return k, ok
}

// PropertyNames returns the sorted property names of type t.
func PropertyNames(t Type) []string {
	props := Properties(t)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusMap renders a status as a generic map keyed by property name.
// Numbers are float64 and times are RFC 3339 strings, matching what a JSON
// client would send. A nil status yields an empty map.
func StatusMap(s Status) map[string]any {
	out := make(map[string]any)
	if s == nil {
		return out
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out) //nolint:errcheck // round trip of our own output
	return out
}
