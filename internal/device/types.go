package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// timestampLayout is the fixed-width UTC layout used for stored timestamps,
// so that lexical order in SQLite matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Type is the device classification. It selects the Status variant.
type Type string

// Device types.
const (
	TypeLight         Type = "light"
	TypeThermostat    Type = "thermostat"
	TypeLock          Type = "lock"
	TypeDoorSensor    Type = "door_sensor"
	TypeMotionSensor  Type = "motion_sensor"
	TypeWaterSensor   Type = "water_sensor"
	TypeSmokeDetector Type = "smoke_detector"
	TypeCamera        Type = "camera"
	TypeSpeaker       Type = "speaker"
	TypeAirPurifier   Type = "air_purifier"
	TypeWaterMeter    Type = "water_meter"
	TypeBlinds        Type = "blinds"
	TypeAppliance     Type = "appliance"
)

// AllTypes returns every supported device type.
func AllTypes() []Type {
	return []Type{
		TypeLight, TypeThermostat, TypeLock, TypeDoorSensor, TypeMotionSensor,
		TypeWaterSensor, TypeSmokeDetector, TypeCamera, TypeSpeaker,
		TypeAirPurifier, TypeWaterMeter, TypeBlinds, TypeAppliance,
	}
}

// Valid reports whether t is a supported device type.
func (t Type) Valid() bool {
	_, ok := schemas[t]
	return ok
}

// Device is a controllable or sensing endpoint with a typed status.
//
// A Device handed out by the Store is a private copy. Mutating it has no
// effect on engine state; changes go through Store.Apply.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoomID string `json:"room_id"`
	Type   Type   `json:"type"`

	// Status always holds the variant matching Type.
	Status Status `json:"status"`

	// Diagnostics
	EnergyUsage      *float64 `json:"energy_usage,omitempty"`
	ErrorStatus      *string  `json:"error_status,omitempty"`
	ConnectionIssues bool     `json:"connection_issues"`

	Usage *UsageCounters `json:"usage,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageCounters are lifetime counters used for maintenance prediction.
// Only devices with an isOn property accumulate them.
type UsageCounters struct {
	// Cycles counts off→on transitions.
	Cycles int64 `json:"cycles"`

	// OnSeconds is the accumulated on-time of completed cycles.
	OnSeconds int64 `json:"on_seconds"`

	// OnSince is set while the device is on.
	OnSince *time.Time `json:"on_since,omitempty"`
}

// Diagnostics is a partial update of a device's health fields. Nil fields are
// left unchanged.
type Diagnostics struct {
	EnergyUsage      *float64 `json:"energy_usage,omitempty"`
	ErrorStatus      *string  `json:"error_status,omitempty"`
	ConnectionIssues *bool    `json:"connection_issues,omitempty"`
}

// Clone returns an independent copy of the device.
//
// Status variants are plain values, so copying the interface copies the
// variant. Pointer fields are duplicated.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.EnergyUsage != nil {
		v := *d.EnergyUsage
		c.EnergyUsage = &v
	}
	if d.ErrorStatus != nil {
		v := *d.ErrorStatus
		c.ErrorStatus = &v
	}
	if d.Usage != nil {
		u := *d.Usage
		if d.Usage.OnSince != nil {
			t := *d.Usage.OnSince
			u.OnSince = &t
		}
		c.Usage = &u
	}
	return &c
}

// UnmarshalJSON decodes a device, selecting the Status variant from "type".
func (d *Device) UnmarshalJSON(data []byte) error {
	type plain Device
	var aux struct {
		plain
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = Device(aux.plain)

	if len(aux.Status) == 0 || string(aux.Status) == "null" {
		d.Status = nil
		return nil
	}
	status, err := DecodeStatus(d.Type, aux.Status)
	if err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	d.Status = status
	return nil
}
