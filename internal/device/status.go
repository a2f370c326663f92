package device

import (
	"fmt"
	"regexp"
	"time"
)

// Status is the typed state of a device. There is one implementation per
// device Type, and the set is closed: only this package can add variants.
//
// Variants are plain values. Copying a Status copies the state.
type Status interface {
	// DeviceType returns the Type this variant belongs to.
	DeviceType() Type

	// AILocked reports whether the AI safety lock is engaged.
	AILocked() bool

	// Validate checks ranges and enumerations. It wraps ErrOutOfRange.
	Validate() error

	isStatus()
}

// Lockable is embedded in every variant and carries the AI safety lock.
type Lockable struct {
	IsLockedByAI bool `json:"isLockedByAI"`
}

// LockProperty is the status property that holds the AI safety lock.
const LockProperty = "isLockedByAI"

// AILocked reports whether the lock is engaged.
func (l Lockable) AILocked() bool { return l.IsLockedByAI }

func (Lockable) isStatus() {}

// Thermostat modes.
const (
	ModeHeat = "heat"
	ModeCool = "cool"
	ModeAuto = "auto"
	ModeEco  = "eco"
	ModeOff  = "off"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// LightStatus is the status of a light.
type LightStatus struct {
	Lockable
	IsOn             bool   `json:"isOn"`
	Brightness       int    `json:"brightness"`
	Color            string `json:"color"`
	ColorTemperature int    `json:"colorTemperature"`
}

func (LightStatus) DeviceType() Type { return TypeLight }

func (s LightStatus) Validate() error {
	if err := inRange("brightness", float64(s.Brightness), 0, 100); err != nil {
		return err
	}
	if !colorPattern.MatchString(s.Color) {
		return fmt.Errorf("%w: color %q is not #rrggbb", ErrOutOfRange, s.Color)
	}
	return inRange("colorTemperature", float64(s.ColorTemperature), 1000, 10000)
}

// ThermostatStatus is the status of a heating/cooling controller.
type ThermostatStatus struct {
	Lockable
	IsOn               bool    `json:"isOn"`
	TargetTemperature  float64 `json:"targetTemperature"`
	CurrentTemperature float64 `json:"currentTemperature"`
	Mode               string  `json:"mode"`
}

func (ThermostatStatus) DeviceType() Type { return TypeThermostat }

func (s ThermostatStatus) Validate() error {
	if err := inRange("targetTemperature", s.TargetTemperature, 5, 35); err != nil {
		return err
	}
	switch s.Mode {
	case ModeHeat, ModeCool, ModeAuto, ModeEco, ModeOff:
		return nil
	default:
		return fmt.Errorf("%w: mode %q", ErrOutOfRange, s.Mode)
	}
}

// LockStatus is the status of a door lock.
type LockStatus struct {
	Lockable
	IsLocked     bool `json:"isLocked"`
	IsJammed     bool `json:"isJammed"`
	BatteryLevel int  `json:"batteryLevel"`
}

func (LockStatus) DeviceType() Type { return TypeLock }

func (s LockStatus) Validate() error {
	return inRange("batteryLevel", float64(s.BatteryLevel), 0, 100)
}

// DoorSensorStatus is the status of a contact sensor.
type DoorSensorStatus struct {
	Lockable
	IsOpen       bool       `json:"isOpen"`
	LastEventAt  *time.Time `json:"lastEventAt"`
	BatteryLevel int        `json:"batteryLevel"`
}

func (DoorSensorStatus) DeviceType() Type { return TypeDoorSensor }

func (s DoorSensorStatus) Validate() error {
	return inRange("batteryLevel", float64(s.BatteryLevel), 0, 100)
}

// MotionSensorStatus is the status of a motion sensor.
type MotionSensorStatus struct {
	Lockable
	MotionDetected bool       `json:"motionDetected"`
	LastEventAt    *time.Time `json:"lastEventAt"`
	BatteryLevel   int        `json:"batteryLevel"`
}

func (MotionSensorStatus) DeviceType() Type { return TypeMotionSensor }

func (s MotionSensorStatus) Validate() error {
	return inRange("batteryLevel", float64(s.BatteryLevel), 0, 100)
}

// WaterSensorStatus is the status of a leak sensor.
type WaterSensorStatus struct {
	Lockable
	IsLeaking    bool       `json:"isLeaking"`
	LastEventAt  *time.Time `json:"lastEventAt"`
	BatteryLevel int        `json:"batteryLevel"`
}

func (WaterSensorStatus) DeviceType() Type { return TypeWaterSensor }

func (s WaterSensorStatus) Validate() error {
	return inRange("batteryLevel", float64(s.BatteryLevel), 0, 100)
}

// SmokeDetectorStatus is the status of a smoke detector.
type SmokeDetectorStatus struct {
	Lockable
	SmokeDetected bool       `json:"smokeDetected"`
	LastEventAt   *time.Time `json:"lastEventAt"`
	BatteryLevel  int        `json:"batteryLevel"`
}

func (SmokeDetectorStatus) DeviceType() Type { return TypeSmokeDetector }

func (s SmokeDetectorStatus) Validate() error {
	return inRange("batteryLevel", float64(s.BatteryLevel), 0, 100)
}

// CameraStatus is the status of a camera.
type CameraStatus struct {
	Lockable
	IsStreaming bool `json:"isStreaming"`
	IsRecording bool `json:"isRecording"`
	Volume      int  `json:"volume"`
}

func (CameraStatus) DeviceType() Type { return TypeCamera }

func (s CameraStatus) Validate() error {
	return inRange("volume", float64(s.Volume), 0, 100)
}

// SpeakerStatus is the status of a speaker.
type SpeakerStatus struct {
	Lockable
	IsPlaying bool   `json:"isPlaying"`
	Volume    int    `json:"volume"`
	Track     string `json:"track"`
}

func (SpeakerStatus) DeviceType() Type { return TypeSpeaker }

func (s SpeakerStatus) Validate() error {
	return inRange("volume", float64(s.Volume), 0, 100)
}

// AirPurifierStatus is the status of an air purifier.
type AirPurifierStatus struct {
	Lockable
	IsOn     bool `json:"isOn"`
	FanSpeed int  `json:"fanSpeed"`
	AQI      int  `json:"aqi"`
}

func (AirPurifierStatus) DeviceType() Type { return TypeAirPurifier }

func (s AirPurifierStatus) Validate() error {
	if err := inRange("fanSpeed", float64(s.FanSpeed), 0, 10); err != nil {
		return err
	}
	return atLeastZero("aqi", float64(s.AQI))
}

// WaterMeterStatus is the status of a water meter. Flow is in L/min and
// volume in litres.
type WaterMeterStatus struct {
	Lockable
	FlowRate    float64 `json:"flowRate"`
	TotalVolume float64 `json:"totalVolume"`
}

func (WaterMeterStatus) DeviceType() Type { return TypeWaterMeter }

func (s WaterMeterStatus) Validate() error {
	if err := atLeastZero("flowRate", s.FlowRate); err != nil {
		return err
	}
	return atLeastZero("totalVolume", s.TotalVolume)
}

// BlindsStatus is the status of a blind or shutter.
type BlindsStatus struct {
	Lockable
	Position int `json:"position"`
	Tilt     int `json:"tilt"`
}

func (BlindsStatus) DeviceType() Type { return TypeBlinds }

func (s BlindsStatus) Validate() error {
	if err := inRange("position", float64(s.Position), 0, 100); err != nil {
		return err
	}
	return inRange("tilt", float64(s.Tilt), 0, 100)
}

// ApplianceStatus is the status of a generic appliance such as a washer.
type ApplianceStatus struct {
	Lockable
	IsOn     bool   `json:"isOn"`
	Mode     string `json:"mode"`
	Progress int    `json:"progress"`
}

func (ApplianceStatus) DeviceType() Type { return TypeAppliance }

func (s ApplianceStatus) Validate() error {
	return inRange("progress", float64(s.Progress), 0, 100)
}

func inRange(property string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s=%v not in [%v, %v]", ErrOutOfRange, property, v, lo, hi)
	}
	return nil
}

func atLeastZero(property string, v float64) error {
	if v < 0 {
		return fmt.Errorf("%w: %s=%v is negative", ErrOutOfRange, property, v)
	}
	return nil
}
