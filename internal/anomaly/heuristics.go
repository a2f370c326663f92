package anomaly

import (
	"fmt"
	"math"

	"github.com/nerrad567/homeflow/internal/device"
)

// Heuristic names. Each is latched separately per device.
const (
	HeuristicWaterLeak       = "water_leak"
	HeuristicHighFlow        = "high_flow"
	HeuristicSmoke           = "smoke"
	HeuristicOpenWhileLocked = "open_while_locked"
	HeuristicMotionWhileHeld = "motion_while_held"
	HeuristicJammed          = "jammed"
	HeuristicDeviceError     = "device_error"
	HeuristicThermostatDrift = "thermostat_drift"
	HeuristicLowBattery      = "low_battery"
	HeuristicUsageCycles     = "usage_cycles"
)

// Thresholds are the limits used by the numeric heuristics.
type Thresholds struct {
	// LowBattery is the battery percentage below which an info alert is
	// raised.
	LowBattery int

	// ThermostatDrift is the allowed gap in °C between current and target
	// temperature of a running thermostat.
	ThermostatDrift float64

	// LeakFlowRate is the water meter flow in L/min treated as a leak.
	LeakFlowRate float64

	// MaintenanceCycles is the on/off cycle count after which a device is
	// due for service.
	MaintenanceCycles int64
}

// DefaultThresholds returns the limits used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowBattery:        15,
		ThermostatDrift:   5,
		LeakFlowRate:      30,
		MaintenanceCycles: 10000,
	}
}

// Finding is one heuristic match against a snapshot.
type Finding struct {
	DeviceID        string
	Heuristic       string
	Type            Type
	Severity        Severity
	Message         string
	SuggestedAction string
}

func (f Finding) key() string { return latchKey(f.DeviceID, f.Heuristic) }

// Pass selects which heuristics run.
type Pass int

const (
	// PassEvent runs the heuristics that react to discrete state changes.
	PassEvent Pass = iota

	// PassTick runs the heuristics with no discrete trigger: thermostat
	// drift and low battery.
	PassTick
)

// heuristic maps a device state pattern to a finding. check returns false
// when the pattern does not hold.
type heuristic struct {
	name  string
	pass  Pass
	check func(d *device.Device, snap device.Snapshot, th Thresholds) (Finding, bool)
}

var heuristics = []heuristic{
	{HeuristicWaterLeak, PassEvent, checkWaterLeak},
	{HeuristicHighFlow, PassEvent, checkHighFlow},
	{HeuristicSmoke, PassEvent, checkSmoke},
	{HeuristicOpenWhileLocked, PassEvent, checkOpenWhileLocked},
	{HeuristicMotionWhileHeld, PassEvent, checkMotionWhileHeld},
	{HeuristicJammed, PassEvent, checkJammed},
	{HeuristicDeviceError, PassEvent, checkDeviceError},
	{HeuristicUsageCycles, PassEvent, checkUsageCycles},
	{HeuristicThermostatDrift, PassTick, checkThermostatDrift},
	{HeuristicLowBattery, PassTick, checkLowBattery},
}

// HeuristicsFor returns the names of the heuristics run by pass.
func HeuristicsFor(pass Pass) []string {
	var out []string
	for _, h := range heuristics {
		if h.pass == pass {
			out = append(out, h.name)
		}
	}
	return out
}

// Evaluate runs the heuristics of pass against every device in snap and
// returns the findings in device order. It has no side effects.
func Evaluate(snap device.Snapshot, th Thresholds, pass Pass) []Finding {
	var out []Finding
	for _, d := range snap.Devices() {
		d := d
		for _, h := range heuristics {
			if h.pass != pass {
				continue
			}
			if f, ok := h.check(&d, snap, th); ok {
				f.DeviceID = d.ID
				f.Heuristic = h.name
				out = append(out, f)
			}
		}
	}
	return out
}

func checkWaterLeak(d *device.Device, _ device.Snapshot, _ Thresholds) (Finding, bool) {
	s, ok := d.Status.(device.WaterSensorStatus)
	if !ok || !s.IsLeaking {
		return Finding{}, false
	}
	return Finding{
		Type:            TypeLeak,
		Severity:        SeverityCritical,
		Message:         fmt.Sprintf("Water detected by %s", d.Name),
		SuggestedAction: "Shut off the water supply and check the area around the sensor.",
	}, true
}

func checkHighFlow(d *device.Device, _ device.Snapshot, th Thresholds) (Finding, bool) {
	s, ok := d.Status.(device.WaterMeterStatus)
	if !ok || th.LeakFlowRate <= 0 || s.FlowRate <= th.LeakFlowRate {
		return Finding{}, false
	}
	return Finding{
		Type:            TypeLeak,
		Severity:        SeverityWarning,
		Message:         fmt.Sprintf("%s reports %.1f L/min, above %.1f L/min", d.Name, s.FlowRate, th.LeakFlowRate),
		SuggestedAction: "Check for running taps or a burst pipe.",
	}, true
}

func checkSmoke(d *device.Device, _ device.Snapshot, _ Thresholds) (Finding, bool) {
	s, ok := d.Status.(device.SmokeDetectorStatus)
	if !ok || !s.SmokeDetected {
		return Finding{}, false
	}
	return Finding{
		Type:            TypeSmoke,
		Severity:        SeverityCritical,
		Message:         fmt.Sprintf("Smoke detected by %s", d.Name),
		SuggestedAction: "Leave the building and call emergency services if there is a fire.",
	}, true
}

// checkOpenWhileLocked flags a door sensor reporting open while a lock in
// the same room is locked.
func checkOpenWhileLocked(d *device.Device, snap device.Snapshot, _ Thresholds) (Finding, bool) {
	s, ok := d.Status.(device.DoorSensorStatus)
	if !ok || !s.IsOpen || d.RoomID == "" {
		return Finding{}, false
	}
	for _, other := range snap.InRoom(d.RoomID) {
		lock, ok := other.Status.(device.LockStatus)
		if ok && lock.IsLocked {
			return Finding{
				Type:            TypeBreach,
				Severity:        SeverityCritical,
				Message:         fmt.Sprintf("%s opened while %s is locked", d.Name, other.Name),
				SuggestedAction: "Check the door and review camera footage.",
			}, true
		}
	}
	return Finding{}, false
}

// checkMotionWhileHeld flags motion in a room whose lock is held by the AI
// safety lock.
func checkMotionWhileHeld(d *device.Device, snap device.Snapshot, _ Thresholds) (Finding, bool) {
	s, ok := d.Status.(device.MotionSensorStatus)
	if !ok || !s.MotionDetected || d.RoomID == "" {
		return Finding{}, false
	}
	for _, other := range snap.InRoom(d.RoomID) {
		if other.Type == device.TypeLock && other.Status.AILocked() {
			return Finding{
				Type:            TypeBreach,
				Severity:        SeverityWarning,
				Message:         fmt.Sprintf("Motion at %s while %s is held by the safety lock", d.Name, other.Name),
				SuggestedAction: "Confirm who is in the room.",
			}, true
		}
	}
	return Finding{}, false
}

func checkJammed(d *device.Device, _ device.Snapshot, _ Thresholds) (Finding, bool) {
	s, ok := d.Status.(device.LockStatus)
	if !ok || !s.IsJammed {
		return Finding{}, false
	}
	return Finding{
		Type:            TypeMalfunction,
		Severity:        SeverityWarning,
		Message:         fmt.Sprintf("%s is jammed", d.Name),
		SuggestedAction: "Clear the obstruction and operate the lock manually.",
	}, true
}

func checkDeviceError(d *device.Device, _ device.Snapshot, _ Thresholds) (Finding, bool) {
	switch {
	case d.ErrorStatus != nil && *d.ErrorStatus != "":
		return Finding{
			Type:            TypeMalfunction,
			Severity:        SeverityWarning,
			Message:         fmt.Sprintf("%s reports an error: %s", d.Name, *d.ErrorStatus),
			SuggestedAction: "Power-cycle the device and check its manual for the error.",
		}, true
	case d.ConnectionIssues:
		return Finding{
			Type:            TypeMalfunction,
			Severity:        SeverityWarning,
			Message:         fmt.Sprintf("%s has connection issues", d.Name),
			SuggestedAction: "Check the device's power and network connection.",
		}, true
	}
	return Finding{}, false
}

func checkUsageCycles(d *device.Device, _ device.Snapshot, th Thresholds) (Finding, bool) {
	if d.Usage == nil || th.MaintenanceCycles <= 0 || d.Usage.Cycles < th.MaintenanceCycles {
		return Finding{}, false
	}
	return Finding{
		Type:            TypeMaintenance,
		Severity:        SeverityInfo,
		Message:         fmt.Sprintf("%s has completed %d cycles", d.Name, d.Usage.Cycles),
		SuggestedAction: "Schedule routine maintenance.",
	}, true
}

func checkThermostatDrift(d *device.Device, _ device.Snapshot, th Thresholds) (Finding, bool) {
	s, ok := d.Status.(device.ThermostatStatus)
	if !ok || !s.IsOn || s.Mode == device.ModeOff || th.ThermostatDrift <= 0 {
		return Finding{}, false
	}
	gap := math.Abs(s.CurrentTemperature - s.TargetTemperature)
	if gap <= th.ThermostatDrift {
		return Finding{}, false
	}
	return Finding{
		Type:     TypeMalfunction,
		Severity: SeverityWarning,
		Message: fmt.Sprintf("%s is %.1f°C from its target of %.1f°C",
			d.Name, gap, s.TargetTemperature),
		SuggestedAction: "Check windows, the boiler and the thermostat's placement.",
	}, true
}

func checkLowBattery(d *device.Device, _ device.Snapshot, th Thresholds) (Finding, bool) {
	raw, ok := device.StatusMap(d.Status)["batteryLevel"]
	if !ok {
		return Finding{}, false
	}
	level, ok := device.ToFloat(raw)
	if !ok || level >= float64(th.LowBattery) {
		return Finding{}, false
	}
	return Finding{
		Type:            TypeMaintenance,
		Severity:        SeverityInfo,
		Message:         fmt.Sprintf("%s battery is at %.0f%%", d.Name, level),
		SuggestedAction: "Replace or recharge the battery.",
	}, true
}
