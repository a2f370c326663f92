package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDeviceState   = "device_state"
	MeasurementAlert         = "alert"
	MeasurementAutomationRun = "automation_run"
)

// WriteDeviceState records the changed properties of one device.
// Only bool, numeric and string values become fields; nested values are
// skipped. Nothing is written when no field survives.
func (c *Client) WriteDeviceState(deviceID, deviceType, roomID string, changes map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if p := deviceStatePoint(deviceID, deviceType, roomID, changes, ts); p != nil {
		c.writer.WritePoint(p)
	}
}

// WriteAlert records one alert lifecycle transition.
func (c *Client) WriteAlert(alertID, alertType, severity, deviceID, status string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(alertPoint(alertID, alertType, severity, deviceID, status, ts))
}

// WriteAutomationRun records one rule, routine or scenario firing.
func (c *Client) WriteAutomationRun(kind, automationID string, actions int, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(MeasurementAutomationRun,
		map[string]string{"kind": kind, "automation_id": automationID},
		map[string]any{"actions": actions},
		ts))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func deviceStatePoint(deviceID, deviceType, roomID string, changes map[string]any, ts time.Time) *write.Point {
	fields := make(map[string]any, len(changes))
	for k, v := range changes {
		switch v.(type) {
		case bool, string, float64, float32, int, int64, int32, uint, uint64:
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"device_id": deviceID, "type": deviceType}
	if roomID != "" {
		tags["room_id"] = roomID
	}
	return write.NewPoint(MeasurementDeviceState, tags, fields, ts)
}

func alertPoint(alertID, alertType, severity, deviceID, status string, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementAlert,
		map[string]string{
			"type":      alertType,
			"severity":  severity,
			"device_id": deviceID,
			"status":    status,
		},
		map[string]any{"alert_id": alertID, "count": 1},
		ts)
}
