// Package influxdb writes Homeflow telemetry to InfluxDB v2.
//
// Three measurements are recorded:
//   - device_state: changed properties per device, tagged by type and room
//   - alert: anomaly alert transitions, tagged by type, severity and status
//   - automation_run: rule, routine and scenario firings
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("hall-light", "light", "hall",
//	    map[string]any{"isOn": true}, time.Now())
//
// Writes are batched and never block the caller. A disconnected or closed
// client drops points silently.
package influxdb
