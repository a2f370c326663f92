// Package telemetry records engine activity outside the engine.
//
// A Recorder subscribes to the event bus and forwards device changes,
// automation firings and alert transitions to an InfluxDB PointWriter, and
// keeps a Redis Mirror of the latest device status and active alerts. Both
// sinks are optional and neither can slow the engine: the recorder runs on
// its own bus subscription and logs sink failures instead of returning them.
package telemetry
