// Package anomaly watches device state and raises severity-tagged alerts.
//
// Heuristics (heuristics.go) are pure functions over a device snapshot. The
// Detector runs the event heuristics on every state or diagnostics change and
// the drift and battery heuristics on a periodic tick. It never changes
// device state.
//
// Alerts are edge-triggered per (device, heuristic): once raised, the pair is
// latched until the alert is acknowledged or the condition stops holding.
// Active alerts expire after the configured TTL.
//
// # Key Types
//
//   - Finding: One heuristic match, before it becomes an alert
//   - Alert: A persisted notice with status and user feedback
//   - Detector: Latching, persistence and the alert events
//
// # Thread Safety
//
// Detector is safe for concurrent use. Evaluate is a pure function.
//
// # Usage
//
//	det := anomaly.NewDetector(anomaly.NewSQLiteRepository(db), store, bus,
//	    anomaly.Config{TTL: cfg.Engine.AlertTTL, Tick: cfg.Engine.AnomalyTick}, nil, log)
//	if err := det.Load(ctx); err != nil {
//	    return err
//	}
//	det.Start(ctx)
//	defer det.Stop()
package anomaly
