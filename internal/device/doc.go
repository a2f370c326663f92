// Package device provides the Device Registry and State Store for Homeflow.
//
// The Store is the authoritative map from device ID to typed status and the
// only way to change a device. Every other component reads snapshots and
// writes through Store.Apply.
//
// # Architecture
//
//	  command (API, MQTT, rule, routine, scenario)
//	        │
//	        ▼
//	┌────────────────────────────────────────────────────────────┐
//	│                         Store.Apply                         │
//	│                                                             │
//	│  per-device lock ─▶ ApplyPatch ─▶ Authorizer ─▶ Repository  │
//	│                     (schema)      (arbiter)     (SQLite)    │
//	│                                                             │
//	│  swap snapshot ─▶ state history ─▶ publish state_changed    │
//	└────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Device: identity, typed Status, diagnostics and usage counters
//   - Status: sealed interface with one variant per Type (LightStatus,
//     ThermostatStatus, LockStatus, ...). Every variant embeds Lockable.
//   - Patch: partial status; unknown keys fail with ErrTypeMismatch and
//     range violations with ErrOutOfRange
//   - Source: who asked for a change and which capabilities it holds
//   - Snapshot: point-in-time, read-only view used by the rule engine and
//     the anomaly detector
//   - StateChange: payload of events.TopicDeviceStateChanged
//
// # Usage
//
//	store := device.NewStore(device.NewSQLiteRepository(db.DB), bus, log)
//	store.SetAuthorizer(arbiter.New(cfg.Security.Guardian.TrustedCapability))
//	store.SetHistory(device.NewSQLiteStateHistoryRepository(db.DB))
//	if err := store.Load(ctx); err != nil {
//	    return err
//	}
//
//	dev, err := store.Apply(ctx, "kitchen", device.Patch{"isOn": true, "brightness": 60},
//	    device.Source{Kind: device.SourceManual})
//	if errors.Is(err, device.ErrLocked) {
//	    // device restricted
//	}
//
// # Thread Safety
//
// The Store is safe for concurrent use. Writes to one device are serialised
// by that device's mutex; writes to different devices run concurrently.
// The map lock is only held for lookups and the pointer swap that publishes
// a new value, so reads never wait for an Authorizer decision.
package device
