// Package arbiter implements the AI-lock override gatekeeper.
//
// Every device mutation passes through device.Store.Apply, which consults
// the Arbiter while holding only the target device's write lock. A device
// whose status has isLockedByAI set refuses changes from manual commands,
// rules, routines and scenarios alike. The lock itself is an ordinary status
// property, but only a source carrying the trusted capability may write it.
//
// # Usage
//
//	arb := arbiter.New(cfg.Security.Guardian.TrustedCapability)
//	store.SetAuthorizer(arb)
//
//	src := device.Source{Kind: device.SourceManual}.WithCapabilities(arbiter.DefaultTrustedCapability)
//	_, err := store.Apply(ctx, "front-door", device.Patch{"isLockedByAI": false}, src)
//
// # Thread Safety
//
// Arbiter is immutable after construction and safe for concurrent use.
// Policies must be safe for concurrent use too.
package arbiter
