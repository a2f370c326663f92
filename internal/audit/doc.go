// Package audit keeps a persistent trail of safety-relevant activity.
//
// The Recorder listens on the event bus and writes an Entry when:
//   - the AI safety lock of a device is set or cleared (with the source
//     and its capabilities, so guardian overrides are attributable)
//   - an automation action fails, or is blocked by a locked device
//   - an alert is acknowledged, with the user's feedback
//
// Entries are read back through Repository.List and the /api/v1/audit
// endpoint.
package audit
