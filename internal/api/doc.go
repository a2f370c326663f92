// Package api implements the HTTP REST API and WebSocket server for Homeflow.
//
// This package provides:
//   - REST endpoints for devices, rules, routines, scenarios and alerts
//   - the suggestion inbox (request, accept, reject)
//   - location and voice trigger ingress
//   - a WebSocket hub that relays every bus event to subscribed clients
//
// # Architecture
//
// Handlers are thin: they decode the request, call the device store, the
// automation engine or the anomaly detector, and map domain sentinels to
// status codes in one place (writeDomainError). State never flows through
// the API into the bus directly; the WebSocket relay is an ordinary bus
// subscriber.
//
// # Security
//
// The API has no user accounts. Changing the AI safety lock needs a
// guardian token in the X-Guardian-Token header; a mutation denied by the
// arbiter answers 423 with the message "device restricted".
//
// # WebSocket
//
// Clients send {"type":"subscribe","payload":{"channels":["alert.*"]}} and
// receive {"type":"event","event_type":<topic>,"payload":...} frames.
// Channels use the bus pattern syntax: a topic, "*" or "prefix.*".
package api
