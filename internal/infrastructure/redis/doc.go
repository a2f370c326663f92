// Package redis keeps a read-only mirror of Homeflow state in Redis.
//
// The engine never reads the mirror back; it exists for wall panels and
// dashboards that poll Redis instead of the REST API. Key layout is
// described on Client.
package redis
