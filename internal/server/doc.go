// Package server runs the ytwatch REST service.
//
// # Overview
//
// Server owns the HTTP listener, the store and the management token verifier.
// It is built from a config.Config and either opens the SQLite store itself
// (New) or takes one from the caller (NewWithStore, used by tests).
//
// # Routes
//
// Device endpoints authenticate with an API key (X-API-Key):
//
//	POST /api/v1/register                 open, rate limited per client IP
//	GET|POST /api/v1/heartbeat/{device_id}
//	POST /api/v1/watch-history            1-100 items, validated as a whole
//	GET  /api/v1/blocks/{device_id}       global plus device-scoped rules
//	POST /api/v1/blocks/attempts
//
// Management endpoints require a bearer JWT with subject "manager":
//
//	POST   /api/v1/auth/login             exchanges the admin password for a token
//	GET    /api/v1/blocks
//	POST   /api/v1/blocks
//	DELETE /api/v1/blocks/{id}
//	GET    /api/v1/blocks/attempts
//	GET    /api/v1/blocks/attempts/stats
//	GET    /api/v1/devices
//	GET    /api/v1/devices/{device_id}/history
//
// GET /health, GET / and, when enabled, the Prometheus metrics endpoint are
// unauthenticated.
//
// # Errors
//
// Every error body has the shape {"error": message, "kind": kind} with kind one
// of validation, unauthenticated, forbidden, not_found, rate_limited or
// internal. Rejected history batches add "items": [{"index", "message"}].
//
// # Lifecycle
//
// Run listens on server.http_addr, or on the tailnet through tsnet when
// tailscale.enabled is set, and blocks until the context is canceled. Shutdown
// drains in-flight requests and closes the store.
package server
