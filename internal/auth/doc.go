// Package auth provides authentication for the ytwatch service.
//
// # Device API keys
//
// Monitored devices authenticate every protocol call with the UUID key they
// received at registration:
//
//	X-API-Key: 7b0c...          (preferred)
//	Authorization: Bearer 7b0c... (fallback)
//
// APIKeyMiddleware resolves the key through a DeviceLookup (the credential
// store) and attaches the device with WithDevice. Handlers that take a device
// id in the path or body call RequireSameDevice, which writes a 403 when the
// id differs from the authenticated device.
//
// # Management tokens
//
// The monitoring party authenticates with HS256 JWTs whose subject is
// ManagerSubject. Tokens are minted by the login endpoint after CheckPassword
// succeeds against the bcrypt hash in config, or offline with the server's
// token command. ManagerAuthMiddleware guards the management routes.
//
// # Errors
//
// Both middlewares answer with JSON bodies of the form
//
//	{"error": "invalid API key", "kind": "unauthenticated"}
//
// using the same kinds as the rest of the REST surface.
package auth
