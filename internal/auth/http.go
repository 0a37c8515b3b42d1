// ABOUTME: HTTP middleware for management JWT authentication plus shared error writing
// ABOUTME: Extracts the bearer token, verifies it and puts the subject into the request context

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Error kinds written in the "kind" field of JSON error bodies.
const (
	KindUnauthenticated = "unauthenticated"
	KindForbidden       = "forbidden"
	KindInternal        = "internal"
)

// writeError writes {"error": msg, "kind": kind} with the given status.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// ManagerAuthMiddleware creates an HTTP middleware that requires a valid management token
// whose subject is ManagerSubject.
func ManagerAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, KindUnauthenticated, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, KindUnauthenticated, "invalid token")
				return
			}

			if subject != ManagerSubject {
				writeError(w, http.StatusForbidden, KindForbidden, "management token required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}
