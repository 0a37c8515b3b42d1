// ABOUTME: JSON response helpers shared by every handler
// ABOUTME: Writes bodies and the {"error","kind","items"} error shape

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/ytwatch/internal/auth"
)

// Error kinds carried in the "kind" field of error bodies.
const (
	kindValidation      = "validation"
	kindUnauthenticated = auth.KindUnauthenticated
	kindForbidden       = auth.KindForbidden
	kindNotFound        = "not_found"
	kindRateLimited     = "rate_limited"
	kindInternal        = auth.KindInternal
)

// itemError points at one invalid element of a batch.
type itemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string      `json:"error"`
	Kind  string      `json:"kind"`
	Items []itemError `json:"items,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeItemErrors(w http.ResponseWriter, msg string, items []itemError) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: kindValidation, Items: items})
}

// decodeJSON reads the request body into dst. On failure it writes the error
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, kindValidation, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, kindValidation, "invalid JSON body")
		return false
	}
	return true
}

// parseLimit reads the optional ?limit= query parameter. Zero means "use the default".
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, kindValidation, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
