// ABOUTME: HTTP middleware: request logging and metrics, rate limits, body limits, gzip bodies
// ABOUTME: Rate limiting uses go-chi/httprate keyed by socket peer; gzip uses klauspost/compress

package server

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/klauspost/compress/gzip"

	"github.com/2389/ytwatch/internal/auth"
)

// observe logs each request and records it in the HTTP metrics.
// It runs after RequestID so the id is available for both.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		if reqID != "" {
			w.Header().Set("X-Request-Id", reqID)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		route := routePattern(r)
		s.metrics.observeRequest(r.Method, route, status, elapsed)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		} else if r.URL.Path == "/health" || route == s.config.Metrics.Path {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
			"remote", r.RemoteAddr,
			"request_id", reqID,
		)
	})
}

// routePattern returns the matched chi pattern, which keeps metric label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// realIP honours X-Forwarded-For and X-Real-IP only when the socket peer is a
// configured trusted proxy. Other requests keep their RemoteAddr, so clients
// cannot pick their own rate-limit bucket.
func (s *Server) realIP(next http.Handler) http.Handler {
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.trustedPeer(r.RemoteAddr) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) trustedPeer(remoteAddr string) bool {
	if len(s.trustedProxies) == 0 {
		return false
	}
	var addr netip.Addr
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		addr = ap.Addr()
	} else if a, err := netip.ParseAddr(remoteAddr); err == nil {
		addr = a
	} else {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// rateLimit allows requests per window per client IP and answers 429 beyond that.
// The key is RemoteAddr, which realIP rewrites only for trusted proxies.
func rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, kindRateLimited, "too many requests, please try again later")
		}),
	)
}

// limitBody caps the raw request body at server.max_body_bytes.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// decodeGzip transparently inflates "Content-Encoding: gzip" request bodies.
// The inflated stream is capped at the same limit as raw bodies.
func (s *Server) decodeGzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := strings.TrimSpace(r.Header.Get("Content-Encoding"))
		if encoding == "" || strings.EqualFold(encoding, "identity") {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.EqualFold(encoding, "gzip") {
			writeError(w, http.StatusUnsupportedMediaType, kindValidation, "unsupported content encoding "+encoding)
			return
		}

		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindValidation, "invalid gzip body")
			return
		}
		defer func() { _ = zr.Close() }()

		r.Body = http.MaxBytesReader(w, zr, s.config.Server.MaxBodyBytes)
		r.Header.Del("Content-Encoding")
		r.ContentLength = -1
		next.ServeHTTP(w, r)
	})
}

// requireManager guards the management routes with the JWT verifier.
// Without auth.jwt_secret the routes exist but always refuse.
func (s *Server) requireManager(next http.Handler) http.Handler {
	if s.verifier == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusForbidden, kindForbidden, "management API disabled: set auth.jwt_secret")
		})
	}
	return auth.ManagerAuthMiddleware(s.verifier)(next)
}
