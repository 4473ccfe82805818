package gateway

import (
	"net/http"
	"strings"
	"time"

	coreerrors "whitelistd/internal/core/errors"
	"whitelistd/internal/logging"
	"whitelistd/internal/netaddr"

	"github.com/gorilla/mux"
)

// loggingMiddleware logs HTTP requests with structured logging
func (g *Gateway) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create a response writer wrapper to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			g.logger.Info("HTTP request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.String("remote_addr", r.RemoteAddr),
				logging.String("user_agent", r.UserAgent()),
				logging.Int("status_code", wrapped.statusCode),
				logging.Duration("duration", duration),
			)

			if g.metrics != nil {
				g.metrics.RecordRequest(r.Method, routeTemplate(r), wrapped.statusCode, duration.Seconds())
			}
		})
	}
}

// securityHeadersMiddleware adds security headers to responses
func (g *Gateway) securityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Del("Server")

			next.ServeHTTP(w, r)
		})
	}
}

// whitelistMiddleware admits a request only when its peer is whitelisted.
// Upgrade requests from IPv4 peers are checked as websocket addresses.
func (g *Gateway) whitelistMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, err := RequestAddress(r)
			if err != nil {
				g.logger.Warn("Rejecting request with unparsable peer",
					logging.String("remote_addr", r.RemoteAddr), logging.Error(err))
				coreerrors.ErrForbidden.WriteHTTP(w)
				return
			}

			allowed := g.whitelist.IsWhitelisted(addr)
			if g.metrics != nil {
				g.metrics.RecordCheck(addr.Family.String(), allowed)
			}
			if !allowed {
				g.logger.LogPeerRejected("request", addr.String(), logging.String("path", r.URL.Path))
				coreerrors.ErrForbidden.WriteHTTP(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestAddress derives the whitelist address of the request's peer.
func RequestAddress(r *http.Request) (netaddr.Address, error) {
	addr, err := netaddr.Parse(r.RemoteAddr)
	if err != nil {
		return netaddr.Address{}, err
	}
	if addr.Family == netaddr.FamilyIPv4 && isWebSocketRequest(r) {
		addr = addr.Websocket()
	}
	return addr, nil
}

// isWebSocketRequest checks if the request is a WebSocket upgrade
func isWebSocketRequest(r *http.Request) bool {
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))
	connection := strings.ToLower(r.Header.Get("Connection"))
	return upgrade == "websocket" && strings.Contains(connection, "upgrade")
}

// routeTemplate keeps metric labels bounded to registered routes.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
		if tpl, err := route.GetPathRegexp(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the reverse proxy needs to hijack websocket upgrades.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
