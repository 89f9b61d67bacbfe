// Package middleware contains HTTP middleware for the trip search API.
//
// RequestLogger provides structured logging for all API requests,
// including method, route, status code, latency and request id.
package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/observability"
)

type contextKey string

const requestIDKey contextKey = "request-id"

// RequestIDHeader is read from and echoed on every response.
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket feed take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RequestID tags the request context with the caller's X-Request-ID or a
// fresh UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFrom returns the id set by RequestID, if any.
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestLogger logs every HTTP request and records it in the HTTP metrics.
func RequestLogger(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			latency := time.Since(start)
			route := routeTemplate(r)
			status := strconv.Itoa(rw.statusCode)

			observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			observability.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(latency.Seconds())

			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"route":      route,
				"status":     rw.statusCode,
				"latency_ms": float64(latency.Microseconds()) / 1000,
				"request_id": RequestIDFrom(r.Context()),
			})
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("http request")
				return
			}
			entry.Info("http request")
		})
	}
}

// Recoverer catches panics in handlers and returns a 500 response
// instead of crashing the entire server.
func Recoverer(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(logrus.Fields{
						"method":     r.Method,
						"path":       r.URL.Path,
						"panic":      err,
						"request_id": RequestIDFrom(r.Context()),
					}).Error("handler panicked")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal_server_error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS adds headers so browser-based clients can call the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, "+RequestIDHeader)
		w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func routeTemplate(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
