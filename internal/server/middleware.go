package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"jitmod/internal/logging"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the request ID assigned by withTracing, or "" when the
// context never passed through the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withTracing assigns each request a short ID, stores it in the context and
// echoes it in the X-Request-ID response header.
func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLogging logs one line per request with the final status and duration.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		rl := logging.WithRequestID(logging.CategoryServer, RequestID(r.Context()))
		rl.Info("%s %s -> %d in %v", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
