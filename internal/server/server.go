// Package server exposes the module cache over HTTP. One route does the
// work: GET /m/{encoded} resolves an encoded signature to module text,
// generating and caching on first request. /healthz and /statz support
// operations.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"jitmod/internal/generation"
	"jitmod/internal/logging"
	"jitmod/internal/signature"
	"jitmod/internal/store"
	"jitmod/internal/usage"
)

// Server wires the coordinator and store into an http.Handler.
type Server struct {
	coord   *generation.Coordinator
	store   store.CacheStore
	tracker *usage.Tracker // nil disables the usage section of /statz
}

// New creates a Server.
func New(coord *generation.Coordinator, st store.CacheStore, tracker *usage.Tracker) *Server {
	return &Server{coord: coord, store: st, tracker: tracker}
}

// Handler returns the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/m/", s.handleModule)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/statz", s.handleStats)
	return withTracing(withLogging(mux))
}

// Run serves on addr until ctx is canceled, then drains in-flight requests
// for up to drainTimeout before returning.
func (s *Server) Run(ctx context.Context, addr string, drainTimeout time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	logging.Server("listening on %s", addr)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logging.Server("shutting down, draining for up to %v", drainTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// errorBody is the JSON error envelope. Position is set only for parse
// errors and is a byte offset into the decoded signature text.
type errorBody struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Position *int   `json:"position,omitempty"`
}

// handleModule serves GET /m/{encoded}?model=&seed=.
func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed", Message: "only GET is supported"})
		return
	}

	// The raw path, not r.URL.Path: the segment decoder owns all
	// percent-decoding, and net/url's eager decode would eat the
	// distinction between '+' and %2B.
	encoded := strings.TrimPrefix(r.URL.EscapedPath(), "/m/")
	if encoded == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "parse_error", Message: "empty signature"})
		return
	}

	req, err := signature.Parse(encoded)
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}
	req.Model = r.URL.Query().Get("model")
	req.Seed = r.URL.Query().Get("seed")

	key := s.coord.Key(req)
	etag := `"` + key + `"`

	// Immutable content: a matching validator can answer without touching
	// the store.
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rl := logging.WithRequestID(logging.CategoryServer, RequestID(r.Context()))
	rl.Debug("resolving %s: name=%q model=%q seeded=%t", key[:12], req.Signature.Name, req.Model, req.Seed != "")

	text, err := s.coord.Resolve(r.Context(), req)
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", etag)
	io.WriteString(w, text)
}

// writeResolveError maps the error taxonomy onto HTTP statuses: parse
// errors are the client's fault, failed generations are a bad gateway,
// storage failures are ours.
func (s *Server) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	rl := logging.WithRequestID(logging.CategoryServer, RequestID(r.Context()))

	var parseErr *signature.ParseError
	var genErr *generation.GenerationFailedError
	var storeErr *store.StorageError
	switch {
	case errors.As(err, &parseErr):
		rl.Warn("parse rejected: %v", parseErr)
		pos := parseErr.Position
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "parse_error", Message: parseErr.Error(), Position: &pos})
	case errors.As(err, &genErr):
		rl.Error("generation failed: %v", genErr)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "generation_failed", Message: genErr.Error()})
	case errors.As(err, &storeErr):
		rl.Error("storage failure: %v", storeErr)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "storage_error", Message: storeErr.Error()})
	default:
		rl.Error("unexpected failure: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: err.Error()})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok")
}

// statsResponse is the /statz payload.
type statsResponse struct {
	Cache *store.CacheStats      `json:"cache"`
	Usage *usage.AggregatedStats `json:"usage,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "storage_error", Message: err.Error()})
		return
	}
	resp := statsResponse{Cache: stats}
	if s.tracker != nil {
		summary := s.tracker.Summary()
		resp.Usage = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
