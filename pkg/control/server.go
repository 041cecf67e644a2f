// Package control exposes a small HTTP surface over a running driver
// session: status, stop, and retry-stage. It sits alongside the core
// (pkg/driver) rather than inside it, the way the teacher exposes its
// agent core over HTTP in pkg/server.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kkelly-oss/kkcode/pkg/observability"
	"github.com/kkelly-oss/kkcode/pkg/state"
)

// Server is the status/control HTTP surface. One Server can front every
// session tracked by the underlying Store.
type Server struct {
	addr   string
	states state.SessionStore
	server *http.Server

	// Metrics and Tracer are optional; both are nil-safe. When set, every
	// request is wrapped in observability.HTTPMiddleware so control-plane
	// traffic shows up in the same stage/task/gate metrics namespace.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// New creates a control Server listening on addr, reading/writing
// session state through store.
func New(addr string, store state.SessionStore) *Server {
	return &Server{addr: addr, states: store}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(observability.HTTPMiddleware(s.Tracer, s.Metrics))

	r.Get("/healthz", s.handleHealthz)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/stop", s.handleStop)
			r.Post("/retry-stage", s.handleRetryStage)
		})
	})

	return r
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully. Mirrors the teacher's HTTP server lifecycle: ListenAndServe
// on a background goroutine, select on ctx.Done() vs a serve error.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("control server starting", "address", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	slog.Info("control server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.states.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.states.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %q not found", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.states.Stop(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

type retryStageRequest struct {
	StageID string `json:"stageId"`
}

func (s *Server) handleRetryStage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body retryStageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.StageID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("stageId is required"))
		return
	}

	sess, err := s.states.Update(sessionID, state.Patch{RetryStageID: &body.StageID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
