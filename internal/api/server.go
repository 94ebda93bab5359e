// Package api exposes sessions and workflows over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/user/multichat/internal/fanout"
	"github.com/user/multichat/internal/gateway"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
	"github.com/user/multichat/internal/workflow"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Sessions  *session.Manager
	Gateway   *gateway.Gateway
	Fanout    *fanout.Coordinator
	Engine    *workflow.Engine
	Workflows *workflow.Registry
	// Events replays logged updates when set.
	Events types.EventStore
	// WebSocket serves /ws when set.
	WebSocket http.HandlerFunc
	// DefaultModels are selected on sessions with no models yet.
	DefaultModels []string
}

// Server routes HTTP requests. Every mutation of a session becomes a run
// on that session's gateway lane and is answered with 202.
type Server struct {
	Deps
	router chi.Router
}

// NewServer creates a Server and registers its routes.
func NewServer(deps Deps) *Server {
	s := &Server{Deps: deps}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/workflows", s.handleListWorkflows)
		r.Post("/workflows", s.handleSaveWorkflow)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Put("/models", s.handleSetModels)
			r.Post("/turns", s.handleTurn)
			r.Post("/branch", s.handleBranch)
			r.Post("/messages/{mid}/regenerate", s.handleRegenerate)
			r.Post("/messages/{mid}/versions", s.handleSelectVersion)
			r.Post("/messages/{mid}/more", s.handleLoadMore)
			r.Get("/events", s.handleEvents)
			r.Get("/workflow", s.handleWorkflowState)
			r.Post("/workflow/play", s.handlePlay)
			r.Post("/workflow/next", s.handleNext)
		})
	})

	s.router = r
	return s
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func user(r *http.Request) string {
	if u := r.Header.Get(UserHeader); u != "" {
		return u
	}
	return "anonymous"
}

// partition is the storage partition named by ?partition=, defaulting to
// the caller's own.
func partition(r *http.Request) string {
	if p := r.URL.Query().Get("partition"); p != "" {
		return p
	}
	return user(r)
}

// open returns the live session named in the path. A session loaded from
// storage mid-workflow has its run context restored first.
func (s *Server) open(r *http.Request) (*session.Live, error) {
	id := types.SessionID(chi.URLParam(r, "id"))
	if l, ok := s.Sessions.Get(id); ok {
		return l, nil
	}
	l, err := s.Sessions.Open(r.Context(), id, partition(r), user(r))
	if err != nil {
		return nil, err
	}
	if len(l.Models()) == 0 && len(s.DefaultModels) > 0 {
		l.SetModels(s.DefaultModels)
	}
	if s.Engine != nil {
		if _, err := s.Engine.Resume(r.Context(), l); err != nil {
			slog.Warn("resume workflow", "session_id", string(l.ID()), "error", err)
		}
	}
	return l, nil
}

// submit enqueues do on the session's lane and answers 202 with the run id.
func (s *Server) submit(w http.ResponseWriter, l *session.Live, kind string, do func(ctx context.Context) error) {
	run, err := s.Gateway.Submit(l.ID(), kind, do)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": string(run.ID), "status": string(gateway.RunStatusQueued)})
}

// await runs do on the session's lane and waits for it, for mutations
// whose result the caller needs in the response.
func (s *Server) await(r *http.Request, l *session.Live, kind string, do func(ctx context.Context) error) error {
	run, err := s.Gateway.Submit(l.ID(), kind, do)
	if err != nil {
		return err
	}
	return run.Wait(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps domain errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, session.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrNotRunning), errors.Is(err, workflow.ErrNoSearch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrInvalidWorkflow),
		errors.Is(err, fanout.ErrEmptyTurn),
		errors.Is(err, fanout.ErrNoModels),
		errors.Is(err, fanout.ErrNoPrompt):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
