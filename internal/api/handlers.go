package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/user/multichat/internal/fanout"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
	"github.com/user/multichat/internal/workflow"
)

// GET /api/sessions?partition=...
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Sessions.List(r.Context(), partition(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	if sessions == nil {
		sessions = []*types.ChatSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type createSessionRequest struct {
	Title  string   `json:"title"`
	Models []string `json:"models"`
}

// POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	l, err := s.Sessions.Create(r.Context(), user(r), req.Title)
	if err != nil {
		writeErr(w, err)
		return
	}
	models := req.Models
	if len(models) == 0 {
		models = s.DefaultModels
	}
	l.SetModels(models)
	writeJSON(w, http.StatusCreated, l.Snapshot())
}

// GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": l.Snapshot(),
		"models":  l.Models(),
		"guided":  l.Guided(),
		"busy":    l.Busy(),
	})
}

// GET /api/sessions/{id}/events?after=N
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		writeError(w, http.StatusNotFound, "update log disabled")
		return
	}
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	events, err := s.Events.Since(r.Context(), types.SessionID(chi.URLParam(r, "id")), after)
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(chi.URLParam(r, "id"))
	if err := s.Sessions.Delete(r.Context(), id, partition(r)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modelsRequest struct {
	Models []string `json:"models"`
}

// PUT /api/sessions/{id}/models
func (s *Server) handleSetModels(w http.ResponseWriter, r *http.Request) {
	var req modelsRequest
	if err := decode(r, &req); err != nil || len(req.Models) == 0 {
		writeError(w, http.StatusBadRequest, "models are required")
		return
	}
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	l.SetModels(req.Models)
	writeJSON(w, http.StatusOK, map[string]any{"models": l.Models()})
}

type turnRequest struct {
	Text        string             `json:"text"`
	Attachments []types.Attachment `json:"attachments"`
	Models      []string           `json:"models"`
}

// POST /api/sessions/{id}/turns
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		writeErr(w, fanout.ErrEmptyTurn)
		return
	}
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(req.Models) > 0 {
		l.SetModels(req.Models)
	}
	in := workflow.Input{Text: req.Text, Attachments: req.Attachments}
	s.submit(w, l, "turn", func(ctx context.Context) error {
		_, err := s.Engine.Submit(ctx, l, in)
		return err
	})
}

type regenerateRequest struct {
	Model string      `json:"model"`
	Kind  fanout.Kind `json:"kind"`
}

// POST /api/sessions/{id}/messages/{mid}/regenerate
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decode(r, &req); err != nil || req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	switch req.Kind {
	case "", fanout.KindRetry, fanout.KindExpand, fanout.KindConcise:
	default:
		writeError(w, http.StatusBadRequest, "unknown kind "+string(req.Kind))
		return
	}
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	mid := types.MessageID(chi.URLParam(r, "mid"))
	if _, ok := l.Message(mid); !ok {
		writeErr(w, session.ErrMessageNotFound)
		return
	}
	s.submit(w, l, "regenerate", func(ctx context.Context) error {
		_, err := s.Fanout.Regenerate(ctx, l, mid, req.Model, fanout.Regen{
			Kind:              req.Kind,
			Tools:             l.Tools(),
			SystemInstruction: s.Engine.SystemInstruction(ctx, l),
		})
		return err
	})
}

type versionRequest struct {
	Model string `json:"model"`
	Delta int    `json:"delta"`
}

// POST /api/sessions/{id}/messages/{mid}/versions
func (s *Server) handleSelectVersion(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decode(r, &req); err != nil || req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	mid := types.MessageID(chi.URLParam(r, "mid"))
	var resp *types.ModelResponse
	err = s.await(r, l, "select_version", func(ctx context.Context) error {
		var err error
		resp, err = s.Fanout.SelectVersion(ctx, l, mid, req.Model, req.Delta)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/sessions/{id}/messages/{mid}/more
func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	mid := types.MessageID(chi.URLParam(r, "mid"))
	var more *types.Message
	err = s.await(r, l, "load_more", func(ctx context.Context) error {
		var err error
		more, err = s.Engine.LoadMore(ctx, l, mid)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if more == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, more)
}

type branchRequest struct {
	MessageID     types.MessageID `json:"messageId"`
	Model         string          `json:"model"`
	Title         string          `json:"title"`
	CarryWorkflow bool            `json:"carryWorkflow"`
}

// POST /api/sessions/{id}/branch
func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := decode(r, &req); err != nil || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "messageId is required")
		return
	}
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	b, err := s.Sessions.Branch(r.Context(), l, session.BranchOptions{
		MessageID:     req.MessageID,
		Model:         req.Model,
		Title:         req.Title,
		CarryWorkflow: req.CarryWorkflow,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(b.Models()) == 0 {
		b.SetModels(l.Models())
	}
	writeJSON(w, http.StatusCreated, b.Snapshot())
}

// GET /api/sessions/{id}/workflow
func (s *Server) handleWorkflowState(w http.ResponseWriter, r *http.Request) {
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var st workflow.State
	err = s.await(r, l, "resume", func(ctx context.Context) error {
		var err error
		st, err = s.Engine.Resume(ctx, l)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	id, idx := l.Step()
	writeJSON(w, http.StatusOK, map[string]any{
		"workflowId": id,
		"step":       idx,
		"awaiting":   st.Awaiting,
		"guided":     st.Guided,
		"input":      st.Input,
		"models":     l.Models(),
	})
}

type playRequest struct {
	WorkflowID string `json:"workflowId"`
}

// POST /api/sessions/{id}/workflow/play
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decode(r, &req); err != nil || req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflowId is required")
		return
	}
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.Workflows.Workflow(r.Context(), req.WorkflowID, l.Partition()); err != nil {
		writeErr(w, err)
		return
	}
	s.submit(w, l, "workflow_play", func(ctx context.Context) error {
		return s.Engine.Play(ctx, l, req.WorkflowID)
	})
}

// POST /api/sessions/{id}/workflow/next
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	l, err := s.open(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if id, idx := l.Step(); id == "" || idx == nil {
		writeErr(w, workflow.ErrNotRunning)
		return
	}
	s.submit(w, l, "workflow_next", func(ctx context.Context) error {
		return s.Engine.Next(ctx, l)
	})
}

// GET /api/workflows?partition=...
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.Workflows.List(r.Context(), partition(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	if wfs == nil {
		wfs = []*types.Workflow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
}

// POST /api/workflows
func (s *Server) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf types.Workflow
	if err := decode(r, &wf); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	wf.UserID = user(r)
	if err := s.Workflows.Save(r.Context(), &wf, partition(r)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}
