package api

import (
	"errors"
	"net/http"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
)

type StartRequest struct {
	GraphID string            `json:"graphId"`
	Flags   map[string]any    `json:"flags,omitempty"`
	Mode    orchestrator.Mode `json:"mode,omitempty"`
}

type ChooseRequest struct {
	SessionID string `json:"sessionId"`
	ChoiceID  string `json:"choiceId"`
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.GraphID == "" {
		writeError(w, http.StatusBadRequest, "graphId required")
		return
	}
	switch req.Mode {
	case "", orchestrator.ModeInteractive, orchestrator.ModeBatch:
	default:
		writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	state := forge.GameState{Flags: req.Flags}.Clone()
	sess, err := s.runtime.Start(r.Context(), req.GraphID, state, req.Mode)
	if err != nil {
		s.playError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) chooseHandler(w http.ResponseWriter, r *http.Request) {
	var req ChooseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.ChoiceID == "" {
		writeError(w, http.StatusBadRequest, "sessionId and choiceId required")
		return
	}
	sess, err := s.runtime.Choose(r.Context(), req.SessionID, req.ChoiceID)
	if err != nil {
		s.playError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": s.runtime.Sessions()})
		return
	}
	sess, ok := s.runtime.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) endHandler(w http.ResponseWriter, r *http.Request) {
	var req ChooseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.runtime.End(req.SessionID); err != nil {
		s.playError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) playError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrGraphNotFound), errors.Is(err, orchestrator.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrNoPendingChoice), errors.Is(err, orchestrator.ErrChoiceUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("play request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
