package api

import (
	"errors"
	"net/http"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
	"github.com/AaronLay10/NarrativeForge/internal/validate"
)

func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	var g forge.Graph
	if !decodeBody(w, r, &g) {
		return
	}
	res := validate.Graph(&g)
	events.Emit("info", "graph.validated", "", map[string]any{
		"graph_id": g.ID,
		"valid":    res.Valid,
		"errors":   len(res.Errors),
		"warnings": len(res.Warnings),
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getGraphHandler(w http.ResponseWriter, r *http.Request) {
	if s.graphs == nil {
		writeError(w, http.StatusServiceUnavailable, "graph storage not configured")
		return
	}
	g, err := s.graphs.GetGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// putGraphHandler stores a graph. Graphs with validation errors are
// rejected with the validation result as the body.
func (s *Server) putGraphHandler(w http.ResponseWriter, r *http.Request) {
	if s.graphs == nil {
		writeError(w, http.StatusServiceUnavailable, "graph storage not configured")
		return
	}
	var g forge.Graph
	if !decodeBody(w, r, &g) {
		return
	}
	id := r.PathValue("id")
	if g.ID == "" {
		g.ID = id
	}
	if g.ID != id {
		writeError(w, http.StatusBadRequest, "graph id does not match path")
		return
	}
	if res := validate.Graph(&g); !res.Valid && r.URL.Query().Get("force") != "true" {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	if err := s.graphs.PutGraph(r.Context(), &g); err != nil {
		s.storageError(w, err)
		return
	}
	events.Emit("info", "graph.stored", "", map[string]any{"graph_id": g.ID, "nodes": len(g.Nodes)})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": g.ID})
}

func (s *Server) deleteGraphHandler(w http.ResponseWriter, r *http.Request) {
	if s.graphs == nil {
		writeError(w, http.StatusServiceUnavailable, "graph storage not configured")
		return
	}
	id := r.PathValue("id")
	if err := s.graphs.DeleteGraph(r.Context(), id); err != nil {
		s.storageError(w, err)
		return
	}
	events.Emit("info", "graph.deleted", "", map[string]any{"graph_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrGraphNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("graph storage failed", "error", err)
	writeError(w, http.StatusInternalServerError, "storage error")
}
