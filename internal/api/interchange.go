package api

import (
	"errors"
	"net/http"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/yarn"
)

// ExportRequest names a stored graph or carries one inline.
type ExportRequest struct {
	GraphID string       `json:"graphId,omitempty"`
	Graph   *forge.Graph `json:"graph,omitempty"`
}

type ExportResponse struct {
	Text   string   `json:"text"`
	Issues []string `json:"issues"`
}

type ImportRequest struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

type ImportResponse struct {
	Graph   *forge.Graph            `json:"graph"`
	Inlined map[string]*forge.Graph `json:"inlined,omitempty"`
	Issues  []string                `json:"issues"`
}

func issueStrings(issues []*yarn.ConversionError) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Error())
	}
	return out
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	g := req.Graph
	if g == nil {
		if req.GraphID == "" {
			writeError(w, http.StatusBadRequest, "graph or graphId required")
			return
		}
		if s.graphs == nil {
			writeError(w, http.StatusServiceUnavailable, "graph storage not configured")
			return
		}
		var err error
		if g, err = s.graphs.GetGraph(r.Context(), req.GraphID); err != nil {
			s.storageError(w, err)
			return
		}
	}

	out, err := s.converter.Export(r.Context(), g)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events.Emit("info", "yarn.exported", "", map[string]any{
		"graph_id": g.ID,
		"bytes":    len(out.Text),
		"issues":   len(out.Issues),
	})
	writeJSON(w, http.StatusOK, ExportResponse{Text: out.Text, Issues: issueStrings(out.Issues)})
}

func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title required")
		return
	}
	res, err := s.converter.Import(req.Text, req.Title)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, yarn.ErrEmptyDocument) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	events.Emit("info", "yarn.imported", "", map[string]any{
		"graph_id": res.Graph.ID,
		"nodes":    len(res.Graph.Nodes),
		"inlined":  len(res.Inlined),
		"issues":   len(res.Issues),
	})
	writeJSON(w, http.StatusOK, ImportResponse{
		Graph:   res.Graph,
		Inlined: res.Inlined,
		Issues:  issueStrings(res.Issues),
	})
}
