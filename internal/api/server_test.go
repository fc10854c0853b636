package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
	"github.com/AaronLay10/NarrativeForge/internal/validate"
	"github.com/AaronLay10/NarrativeForge/internal/yarn"
)

type memGraphs struct {
	mu     sync.Mutex
	graphs map[string]*forge.Graph
}

func newMemGraphs(gs ...*forge.Graph) *memGraphs {
	m := &memGraphs{graphs: make(map[string]*forge.Graph)}
	for _, g := range gs {
		m.graphs[g.ID] = g
	}
	return m
}

func (m *memGraphs) GetGraph(_ context.Context, id string) (*forge.Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrGraphNotFound, id)
	}
	return g, nil
}

func (m *memGraphs) ResolveGraph(ctx context.Context, id string) (*forge.Graph, error) {
	return m.GetGraph(ctx, id)
}

func (m *memGraphs) PutGraph(_ context.Context, g *forge.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[g.ID] = g
	return nil
}

func (m *memGraphs) DeleteGraph(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.graphs[id]; !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrGraphNotFound, id)
	}
	delete(m.graphs, id)
	return nil
}

func say(id, content string) forge.Node {
	return forge.Node{ID: id, Type: forge.NodeCharacter, Data: &forge.DialogueData{Speaker: "Guard", Content: content}}
}

// doorGraph greets, asks, then says goodbye or stays.
func doorGraph() *forge.Graph {
	return &forge.Graph{
		ID:          "door",
		Title:       "Door",
		StartNodeID: "hello",
		Nodes: []forge.Node{
			say("hello", "Halt."),
			{ID: "ask", Type: forge.NodePlayer, Data: &forge.PlayerData{Choices: []forge.Choice{
				{ID: "leave", Text: "Leave", NextNodeID: "bye"},
				{ID: "stay", Text: "Stay", NextNodeID: "stay"},
			}}},
			say("bye", "Bye."),
			say("stay", "Suit yourself."),
		},
		Edges: []forge.Edge{{ID: "e1", Source: "hello", Target: "ask", Kind: forge.EdgeFlow}},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *memGraphs) {
	t.Helper()
	clearTLSEnv(t)
	withAuth(t, &authConfig{})
	events.Clear()

	store := newMemGraphs(doorGraph())
	rt := orchestrator.NewRuntime(orchestrator.NewEngine(store), nil, nil)
	srv := NewServer(rt, yarn.New(store), store, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func setReadiness(runtime, storage, storageOpt, mqtt, mqttOpt bool) {
	SetRuntimeReady(runtime)
	SetStorageState(storage, storageOpt)
	SetMQTTState(mqtt, mqttOpt)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := do(t, "GET", ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	h := decode[HealthResponse](t, resp)
	if h.Status != "ok" || h.Service != "narrativeforge" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Cleanup(func() { setReadiness(false, false, true, false, true) })
	tests := []struct {
		name                                      string
		runtime, storage, storageOpt, mqtt, mqOpt bool
		wantCode                                  int
		wantMsg                                   string
	}{
		{"all ready", true, true, false, true, false, http.StatusOK, ""},
		{"optional deps down", true, false, true, false, true, http.StatusOK, ""},
		{"runtime not ready", false, true, false, true, false, http.StatusServiceUnavailable, "not ready: runtime"},
		{"required deps down", true, false, false, false, false, http.StatusServiceUnavailable, "not ready: storage, mqtt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setReadiness(tt.runtime, tt.storage, tt.storageOpt, tt.mqtt, tt.mqOpt)
			w := httptest.NewRecorder()
			readyHandler(w, httptest.NewRequest("GET", "/ready", nil))
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.NotReadyMsg != tt.wantMsg {
				t.Errorf("message = %q, want %q", resp.NotReadyMsg, tt.wantMsg)
			}
			if resp.Ready != (tt.wantCode == http.StatusOK) {
				t.Errorf("ready = %v", resp.Ready)
			}
		})
	}
}

func TestOptionalDependencyReportedUnavailable(t *testing.T) {
	t.Cleanup(func() { setReadiness(false, false, true, false, true) })
	setReadiness(true, false, true, true, false)
	w := httptest.NewRecorder()
	readyHandler(w, httptest.NewRequest("GET", "/ready", nil))
	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]CheckStatus{
		"runtime": {Status: "ok"},
		"storage": {Status: "unavailable", Optional: true},
		"mqtt":    {Status: "ok"},
	}
	if diff := cmp.Diff(want, resp.Checks); diff != "" {
		t.Errorf("checks mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	InitMetrics("forge-test")
	do(t, "POST", ts.URL+"/play/start", StartRequest{GraphID: "door"})

	resp := do(t, "GET", ts.URL+"/metrics", nil)
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	body := buf.String()
	for _, want := range []string{
		"forge_uptime_seconds{",
		`service="forge-test"`,
		"forge_events_total{",
		"forge_ws_clients{",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	sessions := ""
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "forge_sessions_active{") {
			sessions = line
		}
	}
	if !strings.HasSuffix(sessions, "} 1") {
		t.Errorf("expected one active session, got %q", sessions)
	}
}

func TestValidateEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, "POST", ts.URL+"/graphs/validate", doorGraph())
	if res := decode[validate.Result](t, resp); !res.Valid {
		t.Errorf("door graph should validate, got %+v", res.Errors)
	}

	broken := doorGraph()
	broken.StartNodeID = "nowhere"
	resp = do(t, "POST", ts.URL+"/graphs/validate", broken)
	res := decode[validate.Result](t, resp)
	if res.Valid || len(res.Errors) == 0 || res.Errors[0].Type != validate.MissingStart {
		t.Errorf("expected missing start, got %+v", res.Errors)
	}

	found := false
	for _, e := range events.Snapshot() {
		if e.Name == "graph.validated" {
			found = true
		}
	}
	if !found {
		t.Error("expected graph.validated event")
	}
}

func TestGraphCRUD(t *testing.T) {
	ts, store := newTestServer(t)

	resp := do(t, "GET", ts.URL+"/graphs/door", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %d", resp.StatusCode)
	}
	if g := decode[forge.Graph](t, resp); g.StartNodeID != "hello" || len(g.Nodes) != 4 {
		t.Errorf("unexpected graph %+v", g)
	}

	if resp := do(t, "GET", ts.URL+"/graphs/missing", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing graph: %d", resp.StatusCode)
	}

	g := doorGraph()
	g.ID = ""
	if resp := do(t, "PUT", ts.URL+"/graphs/gate", g); resp.StatusCode != http.StatusOK {
		t.Fatalf("put: %d", resp.StatusCode)
	}
	if _, err := store.GetGraph(context.Background(), "gate"); err != nil {
		t.Errorf("stored graph not found: %v", err)
	}

	g.ID = "other"
	if resp := do(t, "PUT", ts.URL+"/graphs/gate", g); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatched id: %d", resp.StatusCode)
	}

	bad := doorGraph()
	bad.ID = "bad"
	bad.StartNodeID = ""
	resp = do(t, "PUT", ts.URL+"/graphs/bad", bad)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid graph: %d", resp.StatusCode)
	}
	if res := decode[validate.Result](t, resp); res.Valid {
		t.Error("expected invalid result body")
	}
	if resp := do(t, "PUT", ts.URL+"/graphs/bad?force=true", bad); resp.StatusCode != http.StatusOK {
		t.Errorf("forced put: %d", resp.StatusCode)
	}

	if resp := do(t, "DELETE", ts.URL+"/graphs/gate", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("delete: %d", resp.StatusCode)
	}
	if resp := do(t, "DELETE", ts.URL+"/graphs/gate", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: %d", resp.StatusCode)
	}
}

func TestGraphRoutesWithoutStorage(t *testing.T) {
	clearTLSEnv(t)
	withAuth(t, &authConfig{})
	srv := NewServer(nil, yarn.New(nil), nil, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/graphs/door", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

func TestGraphWritesRequireAdmin(t *testing.T) {
	ts, _ := newTestServer(t)
	withAuth(t, fullAuth())

	req, _ := http.NewRequest("DELETE", ts.URL+"/graphs/door", nil)
	req.SetBasicAuth("writer", "quill")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("author delete: %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", ts.URL+"/graphs/door", nil)
	req.SetBasicAuth("writer", "quill")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("author read: %d", resp.StatusCode)
	}
}

func TestYarnExportAndImport(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, "POST", ts.URL+"/yarn/export", ExportRequest{GraphID: "door"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: %d", resp.StatusCode)
	}
	out := decode[ExportResponse](t, resp)
	if !strings.Contains(out.Text, "title: hello\n") || !strings.Contains(out.Text, "Guard: Halt.") {
		t.Errorf("unexpected export:\n%s", out.Text)
	}

	resp = do(t, "POST", ts.URL+"/yarn/import", ImportRequest{Text: out.Text, Title: "door2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: %d", resp.StatusCode)
	}
	in := decode[ImportResponse](t, resp)
	if in.Graph.ID != "door2" || in.Graph.StartNodeID != "hello" {
		t.Errorf("unexpected import %+v", in.Graph)
	}

	if resp := do(t, "POST", ts.URL+"/yarn/import", ImportRequest{Text: "  \n", Title: "x"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty import: %d", resp.StatusCode)
	}
	if resp := do(t, "POST", ts.URL+"/yarn/export", ExportRequest{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty export: %d", resp.StatusCode)
	}
}

func TestPlayFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, "POST", ts.URL+"/play/start", StartRequest{GraphID: "door"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d", resp.StatusCode)
	}
	sess := decode[orchestrator.Session](t, resp)
	if sess.Result.Status != orchestrator.StatusAwaitingChoice {
		t.Fatalf("status = %s", sess.Result.Status)
	}
	want := []orchestrator.RuntimeChoice{{ID: "leave", Text: "Leave"}, {ID: "stay", Text: "Stay"}}
	if diff := cmp.Diff(want, sess.Result.PendingChoice.Choices); diff != "" {
		t.Errorf("choices mismatch (-want +got):\n%s", diff)
	}

	resp = do(t, "POST", ts.URL+"/play/choose", ChooseRequest{SessionID: sess.ID, ChoiceID: "leave"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("choose: %d", resp.StatusCode)
	}
	after := decode[orchestrator.Session](t, resp)
	if after.Result.Status != orchestrator.StatusCompleted {
		t.Errorf("status = %s", after.Result.Status)
	}
	frames := after.Result.Frames
	if len(frames) == 0 || frames[len(frames)-1].Content != "Bye." {
		t.Errorf("unexpected frames %+v", frames)
	}

	if resp := do(t, "POST", ts.URL+"/play/choose", ChooseRequest{SessionID: sess.ID, ChoiceID: "leave"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("choose after completion: %d", resp.StatusCode)
	}

	resp = do(t, "GET", ts.URL+"/play/session?id="+sess.ID, nil)
	if got := decode[orchestrator.Session](t, resp); got.ID != sess.ID || len(got.Choices) != 1 {
		t.Errorf("unexpected session %+v", got)
	}

	if resp := do(t, "POST", ts.URL+"/play/end", ChooseRequest{SessionID: sess.ID}); resp.StatusCode != http.StatusOK {
		t.Errorf("end: %d", resp.StatusCode)
	}
	if resp := do(t, "GET", ts.URL+"/play/session?id="+sess.ID, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("session after end: %d", resp.StatusCode)
	}
}

func TestPlayErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"missing graph id", "/play/start", StartRequest{}, http.StatusBadRequest},
		{"unknown mode", "/play/start", StartRequest{GraphID: "door", Mode: "FAST"}, http.StatusBadRequest},
		{"unknown graph", "/play/start", StartRequest{GraphID: "nope"}, http.StatusNotFound},
		{"unknown session", "/play/choose", ChooseRequest{SessionID: "nope", ChoiceID: "x"}, http.StatusNotFound},
		{"missing choice", "/play/choose", ChooseRequest{SessionID: "nope"}, http.StatusBadRequest},
		{"end unknown session", "/play/end", ChooseRequest{SessionID: "nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := do(t, "POST", ts.URL+tt.path, tt.body); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestBatchPlay(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := do(t, "POST", ts.URL+"/play/start", StartRequest{GraphID: "door", Mode: orchestrator.ModeBatch})
	sess := decode[orchestrator.Session](t, resp)
	if sess.Result.Status != orchestrator.StatusCompleted {
		t.Fatalf("status = %s", sess.Result.Status)
	}
	last := sess.Result.Frames[len(sess.Result.Frames)-1]
	if last.Content != "Bye." {
		t.Errorf("batch mode should take the first choice, ended on %q", last.Content)
	}
}
