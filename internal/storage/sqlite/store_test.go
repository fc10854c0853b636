package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "forge.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleGraph() *forge.Graph {
	a := forge.NewNode("a", forge.NodeCharacter)
	a.Data = &forge.DialogueData{Speaker: "Ada", Content: "Hello."}
	a.DefaultNextNodeID = "b"
	b := forge.NewNode("b", forge.NodeCharacter)
	b.Data = &forge.DialogueData{Speaker: "Ada", Content: "Bye."}
	return &forge.Graph{
		ID:          "hello",
		Title:       "Hello",
		Nodes:       []forge.Node{a, b},
		StartNodeID: "a",
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.PutGraph(context.Background(), sampleGraph()); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetGraph(context.Background(), "hello"); err != nil {
		t.Errorf("graph lost after reopen: %v", err)
	}
}

func TestGraphCRUD(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	g := sampleGraph()
	if err := s.PutGraph(ctx, g); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetGraph(ctx, "hello")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(g, got); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}

	g.Title = "Hello again"
	if err := s.PutGraph(ctx, g); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	list, err := s.ListGraphs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Hello again" {
		t.Fatalf("list = %+v", list)
	}

	if err := s.DeleteGraph(ctx, "hello"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetGraph(ctx, "hello"); !errors.Is(err, orchestrator.ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound after delete, got %v", err)
	}
	if err := s.DeleteGraph(ctx, "hello"); !errors.Is(err, orchestrator.ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound for second delete, got %v", err)
	}
	if err := s.PutGraph(ctx, &forge.Graph{}); err == nil {
		t.Error("expected error for graph without id")
	}
}

func TestStoreDrivesEngine(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.PutGraph(ctx, sampleGraph()); err != nil {
		t.Fatalf("put: %v", err)
	}

	engine := orchestrator.NewEngine(s)
	res, err := engine.ExecuteByID(ctx, "hello", forge.NewGameState(), orchestrator.Options{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != orchestrator.StatusCompleted || len(res.Frames) != 2 {
		t.Fatalf("status %s, %d frames", res.Status, len(res.Frames))
	}
	if res.Frames[1].Content != "Bye." {
		t.Errorf("second frame = %q", res.Frames[1].Content)
	}
}

func TestEventStore(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []events.Record{
		{Timestamp: base, Level: "info", Event: "play.started", SessionID: "s1",
			Fields: map[string]any{"session_id": "s1", "graph_id": "hello"}},
		{Timestamp: base.Add(time.Second), Level: "info", Event: "play.choice_selected", SessionID: "s1",
			Fields: map[string]any{"session_id": "s1", "choice_id": "c1"}},
		{Timestamp: base.Add(2 * time.Second), Level: "error", Event: "system.error", Message: "boom"},
	}
	for _, r := range in {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rows, err := s.Query(ctx, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Event != "system.error" || rows[0].Message != "boom" || rows[0].Fields != nil {
		t.Errorf("newest row = %+v", rows[0])
	}
	if rows[1].Event != "play.choice_selected" || rows[1].Fields["choice_id"] != "c1" {
		t.Errorf("second row = %+v", rows[1])
	}
	if !rows[1].Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("timestamp = %v", rows[1].Timestamp)
	}
}

func TestRestoreFromSQLiteEvents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, r := range []events.Record{
		{Timestamp: time.Now(), Level: "info", Event: "play.started",
			Fields: map[string]any{"session_id": "s1", "graph_id": "hello", "mode": "INTERACTIVE"}},
	} {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	plan, scanned, err := orchestrator.RestoreFromEvents(ctx, s, 0)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if scanned != 1 || len(plan) != 1 || plan[0].GraphID != "hello" {
		t.Errorf("plan = %+v (scanned %d)", plan, scanned)
	}
}
