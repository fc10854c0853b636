package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
)

func TestConnString(t *testing.T) {
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "")
	t.Setenv("PGUSER", "")
	t.Setenv("PGDATABASE", "stories")
	t.Setenv("PGSSLMODE", "")
	t.Setenv("PGPASSWORD", "s3cret")
	t.Setenv("PGPASSWORD_FILE", "")

	got, err := ConnString()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "host=db.internal port=5432 user=forge dbname=stories sslmode=disable password=s3cret"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}

	t.Setenv("PGPASSWORD", "")
	got, _ = ConnString()
	if strings.Contains(got, "password=") {
		t.Errorf("empty password should be omitted: %q", got)
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: 200, 0: 200, 50: 50, 10000: 10000, 20000: 10000}
	for in, want := range cases {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

// connect skips unless FORGE_TEST_PG_DSN points at a scratch database.
func connect(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("FORGE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FORGE_TEST_PG_DSN not set")
	}
	service := "test-" + strings.ReplaceAll(t.Name(), "/", "-")
	c, err := New(context.Background(), dsn, service)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		c.db.Exec(`DELETE FROM graphs WHERE service = $1`, service)
		c.db.Exec(`DELETE FROM events WHERE service = $1`, service)
		c.Close()
	})
	return c
}

func TestGraphStore(t *testing.T) {
	c := connect(t)
	ctx := context.Background()

	g := &forge.Graph{
		ID:          "intro",
		Title:       "Intro",
		Nodes:       []forge.Node{forge.NewNode("a", forge.NodeCharacter)},
		StartNodeID: "a",
	}
	if err := c.PutGraph(ctx, g); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := c.ResolveGraph(ctx, "intro")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.StartNodeID != "a" || len(got.Nodes) != 1 {
		t.Errorf("unexpected graph: %+v", got)
	}

	list, err := c.ListGraphs(ctx)
	if err != nil || len(list) != 1 || list[0].Title != "Intro" {
		t.Fatalf("list = %+v, %v", list, err)
	}

	if err := c.DeleteGraph(ctx, "intro"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.GetGraph(ctx, "intro"); !errors.Is(err, orchestrator.ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound, got %v", err)
	}
}

func TestEventStore(t *testing.T) {
	c := connect(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, name := range []string{"play.started", "play.completed"} {
		err := c.Append(ctx, events.Record{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Level:     "info",
			Event:     name,
			Fields:    map[string]any{"session_id": "s1"},
			SessionID: "s1",
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rows, err := c.Query(ctx, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 || rows[0].Event != "play.completed" {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[1].SessionID != "s1" || rows[1].Fields["session_id"] != "s1" {
		t.Errorf("session not round-tripped: %+v", rows[1])
	}
}
