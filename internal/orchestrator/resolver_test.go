package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

type countingResolver struct {
	MapResolver
	calls int
}

func (c *countingResolver) ResolveGraph(ctx context.Context, id string) (*forge.Graph, error) {
	c.calls++
	return c.MapResolver.ResolveGraph(ctx, id)
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"intro.json": `{"id":"intro","startNodeId":"a","nodes":[{"id":"a","type":"CHARACTER","content":"Hi."}],"edges":[]}`,
		"side.yaml":  "startNodeId: b\nnodes:\n  - id: b\n    type: CHARACTER\n    content: Side.\nedges: []\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	r := DirResolver{Dir: dir}
	ctx := context.Background()

	g, err := r.ResolveGraph(ctx, "intro")
	if err != nil || g.StartNodeID != "a" {
		t.Fatalf("intro: %v, %+v", err, g)
	}
	g, err = r.ResolveGraph(ctx, "side")
	if err != nil {
		t.Fatalf("side: %v", err)
	}
	if g.ID != "side" {
		t.Errorf("id should default to the file name, got %q", g.ID)
	}

	for _, id := range []string{"missing", "", "../intro", "sub/intro"} {
		if _, err := r.ResolveGraph(ctx, id); !errors.Is(err, ErrGraphNotFound) {
			t.Errorf("%q: expected ErrGraphNotFound, got %v", id, err)
		}
	}
}

func TestCachedResolver(t *testing.T) {
	inner := &countingResolver{MapResolver: MapResolver{"linear": linearGraph()}}
	c := NewCachedResolver(inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.ResolveGraph(ctx, "linear"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected one fetch, got %d", inner.calls)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d", c.Len())
	}

	c.Invalidate("linear")
	if _, ok := c.Get("linear"); ok {
		t.Error("graph still cached after Invalidate")
	}
	if _, err := c.ResolveGraph(ctx, "linear"); err != nil || inner.calls != 2 {
		t.Errorf("refetch: err=%v calls=%d", err, inner.calls)
	}

	if _, err := c.ResolveGraph(ctx, "nope"); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound, got %v", err)
	}
	if c.Len() != 1 {
		t.Error("failed lookups must not be cached")
	}

	empty := NewCachedResolver(nil)
	empty.Put("x", linearGraph())
	if _, err := empty.ResolveGraph(ctx, "x"); err != nil {
		t.Errorf("put graph: %v", err)
	}
	if _, err := empty.ResolveGraph(ctx, "y"); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound, got %v", err)
	}
}
