package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// ErrGraphNotFound is returned by resolvers for unknown graph ids.
var ErrGraphNotFound = errors.New("graph not found")

// MapResolver serves graphs from memory.
type MapResolver map[string]*forge.Graph

// ResolveGraph implements GraphResolver.
func (m MapResolver) ResolveGraph(_ context.Context, graphID string) (*forge.Graph, error) {
	if g, ok := m[graphID]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
}

// DirResolver loads graphs from <dir>/<id>.json, .yaml or .yml.
type DirResolver struct {
	Dir string
}

// ResolveGraph implements GraphResolver.
func (d DirResolver) ResolveGraph(_ context.Context, graphID string) (*forge.Graph, error) {
	if graphID == "" || graphID != filepath.Base(graphID) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrGraphNotFound, graphID)
	}
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(d.Dir, graphID+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		g, err := forge.LoadGraph(path)
		if err != nil {
			return nil, err
		}
		if g.ID == "" {
			g.ID = graphID
		}
		return g, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
}

// CachedResolver memoises graphs fetched from another resolver.
type CachedResolver struct {
	next GraphResolver

	mu     sync.RWMutex
	graphs map[string]*forge.Graph
}

// NewCachedResolver wraps next with an in-memory cache.
func NewCachedResolver(next GraphResolver) *CachedResolver {
	return &CachedResolver{
		next:   next,
		graphs: make(map[string]*forge.Graph),
	}
}

// ResolveGraph returns the cached graph or fetches it from the wrapped
// resolver.
func (c *CachedResolver) ResolveGraph(ctx context.Context, graphID string) (*forge.Graph, error) {
	if g, ok := c.Get(graphID); ok {
		return g, nil
	}
	if c.next == nil {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	g, err := c.next.ResolveGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	c.Put(graphID, g)
	return g, nil
}

// Get returns a cached graph without consulting the wrapped resolver.
func (c *CachedResolver) Get(graphID string) (*forge.Graph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.graphs[graphID]
	return g, ok
}

// Put stores a graph in the cache.
func (c *CachedResolver) Put(graphID string, g *forge.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs[graphID] = g
}

// Invalidate drops a graph from the cache.
func (c *CachedResolver) Invalidate(graphID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graphs, graphID)
}

// Len returns the number of cached graphs.
func (c *CachedResolver) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.graphs)
}
