package forge

import "sort"

// Index provides O(1) node and adjacency lookups over a graph.
// It never modifies the graph it was built from.
type Index struct {
	graph         *Graph
	nodesByID     map[string]*Node
	edgesBySource map[string][]Edge
	edgesByTarget map[string][]Edge
}

// NewIndex builds lookup tables for g. Duplicate node ids keep the first
// occurrence.
func NewIndex(g *Graph) *Index {
	ix := &Index{
		graph:         g,
		nodesByID:     make(map[string]*Node, len(g.Nodes)),
		edgesBySource: make(map[string][]Edge),
		edgesByTarget: make(map[string][]Edge),
	}
	for i := range g.Nodes {
		id := g.Nodes[i].ID
		if _, ok := ix.nodesByID[id]; ok {
			continue
		}
		ix.nodesByID[id] = &g.Nodes[i]
	}
	for _, e := range g.Edges {
		ix.edgesBySource[e.Source] = append(ix.edgesBySource[e.Source], e)
		ix.edgesByTarget[e.Target] = append(ix.edgesByTarget[e.Target], e)
	}
	return ix
}

// Graph returns the indexed graph.
func (ix *Index) Graph() *Graph {
	return ix.graph
}

// Node returns the node with the given id.
func (ix *Index) Node(id string) (*Node, bool) {
	n, ok := ix.nodesByID[id]
	return n, ok
}

// Outgoing returns the edges whose source is nodeID, in graph order.
func (ix *Index) Outgoing(nodeID string) []Edge {
	return ix.edgesBySource[nodeID]
}

// Incoming returns the edges whose target is nodeID, in graph order.
func (ix *Index) Incoming(nodeID string) []Edge {
	return ix.edgesByTarget[nodeID]
}

// DefaultNextNode returns the node that follows nodeID when no explicit
// branch is taken. The node's own DefaultNextNodeID wins; otherwise the
// outgoing FLOW, DEFAULT and CONDITION edges are candidates (all outgoing
// edges if none match) and the first by (target, id) is chosen.
func (ix *Index) DefaultNextNode(nodeID string) string {
	if n, ok := ix.nodesByID[nodeID]; ok && n.DefaultNextNodeID != "" {
		return n.DefaultNextNodeID
	}

	out := ix.edgesBySource[nodeID]
	if len(out) == 0 {
		return ""
	}

	var candidates []Edge
	for _, e := range out {
		switch e.Kind.Normalize() {
		case EdgeFlow, EdgeDefault, EdgeCondition:
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, out...)
	}

	// TODO: require a single authored default edge and report the rest as
	// ambiguous in the validator instead of silently tie-breaking here.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Target != candidates[j].Target {
			return candidates[i].Target < candidates[j].Target
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0].Target
}

// ChoiceTarget returns the node a choice leads to: its explicit
// NextNodeID, then a CHOICE edge whose SourceHandle is the choice id,
// then the default next node of the choice's node.
func (ix *Index) ChoiceTarget(nodeID string, c Choice) string {
	if c.NextNodeID != "" {
		return c.NextNodeID
	}
	if t := ix.HandleTarget(nodeID, c.ID, EdgeChoice); t != "" {
		return t
	}
	return ix.DefaultNextNode(nodeID)
}

// BlockTarget returns the node a conditional block leads to, resolved the
// same way as ChoiceTarget but through CONDITION edges.
func (ix *Index) BlockTarget(nodeID string, b ConditionalBlock) string {
	if b.NextNodeID != "" {
		return b.NextNodeID
	}
	if t := ix.HandleTarget(nodeID, b.ID, EdgeCondition); t != "" {
		return t
	}
	return ix.DefaultNextNode(nodeID)
}

// HandleTarget returns the target of the first outgoing edge of the given
// kind whose SourceHandle matches handle.
func (ix *Index) HandleTarget(nodeID, handle string, kind EdgeKind) string {
	if handle == "" {
		return ""
	}
	for _, e := range ix.edgesBySource[nodeID] {
		if e.Kind.Normalize() == kind && e.SourceHandle == handle {
			return e.Target
		}
	}
	return ""
}
