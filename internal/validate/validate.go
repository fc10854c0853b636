// Package validate checks narrative graphs for structural problems
// before they are saved or played. It never executes a graph.
package validate

import (
	"fmt"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// Severity of an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue types.
const (
	MissingStart          = "missing_start"
	OrphanedNode          = "orphaned_node"
	DisconnectedSubgraph  = "disconnected_subgraph"
	DanglingEdge          = "dangling_edge"
	InvalidEdgeKind       = "invalid_edge_kind"
	InvalidHierarchy      = "invalid_hierarchy"
	DuplicateNodeID       = "duplicate_node_id"
	InvalidNodeType       = "invalid_node_type"
	DanglingNext          = "dangling_next"
	MissingStoryletTarget = "missing_storylet_target"
)

// Issue is one finding. ID is "type:subjectId" and stable across runs.
type Issue struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Severity  Severity `json:"severity"`
	SubjectID string   `json:"subjectId"`
	Message   string   `json:"message"`
}

// Result contains the validation outcome. Valid is false when there is
// at least one error; warnings do not affect it.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

type checker struct {
	g      *forge.Graph
	ix     *forge.Index
	result *Result
	seen   map[string]bool
}

// Graph validates g. Issues are reported in graph order, check by check,
// so an unchanged graph always yields the same result.
func Graph(g *forge.Graph) *Result {
	result := &Result{Valid: true, Errors: []Issue{}, Warnings: []Issue{}}
	if g == nil {
		result.Valid = false
		result.Errors = append(result.Errors, Issue{
			ID:       MissingStart + ":",
			Type:     MissingStart,
			Severity: SeverityError,
			Message:  "graph is nil",
		})
		return result
	}

	c := &checker{g: g, ix: forge.NewIndex(g), result: result, seen: make(map[string]bool)}
	c.duplicates()
	c.nodeTypes()
	startOK := c.start()
	c.edges()
	orphans := c.orphans()
	if startOK {
		c.reachability(orphans)
	}
	c.hierarchy()
	c.nextPointers()
	c.storylets()
	return result
}

func (c *checker) add(typ string, sev Severity, subject, format string, args ...any) {
	issue := Issue{
		ID:        typ + ":" + subject,
		Type:      typ,
		Severity:  sev,
		SubjectID: subject,
		Message:   fmt.Sprintf(format, args...),
	}
	if c.seen[issue.ID] {
		return
	}
	c.seen[issue.ID] = true
	if sev == SeverityError {
		c.result.Errors = append(c.result.Errors, issue)
		c.result.Valid = false
		return
	}
	c.result.Warnings = append(c.result.Warnings, issue)
}

func (c *checker) duplicates() {
	count := make(map[string]int, len(c.g.Nodes))
	for _, n := range c.g.Nodes {
		count[n.ID]++
	}
	for _, n := range c.g.Nodes {
		if count[n.ID] > 1 {
			c.add(DuplicateNodeID, SeverityError, n.ID, "node id %q is used by %d nodes", n.ID, count[n.ID])
		}
	}
}

func (c *checker) nodeTypes() {
	for _, n := range c.g.Nodes {
		if !n.Type.Known() {
			c.add(InvalidNodeType, SeverityError, n.ID, "node %s has unknown type %q", n.ID, n.Type)
		}
	}
}

func (c *checker) start() bool {
	if c.g.StartNodeID == "" {
		c.add(MissingStart, SeverityError, "", "graph %s has no start node", c.g.ID)
		return false
	}
	if _, ok := c.ix.Node(c.g.StartNodeID); !ok {
		c.add(MissingStart, SeverityError, c.g.StartNodeID, "start node %s does not exist", c.g.StartNodeID)
		return false
	}
	return true
}

func (c *checker) edges() {
	for _, e := range c.g.Edges {
		if _, ok := c.ix.Node(e.Source); !ok {
			c.add(DanglingEdge, SeverityError, e.ID, "edge %s source %s does not exist", e.ID, e.Source)
		} else if _, ok := c.ix.Node(e.Target); !ok {
			c.add(DanglingEdge, SeverityError, e.ID, "edge %s target %s does not exist", e.ID, e.Target)
		}
		if !e.Kind.Known() {
			c.add(InvalidEdgeKind, SeverityError, e.ID, "edge %s has unknown kind %q", e.ID, e.Kind)
		}
	}
}

// links returns every node id n points at: outgoing edges first, then
// next pointers on the node and its choices and blocks.
func (c *checker) links(n *forge.Node) []string {
	var out []string
	for _, e := range c.ix.Outgoing(n.ID) {
		out = append(out, e.Target)
	}
	if n.DefaultNextNodeID != "" {
		out = append(out, n.DefaultNextNodeID)
	}
	switch d := n.Data.(type) {
	case *forge.PlayerData:
		for _, ch := range d.Choices {
			if ch.NextNodeID != "" {
				out = append(out, ch.NextNodeID)
			}
		}
	case *forge.ConditionalData:
		for _, b := range d.Blocks {
			if b.NextNodeID != "" {
				out = append(out, b.NextNodeID)
			}
		}
	case *forge.StoryletData:
		if d.Call.ReturnNodeID != "" && (d.Call.ReturnGraphID == "" || d.Call.ReturnGraphID == c.g.ID) {
			out = append(out, d.Call.ReturnNodeID)
		}
	}
	return out
}

// orphans reports non-start nodes that nothing points at.
func (c *checker) orphans() map[string]bool {
	referenced := make(map[string]bool)
	for i := range c.g.Nodes {
		for _, id := range c.links(&c.g.Nodes[i]) {
			if id != c.g.Nodes[i].ID {
				referenced[id] = true
			}
		}
	}
	orphans := make(map[string]bool)
	for _, n := range c.g.Nodes {
		if n.ID == c.g.StartNodeID || referenced[n.ID] {
			continue
		}
		orphans[n.ID] = true
		c.add(OrphanedNode, SeverityError, n.ID, "node %s has no incoming connections", n.ID)
	}
	return orphans
}

// reachability walks forward from the start node. Orphans are already
// reported and are not repeated.
func (c *checker) reachability(orphans map[string]bool) {
	reached := map[string]bool{c.g.StartNodeID: true}
	stack := []string{c.g.StartNodeID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := c.ix.Node(id)
		if !ok {
			continue
		}
		for _, next := range c.links(n) {
			if reached[next] {
				continue
			}
			reached[next] = true
			stack = append(stack, next)
		}
	}
	for _, n := range c.g.Nodes {
		if reached[n.ID] || orphans[n.ID] {
			continue
		}
		c.add(DisconnectedSubgraph, SeverityError, n.ID, "node %s is unreachable from start node %s", n.ID, c.g.StartNodeID)
	}
}

func (c *checker) hierarchy() {
	for _, n := range c.g.Nodes {
		var want forge.NodeType
		switch n.Type {
		case forge.NodeChapter:
			want = forge.NodeAct
		case forge.NodePage:
			want = forge.NodeChapter
		default:
			continue
		}
		in := c.ix.Incoming(n.ID)
		if len(in) != 1 {
			continue
		}
		parent, ok := c.ix.Node(in[0].Source)
		if !ok || parent.Type == want {
			continue
		}
		c.add(InvalidHierarchy, SeverityWarning, n.ID, "%s %s has parent %s of type %s, want %s",
			n.Type, n.ID, parent.ID, parent.Type, want)
	}
}

func (c *checker) nextPointers() {
	check := func(subject, target string) {
		if target == "" {
			return
		}
		if _, ok := c.ix.Node(target); !ok {
			c.add(DanglingNext, SeverityWarning, subject, "%s points at missing node %s", subject, target)
		}
	}
	for _, n := range c.g.Nodes {
		check(n.ID, n.DefaultNextNodeID)
		switch d := n.Data.(type) {
		case *forge.PlayerData:
			for _, ch := range d.Choices {
				check(n.ID+"/"+ch.ID, ch.NextNodeID)
			}
		case *forge.ConditionalData:
			for _, b := range d.Blocks {
				check(n.ID+"/"+b.ID, b.NextNodeID)
			}
		}
	}
}

func (c *checker) storylets() {
	for _, n := range c.g.Nodes {
		d, ok := n.Data.(*forge.StoryletData)
		if !ok {
			continue
		}
		if d.Call.TargetGraphID == "" {
			c.add(MissingStoryletTarget, SeverityWarning, n.ID, "%s node %s has no target graph", n.Type, n.ID)
		}
	}
}
