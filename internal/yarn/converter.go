// Package yarn converts narrative graphs to and from a Yarn Spinner style
// text format. Each node becomes one block; DETOUR nodes additionally
// inline the blocks of the graph they call.
package yarn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// GraphResolver loads graphs referenced by DETOUR nodes during export.
type GraphResolver interface {
	ResolveGraph(ctx context.Context, graphID string) (*forge.Graph, error)
}

// Converter holds the handler registry.
type Converter struct {
	handlers map[forge.NodeType]Handler
	resolver GraphResolver
	logger   *slog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the debug logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a converter with handlers for every built-in node type.
// resolver may be nil, in which case detours are exported as stubs.
func New(resolver GraphResolver, opts ...Option) *Converter {
	c := &Converter{
		handlers: defaultHandlers(),
		resolver: resolver,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register installs or replaces the handler for a node type.
func (c *Converter) Register(t forge.NodeType, h Handler) {
	c.handlers[t] = h
}

// ExportResult is the text of an exported graph and the problems found.
type ExportResult struct {
	Text   string
	Issues []*ConversionError
}

// ImportResult is an imported graph. Inlined holds the graphs whose
// blocks were inlined under DETOUR nodes, keyed by graph id.
type ImportResult struct {
	Graph   *forge.Graph
	Inlined map[string]*forge.Graph
	Issues  []*ConversionError
}

// Export writes g as Yarn text. Problems with single nodes are reported
// in the result and the node is written as a stub; the returned error is
// only set when g is nil.
func (c *Converter) Export(ctx context.Context, g *forge.Graph) (*ExportResult, error) {
	if g == nil {
		return nil, errors.New("graph is nil")
	}
	x := &exportRun{
		conv:    c,
		ctx:     ctx,
		visited: map[string]bool{g.ID: true},
	}
	blocks := x.graph(g, "", "")
	return &ExportResult{Text: Format(blocks), Issues: x.issues}, nil
}

type exportRun struct {
	conv    *Converter
	ctx     context.Context
	visited map[string]bool
	issues  []*ConversionError
}

func (x *exportRun) issue(graphID, nodeID string, err error) {
	x.conv.logger.Debug("export issue", "graph_id", graphID, "node_id", nodeID, "error", err)
	x.issues = append(x.issues, &ConversionError{GraphID: graphID, NodeID: nodeID, Err: err})
}

// graph emits blocks for every node of g in graph order. Inlined copies
// get prefix on their titles and jump targets; returnTo, when set, is
// where the copy's end nodes continue.
func (x *exportRun) graph(g *forge.Graph, prefix, returnTo string) []*Block {
	ix := forge.NewIndex(g)
	rename := func(id string) string {
		if prefix == "" {
			return id
		}
		if _, ok := ix.Node(id); ok {
			return prefix + id
		}
		return id
	}

	var out []*Block
	for i := range g.Nodes {
		n := &g.Nodes[i]
		b := x.node(g, ix, n)

		next := ix.DefaultNextNode(n.ID)
		if next != "" {
			b.Lines = append(b.Lines, Jump(next))
		}
		renameJumps(b.Lines, rename)

		b.Title = prefix + n.ID
		if prefix != "" {
			b.SetHeader("inline", g.ID)
			b.SetHeader("origin", n.ID)
			if returnTo != "" && (g.IsEndNode(n.ID) || next == "") {
				b.PatchJump(returnTo)
				b.SetHeader("return", returnTo)
			}
		}
		out = append(out, b)

		if d, ok := n.Data.(*forge.StoryletData); ok && isDetour(n, d.Call) {
			out = append(out, x.inline(g, ix, n, d.Call, b, prefix, rename)...)
		}
	}
	return out
}

// node runs the registered handler and adds the common headers. A failing
// handler yields a stub block carrying only the headers.
func (x *exportRun) node(g *forge.Graph, ix *forge.Index, n *forge.Node) *Block {
	h, ok := x.conv.handlers[n.Type]
	var b *Block
	switch {
	case !ok && n.Type.Known():
		x.issue(g.ID, n.ID, fmt.Errorf("%w: %s", ErrNoHandler, n.Type))
		b = &Block{Lines: []Line{Comment("stub for " + n.ID)}}
	case !ok:
		// Unknown types keep their tag and pass through.
		b = &Block{}
	default:
		var err error
		b, err = h.ExportNode(n, ix)
		if err != nil {
			x.issue(g.ID, n.ID, err)
			b = &Block{Lines: []Line{Comment("stub for " + n.ID)}}
		}
	}

	b.Headers = append([]Header{{Key: "type", Value: string(n.Type)}}, b.Headers...)
	if g.StartNodeID == n.ID {
		b.AddTag("start")
	}
	for _, e := range g.EndNodeIDs {
		if e.NodeID == n.ID {
			b.AddTag("end")
			b.SetHeader("exit", e.ExitKey)
		}
	}
	return b
}

func isDetour(n *forge.Node, call forge.StoryletCall) bool {
	return call.Mode == forge.CallDetourReturn || (call.Mode == "" && n.Type == forge.NodeDetour)
}

// inline appends the called graph's blocks after the detour block. A graph
// already being inlined on the current path, or one that cannot be
// resolved, is replaced by a jump to the return point.
func (x *exportRun) inline(g *forge.Graph, ix *forge.Index, n *forge.Node, call forge.StoryletCall, own *Block, prefix string, rename func(string) string) []*Block {
	returnTo := call.ReturnNodeID
	if returnTo == "" {
		returnTo = ix.DefaultNextNode(n.ID)
	}
	returnTo = rename(returnTo)

	stub := func(err error) []*Block {
		x.issue(g.ID, n.ID, err)
		own.SetHeader("stub", err.Error())
		own.Lines = append([]Line{Comment(fmt.Sprintf("detour to %s not inlined", call.TargetGraphID))}, own.Lines...)
		if returnTo != "" && own.LastJump() < 0 {
			own.Lines = append(own.Lines, Jump(returnTo))
			own.SetHeader("return", returnTo)
		}
		return nil
	}

	if call.TargetGraphID == "" {
		return stub(fmt.Errorf("%w: no target graph", ErrUnresolved))
	}
	if x.visited[call.TargetGraphID] {
		return stub(fmt.Errorf("%w: %s is already being exported", ErrCycle, call.TargetGraphID))
	}
	if x.conv.resolver == nil {
		return stub(fmt.Errorf("%w: %s", ErrUnresolved, call.TargetGraphID))
	}
	target, err := x.conv.resolver.ResolveGraph(x.ctx, call.TargetGraphID)
	if err != nil || target == nil {
		return stub(fmt.Errorf("%w: %s: %v", ErrUnresolved, call.TargetGraphID, err))
	}
	if call.ReturnGraphID != "" && call.ReturnGraphID != g.ID {
		x.issue(g.ID, n.ID, fmt.Errorf("return into graph %s cannot be inlined; returning to the caller", call.ReturnGraphID))
	}

	start := call.TargetStartNodeID
	if start == "" {
		start = target.StartNodeID
	}
	childPrefix := prefix + n.ID + "__"

	// Enter the copy before continuing in this block.
	entry := Command("detour", childPrefix+start)
	if i := own.LastJump(); i >= 0 {
		own.Lines = append(own.Lines[:i], append([]Line{entry}, own.Lines[i:]...)...)
	} else {
		own.Lines = append(own.Lines, entry)
	}

	x.visited[call.TargetGraphID] = true
	defer delete(x.visited, call.TargetGraphID)
	return x.graph(target, childPrefix, returnTo)
}

func renameJumps(lines []Line, rename func(string) string) {
	for i := range lines {
		if lines[i].Kind == LineJump {
			lines[i].Target = rename(lines[i].Target)
		}
		renameJumps(lines[i].Body, rename)
	}
}

// Import reads Yarn text into a graph titled title. Blocks that cannot be
// read become stub nodes and are reported; ErrEmptyDocument is returned
// when the text has no blocks at all.
func (c *Converter) Import(text, title string) (*ImportResult, error) {
	blocks, parseIssues := Parse(text)
	if len(blocks) == 0 {
		return nil, ErrEmptyDocument
	}

	res := &ImportResult{
		Graph:   &forge.Graph{ID: title, Title: title},
		Inlined: make(map[string]*forge.Graph),
	}
	for _, is := range parseIssues {
		is.GraphID = title
		res.Issues = append(res.Issues, is)
	}

	seen := make(map[string]bool)
	for _, b := range blocks {
		graphID, inlined := b.Header("inline")
		target := res.Graph
		nodeID := b.Title
		if inlined {
			origin, _ := b.Header("origin")
			if origin == "" {
				origin = b.Title
			}
			if seen[graphID+"\x00"+origin] {
				continue
			}
			seen[graphID+"\x00"+origin] = true
			if res.Inlined[graphID] == nil {
				res.Inlined[graphID] = &forge.Graph{ID: graphID, Title: graphID}
			}
			target = res.Inlined[graphID]
			nodeID = origin
		}
		n, extra, next := c.importBlock(target.ID, nodeID, b, res)
		ret, hasReturn := b.Header("return")
		prefix := ""
		if inlined {
			prefix = strings.TrimSuffix(b.Title, nodeID)
		}
		// The return jump is added on export to leave an inlined copy or a stub.
		local := func(id string) string {
			if hasReturn && id == ret {
				return ""
			}
			return strings.TrimPrefix(id, prefix)
		}
		next = local(next)
		unprefix(&n, prefix)
		n.DefaultNextNodeID = next
		target.Nodes = append(target.Nodes, n)
		for _, e := range extra {
			unprefix(&e, prefix)
			if e.DefaultNextNodeID == "" {
				e.DefaultNextNodeID = next
			} else {
				e.DefaultNextNodeID = local(e.DefaultNextNodeID)
			}
			target.Nodes = append(target.Nodes, e)
		}

		if b.HasTag("start") && target.StartNodeID == "" {
			target.StartNodeID = nodeID
		}
		if b.HasTag("end") {
			exit, _ := b.Header("exit")
			target.EndNodeIDs = append(target.EndNodeIDs, forge.EndNode{NodeID: nodeID, ExitKey: exit})
		}
	}

	if res.Graph.StartNodeID == "" && len(res.Graph.Nodes) > 0 {
		res.Graph.StartNodeID = res.Graph.Nodes[0].ID
	}
	linkEdges(res.Graph)
	for _, g := range res.Inlined {
		linkEdges(g)
	}
	return res, nil
}

// nodesImporter is implemented by handlers that may read one block into
// several nodes.
type nodesImporter interface {
	ImportNodes(id string, b *Block, warn func(line int, err error)) ([]forge.Node, error)
}

// importBlock reads one block into a node, any further nodes the block
// expands to, and the target of its trailing default jump.
func (c *Converter) importBlock(graphID, nodeID string, b *Block, res *ImportResult) (forge.Node, []forge.Node, string) {
	warn := func(line int, err error) {
		res.Issues = append(res.Issues, &ConversionError{GraphID: graphID, NodeID: nodeID, Line: line, Err: err})
	}

	body := *b
	body.Lines = append([]Line(nil), b.Lines...)
	next := ""
	if i := body.LastJump(); i >= 0 {
		next = body.Lines[i].Target
		body.Lines = body.Lines[:i]
	}

	t := inferType(b)
	h, ok := c.handlers[t]
	if !ok {
		if t.Known() {
			warn(b.Pos, fmt.Errorf("%w: %s", ErrNoHandler, t))
		}
		return forge.NewNode(nodeID, t), nil, next
	}
	var nodes []forge.Node
	var err error
	if ni, ok := h.(nodesImporter); ok {
		nodes, err = ni.ImportNodes(nodeID, &body, warn)
	} else {
		var n forge.Node
		n, err = h.ImportNode(nodeID, &body, warn)
		nodes = []forge.Node{n}
	}
	if err != nil {
		warn(b.Pos, err)
		return forge.NewNode(nodeID, t), nil, next
	}
	nodes[0].ID, nodes[0].Type = nodeID, t
	return nodes[0], nodes[1:], next
}

func inferType(b *Block) forge.NodeType {
	if v, ok := b.Header("type"); ok && v != "" {
		return forge.NodeType(strings.ToUpper(v))
	}
	for _, l := range b.Lines {
		switch {
		case l.Kind == LineOption:
			return forge.NodePlayer
		case l.Kind == LineIf:
			return forge.NodeConditional
		case l.Kind == LineCommand && l.Name == "storylet":
			return forge.NodeStorylet
		}
	}
	return forge.NodeCharacter
}

func unprefix(n *forge.Node, prefix string) {
	if prefix == "" {
		return
	}
	switch d := n.Data.(type) {
	case *forge.PlayerData:
		for i := range d.Choices {
			d.Choices[i].NextNodeID = strings.TrimPrefix(d.Choices[i].NextNodeID, prefix)
		}
	case *forge.ConditionalData:
		for i := range d.Blocks {
			d.Blocks[i].NextNodeID = strings.TrimPrefix(d.Blocks[i].NextNodeID, prefix)
		}
	}
}

// linkEdges adds a FLOW edge for every default jump. Choice and block
// targets stay on their NextNodeID; CHOICE or CONDITION edges would be
// picked up by the default-next fallback and change where nodes lead.
func linkEdges(g *forge.Graph) {
	for _, n := range g.Nodes {
		if n.DefaultNextNodeID == "" {
			continue
		}
		g.Edges = append(g.Edges, forge.Edge{
			ID:     n.ID + "->" + n.DefaultNextNodeID,
			Source: n.ID,
			Target: n.DefaultNextNodeID,
			Kind:   forge.EdgeFlow,
		})
	}
}
