package orchestrator

import (
	"context"
	"fmt"
	"regexp"

	"github.com/AaronLay10/NarrativeForge/internal/condition"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/presentation"
)

var interpolation = regexp.MustCompile(`\{\$([A-Za-z0-9_.\-]+)\}`)

// run is the mutable state of one Execute or SelectChoice call.
type run struct {
	engine     *Engine
	ctx        context.Context
	mode       Mode
	frames     []forge.Frame
	state      forge.GameState
	persistent forge.PresentationState
	cur        *scope
	stack      []callFrame
	steps      int
}

func (r *run) loop(next string) *Result {
	log := r.engine.logger
	for {
		if next == "" {
			ret, ok := r.pop()
			if !ok {
				return r.result(StatusCompleted, nil)
			}
			next = ret
			continue
		}

		r.steps++
		if r.steps > r.engine.maxSteps {
			log.Debug("step budget exhausted", "graph_id", r.cur.graph.ID, "node_id", next)
			res := r.result(StatusError, nil)
			res.Error = fmt.Sprintf("step budget of %d exhausted at node %s", r.engine.maxSteps, next)
			return res
		}

		node, ok := r.cur.index.Node(next)
		if !ok {
			log.Debug("node not found", "graph_id", r.cur.graph.ID, "node_id", next)
			return r.result(StatusCompleted, nil)
		}

		var target string
		switch d := node.Data.(type) {
		case *forge.StructureData:
			if d.Content != "" {
				r.emit(node, "", d.Content, nil)
			}
			r.state = forge.ApplyMutations(r.state, d.SetFlags)
			target = r.cur.index.DefaultNextNode(node.ID)

		case *forge.DialogueData:
			r.emit(node, d.Speaker, d.Content, d.Presentation)
			r.state = forge.ApplyMutations(r.state, d.SetFlags)
			target = r.cur.index.DefaultNextNode(node.ID)

		case *forge.PlayerData:
			if d.Content != "" {
				r.emit(node, d.Speaker, d.Content, d.Presentation)
			}
			r.state = forge.ApplyMutations(r.state, d.SetFlags)
			visible := visibleChoices(d.Choices, r.state.Flags)
			if len(visible) == 0 {
				target = r.cur.index.DefaultNextNode(node.ID)
				break
			}
			if r.mode != ModeBatch {
				return r.suspend(node, visible)
			}
			c := visible[0]
			r.emitKind(node, forge.FrameChoice, d.Speaker, c.Text, nil)
			r.state = forge.ApplyMutations(r.state, c.Mutations)
			target = r.cur.index.ChoiceTarget(node.ID, c)

		case *forge.ConditionalData:
			target = r.cur.index.DefaultNextNode(node.ID)
			if b := selectBlock(d.Blocks, r.state.Flags); b != nil {
				if b.Content != "" {
					r.emit(node, b.Speaker, b.Content, nil)
				}
				r.state = forge.ApplyMutations(r.state, b.SetFlags)
				target = r.cur.index.BlockTarget(node.ID, *b)
			}

		case *forge.StoryletData:
			var done bool
			next, done = r.dispatch(node, d.Call)
			if done {
				return r.result(StatusCompleted, nil)
			}
			continue

		default:
			target = r.cur.index.DefaultNextNode(node.ID)
		}

		var done bool
		next, done = r.advance(node, target)
		if done {
			return r.result(StatusCompleted, nil)
		}
	}
}

// advance leaves node towards target. Leaving a declared end node returns
// from the current detour, or completes execution at the top level.
func (r *run) advance(node *forge.Node, target string) (string, bool) {
	if !r.cur.graph.IsEndNode(node.ID) {
		return target, false
	}
	ret, ok := r.pop()
	if !ok {
		return "", true
	}
	return ret, false
}

// pop returns from the innermost detour.
func (r *run) pop() (string, bool) {
	if len(r.stack) == 0 {
		return "", false
	}
	f := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	r.cur = f.caller

	if f.returnGraphID != "" && f.returnGraphID != f.caller.graph.ID {
		g, err := r.resolve(f.returnGraphID)
		if err != nil {
			r.engine.logger.Debug("return graph unresolved", "graph_id", f.returnGraphID, "error", err)
			return "", true
		}
		r.cur = newScope(g)
	}

	r.engine.logger.Debug("detour returned", "graph_id", r.cur.graph.ID, "return_node_id", f.returnNodeID)
	if f.returnNodeID != "" {
		return f.returnNodeID, true
	}
	if ret := f.caller.index.DefaultNextNode(f.detourNodeID); ret != "" {
		return ret, true
	}
	// Nothing to return to: keep unwinding.
	return r.pop()
}

// dispatch transfers control to another graph for STORYLET and DETOUR
// nodes. It returns the next node in the (possibly new) current scope.
func (r *run) dispatch(node *forge.Node, call forge.StoryletCall) (string, bool) {
	detour := call.Mode == forge.CallDetourReturn || (call.Mode == "" && node.Type == forge.NodeDetour)

	// Where execution continues when the call cannot be made.
	skip := func() (string, bool) {
		if !detour {
			return "", true
		}
		if call.ReturnNodeID != "" {
			return call.ReturnNodeID, false
		}
		return r.advance(node, r.cur.index.DefaultNextNode(node.ID))
	}

	if call.TargetGraphID == "" {
		r.diagnostic(node, "storylet has no target graph")
		return skip()
	}

	if !detour && call.TargetGraphID == r.cur.graph.ID {
		start := call.TargetStartNodeID
		if start == "" {
			start = r.cur.graph.StartNodeID
		}
		return start, false
	}

	if r.onPath(call.TargetGraphID) {
		r.diagnostic(node, fmt.Sprintf("graph %s is already active; not entering it again", call.TargetGraphID))
		return skip()
	}

	g, err := r.resolve(call.TargetGraphID)
	if err != nil {
		r.diagnostic(node, fmt.Sprintf("graph %s could not be resolved", call.TargetGraphID))
		r.engine.logger.Debug("storylet unresolved", "graph_id", call.TargetGraphID, "error", err)
		return skip()
	}

	start := call.TargetStartNodeID
	if start == "" {
		start = g.StartNodeID
	}
	if start == "" {
		r.diagnostic(node, fmt.Sprintf("graph %s has no start node", call.TargetGraphID))
		return skip()
	}

	if detour {
		r.stack = append(r.stack, callFrame{
			caller:        r.cur,
			detourNodeID:  node.ID,
			returnNodeID:  call.ReturnNodeID,
			returnGraphID: call.ReturnGraphID,
		})
	}
	r.engine.logger.Debug("entering graph", "graph_id", g.ID, "start", start, "detour", detour)
	r.cur = newScope(g)
	return start, false
}

// onPath reports whether graphID is the current graph or one of the
// callers on the detour stack.
func (r *run) onPath(graphID string) bool {
	if r.cur.graph.ID == graphID {
		return true
	}
	for _, f := range r.stack {
		if f.caller.graph.ID == graphID {
			return true
		}
	}
	return false
}

func (r *run) resolve(graphID string) (*forge.Graph, error) {
	if r.engine.resolver == nil {
		return nil, ErrGraphNotFound
	}
	g, err := r.engine.resolver.ResolveGraph(r.ctx, graphID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGraphNotFound
	}
	return g, nil
}

func (r *run) suspend(node *forge.Node, visible []forge.Choice) *Result {
	choices := make([]RuntimeChoice, 0, len(visible))
	for _, c := range visible {
		choices = append(choices, RuntimeChoice{ID: c.ID, Text: interpolate(c.Text, r.state.Flags)})
	}
	return r.result(StatusAwaitingChoice, &PendingChoice{
		GraphID: r.cur.graph.ID,
		NodeID:  node.ID,
		Choices: choices,
	})
}

func (r *run) result(status Status, pending *PendingChoice) *Result {
	res := &Result{
		Frames:        r.frames,
		PendingChoice: pending,
		State:         r.state,
		Status:        status,
		Presentation:  r.persistent,
	}
	if res.Frames == nil {
		res.Frames = []forge.Frame{}
	}
	if pending != nil {
		res.cursor = &cursor{mode: r.mode, scope: r.cur, stack: r.stack}
	}
	return res
}

func (r *run) emit(node *forge.Node, speaker, content string, pres *forge.Presentation) {
	kind := forge.FrameNarrator
	if speaker != "" {
		kind = forge.FrameDialogue
	}
	r.emitKind(node, kind, speaker, content, pres)
}

func (r *run) emitKind(node *forge.Node, kind forge.FrameKind, speaker, content string, pres *forge.Presentation) {
	directives := presentation.Directives(pres, speaker)
	frameState, persistent := presentation.Resolve(r.persistent, directives)
	r.persistent = persistent

	resolved := presentation.Mark(frameState, directives)

	r.frames = append(r.frames, forge.Frame{
		ID:   fmt.Sprintf("%s:%s:%d", r.cur.graph.ID, node.ID, len(r.frames)),
		Kind: kind,
		Source: forge.FrameSource{
			GraphID:  r.cur.graph.ID,
			NodeID:   node.ID,
			NodeType: node.Type,
		},
		Speaker:      speaker,
		Content:      interpolate(content, r.state.Flags),
		Directives:   resolved,
		Presentation: frameState,
	})
}

func (r *run) diagnostic(node *forge.Node, msg string) {
	r.engine.logger.Debug("diagnostic", "graph_id", r.cur.graph.ID, "node_id", node.ID, "msg", msg)
	r.emitKind(node, forge.FrameDiagnostic, "", msg, nil)
}

func visibleChoices(choices []forge.Choice, flags map[string]any) []forge.Choice {
	var out []forge.Choice
	for _, c := range choices {
		if condition.Evaluate(c.Conditions, flags) {
			out = append(out, c)
		}
	}
	return out
}

// selectBlock returns the first IF/ELSEIF whose conditions hold, or an
// ELSE reached before any of them.
func selectBlock(blocks []forge.ConditionalBlock, flags map[string]any) *forge.ConditionalBlock {
	for i := range blocks {
		b := &blocks[i]
		if b.Type == forge.BlockElse || condition.Evaluate(b.Condition, flags) {
			return b
		}
	}
	return nil
}

func interpolate(s string, flags map[string]any) string {
	if s == "" {
		return s
	}
	return interpolation.ReplaceAllStringFunc(s, func(m string) string {
		name := interpolation.FindStringSubmatch(m)[1]
		v, ok := flags[name]
		if !ok {
			return m
		}
		return condition.Format(v)
	})
}
