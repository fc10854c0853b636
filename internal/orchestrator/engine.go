package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// DefaultMaxSteps bounds node visits per Execute or SelectChoice call.
const DefaultMaxSteps = 10000

var (
	ErrNilGraph          = errors.New("graph is nil")
	ErrNoPendingChoice   = errors.New("no pending choice")
	ErrChoiceUnavailable = errors.New("choice not available")
)

// Mode selects how PLAYER nodes are handled.
type Mode string

const (
	// ModeInteractive suspends at PLAYER nodes until a choice is selected.
	ModeInteractive Mode = "INTERACTIVE"
	// ModeBatch takes the first visible choice automatically.
	ModeBatch Mode = "BATCH"
)

// Status is the execution state reported in a Result.
type Status string

const (
	StatusRunning        Status = "RUNNING"
	StatusAwaitingChoice Status = "AWAITING_CHOICE"
	StatusCompleted      Status = "COMPLETED"
	StatusError          Status = "ERROR"
)

// GraphResolver loads graphs referenced by STORYLET and DETOUR nodes.
type GraphResolver interface {
	ResolveGraph(ctx context.Context, graphID string) (*forge.Graph, error)
}

// Options configures a single Execute call.
type Options struct {
	Mode           Mode
	StartingNodeID string
	// Presentation is the persistent baseline carried in from a previous
	// call. Nil starts from an empty state.
	Presentation *forge.PresentationState
}

// RuntimeChoice is a choice offered to the player.
type RuntimeChoice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PendingChoice marks execution suspended at a PLAYER node.
type PendingChoice struct {
	GraphID string          `json:"graphId"`
	NodeID  string          `json:"nodeId"`
	Choices []RuntimeChoice `json:"choices"`
}

// Result is the outcome of Execute or SelectChoice.
type Result struct {
	Frames        []forge.Frame           `json:"frames"`
	PendingChoice *PendingChoice          `json:"pendingChoice,omitempty"`
	State         forge.GameState         `json:"state"`
	Status        Status                  `json:"status"`
	Presentation  forge.PresentationState `json:"presentation"`
	Error         string                  `json:"error,omitempty"`

	cursor *cursor
}

// Depth returns the number of detours the suspended execution is inside.
func (r *Result) Depth() int {
	if r.cursor == nil {
		return 0
	}
	return len(r.cursor.stack)
}

// cursor is what SelectChoice needs to resume a suspended execution.
type cursor struct {
	mode  Mode
	scope *scope
	stack []callFrame
}

type scope struct {
	graph *forge.Graph
	index *forge.Index
}

func newScope(g *forge.Graph) *scope {
	return &scope{graph: g, index: forge.NewIndex(g)}
}

// callFrame is pushed when entering a detour.
type callFrame struct {
	caller        *scope
	detourNodeID  string
	returnNodeID  string
	returnGraphID string
}

// Engine executes narrative graphs into frames. It holds no per-play
// state and is safe for concurrent use.
type Engine struct {
	resolver GraphResolver
	logger   *slog.Logger
	maxSteps int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the debug logger. The default discards output.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// NewEngine creates an engine. resolver may be nil, in which case every
// storylet and detour target is unresolved.
func NewEngine(resolver GraphResolver, opts ...EngineOption) *Engine {
	e := &Engine{
		resolver: resolver,
		logger:   slog.New(slog.DiscardHandler),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs g from the starting node (or the graph's start node) until
// it completes, suspends at a choice, or exhausts the step budget. The
// input state is never modified. A structurally broken graph completes
// with the frames produced so far rather than failing.
func (e *Engine) Execute(ctx context.Context, g *forge.Graph, state forge.GameState, opts Options) (*Result, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeInteractive
	}

	r := &run{
		engine: e,
		ctx:    ctx,
		mode:   mode,
		state:  state.Clone(),
		cur:    newScope(g),
	}
	if opts.Presentation != nil {
		r.persistent = opts.Presentation.Clone()
	} else {
		r.persistent = forge.NewPresentationState()
	}

	start := opts.StartingNodeID
	if start == "" {
		start = g.StartNodeID
	}
	e.logger.Debug("execute", "graph_id", g.ID, "start", start, "mode", mode)
	return r.loop(start), nil
}

// ExecuteByID resolves the graph through the engine's resolver and runs
// it. Failing to resolve the starting graph is the one error returned.
func (e *Engine) ExecuteByID(ctx context.Context, graphID string, state forge.GameState, opts Options) (*Result, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("resolve graph %s: %w", graphID, ErrGraphNotFound)
	}
	g, err := e.resolver.ResolveGraph(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("resolve graph %s: %w", graphID, err)
	}
	return e.Execute(ctx, g, state, opts)
}

// SelectChoice resumes a result suspended at a PLAYER node. The choice's
// mutations are applied to a copy of the state and new frames are
// appended after the existing ones.
func (e *Engine) SelectChoice(ctx context.Context, prev *Result, choiceID string) (*Result, error) {
	if prev == nil || prev.PendingChoice == nil || prev.cursor == nil {
		return nil, ErrNoPendingChoice
	}
	pc := prev.PendingChoice
	cur := prev.cursor.scope

	offered := false
	for _, c := range pc.Choices {
		if c.ID == choiceID {
			offered = true
			break
		}
	}
	if !offered {
		return nil, fmt.Errorf("%w: %s", ErrChoiceUnavailable, choiceID)
	}

	node, ok := cur.index.Node(pc.NodeID)
	if !ok {
		return nil, fmt.Errorf("%w: node %s", ErrChoiceUnavailable, pc.NodeID)
	}
	pd, ok := node.Data.(*forge.PlayerData)
	if !ok {
		return nil, fmt.Errorf("%w: node %s is not a player node", ErrChoiceUnavailable, pc.NodeID)
	}
	var choice *forge.Choice
	for i := range pd.Choices {
		if pd.Choices[i].ID == choiceID {
			choice = &pd.Choices[i]
			break
		}
	}
	if choice == nil {
		return nil, fmt.Errorf("%w: %s", ErrChoiceUnavailable, choiceID)
	}

	frames := make([]forge.Frame, len(prev.Frames), len(prev.Frames)+8)
	copy(frames, prev.Frames)

	r := &run{
		engine:     e,
		ctx:        ctx,
		mode:       prev.cursor.mode,
		frames:     frames,
		state:      forge.ApplyMutations(prev.State, choice.Mutations),
		persistent: prev.Presentation.Clone(),
		cur:        cur,
		stack:      append([]callFrame(nil), prev.cursor.stack...),
	}
	e.logger.Debug("choice selected", "graph_id", cur.graph.ID, "node_id", node.ID, "choice_id", choiceID)

	next, done := r.advance(node, cur.index.ChoiceTarget(node.ID, *choice))
	if done {
		return r.result(StatusCompleted, nil), nil
	}
	return r.loop(next), nil
}
