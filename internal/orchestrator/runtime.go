package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

var ErrSessionNotFound = errors.New("session not found")

// FramePublisher receives the frames produced by each play step.
type FramePublisher interface {
	PublishFrames(sessionID string, frames []forge.Frame) error
}

// Session is a snapshot of one play-through.
type Session struct {
	ID        string          `json:"id"`
	GraphID   string          `json:"graphId"`
	Mode      Mode            `json:"mode"`
	Initial   forge.GameState `json:"initial"`
	Choices   []string        `json:"choices"`
	StartedAt time.Time       `json:"startedAt"`
	Result    *Result         `json:"result"`
}

type sessionEntry struct {
	mu      sync.Mutex
	session Session
}

// Runtime manages concurrent play sessions on top of an Engine. Each
// session is driven through Start and Choose; the engine itself stays
// stateless.
type Runtime struct {
	engine    *Engine
	publisher FramePublisher
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewRuntime creates a session manager. publisher may be nil.
func NewRuntime(engine *Engine, publisher FramePublisher, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runtime{
		engine:    engine,
		publisher: publisher,
		logger:    logger,
		sessions:  make(map[string]*sessionEntry),
	}
}

// Start resolves graphID, executes it and registers a new session.
func (rt *Runtime) Start(ctx context.Context, graphID string, state forge.GameState, mode Mode) (Session, error) {
	return rt.start(ctx, uuid.NewString(), graphID, state, mode, true)
}

func (rt *Runtime) start(ctx context.Context, id, graphID string, state forge.GameState, mode Mode, emit bool) (Session, error) {
	if mode == "" {
		mode = ModeInteractive
	}
	initial := state.Clone()
	res, err := rt.engine.ExecuteByID(ctx, graphID, initial, Options{Mode: mode})
	if err != nil {
		return Session{}, err
	}

	entry := &sessionEntry{session: Session{
		ID:        id,
		GraphID:   graphID,
		Mode:      mode,
		Initial:   initial,
		Choices:   []string{},
		StartedAt: time.Now().UTC(),
		Result:    res,
	}}
	rt.mu.Lock()
	rt.sessions[id] = entry
	rt.mu.Unlock()

	if emit {
		events.Emit("info", "play.started", "", map[string]any{
			"session_id": id,
			"graph_id":   graphID,
			"mode":       string(mode),
			"flags":      initial.Flags,
		})
		rt.report(id, res, 0)
	}
	return entry.session, nil
}

// Choose resumes a session suspended at a choice.
func (rt *Runtime) Choose(ctx context.Context, sessionID, choiceID string) (Session, error) {
	return rt.choose(ctx, sessionID, choiceID, true)
}

func (rt *Runtime) choose(ctx context.Context, sessionID, choiceID string, emit bool) (Session, error) {
	entry, ok := rt.entry(sessionID)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	prev := entry.session.Result
	res, err := rt.engine.SelectChoice(ctx, prev, choiceID)
	if err != nil {
		return Session{}, err
	}
	entry.session.Result = res
	entry.session.Choices = append(append([]string(nil), entry.session.Choices...), choiceID)

	if emit {
		events.Emit("info", "play.choice_selected", "", map[string]any{
			"session_id": sessionID,
			"choice_id":  choiceID,
			"node_id":    prev.PendingChoice.NodeID,
			"graph_id":   prev.PendingChoice.GraphID,
		})
		rt.report(sessionID, res, len(prev.Frames))
	}
	return entry.session, nil
}

// report emits the status event for a step and publishes its new frames.
func (rt *Runtime) report(sessionID string, res *Result, seen int) {
	fields := map[string]any{
		"session_id": sessionID,
		"status":     string(res.Status),
		"frames":     len(res.Frames),
	}
	switch res.Status {
	case StatusAwaitingChoice:
		fields["node_id"] = res.PendingChoice.NodeID
		events.Emit("info", "play.awaiting_choice", "", fields)
	case StatusCompleted:
		events.Emit("info", "play.completed", "", fields)
	case StatusError:
		events.Emit("error", "play.failed", res.Error, fields)
	}

	if rt.publisher == nil || seen >= len(res.Frames) {
		return
	}
	fresh := res.Frames[seen:]
	if err := rt.publisher.PublishFrames(sessionID, fresh); err != nil {
		rt.logger.Warn("frame publish failed", "session_id", sessionID, "error", err)
		return
	}
	events.Emit("debug", "play.frames_published", "", map[string]any{
		"session_id": sessionID,
		"count":      len(fresh),
	})
}

// Session returns a snapshot of the session.
func (rt *Runtime) Session(id string) (Session, bool) {
	entry, ok := rt.entry(id)
	if !ok {
		return Session{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.session, true
}

// HasSession reports whether id is a live session.
func (rt *Runtime) HasSession(id string) bool {
	_, ok := rt.entry(id)
	return ok
}

// Sessions returns the ids of all live sessions in sorted order.
func (rt *Runtime) Sessions() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ids := make([]string, 0, len(rt.sessions))
	for id := range rt.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// End drops a session.
func (rt *Runtime) End(id string) error {
	rt.mu.Lock()
	_, ok := rt.sessions[id]
	delete(rt.sessions, id)
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	events.Emit("info", "play.ended", "", map[string]any{"session_id": id})
	return nil
}

func (rt *Runtime) entry(id string) (*sessionEntry, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	e, ok := rt.sessions[id]
	return e, ok
}
