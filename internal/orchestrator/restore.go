package orchestrator

import (
	"context"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// DefaultRestoreLimit is the default number of events to load for restore.
const DefaultRestoreLimit = 1000

// RestoredSession is the input needed to rebuild one session: the graph
// and starting flags it began with and the choices made since.
type RestoredSession struct {
	ID      string
	GraphID string
	Mode    Mode
	Flags   map[string]any
	Choices []string
}

// RestoreFromEvents loads events from the store and reconstructs the
// sessions that were still live. Returns nil if store is nil or no
// session was found.
func RestoreFromEvents(ctx context.Context, store events.Store, limit int) ([]RestoredSession, int, error) {
	if store == nil {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = DefaultRestoreLimit
	}

	rows, err := store.Query(ctx, limit)
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	// Reverse to chronological order (Query returns newest first)
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return ReplayPlan(rows), len(rows), nil
}

// ReplayPlan folds chronological event records into the sessions still
// live at the end of the log, in the order they were started.
func ReplayPlan(rows []events.Record) []RestoredSession {
	byID := make(map[string]*RestoredSession)
	var order []string

	for _, row := range rows {
		id, _ := row.Fields["session_id"].(string)
		if id == "" {
			id = row.SessionID
		}
		if id == "" {
			continue
		}

		switch row.Event {
		case "play.started":
			graphID, _ := row.Fields["graph_id"].(string)
			mode, _ := row.Fields["mode"].(string)
			flags, _ := row.Fields["flags"].(map[string]any)
			if _, ok := byID[id]; !ok {
				order = append(order, id)
			}
			byID[id] = &RestoredSession{ID: id, GraphID: graphID, Mode: Mode(mode), Flags: flags}

		case "play.choice_selected":
			s, ok := byID[id]
			if !ok {
				continue
			}
			if choiceID, ok := row.Fields["choice_id"].(string); ok {
				s.Choices = append(s.Choices, choiceID)
			}

		case "play.ended":
			delete(byID, id)
		}
	}

	out := make([]RestoredSession, 0, len(byID))
	for _, id := range order {
		if s, ok := byID[id]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// ApplyRestored rebuilds sessions by replaying their starts and choices
// through the engine. This does NOT re-emit play events or publish
// frames. Sessions whose replay fails are skipped and logged. Returns
// the number of sessions restored.
func (rt *Runtime) ApplyRestored(ctx context.Context, sessions []RestoredSession) int {
	restored := 0
	for _, rs := range sessions {
		state := forge.GameState{Flags: rs.Flags}
		if _, err := rt.start(ctx, rs.ID, rs.GraphID, state, rs.Mode, false); err != nil {
			rt.logger.Warn("restore start failed", "session_id", rs.ID, "graph_id", rs.GraphID, "error", err)
			continue
		}
		ok := true
		for _, choiceID := range rs.Choices {
			if _, err := rt.choose(ctx, rs.ID, choiceID, false); err != nil {
				rt.logger.Warn("restore choice failed", "session_id", rs.ID, "choice_id", choiceID, "error", err)
				ok = false
				break
			}
		}
		if !ok {
			rt.mu.Lock()
			delete(rt.sessions, rs.ID)
			rt.mu.Unlock()
			continue
		}
		restored++
		events.Emit("info", "play.restored", "", map[string]any{
			"session_id": rs.ID,
			"choices":    len(rs.Choices),
		})
	}
	return restored
}

// EmitStartupRestore emits the system.startup_restore event.
func EmitStartupRestore(replayed, sessions int) {
	events.Emit("info", "system.startup_restore", "", map[string]any{
		"events":   replayed,
		"sessions": sessions,
	})
}
