package events

import (
	"context"
	"time"
)

// Record is an event as persisted by a Store.
type Record struct {
	ID        int64          `json:"event_id"`
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Message   string         `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Store persists emitted events. Query returns the newest events first.
type Store interface {
	Append(ctx context.Context, r Record) error
	Query(ctx context.Context, limit int) ([]Record, error)
}
