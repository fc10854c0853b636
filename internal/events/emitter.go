package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

var buffer = NewRingBuffer(256)

var (
	store         Store
	storeMu       sync.RWMutex
	storeErrorLog bool
)

// SetStore sets the store used for event persistence. Nil disables it.
func SetStore(s Store) {
	storeMu.Lock()
	store = s
	storeErrorLog = false
	storeMu.Unlock()
}

// GetStore returns the current store (for API queries and restore).
func GetStore() Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return store
}

type Event struct {
	Timestamp string         `json:"ts"`
	Level     string         `json:"level"`
	Name      string         `json:"event"`
	Message   string         `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Emit records a domain event in the ring buffer, persists it when a
// store is set and fans it out to subscribers.
func Emit(level, name, msg string, fields map[string]any) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	persist(ts, e)
	broadcast(e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

func persist(ts time.Time, e Event) {
	storeMu.RLock()
	s := store
	errorLogged := storeErrorLog
	storeMu.RUnlock()
	if s == nil {
		return
	}

	sessionID, _ := e.Fields["session_id"].(string)
	err := s.Append(context.Background(), Record{
		Timestamp: ts,
		Level:     e.Level,
		Event:     e.Name,
		Message:   e.Message,
		Fields:    e.Fields,
		SessionID: sessionID,
	})
	if err == nil || errorLogged {
		return
	}

	// Report the first failure straight into the buffer. Going through
	// Emit would recurse while the store keeps failing.
	storeMu.Lock()
	first := !storeErrorLog
	storeErrorLog = true
	storeMu.Unlock()
	if first {
		buffer.Add(Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     "error",
			Name:      "system.error",
			Message:   "event store append failed",
			Fields:    map[string]any{"error": err.Error()},
		})
	}
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return buffer.Total()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
