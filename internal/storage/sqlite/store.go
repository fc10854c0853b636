// Package sqlite is a local graph and event store for the CLI and for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
)

const timeFormat = time.RFC3339Nano

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS graphs (
	graph_id   TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	event_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	level      TEXT NOT NULL,
	event      TEXT NOT NULL,
	msg        TEXT NOT NULL DEFAULT '',
	fields     TEXT,
	session_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
`

// GraphInfo summarises a stored graph.
type GraphInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a SQLite graph store, graph resolver and events.Store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := clean + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutGraph inserts or replaces g.
func (s *Store) PutGraph(ctx context.Context, g *forge.Graph) error {
	if g == nil || g.ID == "" {
		return errors.New("graph id is required")
	}
	body, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graphs (graph_id, title, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(graph_id) DO UPDATE SET title = excluded.title, body = excluded.body, updated_at = excluded.updated_at`,
		g.ID, g.Title, string(body), time.Now().UTC().Format(timeFormat))
	return err
}

// GetGraph loads a graph by id.
func (s *Store) GetGraph(ctx context.Context, graphID string) (*forge.Graph, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM graphs WHERE graph_id = ?`, graphID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrGraphNotFound, graphID)
	}
	if err != nil {
		return nil, err
	}
	return forge.ParseGraph([]byte(body))
}

// ResolveGraph implements orchestrator.GraphResolver.
func (s *Store) ResolveGraph(ctx context.Context, graphID string) (*forge.Graph, error) {
	return s.GetGraph(ctx, graphID)
}

// ListGraphs returns stored graphs ordered by id.
func (s *Store) ListGraphs(ctx context.Context) ([]GraphInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT graph_id, title, updated_at FROM graphs ORDER BY graph_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GraphInfo
	for rows.Next() {
		var info GraphInfo
		var updated string
		if err := rows.Scan(&info.ID, &info.Title, &updated); err != nil {
			return nil, err
		}
		if info.UpdatedAt, err = time.Parse(timeFormat, updated); err != nil {
			return nil, fmt.Errorf("parse updated_at for %s: %w", info.ID, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteGraph removes a graph.
func (s *Store) DeleteGraph(ctx context.Context, graphID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE graph_id = ?`, graphID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", orchestrator.ErrGraphNotFound, graphID)
	}
	return nil
}

// Append implements events.Store.
func (s *Store) Append(ctx context.Context, r events.Record) error {
	var fields sql.NullString
	if r.Fields != nil {
		b, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		fields = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (ts, level, event, msg, fields, session_id) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Timestamp.UTC().Format(timeFormat), r.Level, r.Event, r.Message, fields, r.SessionID)
	return err
}

// Query implements events.Store, newest first.
func (s *Store) Query(ctx context.Context, limit int) ([]events.Record, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, ts, level, event, msg, fields, session_id
		FROM events ORDER BY event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var r events.Record
		var ts string
		var fields sql.NullString
		if err := rows.Scan(&r.ID, &ts, &r.Level, &r.Event, &r.Message, &fields, &r.SessionID); err != nil {
			return nil, err
		}
		if r.Timestamp, err = time.Parse(timeFormat, ts); err != nil {
			return nil, fmt.Errorf("parse ts for event %d: %w", r.ID, err)
		}
		if fields.Valid {
			if err := json.Unmarshal([]byte(fields.String), &r.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal fields: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
