package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/NarrativeForge/internal/config"
	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
)

// GraphInfo summarises a stored graph.
type GraphInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Client stores graphs and events for one service namespace. It is a
// graph resolver and an events.Store.
type Client struct {
	db      *sql.DB
	service string
}

// ConnString builds a lib/pq connection string from the PG* variables.
// PGPASSWORD honours the _FILE convention.
func ConnString() (string, error) {
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return "", err
	}
	parts := []string{
		"host=" + getEnv("PGHOST", "127.0.0.1"),
		"port=" + getEnv("PGPORT", "5432"),
		"user=" + getEnv("PGUSER", "forge"),
		"dbname=" + getEnv("PGDATABASE", "forge"),
		"sslmode=" + getEnv("PGSSLMODE", "disable"),
	}
	if password != "" {
		parts = append(parts, "password="+password)
	}
	return strings.Join(parts, " "), nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// New connects to Postgres and creates the tables. An empty dsn is
// built with ConnString.
func New(ctx context.Context, dsn, service string) (*Client, error) {
	if dsn == "" {
		var err error
		if dsn, err = ConnString(); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{db: db, service: service}
	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return client, nil
}

func (c *Client) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS graphs (
			service    TEXT NOT NULL,
			graph_id   TEXT NOT NULL,
			title      TEXT,
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (service, graph_id)
		);
		CREATE TABLE IF NOT EXISTS events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			service    TEXT NOT NULL,
			session_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_service ON events(service);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// PutGraph inserts or replaces g.
func (c *Client) PutGraph(ctx context.Context, g *forge.Graph) error {
	if g == nil || g.ID == "" {
		return errors.New("graph id is required")
	}
	body, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	query := `
		INSERT INTO graphs (service, graph_id, title, body, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (service, graph_id)
		DO UPDATE SET title = EXCLUDED.title, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`
	_, err = c.db.ExecContext(ctx, query, c.service, g.ID, g.Title, body, time.Now().UTC())
	return err
}

// GetGraph loads a graph by id.
func (c *Client) GetGraph(ctx context.Context, graphID string) (*forge.Graph, error) {
	var body []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT body FROM graphs WHERE service = $1 AND graph_id = $2`,
		c.service, graphID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrGraphNotFound, graphID)
	}
	if err != nil {
		return nil, err
	}
	return forge.ParseGraph(body)
}

// ResolveGraph implements orchestrator.GraphResolver.
func (c *Client) ResolveGraph(ctx context.Context, graphID string) (*forge.Graph, error) {
	return c.GetGraph(ctx, graphID)
}

// ListGraphs returns stored graphs ordered by id.
func (c *Client) ListGraphs(ctx context.Context) ([]GraphInfo, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT graph_id, title, updated_at FROM graphs WHERE service = $1 ORDER BY graph_id`,
		c.service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GraphInfo
	for rows.Next() {
		var info GraphInfo
		var title sql.NullString
		if err := rows.Scan(&info.ID, &title, &info.UpdatedAt); err != nil {
			return nil, err
		}
		info.Title = title.String
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteGraph removes a graph.
func (c *Client) DeleteGraph(ctx context.Context, graphID string) error {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM graphs WHERE service = $1 AND graph_id = $2`, c.service, graphID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", orchestrator.ErrGraphNotFound, graphID)
	}
	return nil
}

// Append implements events.Store.
func (c *Client) Append(ctx context.Context, r events.Record) error {
	var fieldsJSON []byte
	if r.Fields != nil {
		var err error
		if fieldsJSON, err = json.Marshal(r.Fields); err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, service, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, query, r.Timestamp, r.Level, r.Event,
		nullString(r.Message), fieldsJSON, c.service, nullString(r.SessionID))
	return err
}

// Query implements events.Store, newest first.
func (c *Client) Query(ctx context.Context, limit int) ([]events.Record, error) {
	limit = clampLimit(limit)
	query := `
		SELECT event_id, ts, level, event, msg, fields, session_id
		FROM events
		WHERE service = $1
		ORDER BY ts DESC, event_id DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, c.service, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var r events.Record
		var fieldsJSON []byte
		var msg, sessionID sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Level, &r.Event, &msg, &fieldsJSON, &sessionID); err != nil {
			return nil, err
		}
		r.Message = msg.String
		r.SessionID = sessionID.String
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}
