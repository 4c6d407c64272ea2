// Package audit records business events for essai: experiment lifecycle
// transitions and assignment conflicts, written to the application database.
//
// Recording is non-blocking by policy: a failing audit write is logged via
// slog but never propagates, so audit problems cannot break the tracking
// pipeline.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hazyhaar/essai/idgen"
)

// Schema creates the audit_events table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    entity_id  TEXT NOT NULL,
    details    TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_entity ON audit_events(entity_id, created_at DESC);
`

// Event is a single domain-level event to record.
type Event struct {
	Kind     string // e.g. "experiment_created", "experiment_completed"
	EntityID string
	Details  string // optional JSON
}

// Logger writes audit events.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets a custom ID generator for event ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// New creates a Logger and applies the schema.
func New(db *sql.DB, opts ...Option) (*Logger, error) {
	l := &Logger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.UUIDv7()),
	}
	for _, o := range opts {
		o(l)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}
	return l, nil
}

// Record writes an audit event. Failures are logged, never returned.
func (l *Logger) Record(ctx context.Context, ev Event) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, kind, entity_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		l.newID(), ev.Kind, ev.EntityID, ev.Details, time.Now().UnixMilli(),
	)
	if err != nil {
		slog.Error("audit record failed", "error", err, "kind", ev.Kind, "entity_id", ev.EntityID)
	}
}

// Recent returns the newest events for an entity, most recent first.
func (l *Logger) Recent(ctx context.Context, entityID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT kind, entity_id, details FROM audit_events
		 WHERE entity_id = ? ORDER BY created_at DESC LIMIT ?`,
		entityID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Kind, &ev.EntityID, &ev.Details); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
