// Package observability records pipeline events and worker heartbeats to the
// camplus database. Writes never propagate errors to the caller: a failing
// event store must not block an export.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/camplus/idgen"
)

// Schema creates the observability tables.
const Schema = `
CREATE TABLE IF NOT EXISTS export_events (
    event_id   TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT '',
    entity_id  TEXT NOT NULL DEFAULT '',
    stage      TEXT NOT NULL DEFAULT '',
    details    TEXT NOT NULL DEFAULT '',
    success    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_export_events_time ON export_events(created_at DESC);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY,
    worker_name  TEXT NOT NULL,
    hostname     TEXT NOT NULL DEFAULT '',
    worker_pid   INTEGER NOT NULL DEFAULT 0,
    timestamp    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_worker_heartbeats_time ON worker_heartbeats(timestamp DESC);
`

// Event is one pipeline event to record.
type Event struct {
	EventType  string // e.g. "export_done", "export_failed", "fallback"
	EntityType string // "edit_entry", "shot", "asset"
	EntityID   string
	Stage      string // coordinator stage that produced the event
	Details    string // optional JSON
	Success    bool
}

// EventLogger writes pipeline events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the camplus database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Init applies the observability schema.
func (l *EventLogger) Init(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("observability: apply schema: %w", err)
	}
	return nil
}

// LogEvent records a pipeline event. Errors are logged via slog but do not
// propagate.
func (l *EventLogger) LogEvent(ctx context.Context, event Event) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO export_events (
			event_id, event_type, entity_type, entity_id, stage, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.EntityType, event.EntityID,
		event.Stage, event.Details, event.Success, time.Now().UnixMilli())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", event.EventType)
	}
}

// LogHeartbeat records a lightweight heartbeat row for a background worker.
func (l *EventLogger) LogHeartbeat(ctx context.Context, workerName, hostname string, pid int) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (heartbeat_id, worker_name, hostname, worker_pid, timestamp)
		VALUES (?,?,?,?,?)`,
		l.newID(), workerName, hostname, pid, time.Now().UnixMilli())
	if err != nil {
		slog.Warn("observability: heartbeat log failed", "error", err, "worker", workerName)
	}
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventsDays     int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().UnixMilli()

	type target struct {
		table  string
		column string
		days   int
	}
	targets := []target{
		{"export_events", "created_at", cfg.EventsDays},
		{"worker_heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days)*86_400_000
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}
