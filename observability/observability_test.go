package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/camplus/dbopen"
	_ "modernc.org/sqlite"
)

func newTestLogger(t *testing.T) (*EventLogger, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	l := NewEventLogger(db)
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return l, db
}

func TestLogEvent(t *testing.T) {
	l, db := newTestLogger(t)
	ctx := context.Background()

	l.LogEvent(ctx, Event{
		EventType:  "export_done",
		EntityType: "edit_entry",
		EntityID:   "edt_1",
		Stage:      "done",
		Success:    true,
	})

	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM export_events WHERE event_type = 'export_done'").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d events, want 1", n)
	}
}

func TestLogEvent_NeverPanicsOnClosedDB(t *testing.T) {
	l, db := newTestLogger(t)
	db.Close()

	// Must swallow the error, not panic or propagate.
	l.LogEvent(context.Background(), Event{EventType: "export_failed"})
	l.LogHeartbeat(context.Background(), "retryq", "host", 1)
}

func TestCleanup(t *testing.T) {
	l, db := newTestLogger(t)
	ctx := context.Background()

	old := time.Now().UnixMilli() - 10*86_400_000
	if _, err := db.ExecContext(ctx, `
		INSERT INTO export_events (event_id, event_type, created_at) VALUES (?,?,?)`,
		"evt_old", "export_done", old); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	l.LogEvent(ctx, Event{EventType: "export_done", Success: true})

	if err := Cleanup(ctx, db, RetentionConfig{EventsDays: 7}); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM export_events").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d events after cleanup, want 1", n)
	}
}
