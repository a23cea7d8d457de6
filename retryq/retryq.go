// Package retryq implements the gallery-write retry queue backed by SQLite.
//
// When an export persists its file but the gallery write fails (permission
// revoked mid-flight, media library unavailable), the coordinator enqueues the
// persisted file here. A single background consumer re-attempts the gallery
// write later. Claimed jobs stay invisible for a visibility window; if the
// consumer crashes the job reappears and is retried.
package retryq

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/camplus/idgen"
)

// Schema creates the retry table.
const Schema = `
CREATE TABLE IF NOT EXISTS gallery_retries (
    job_id      TEXT PRIMARY KEY,
    payload     BLOB NOT NULL,
    visible_at  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_gallery_retries_visible ON gallery_retries (visible_at);
`

// GalleryWrite is the payload of a retry job: everything needed to repeat the
// media library write for an already-persisted export.
type GalleryWrite struct {
	PersistedURI string `json:"persisted_uri"`
	Album        string `json:"album"`
	EntryID      string `json:"entry_id,omitempty"`
}

// Job is a claimed retry row.
type Job struct {
	ID        string
	Write     GalleryWrite
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed job stays invisible. Default: 30s.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 5s.
	PollInterval time.Duration
	// MaxAttempts limits redeliveries before a job is dropped. 0 means
	// unlimited. Default: 5.
	MaxAttempts int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db    *sql.DB
	opts  Options
	newID idgen.Generator
}

// New creates a queue handle. Call Init once at startup, then Enqueue from the
// coordinator and Run from a background goroutine.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts, newID: idgen.Prefixed("rty_", idgen.Default)}
}

// Init creates the gallery_retries table and index if they don't exist.
func (q *Q) Init(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("retryq: apply schema: %w", err)
	}
	return nil
}

// Enqueue inserts a retry job that is immediately visible.
func (q *Q) Enqueue(ctx context.Context, w GalleryWrite) (string, error) {
	payload, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("retryq: marshal payload: %w", err)
	}
	id := q.newID()
	now := time.Now().UnixMilli()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO gallery_retries (job_id, payload, visible_at, created_at) VALUES (?,?,?,?)`,
		id, payload, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("retryq: enqueue: %w", err)
	}
	return id, nil
}

// Claim atomically picks the oldest visible job, marks it invisible for the
// visibility window, and returns it. Returns nil, nil if nothing is visible.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE gallery_retries
		SET visible_at = ?, attempts = attempts + 1
		WHERE job_id = (
			SELECT job_id FROM gallery_retries
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING job_id, payload, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var payload []byte
	var visAt, creAt int64
	err := row.Scan(&j.ID, &payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &j.Write); err != nil {
		return nil, fmt.Errorf("retryq: unmarshal payload %s: %w", j.ID, err)
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a successfully processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM gallery_retries WHERE job_id = ?`, id,
	)
	return err
}

// Nack makes a job immediately visible again.
func (q *Q) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE gallery_retries SET visible_at = 0 WHERE job_id = ?`, id,
	)
	return err
}

// Len returns the total number of jobs (visible + invisible).
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM gallery_retries`,
	).Scan(&n)
	return n, err
}

// Handler re-attempts the gallery write for a claimed job. Return nil to ack,
// non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// Run polls for visible jobs and calls handler for each one. It blocks until
// ctx is cancelled.
func (q *Q) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("retryq: consumer started", "visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("retryq: consumer stopped")
			return
		case <-ticker.C:
			q.poll(ctx, handler, log)
		}
	}
}

func (q *Q) poll(ctx context.Context, handler Handler, log *slog.Logger) {
	for {
		job, err := q.Claim(ctx)
		if err != nil {
			log.Warn("retryq: claim failed", "error", err)
			return
		}
		if job == nil {
			return // nothing visible
		}

		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			log.Warn("retryq: job exceeded max attempts, dropping",
				"id", job.ID, "attempts", job.Attempts, "uri", job.Write.PersistedURI)
			_ = q.Ack(ctx, job.ID)
			continue
		}

		if err := handler(ctx, job); err != nil {
			log.Warn("retryq: gallery write failed, nacking", "id", job.ID, "error", err)
			_ = q.Nack(ctx, job.ID)
		} else {
			_ = q.Ack(ctx, job.ID)
		}
	}
}
