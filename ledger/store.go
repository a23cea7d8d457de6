package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/camplus/dbopen"
	"github.com/hazyhaar/camplus/effect"
	"github.com/hazyhaar/camplus/idgen"
)

// Store wraps the camplus database for ledger operations.
type Store struct {
	db     *sql.DB
	newID  idgen.Generator
	cap    int
	now    func() time.Time
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator sets a custom ID generator for entry IDs.
func WithIDGenerator(gen idgen.Generator) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithCap overrides the retained-entry cap.
func WithCap(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.cap = n
		}
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store from an already-opened database connection.
// Call Init once before first use.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		newID:  idgen.Prefixed("edt_", idgen.Default),
		cap:    DefaultCap,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddDraft creates a new draft entry for a source image and effect snapshot.
//
// Retried captures dedup on a one-second creation bucket: an existing entry
// with the same source and kind created in the same second is updated in
// place (strength, tint) and returned instead of inserting a duplicate.
func (s *Store) AddDraft(ctx context.Context, sourceURI string, spec effect.Spec) (*Entry, error) {
	if sourceURI == "" {
		return nil, fmt.Errorf("ledger: add draft: empty source uri")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.Normalize()
	now := s.now().UnixMilli()

	var out *Entry
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, source_uri, effect, tint_hex, strength, exported_uri, status, created_at, updated_at
			FROM edit_entries
			WHERE source_uri = ? AND effect = ? AND created_at / 1000 = ?
			LIMIT 1`,
			sourceURI, string(spec.Kind), now/1000)
		dup, err := scanEntry(row)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if dup != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE edit_entries SET tint_hex = ?, strength = ?, updated_at = ? WHERE id = ?`,
				spec.TintHex, spec.Strength, now, dup.ID); err != nil {
				return err
			}
			dup.Effect.TintHex = spec.TintHex
			dup.Effect.Strength = spec.Strength
			dup.UpdatedAt = now
			out = dup
			return nil
		}

		e := &Entry{
			ID:        s.newID(),
			SourceURI: sourceURI,
			Effect:    spec,
			Status:    StatusDraft,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edit_entries (id, source_uri, effect, tint_hex, strength, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.SourceURI, string(e.Effect.Kind), e.Effect.TintHex, e.Effect.Strength,
			string(e.Status), e.CreatedAt, e.UpdatedAt); err != nil {
			return err
		}

		// Oldest-first eviction beyond the cap.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM edit_entries WHERE id IN (
				SELECT id FROM edit_entries ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
			)`, s.cap); err != nil {
			return err
		}

		out = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: add draft: %w", err)
	}
	return out, nil
}

// UpdateDraft mutates the effect fields of an entry still in draft status.
// Exported entries are immutable: ErrEntryExported.
func (s *Store) UpdateDraft(ctx context.Context, id string, patch Patch) error {
	if patch.Kind != nil && !patch.Kind.Valid() {
		return fmt.Errorf("ledger: update draft: unknown kind %q", *patch.Kind)
	}

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var status Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM edit_entries WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if status == StatusExported {
			return ErrEntryExported
		}

		query := `UPDATE edit_entries SET updated_at = ?`
		args := []any{s.now().UnixMilli()}
		if patch.Kind != nil {
			query += `, effect = ?`
			args = append(args, string(*patch.Kind))
		}
		if patch.TintHex != nil {
			query += `, tint_hex = ?`
			args = append(args, *patch.TintHex)
		}
		if patch.Strength != nil {
			v := *patch.Strength
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			query += `, strength = ?`
			args = append(args, v)
		}
		query += ` WHERE id = ?`
		args = append(args, id)

		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
}

// MarkExported advances an entry to exported and records the gallery file.
// The transition is one-way: a second call overwrites exported_uri but the
// status never reverts.
func (s *Store) MarkExported(ctx context.Context, id, exportedURI string) error {
	res, err := dbopen.Exec(ctx, s.db, `
		UPDATE edit_entries SET status = ?, exported_uri = ?, updated_at = ?
		WHERE id = ?`,
		string(StatusExported), exportedURI, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("ledger: mark exported: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves an entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_uri, effect, tint_hex, strength, exported_uri, status, created_at, updated_at
		FROM edit_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes one entry. Removing an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM edit_entries WHERE id = ?`, id)
	return err
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM edit_entries`)
	return err
}

// Count returns the number of retained entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edit_entries`).Scan(&n)
	return n, err
}

// List returns a derived view of the ledger, recomputed per call so filter
// and sort changes never see stale data.
func (s *Store) List(ctx context.Context, filter Filter, sort Sort) ([]*Entry, error) {
	query := `SELECT id, source_uri, effect, tint_hex, strength, exported_uri, status, created_at, updated_at
		FROM edit_entries`
	var args []any

	switch filter {
	case FilterDrafts:
		query += ` WHERE status = ?`
		args = append(args, string(StatusDraft))
	case FilterExported:
		query += ` WHERE status = ?`
		args = append(args, string(StatusExported))
	case FilterAll, "":
	default:
		return nil, fmt.Errorf("ledger: unknown filter %q", filter)
	}

	switch sort {
	case SortOldest:
		query += ` ORDER BY created_at ASC, id ASC`
	case SortNewest, "":
		query += ` ORDER BY created_at DESC, id DESC`
	default:
		return nil, fmt.Errorf("ledger: unknown sort %q", sort)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
