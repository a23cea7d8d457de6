package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion tracks the edit_entries layout. Version 2 matches the current
// record shape; older layouts are rebuilt rather than migrated in place, the
// same way the pre-2 history data was abandoned on upgrade.
const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS edit_entries (
    id           TEXT PRIMARY KEY,
    source_uri   TEXT NOT NULL,
    effect       TEXT NOT NULL DEFAULT 'none',
    tint_hex     TEXT NOT NULL DEFAULT '',
    strength     REAL NOT NULL DEFAULT 0.35,
    exported_uri TEXT,
    status       TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft','exported')),
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edit_entries_created ON edit_entries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_edit_entries_status ON edit_entries(status, created_at DESC);
`

// Init applies the schema, handling the version gate so an old layout never
// silently corrupts new reads.
func (s *Store) Init(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("ledger: read user_version: %w", err)
	}

	if version != 0 && version < schemaVersion {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS edit_entries`); err != nil {
			return fmt.Errorf("ledger: drop stale schema v%d: %w", version, err)
		}
		s.logger.Warn("ledger: rebuilt storage for schema upgrade", "from", version, "to", schemaVersion)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("ledger: set user_version: %w", err)
	}
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var e Entry
	var exported sql.NullString
	err := row.Scan(&e.ID, &e.SourceURI, &e.Effect.Kind, &e.Effect.TintHex,
		&e.Effect.Strength, &exported, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.ExportedURI = exported.String
	return &e, nil
}
