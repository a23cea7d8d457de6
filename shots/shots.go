// Package shots is the local capture cache: the shots the app keeps on
// device, plus the persisted camera editor preferences.
//
// A shot references its original source and, when a bake succeeded, the
// composited file. Transient in-memory representations (data: URIs) are never
// written to storage — they are far too large for the cache — and are handed
// back to the caller through the returned value only.
package shots

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/camplus/dbopen"
	"github.com/hazyhaar/camplus/effect"
	"github.com/hazyhaar/camplus/idgen"
)

// Shot is one cached capture. BakedURI, when set, supersedes SourceURI for
// display.
type Shot struct {
	ID        string      `json:"id"`
	SourceURI string      `json:"source_uri"`
	BakedURI  string      `json:"baked_uri,omitempty"`
	Effect    effect.Spec `json:"effect"`
	CreatedAt int64       `json:"created_at"` // ms epoch
}

// DefaultCap bounds the cache; oldest shots are evicted first.
const DefaultCap = 50

const schema = `
CREATE TABLE IF NOT EXISTS shots (
    id         TEXT PRIMARY KEY,
    source_uri TEXT NOT NULL,
    baked_uri  TEXT NOT NULL DEFAULT '',
    effect     TEXT NOT NULL DEFAULT 'none',
    tint_hex   TEXT NOT NULL DEFAULT '',
    strength   REAL NOT NULL DEFAULT 0.35,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shots_created ON shots(created_at DESC);

CREATE TABLE IF NOT EXISTS camera_prefs (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store wraps the camplus database for shot-cache operations.
type Store struct {
	db     *sql.DB
	newID  idgen.Generator
	cap    int
	now    func() time.Time
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator sets a custom ID generator for shot IDs.
func WithIDGenerator(gen idgen.Generator) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithCap overrides the retained-shot cap.
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

// NewStore creates a Store. Call Init once before first use.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		newID:  idgen.Prefixed("shot_", idgen.Default),
		cap:    DefaultCap,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init applies the schema.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("shots: apply schema: %w", err)
	}
	return nil
}

// Push records a capture. Duplicate (source, baked) pairs are skipped and
// return nil. A data: baked URI is excluded from storage; the returned Shot
// still carries it so the caller can pass it along transiently.
func (s *Store) Push(ctx context.Context, sourceURI, bakedURI string, spec effect.Spec) (*Shot, error) {
	if sourceURI == "" {
		return nil, fmt.Errorf("shots: push: empty source uri")
	}
	spec = spec.Normalize()

	transient := strings.HasPrefix(bakedURI, "data:")
	stored := bakedURI
	if transient {
		stored = ""
	}

	var out *Shot
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		q := `SELECT COUNT(*) FROM shots WHERE source_uri = ?`
		args := []any{sourceURI}
		if stored != "" {
			q += ` AND baked_uri = ?`
			args = append(args, stored)
		}
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}

		shot := &Shot{
			ID:        s.newID(),
			SourceURI: sourceURI,
			BakedURI:  stored,
			Effect:    spec,
			CreatedAt: s.now().UnixMilli(),
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shots (id, source_uri, baked_uri, effect, tint_hex, strength, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			shot.ID, shot.SourceURI, shot.BakedURI, string(shot.Effect.Kind),
			shot.Effect.TintHex, shot.Effect.Strength, shot.CreatedAt); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM shots WHERE id IN (
				SELECT id FROM shots ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
			)`, s.cap); err != nil {
			return err
		}

		if transient {
			shot.BakedURI = bakedURI
		}
		out = shot
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shots: push: %w", err)
	}
	return out, nil
}

// List returns cached shots, newest first.
func (s *Store) List(ctx context.Context) ([]*Shot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_uri, baked_uri, effect, tint_hex, strength, created_at
		FROM shots ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shots []*Shot
	for rows.Next() {
		var sh Shot
		if err := rows.Scan(&sh.ID, &sh.SourceURI, &sh.BakedURI, &sh.Effect.Kind,
			&sh.Effect.TintHex, &sh.Effect.Strength, &sh.CreatedAt); err != nil {
			return nil, err
		}
		shots = append(shots, &sh)
	}
	return shots, rows.Err()
}

// Remove deletes one shot by id.
func (s *Store) Remove(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM shots WHERE id = ?`, id)
	return err
}

// RemoveByURI deletes every shot referencing uri as source or baked file.
func (s *Store) RemoveByURI(ctx context.Context, uri string) error {
	_, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM shots WHERE source_uri = ? OR baked_uri = ?`, uri, uri)
	return err
}

// Clear removes every shot.
func (s *Store) Clear(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM shots`)
	return err
}

// Count returns the number of cached shots.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shots`).Scan(&n)
	return n, err
}

// Prefs are the persisted editor defaults applied to a new edit session.
type Prefs struct {
	Look      effect.Kind `json:"look"`
	Tint      string      `json:"tint"`
	Night     float64     `json:"night"`
	Thermal   float64     `json:"thermal"`
	TintAlpha float64     `json:"tint_alpha"`
}

// DefaultPrefs mirror a fresh install.
func DefaultPrefs() Prefs {
	return Prefs{
		Look:      effect.KindNone,
		Tint:      effect.DefaultTint,
		Night:     0.28,
		Thermal:   0.28,
		TintAlpha: effect.DefaultStrength,
	}
}

// Prefs loads the stored preferences, filling defaults for unset keys.
func (s *Store) Prefs(ctx context.Context) (Prefs, error) {
	p := DefaultPrefs()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM camera_prefs`)
	if err != nil {
		return p, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return p, err
		}
		switch k {
		case "look":
			if kind := effect.Kind(v); kind.Valid() {
				p.Look = kind
			}
		case "tint":
			p.Tint = v
		case "night":
			fmt.Sscanf(v, "%f", &p.Night)
		case "thermal":
			fmt.Sscanf(v, "%f", &p.Thermal)
		case "tint_alpha":
			fmt.Sscanf(v, "%f", &p.TintAlpha)
		}
	}
	return p, rows.Err()
}

// SetPrefs stores the preferences.
func (s *Store) SetPrefs(ctx context.Context, p Prefs) error {
	if p.Look != "" && !p.Look.Valid() {
		return fmt.Errorf("shots: set prefs: unknown look %q", p.Look)
	}
	if p.Tint != "" {
		if _, err := effect.ParseHex(p.Tint); err != nil {
			return err
		}
	}

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		pairs := map[string]string{
			"look":       string(p.Look),
			"tint":       p.Tint,
			"night":      fmt.Sprintf("%g", p.Night),
			"thermal":    fmt.Sprintf("%g", p.Thermal),
			"tint_alpha": fmt.Sprintf("%g", p.TintAlpha),
		}
		for k, v := range pairs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO camera_prefs (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
