package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/camplus/dbopen"
	"github.com/hazyhaar/camplus/effect"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := NewStore(db, opts...)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

// tick returns a clock that advances well past the dedup bucket each call.
func tick(start int64) func() time.Time {
	t := start
	return func() time.Time {
		t += 2_000
		return time.UnixMilli(t)
	}
}

func TestAddDraft_CreatesDraft(t *testing.T) {
	// WHAT: A new draft carries the effect snapshot and draft status.
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.AddDraft(ctx, "file://a.jpg", effect.Spec{Kind: effect.KindTint, TintHex: "#22c55e", Strength: 0.35})
	if err != nil {
		t.Fatalf("add draft: %v", err)
	}
	if e.Status != StatusDraft {
		t.Errorf("status: got %q, want draft", e.Status)
	}
	if e.Effect.Kind != effect.KindTint {
		t.Errorf("kind: got %q", e.Effect.Kind)
	}
	if e.ID == "" || e.CreatedAt == 0 {
		t.Errorf("missing id/createdAt: %+v", e)
	}
	if e.ExportedURI != "" {
		t.Error("draft must not carry exported_uri")
	}
}

func TestMarkExported_OneWay(t *testing.T) {
	// WHAT: markExported sets status+uri; a second call overwrites the uri
	// but status never reverts to draft.
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.AddDraft(ctx, "file://a.jpg", effect.Spec{Kind: effect.KindTint, TintHex: "#22c55e", Strength: 0.35})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MarkExported(ctx, e.ID, "file://export.jpg"); err != nil {
		t.Fatalf("mark exported: %v", err)
	}
	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusExported || got.ExportedURI != "file://export.jpg" {
		t.Errorf("after export: %+v", got)
	}

	if err := s.MarkExported(ctx, e.ID, "file://export2.jpg"); err != nil {
		t.Fatalf("second mark exported: %v", err)
	}
	got, _ = s.Get(ctx, e.ID)
	if got.Status != StatusExported {
		t.Error("status reverted")
	}
	if got.ExportedURI != "file://export2.jpg" {
		t.Errorf("second uri should overwrite: %q", got.ExportedURI)
	}
}

func TestMarkExported_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.MarkExported(context.Background(), "edt_missing", "file://x.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateDraft_MutatesDraftOnly(t *testing.T) {
	// WHAT: updateDraft changes effect fields on drafts and rejects exported
	// entries without touching them.
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.AddDraft(ctx, "file://a.jpg", effect.Spec{Kind: effect.KindNight, Strength: 0.3})
	if err != nil {
		t.Fatal(err)
	}

	strength := 0.8
	tint := "#ef4444"
	kind := effect.KindTint
	if err := s.UpdateDraft(ctx, e.ID, Patch{Kind: &kind, TintHex: &tint, Strength: &strength}); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	got, _ := s.Get(ctx, e.ID)
	if got.Effect.Kind != effect.KindTint || got.Effect.TintHex != "#ef4444" || got.Effect.Strength != 0.8 {
		t.Errorf("update not applied: %+v", got.Effect)
	}

	if err := s.MarkExported(ctx, e.ID, "file://out.jpg"); err != nil {
		t.Fatal(err)
	}
	other := 0.1
	err = s.UpdateDraft(ctx, e.ID, Patch{Strength: &other})
	if !errors.Is(err, ErrEntryExported) {
		t.Fatalf("expected ErrEntryExported, got %v", err)
	}
	got, _ = s.Get(ctx, e.ID)
	if got.Effect.Strength != 0.8 {
		t.Errorf("exported entry mutated: strength %v", got.Effect.Strength)
	}
}

func TestUpdateDraft_NotFound(t *testing.T) {
	s := openTestStore(t)
	v := 0.5
	if err := s.UpdateDraft(context.Background(), "edt_missing", Patch{Strength: &v}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddDraft_DedupWithinSecond(t *testing.T) {
	// WHAT: A retried capture (same source, same kind, same second) updates
	// the existing entry instead of inserting a duplicate.
	fixed := time.UnixMilli(1_700_000_000_400)
	s := openTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	first, err := s.AddDraft(ctx, "file://a.jpg", effect.Spec{Kind: effect.KindTint, TintHex: "#22c55e", Strength: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.AddDraft(ctx, "file://a.jpg", effect.Spec{Kind: effect.KindTint, TintHex: "#3b82f6", Strength: 0.7})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected dedup to reuse entry, got %s and %s", first.ID, second.ID)
	}
	if second.Effect.Strength != 0.7 || second.Effect.TintHex != "#3b82f6" {
		t.Errorf("dedup should update parameters: %+v", second.Effect)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("count: got %d, want 1", n)
	}
}

func TestAddDraft_NoDedupAcrossBuckets(t *testing.T) {
	s := openTestStore(t, WithClock(tick(1_700_000_000_000)))
	ctx := context.Background()

	a, _ := s.AddDraft(ctx, "file://a.jpg", effect.Spec{Kind: effect.KindNight, Strength: 0.3})
	b, _ := s.AddDraft(ctx, "file://a.jpg", effect.Spec{Kind: effect.KindNight, Strength: 0.3})
	if a.ID == b.ID {
		t.Fatal("entries in different seconds must not dedup")
	}
}

func TestAddDraft_CapEvictsOldest(t *testing.T) {
	s := openTestStore(t, WithCap(3), WithClock(tick(1_700_000_000_000)))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		e, err := s.AddDraft(ctx, "file://shot.jpg", effect.Spec{Kind: effect.KindNone})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}

	if n, _ := s.Count(ctx); n != 3 {
		t.Fatalf("count after cap: got %d, want 3", n)
	}
	// The two oldest are gone.
	for _, id := range ids[:2] {
		if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("oldest entry %s should be evicted", id)
		}
	}
	if _, err := s.Get(ctx, ids[4]); err != nil {
		t.Errorf("newest entry should survive: %v", err)
	}
}

func TestList_FilterAndSort(t *testing.T) {
	// WHAT: list(DRAFTS, NEWEST) on 3 drafts + 2 exported returns exactly the
	// 3 drafts ordered by descending createdAt.
	s := openTestStore(t, WithClock(tick(1_700_000_000_000)))
	ctx := context.Background()

	var draftIDs []string
	for i := 0; i < 3; i++ {
		e, _ := s.AddDraft(ctx, "file://d.jpg", effect.Spec{Kind: effect.KindNight, Strength: 0.2})
		draftIDs = append(draftIDs, e.ID)
	}
	for i := 0; i < 2; i++ {
		e, _ := s.AddDraft(ctx, "file://x.jpg", effect.Spec{Kind: effect.KindTint, TintHex: "#22c55e", Strength: 0.4})
		if err := s.MarkExported(ctx, e.ID, "file://out.jpg"); err != nil {
			t.Fatal(err)
		}
	}

	drafts, err := s.List(ctx, FilterDrafts, SortNewest)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 3 {
		t.Fatalf("drafts: got %d, want 3", len(drafts))
	}
	for i := 1; i < len(drafts); i++ {
		if drafts[i].CreatedAt > drafts[i-1].CreatedAt {
			t.Error("drafts not in descending createdAt order")
		}
	}
	for _, d := range drafts {
		if d.Status != StatusDraft {
			t.Errorf("non-draft in filtered view: %+v", d)
		}
	}

	exported, err := s.List(ctx, FilterExported, SortOldest)
	if err != nil {
		t.Fatal(err)
	}
	if len(exported) != 2 {
		t.Fatalf("exported: got %d, want 2", len(exported))
	}
	if exported[0].CreatedAt > exported[1].CreatedAt {
		t.Error("oldest sort not ascending")
	}

	all, err := s.List(ctx, FilterAll, SortNewest)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("all: got %d, want 5", len(all))
	}

	if _, err := s.List(ctx, "bogus", SortNewest); err == nil {
		t.Error("unknown filter accepted")
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := openTestStore(t, WithClock(tick(1_700_000_000_000)))
	ctx := context.Background()

	a, _ := s.AddDraft(ctx, "file://a.jpg", effect.Spec{Kind: effect.KindNone})
	s.AddDraft(ctx, "file://b.jpg", effect.Spec{Kind: effect.KindNone})

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Error("deleted entry still present")
	}
	// Deleting an unknown id is not an error.
	if err := s.Delete(ctx, "edt_missing"); err != nil {
		t.Errorf("delete unknown: %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("count after clear: %d", n)
	}
}

func TestInit_RebuildsOldSchema(t *testing.T) {
	// WHAT: a pre-2 user_version is rebuilt, not read as-is.
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(`CREATE TABLE edit_entries (id TEXT PRIMARY KEY, uri TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO edit_entries (id, uri) VALUES ('old', 'file://old.jpg')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`PRAGMA user_version = 1`); err != nil {
		t.Fatal(err)
	}

	s := NewStore(db)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init over v1: %v", err)
	}

	if n, err := s.Count(context.Background()); err != nil || n != 0 {
		t.Errorf("old rows should be gone: n=%d err=%v", n, err)
	}
	var version int
	db.QueryRow("PRAGMA user_version").Scan(&version)
	if version != schemaVersion {
		t.Errorf("user_version: got %d, want %d", version, schemaVersion)
	}

	// Store works after rebuild.
	if _, err := s.AddDraft(context.Background(), "file://new.jpg", effect.Spec{Kind: effect.KindNone}); err != nil {
		t.Fatalf("add after rebuild: %v", err)
	}
}
