// Package ledger is the persisted collection of edit records: the single
// source of truth for what the user has edited and whether it reached the
// gallery. Entries move one way, draft → exported, and never back.
package ledger

import (
	"errors"

	"github.com/hazyhaar/camplus/effect"
)

// Status is an entry's lifecycle state.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusExported Status = "exported"
)

// Entry is one edit record. ID and SourceURI are fixed at creation;
// ExportedURI is set exactly when Status becomes exported.
type Entry struct {
	ID          string      `json:"id"`
	SourceURI   string      `json:"source_uri"`
	Effect      effect.Spec `json:"effect"`
	ExportedURI string      `json:"exported_uri,omitempty"`
	Status      Status      `json:"status"`
	CreatedAt   int64       `json:"created_at"` // ms epoch
	UpdatedAt   int64       `json:"updated_at"` // ms epoch
}

// Filter selects which entries List returns.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterDrafts   Filter = "drafts"
	FilterExported Filter = "exported"
)

// Sort orders List results by creation time.
type Sort string

const (
	SortNewest Sort = "newest"
	SortOldest Sort = "oldest"
)

// Patch carries the draft fields UpdateDraft may change. Nil fields are left
// untouched.
type Patch struct {
	Kind     *effect.Kind `json:"kind,omitempty"`
	TintHex  *string      `json:"tint_hex,omitempty"`
	Strength *float64     `json:"strength,omitempty"`
}

// ErrNotFound is returned when no entry has the given id.
var ErrNotFound = errors.New("ledger: entry not found")

// ErrEntryExported is returned when UpdateDraft targets an exported entry.
// Exported entries are a completed record of what was written to the gallery
// and stay immutable.
var ErrEntryExported = errors.New("ledger: entry already exported")

// DefaultCap bounds how many entries the ledger retains; the oldest are
// evicted first.
const DefaultCap = 100
