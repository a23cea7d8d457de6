// Package export orchestrates one photo export end to end: wait for the
// compositor to settle, capture the baked frame, persist it durably, record
// the result in the edit ledger, and ask the media library to create a
// gallery asset.
//
// Capture and persistence failures degrade gracefully to exporting the
// original source file. Permission and gallery-write failures are fatal for
// the attempt; a failed gallery write is enqueued on the retry queue when one
// is configured.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/camplus/capture"
	"github.com/hazyhaar/camplus/compositor"
	"github.com/hazyhaar/camplus/durable"
	"github.com/hazyhaar/camplus/effect"
	"github.com/hazyhaar/camplus/gallery"
	"github.com/hazyhaar/camplus/ledger"
	"github.com/hazyhaar/camplus/observability"
	"github.com/hazyhaar/camplus/retryq"
	"github.com/hazyhaar/camplus/shots"
)

// Status is the overall outcome of an export attempt.
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

var (
	// ErrNoImage is returned when the request carries no source URI.
	ErrNoImage = errors.New("export: no source image")
	// ErrPermissionDenied is returned when the media library grants no write
	// access. The caller should direct the user to system settings.
	ErrPermissionDenied = errors.New("export: media library permission denied")
	// ErrGalleryWrite wraps a failed gallery asset creation. The persisted
	// file survives and the attempt is retryable.
	ErrGalleryWrite = errors.New("export: gallery write failed")
)

// Request describes one export attempt.
type Request struct {
	// SourceURI is the original photo. Required.
	SourceURI string
	// Spec is the look to bake into the exported frame.
	Spec effect.Spec
	// EntryID, when set, names the ledger draft to mark exported. Empty for
	// a quick export with no prior draft.
	EntryID string
	// Album overrides the configured album name for this attempt.
	Album string
}

// Result reports what an export attempt produced.
type Result struct {
	Status      Status
	ExportedURI string
	AssetID     string
	AlbumID     string

	// RenderTimedOut is set when the compositor never signalled ready and
	// the capture used whatever frame had settled by the deadline.
	RenderTimedOut bool
	// FellBack is set when ExportedURI is the original source rather than a
	// baked file.
	FellBack bool

	CaptureErr error
	PersistErr error
}

// Persister moves a temporary capture into stable storage.
type Persister interface {
	Persist(ctx context.Context, tempURI string) (string, error)
}

// FileEnsurer materializes non-file URIs (base64 data URIs) into plain paths.
// Persisters may implement it; durable.Store does.
type FileEnsurer interface {
	EnsureFile(uri string) (string, error)
}

// Config wires the coordinator's collaborators.
type Config struct {
	Compositor  *compositor.Compositor
	Capture     capture.Options
	Durable     Persister
	Ledger      *ledger.Store
	Shots       *shots.Store
	Library     gallery.MediaLibrary
	Permissions gallery.Permissions

	// Retry receives failed gallery writes for background re-attempts.
	// Optional.
	Retry *retryq.Q
	// Events receives pipeline events. Optional.
	Events *observability.EventLogger

	// ReadyTimeout bounds the wait for compositor readiness. Default: 8s.
	ReadyTimeout time.Duration
	// Album is the gallery album assets are filed under when read access is
	// granted. Default: gallery.DefaultAlbum.
	Album string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 8 * time.Second
	}
	if c.Album == "" {
		c.Album = gallery.DefaultAlbum
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Coordinator runs export attempts. Attempts on the same entry (or, for quick
// exports, the same source URI) are serialized; distinct entries may run
// concurrently up to the compositor's own serialization.
type Coordinator struct {
	cfg Config

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New creates a Coordinator from cfg. Compositor, Durable, Library and
// Permissions are required.
func New(cfg Config) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		cfg:      cfg,
		inflight: make(map[string]chan struct{}),
	}
}

// acquire blocks until no other attempt holds key, then claims it.
func (c *Coordinator) acquire(ctx context.Context, key string) error {
	for {
		c.mu.Lock()
		ch, busy := c.inflight[key]
		if !busy {
			c.inflight[key] = make(chan struct{})
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	ch := c.inflight[key]
	delete(c.inflight, key)
	c.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Export runs one attempt and returns its Result. A non-nil error means the
// attempt failed outright (no image, no permission, gallery write refused);
// capture and persistence problems are reported inside the Result instead.
func (c *Coordinator) Export(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.SourceURI) == "" {
		return nil, ErrNoImage
	}
	spec := req.Spec.Normalize()

	// Data URIs cannot feed the compositor or the gallery directly; write
	// them out first so the rest of the attempt sees a plain file.
	source := req.SourceURI
	if strings.HasPrefix(source, "data:") {
		ens, ok := c.cfg.Durable.(FileEnsurer)
		if !ok {
			return nil, fmt.Errorf("%w: data URI source unsupported", ErrNoImage)
		}
		path, err := ens.EnsureFile(source)
		if err != nil {
			return nil, fmt.Errorf("export: materialize source: %w", err)
		}
		source = path
	}

	key := req.EntryID
	if key == "" {
		key = source
	}
	if err := c.acquire(ctx, key); err != nil {
		return nil, err
	}
	defer c.release(key)

	log := c.cfg.Logger.With("source", source, "entry", req.EntryID)

	perm, err := c.cfg.Permissions.Request(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: request media permissions: %w", err)
	}
	if !perm.CanWrite {
		c.emit(ctx, observability.Event{
			EventType: "export_denied", EntityType: "edit_entry", EntityID: req.EntryID,
			Stage: "permissions",
		})
		return nil, ErrPermissionDenied
	}

	res := &Result{ExportedURI: source}

	// AWAITING_READY
	session := c.cfg.Compositor.Render(ctx, source, []effect.Spec{spec})
	defer session.Release()
	select {
	case <-session.Ready():
	case <-time.After(c.cfg.ReadyTimeout):
		res.RenderTimedOut = true
		log.Warn("export: compositor ready timeout, capturing anyway",
			"timeout", c.cfg.ReadyTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// CAPTURING then PERSISTING. Either failure degrades to exporting the
	// original source, which is assumed already durable.
	tempPath, err := capture.Capture(session, c.cfg.Capture)
	session.Release()
	if err != nil {
		res.CaptureErr = err
		res.FellBack = true
		log.Debug("export: capture failed, falling back to source", "error", err)
	} else {
		stable, perr := c.cfg.Durable.Persist(ctx, tempPath)
		os.Remove(tempPath)
		if perr != nil {
			res.PersistErr = perr
			res.FellBack = true
			log.Debug("export: persist failed, falling back to source", "error", perr)
		} else {
			res.ExportedURI = stable
		}
	}

	// RECORDING
	if req.EntryID != "" && c.cfg.Ledger != nil {
		err := c.cfg.Ledger.MarkExported(ctx, req.EntryID, res.ExportedURI)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			log.Warn("export: ledger entry vanished, skipping record", "entry", req.EntryID)
		case err != nil:
			res.Status = StatusFailed
			return res, fmt.Errorf("export: record entry %s: %w", req.EntryID, err)
		}
	}

	if c.cfg.Shots != nil {
		if _, err := c.cfg.Shots.Push(ctx, req.SourceURI, res.ExportedURI, spec); err != nil {
			log.Warn("export: shot cache push failed", "error", err)
		}
	}

	// REQUESTING_GALLERY_ASSET
	album := req.Album
	if album == "" {
		album = c.cfg.Album
	}
	assetID, err := c.cfg.Library.CreateAsset(ctx, res.ExportedURI)
	if err != nil {
		res.Status = StatusFailed
		if c.cfg.Retry != nil {
			if _, qerr := c.cfg.Retry.Enqueue(ctx, retryq.GalleryWrite{
				PersistedURI: res.ExportedURI,
				Album:        album,
				EntryID:      req.EntryID,
			}); qerr != nil {
				log.Error("export: retry enqueue failed", "error", qerr)
			}
		}
		c.emit(ctx, observability.Event{
			EventType: "export_failed", EntityType: "edit_entry", EntityID: req.EntryID,
			Stage: "requesting_gallery_asset", Details: err.Error(),
		})
		return res, fmt.Errorf("%w: %v", ErrGalleryWrite, err)
	}
	res.AssetID = assetID

	// Album filing needs read access; write-only grants stop at the asset.
	if perm.CanRead {
		if albumID, err := c.fileInAlbum(ctx, assetID, album); err != nil {
			log.Warn("export: album filing failed, asset kept", "album", album, "error", err)
		} else {
			res.AlbumID = albumID
		}
	}

	res.Status = StatusDone
	c.emit(ctx, observability.Event{
		EventType: "export_done", EntityType: "edit_entry", EntityID: req.EntryID,
		Stage: "done", Success: true,
		Details: fmt.Sprintf(`{"uri":%q,"fallback":%t}`, res.ExportedURI, res.FellBack),
	})
	return res, nil
}

func (c *Coordinator) fileInAlbum(ctx context.Context, assetID, album string) (string, error) {
	albumID, err := c.cfg.Library.GetOrCreateAlbum(ctx, album)
	if err != nil {
		return "", err
	}
	if err := c.cfg.Library.AddAssetToAlbum(ctx, assetID, albumID); err != nil {
		return "", err
	}
	return albumID, nil
}

// RetryHandler returns a retryq handler that repeats the gallery write for
// persisted exports whose first attempt failed.
func (c *Coordinator) RetryHandler() retryq.Handler {
	return func(ctx context.Context, job *retryq.Job) error {
		if !durable.Exists(durable.StripFileScheme(job.Write.PersistedURI)) {
			c.cfg.Logger.Warn("export: retry source vanished, dropping",
				"uri", job.Write.PersistedURI)
			return nil
		}
		perm, err := c.cfg.Permissions.Request(ctx)
		if err != nil {
			return err
		}
		if !perm.CanWrite {
			return ErrPermissionDenied
		}
		assetID, err := c.cfg.Library.CreateAsset(ctx, job.Write.PersistedURI)
		if err != nil {
			return err
		}
		if perm.CanRead && job.Write.Album != "" {
			if _, err := c.fileInAlbum(ctx, assetID, job.Write.Album); err != nil {
				c.cfg.Logger.Warn("export: retry album filing failed", "error", err)
			}
		}
		c.emit(ctx, observability.Event{
			EventType: "export_retried", EntityType: "edit_entry", EntityID: job.Write.EntryID,
			Stage: "requesting_gallery_asset", Success: true,
		})
		return nil
	}
}

func (c *Coordinator) emit(ctx context.Context, event observability.Event) {
	if c.cfg.Events == nil {
		return
	}
	c.cfg.Events.LogEvent(ctx, event)
}
