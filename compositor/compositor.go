// Package compositor hosts an off-screen overlay render and signals when the
// painted frame is safe to capture.
//
// Readiness is reported only after the source image has settled (decoded, or
// failed to decode — both unblock the wait) and the surface has flushed a
// configurable number of paint cycles plus a settle delay. Callers must apply
// their own hard timeout on the ready signal; a surface that never finishes
// flushing must not stall an export forever.
package compositor

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/camplus/effect"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Config configures a Compositor.
type Config struct {
	// Width and Height of the render surface (default: 1080x1440).
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`

	// SettleFrames is how many paint cycles to flush after the frame is set
	// before reporting ready (default: 2).
	SettleFrames int `json:"settle_frames" yaml:"settle_frames"`

	// SettleDelay is the pause after the last flush (default: 48ms). The
	// frame count and delay are empirically tuned; both are configurable
	// because the right values depend on the renderer behind the Surface.
	SettleDelay time.Duration `json:"-" yaml:"-"`

	// Logger for debug/warn messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Width <= 0 {
		c.Width = 1080
	}
	if c.Height <= 0 {
		c.Height = 1440
	}
	if c.SettleFrames <= 0 {
		c.SettleFrames = 2
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 48 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Compositor renders overlay composites onto a single shared Surface.
// Renders are serialized: a second composite may not repaint the surface
// before the first one has been captured, so Session.Release must be called
// when the caller is done with the frame.
type Compositor struct {
	cfg     Config
	surface Surface
	mu      sync.Mutex
	logger  *slog.Logger
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithSurface replaces the default in-memory surface.
func WithSurface(s Surface) Option {
	return func(c *Compositor) { c.surface = s }
}

// New creates a Compositor.
func New(cfg Config, opts ...Option) *Compositor {
	cfg.defaults()
	c := &Compositor{
		cfg:     cfg,
		surface: NewMemSurface(),
		logger:  cfg.Logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Session is one composite render in flight. Ready is closed once the frame
// has settled on the surface; Err reports a decode failure (the session is
// still usable — capture falls back to an effects-only frame).
type Session struct {
	ready     chan struct{}
	surface   Surface
	mu        sync.Mutex
	decodeErr error
	release   func()
	once      sync.Once
}

// Ready is closed when the surface is safe to capture.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Err returns the source decode error, if any. Valid once Ready is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeErr
}

// Snapshot returns the current surface frame. Callers should wait for Ready
// (or their own timeout) first; an early snapshot may be incomplete.
func (s *Session) Snapshot() *image.NRGBA { return s.surface.Snapshot() }

// Release frees the surface for the next render. Safe to call more than once.
func (s *Session) Release() { s.once.Do(s.release) }

// Render starts an off-screen composite of the source file under the given
// overlay stack. It returns immediately; the work runs on its own goroutine
// and the returned session signals readiness.
//
// A source that fails to decode still produces a ready session so downstream
// capture can fall back, per the export pipeline's degrade-gracefully rule.
func (c *Compositor) Render(ctx context.Context, sourceURI string, specs []effect.Spec) *Session {
	c.mu.Lock() // held until the session is released

	s := &Session{
		ready:   make(chan struct{}),
		surface: c.surface,
		release: c.mu.Unlock,
	}

	go func() {
		defer close(s.ready)

		src, err := decodeSource(sourceURI)
		if err != nil {
			c.logger.Warn("compositor: source decode failed, rendering effects only",
				"uri", sourceURI, "error", err)
			s.mu.Lock()
			s.decodeErr = err
			s.mu.Unlock()
		}

		frame := effect.Rasterize(src, specs, c.cfg.Width, c.cfg.Height)
		c.surface.SetFrame(frame)

		for i := 0; i < c.cfg.SettleFrames; i++ {
			if err := c.surface.Flush(ctx); err != nil {
				c.logger.Warn("compositor: flush aborted", "error", err)
				return
			}
		}

		select {
		case <-time.After(c.cfg.SettleDelay):
		case <-ctx.Done():
		}
	}()

	return s
}

// decodeSource opens and decodes a local image file. A "file://" prefix is
// accepted and stripped.
func decodeSource(uri string) (image.Image, error) {
	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode source %s: %w", path, err)
	}
	return img, nil
}
