package compositor

import (
	"context"
	"image"
	"sync"
)

// Surface is the off-screen rendering target a composite is painted onto.
// Flush models one paint cycle of the underlying renderer; readiness is only
// reported after the configured number of flushes has completed, so a capture
// never races a half-painted frame.
//
// Implementations must be safe for use from the compositor's render goroutine.
type Surface interface {
	SetFrame(frame *image.NRGBA)
	Flush(ctx context.Context) error
	Snapshot() *image.NRGBA
}

// memSurface is the default in-process surface: SetFrame stores the frame,
// Flush is an immediate no-op paint cycle.
type memSurface struct {
	mu    sync.Mutex
	frame *image.NRGBA
}

// NewMemSurface returns an in-memory Surface.
func NewMemSurface() Surface {
	return &memSurface{}
}

func (s *memSurface) SetFrame(frame *image.NRGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
}

func (s *memSurface) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (s *memSurface) Snapshot() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}
