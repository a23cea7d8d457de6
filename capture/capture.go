// Package capture rasterizes a composited surface into a temporary image
// file. Outputs land in the OS temp directory and may be garbage-collected
// shortly after creation; callers must persist them immediately (durable
// package) if they are to survive.
package capture

import (
	"fmt"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/hazyhaar/camplus/compositor"
)

// Format selects the encoded output format.
type Format string

const (
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
)

// Options configures a capture.
type Options struct {
	// Format of the output file (default: jpg).
	Format Format `json:"format" yaml:"format"`
	// Quality for JPEG output, 1-100 (default: 92).
	Quality int `json:"quality" yaml:"quality"`
	// Dir overrides the temp directory (default: os.TempDir()).
	Dir string `json:"-" yaml:"-"`
}

func (o *Options) defaults() {
	if o.Format == "" {
		o.Format = FormatJPEG
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 92
	}
}

// ErrNoFrame is returned when the surface holds nothing to capture.
var ErrNoFrame = fmt.Errorf("capture: no composited frame")

// Capture must be invoked only after the session reports ready, or after the
// caller's hard timeout has elapsed. Any error is a recoverable condition:
// the caller falls back to the original source file instead of failing the
// export.
func Capture(s *compositor.Session, opts Options) (string, error) {
	opts.defaults()

	frame := s.Snapshot()
	if frame == nil || frame.Bounds().Empty() {
		return "", ErrNoFrame
	}

	f, err := os.CreateTemp(opts.Dir, "camplus-snapshot-*."+string(opts.Format))
	if err != nil {
		return "", fmt.Errorf("capture: create temp: %w", err)
	}

	switch opts.Format {
	case FormatPNG:
		err = png.Encode(f, frame)
	default:
		err = jpeg.Encode(f, frame, &jpeg.Options{Quality: opts.Quality})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("capture: encode %s: %w", opts.Format, err)
	}

	return f.Name(), nil
}
