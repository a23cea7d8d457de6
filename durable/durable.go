// Package durable moves temporary capture files into a stable, app-owned
// directory that survives process restarts.
//
// Every write is verified: a returned path always resolves to a non-empty,
// readable file. Two persistence strategies are tried in order — a streaming
// copy, then a whole-file read/rewrite for filesystems that reject copies of
// certain URI schemes — before the operation is reported failed.
package durable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrSourceMissing is returned when the temp file does not exist or is empty.
var ErrSourceMissing = errors.New("durable: source file missing or empty")

// ErrPersistFailed is returned when every persistence strategy failed. The
// original strategy errors are attached to the chain.
var ErrPersistFailed = errors.New("durable: persist failed")

// Store persists files into one stable directory.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates the stable directory if needed and returns a Store.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("durable: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("durable: mkdir %s: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the stable directory.
func (s *Store) Dir() string { return s.dir }

// Persist copies a temp file into the stable directory and returns the new
// path. Repeated calls on the same temp file produce distinct stable files;
// deduplication is the caller's concern.
//
// Fails fast with ErrSourceMissing when the source does not resolve to
// readable data. All other failures surface as ErrPersistFailed with the
// strategy errors attached; the caller is expected to fall back to the
// original source file rather than lose the shot.
func (s *Store) Persist(ctx context.Context, tempURI string) (string, error) {
	src := StripFileScheme(tempURI)
	if src == "" {
		return "", fmt.Errorf("%w: empty uri", ErrSourceMissing)
	}
	if !Exists(src) {
		return "", fmt.Errorf("%w: %s", ErrSourceMissing, src)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := filepath.Join(s.dir, fmt.Sprintf("%d-%s", s.now().UnixMilli(), SanitizeName(filepath.Base(src))))

	copyErr := copyFile(src, dest)
	if copyErr == nil && Exists(dest) {
		return dest, nil
	}
	if copyErr == nil {
		copyErr = fmt.Errorf("destination missing or empty after copy: %s", dest)
	}
	s.logger.Warn("durable: copy failed, trying byte rewrite", "src", src, "error", copyErr)

	rewriteErr := rewriteFile(src, dest)
	if rewriteErr == nil && Exists(dest) {
		return dest, nil
	}
	if rewriteErr == nil {
		rewriteErr = fmt.Errorf("destination missing or empty after rewrite: %s", dest)
	}

	os.Remove(dest)
	return "", fmt.Errorf("%w: %s (copy: %v; rewrite: %v)", ErrPersistFailed, src, copyErr, rewriteErr)
}

// Exists reports whether path resolves to a non-empty regular file.
func Exists(path string) bool {
	info, err := os.Stat(StripFileScheme(path))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// StripFileScheme removes a leading "file://" from a URI.
func StripFileScheme(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeName cleans a source basename for use in the stable directory:
// percent-decoding (twice, captures arrive double-encoded on some devices),
// unsafe characters replaced, and a forced .jpg extension.
func SanitizeName(name string) string {
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
		if strings.Contains(name, "%") {
			if again, err := url.PathUnescape(name); err == nil {
				name = again
			}
		}
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		if strings.EqualFold(filepath.Ext(name), ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	if name == "" {
		name = "snap"
	}
	return name + ".jpg"
}

// strategy 1: streaming copy.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}

// strategy 2: whole-file read then write. Some filesystem drivers reject
// same-device copies for certain URI schemes but serve plain reads fine.
func rewriteFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return nil
}
