package gallery

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfnt/resize"

	"github.com/hazyhaar/camplus/idgen"

	_ "image/gif"
	_ "image/png"
)

// thumbnail edge length for DirLibrary asset previews.
const thumbEdge = 320

// DirLibrary is a directory-backed MediaLibrary for local and development
// use: assets are files under the root, albums are subdirectories, and each
// asset gets a JPEG thumbnail under thumbs/.
type DirLibrary struct {
	root   string
	newID  idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// DirOption configures a DirLibrary.
type DirOption func(*DirLibrary)

// WithIDGenerator sets a custom generator for asset ids.
func WithIDGenerator(gen idgen.Generator) DirOption {
	return func(l *DirLibrary) { l.newID = gen }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) DirOption {
	return func(l *DirLibrary) { l.logger = log }
}

// NewDirLibrary creates the root directory if needed.
func NewDirLibrary(root string, opts ...DirOption) (*DirLibrary, error) {
	if root == "" {
		return nil, fmt.Errorf("gallery: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("gallery: mkdir %s: %w", root, err)
	}
	l := &DirLibrary{
		root:   root,
		newID:  idgen.Prefixed("ast_", idgen.Default),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Root returns the library root directory.
func (l *DirLibrary) Root() string { return l.root }

// CreateAsset copies the file into the library and returns the asset id.
// The id doubles as the stored filename, so assets stay addressable across
// restarts without a separate index.
func (l *DirLibrary) CreateAsset(ctx context.Context, fileURI string) (string, error) {
	src := strings.TrimPrefix(fileURI, "file://")
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("gallery: stat %s: %w", src, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("gallery: refusing empty asset %s", src)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := l.newID() + filepath.Ext(src)
	dest := filepath.Join(l.root, id)
	if err := copyFile(src, dest); err != nil {
		return "", fmt.Errorf("gallery: store asset: %w", err)
	}

	// Thumbnail failure is not an export failure.
	if err := l.writeThumb(dest, id); err != nil {
		l.logger.Warn("gallery: thumbnail failed", "asset", id, "error", err)
	}

	return id, nil
}

// GetOrCreateAlbum ensures the album subdirectory exists. The album name is
// its id.
func (l *DirLibrary) GetOrCreateAlbum(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("gallery: empty album name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("gallery: invalid album name %q", name)
	}
	if err := os.MkdirAll(filepath.Join(l.root, name), 0o755); err != nil {
		return "", fmt.Errorf("gallery: create album %s: %w", name, err)
	}
	return name, nil
}

// AddAssetToAlbum links an existing asset into an album directory.
func (l *DirLibrary) AddAssetToAlbum(ctx context.Context, assetID, albumID string) error {
	src := filepath.Join(l.root, assetID)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("gallery: unknown asset %s: %w", assetID, err)
	}
	dest := filepath.Join(l.root, albumID, assetID)
	if err := os.Link(src, dest); err != nil {
		// Cross-device or FS without hard links: fall back to a copy.
		if err := copyFile(src, dest); err != nil {
			return fmt.Errorf("gallery: add to album %s: %w", albumID, err)
		}
	}
	return nil
}

func (l *DirLibrary) writeThumb(assetPath, id string) error {
	f, err := os.Open(assetPath)
	if err != nil {
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	thumb := resize.Thumbnail(thumbEdge, thumbEdge, img, resize.Lanczos3)

	dir := filepath.Join(l.root, "thumbs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	out, err := os.Create(filepath.Join(dir, strings.TrimSuffix(id, filepath.Ext(id))+".jpg"))
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: 80}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
