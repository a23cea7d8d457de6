// Package gallery abstracts the device media library and its permission
// model. The export pipeline only ever talks to these interfaces; the real
// platform bindings live outside this repo.
package gallery

import "context"

// Perm is the media-library access the platform granted. CanWrite gates
// asset creation; CanRead additionally gates album listing and membership.
// Write-only grants are common and must be enough to export.
type Perm struct {
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`
}

// Permissions requests media-library access from the platform.
type Permissions interface {
	Request(ctx context.Context) (Perm, error)
}

// StaticPermissions returns a fixed grant; used for configuration-driven
// deployments and tests.
type StaticPermissions Perm

func (p StaticPermissions) Request(ctx context.Context) (Perm, error) {
	return Perm(p), nil
}

// MediaLibrary creates gallery assets from durable files.
type MediaLibrary interface {
	// CreateAsset registers a file as a gallery asset and returns its id.
	CreateAsset(ctx context.Context, fileURI string) (string, error)
	// GetOrCreateAlbum resolves an album by name, creating it if needed.
	// Requires read access; never called on write-only grants.
	GetOrCreateAlbum(ctx context.Context, name string) (string, error)
	// AddAssetToAlbum places an existing asset into an album.
	AddAssetToAlbum(ctx context.Context, assetID, albumID string) error
}

// DefaultAlbum is the album exported photos are filed under when the grant
// allows album operations.
const DefaultAlbum = "Camplus"
