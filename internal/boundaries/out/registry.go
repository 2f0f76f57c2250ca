package out

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// ManifestRegistry defines the contract for Docker registry API operations.
// References are full image references (host/repo:tag or host/repo@digest).
type ManifestRegistry interface {
	// GetManifest returns the manifest at ref, preferring a manifest list when one exists.
	GetManifest(ctx context.Context, ref string) (domain.Manifest, error)

	// GetManifestList returns the manifest list at ref.
	// Returns domain.ErrManifestType when ref holds a single-image manifest.
	GetManifestList(ctx context.Context, ref string) (domain.ManifestList, error)

	// UploadManifest stores manifest at ref.
	UploadManifest(ctx context.Context, manifest domain.Manifest, ref string) error

	// CopyImage copies the image (and every platform image of a list) from src to dest.
	CopyImage(ctx context.Context, src, dest string) error
}
