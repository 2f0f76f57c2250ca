package out

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// SignatureStore defines the contract for the container signature store.
type SignatureStore interface {
	// QuerySignatures returns the signatures of the given manifest digests.
	// Callers bound the number of digests per call.
	QuerySignatures(ctx context.Context, digests []string) ([]domain.SignatureRecord, error)

	// DeleteSignatures removes signatures by ID.
	DeleteSignatures(ctx context.Context, ids []string) error

	// UploadSignatures stores one batch of new signatures.
	UploadSignatures(ctx context.Context, batch []domain.SignatureUpload) error
}

// RepositoryMetadataSource defines the contract for the repository catalog.
type RepositoryMetadataSource interface {
	// GetRepositoryMetadata returns the catalog record of an external repository.
	// Returns domain.ErrNotFound for unknown repositories.
	GetRepositoryMetadata(ctx context.Context, repo string) (domain.RepositoryMetadata, error)
}

// OCPVersionResolver resolves an OpenShift version range to concrete versions.
type OCPVersionResolver interface {
	// GetOCPVersions returns the versions matching versionsRange, without a "v" prefix.
	GetOCPVersions(ctx context.Context, versionsRange string) ([]domain.OCPVersion, error)
}
