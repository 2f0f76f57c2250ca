package out

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// RepositoryAdmin defines the contract for Quay REST API repository operations.
// Repositories are given as <organization>/<repository>.
type RepositoryAdmin interface {
	// GetRepositoryData returns the repository and its tags.
	GetRepositoryData(ctx context.Context, repo string) (domain.RepositoryData, error)

	// DeleteTag removes a single tag.
	DeleteTag(ctx context.Context, repo, tag string) error

	// DeleteRepository removes the repository with all its tags.
	DeleteRepository(ctx context.Context, repo string) error
}
