package in

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// RepositoryRemover defines the contract for removing a published repository.
type RepositoryRemover interface {
	RemoveRepository(ctx context.Context, req domain.RemoveRepositoryRequest) error
}
