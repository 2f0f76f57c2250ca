package in

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// IndexTasks defines the contract for standalone index image builds. Each
// task signs the built image, publishes it to the operator repository and
// returns the published reference.
type IndexTasks interface {
	AddBundles(ctx context.Context, req domain.AddBundlesRequest, signingKeys []string) (string, error)
	RemoveOperators(ctx context.Context, req domain.RemoveOperatorsRequest, signingKeys []string) (string, error)
	BuildFromScratch(ctx context.Context, req domain.BuildFromScratchRequest, tag string, signingKeys []string) (string, error)
}
