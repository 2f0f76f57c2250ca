package out

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// IndexBuilder defines the contract for the operator index image build service.
type IndexBuilder interface {
	// AddBundles builds a new index image containing the requested bundles
	// and waits for the build to finish.
	AddBundles(ctx context.Context, req domain.AddBundlesRequest) (domain.IndexBuild, error)

	// RemoveOperators builds a new index image without the requested
	// operators and waits for the build to finish.
	RemoveOperators(ctx context.Context, req domain.RemoveOperatorsRequest) (domain.IndexBuild, error)

	// BuildFromScratch builds an index image that starts empty.
	BuildFromScratch(ctx context.Context, req domain.BuildFromScratchRequest) (domain.IndexBuild, error)
}

// DeprecationListSource provides the bundles to deprecate per OpenShift version.
type DeprecationListSource interface {
	// GetDeprecationList returns bundle paths (without registry) keyed by package.
	GetDeprecationList(ctx context.Context, version string) (map[string][]string, error)
}
