package in

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// ManifestMerger defines the contract for merging manifest lists in place.
type ManifestMerger interface {
	// MergeManifestLists adds the architectures dest is missing from src and
	// uploads the result to dest.
	MergeManifestLists(ctx context.Context, srcRef, destRef string) error

	// MergeManifestListsSelected returns the list at dest with the eligible
	// architectures of src merged in. Nothing is uploaded.
	MergeManifestListsSelected(ctx context.Context, srcRef, destRef string, eligible []string) (domain.ManifestList, error)

	// MergeTag uploads the result of MergeManifestListsSelected to dest.
	MergeTag(ctx context.Context, srcRef, destRef string, eligible []string) error
}
