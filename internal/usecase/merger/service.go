// Package merger implements manifest list merging that never drops the
// architectures already published at the destination.
package merger

import (
	"context"
	"fmt"

	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/domain"
)

// Service merges manifest lists stored in a registry.
type Service struct {
	registry out.ManifestRegistry
}

// NewService creates a new merger service.
func NewService(registry out.ManifestRegistry) *Service {
	return &Service{registry: registry}
}

// MergeManifestLists merges the architectures missing from srcRef into it and
// uploads the result to destRef. Both references must hold manifest lists.
func (s *Service) MergeManifestLists(ctx context.Context, srcRef, destRef string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "MergeManifestLists",
		"source":             srcRef,
		"destination":        destRef,
	})
	log := zerowrap.FromCtx(ctx)

	src, err := s.registry.GetManifestList(ctx, srcRef)
	if err != nil {
		return fmt.Errorf("failed to get source manifest list: %w", err)
	}
	dest, err := s.registry.GetManifestList(ctx, destRef)
	if err != nil {
		return fmt.Errorf("failed to get destination manifest list: %w", err)
	}

	merged := MergeAll(src, MissingArchitectures(ctx, src, dest))
	manifest, err := merged.ToManifest()
	if err != nil {
		return err
	}
	if err := s.registry.UploadManifest(ctx, manifest, destRef); err != nil {
		return log.WrapErr(err, "failed to upload merged manifest list")
	}

	log.Info().Int("architectures", len(merged.Manifests)).Msg("manifest lists merged")
	return nil
}

// MergeManifestListsSelected merges only the eligible architectures of srcRef
// into the list at destRef and returns the result without uploading it.
// A missing destination is treated as an empty list.
func (s *Service) MergeManifestListsSelected(ctx context.Context, srcRef, destRef string, eligible []string) (domain.ManifestList, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "MergeManifestListsSelected",
		"source":             srcRef,
		"destination":        destRef,
	})
	log := zerowrap.FromCtx(ctx)

	src, err := s.registry.GetManifestList(ctx, srcRef)
	if err != nil {
		return domain.ManifestList{}, fmt.Errorf("failed to get source manifest list: %w", err)
	}

	var dest *domain.ManifestList
	existing, err := s.registry.GetManifestList(ctx, destRef)
	switch {
	case err == nil:
		dest = &existing
	case domain.IsNotFound(err):
		log.Debug().Msg("destination doesn't exist, nothing to carry over")
	default:
		return domain.ManifestList{}, fmt.Errorf("failed to get destination manifest list: %w", err)
	}

	return MergeSelectedArchitectures(src, dest, eligible), nil
}

// MergeTag merges the eligible architectures of srcRef into destRef and
// uploads the result to destRef.
func (s *Service) MergeTag(ctx context.Context, srcRef, destRef string, eligible []string) error {
	merged, err := s.MergeManifestListsSelected(ctx, srcRef, destRef, eligible)
	if err != nil {
		return err
	}
	if len(merged.Manifests) == 0 {
		return fmt.Errorf("no eligible architecture to publish to %s", destRef)
	}
	manifest, err := merged.ToManifest()
	if err != nil {
		return err
	}
	if err := s.registry.UploadManifest(ctx, manifest, destRef); err != nil {
		return fmt.Errorf("failed to upload merged manifest list: %w", err)
	}
	log := zerowrap.FromCtx(ctx)
	log.Info().
		Str("destination", destRef).
		Strs("architectures", merged.Architectures()).
		Msg("tag merged")
	return nil
}
