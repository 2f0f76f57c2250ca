// Package containers copies container images into their destination repositories.
package containers

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/zerowrap"
	"github.com/opencontainers/go-digest"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/domain"
	"github.com/bnema/quaypush/internal/usecase/merger"
)

// Config holds the destination registry settings.
type Config struct {
	Host      string
	Namespace string
}

// Service pushes container push items to Quay.
type Service struct {
	registry out.ManifestRegistry
	cfg      Config
}

// NewService creates a new container push service.
func NewService(registry out.ManifestRegistry, cfg Config) *Service {
	return &Service{registry: registry, cfg: cfg}
}

// PushContainers copies the image of every item to each of its destination
// tags. When both source and destination are manifest lists, architectures
// only present at the destination are kept.
func (s *Service) PushContainers(ctx context.Context, items []domain.PushItem) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "PushContainers",
	})
	log := zerowrap.FromCtx(ctx)

	for _, item := range items {
		src := item.SourceRef()
		if src == "" {
			return &domain.BadPushItemError{Item: item.String(), Reason: "doesn't contain pull data"}
		}

		for _, repo := range item.DestinationRepos() {
			internalRepo := s.cfg.Namespace + "/" + domain.InternalRepoName(repo)
			for _, tag := range item.Metadata.Tags[repo] {
				dest := domain.ImageLocator{Repository: internalRepo, Tag: tag}.Reference(s.cfg.Host)
				if err := s.pushImage(ctx, src, dest); err != nil {
					return fmt.Errorf("failed to push %s to %s: %w", item, dest, err)
				}
			}
		}
		log.Info().Str("item", item.String()).Msg("push item published")
	}
	return nil
}

func (s *Service) pushImage(ctx context.Context, src, dest string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{"source": src, "destination": dest})
	log := zerowrap.FromCtx(ctx)

	srcManifest, err := s.registry.GetManifest(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to get source manifest: %w", err)
	}
	if !srcManifest.IsList() {
		log.Debug().Msg("copying single-arch image")
		return s.registry.CopyImage(ctx, src, dest)
	}

	destList, err := s.registry.GetManifestList(ctx, dest)
	switch {
	case err == nil:
	case domain.IsNotFound(err), errors.Is(err, domain.ErrManifestType):
		log.Debug().Msg("destination has no manifest list, copying as-is")
		return s.registry.CopyImage(ctx, src, dest)
	default:
		return fmt.Errorf("failed to get destination manifest list: %w", err)
	}

	srcList, err := domain.ParseManifestList(srcManifest)
	if err != nil {
		return err
	}

	// Copy the source by digest first so every referenced platform image
	// exists in the destination repository before the merged list points to it.
	destRef, err := domain.ParseReference(dest)
	if err != nil {
		return err
	}
	byDigest := destRef.Context().Digest(digest.FromBytes(srcManifest.Data).String()).String()
	if err := s.registry.CopyImage(ctx, src, byDigest); err != nil {
		return err
	}

	merged := merger.MergeAll(srcList, merger.MissingArchitectures(ctx, srcList, destList))
	manifest, err := merged.ToManifest()
	if err != nil {
		return err
	}
	log.Info().Strs("architectures", merged.Architectures()).Msg("uploading merged manifest list")
	return s.registry.UploadManifest(ctx, manifest, dest)
}
