// Package indextasks runs standalone index image builds: each one builds an
// index, signs the new image and publishes it to the operator repository.
package indextasks

import (
	"context"
	"fmt"

	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/domain"
)

// IndexSigner signs the intermediate image of an index build.
type IndexSigner interface {
	SignIndexBuild(ctx context.Context, build domain.IndexBuild, tag string, signingKeys []string) error
}

// Config holds the destination and index builder settings.
type Config struct {
	Host               string
	Namespace          string
	OperatorRepository string
	Overwrite          bool
	OverwriteToken     string
}

// Service runs index image tasks.
type Service struct {
	builder  out.IndexBuilder
	signer   IndexSigner
	registry out.ManifestRegistry
	cfg      Config
}

// NewService creates a new index task service.
func NewService(builder out.IndexBuilder, signer IndexSigner, registry out.ManifestRegistry, cfg Config) *Service {
	return &Service{
		builder:  builder,
		signer:   signer,
		registry: registry,
		cfg:      cfg,
	}
}

// AddBundles adds bundles to an index image and publishes the result under
// the tag chosen by the builder. It returns the published reference.
func (s *Service) AddBundles(ctx context.Context, req domain.AddBundlesRequest, signingKeys []string) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "AddBundles",
		"index_image":         req.IndexImage,
	})
	log := zerowrap.FromCtx(ctx)

	if req.IndexImage == "" {
		return "", fmt.Errorf("%w: an index image must be given", domain.ErrInvalidConfiguration)
	}
	req.Overwrite, req.OverwriteToken = s.cfg.Overwrite, s.cfg.OverwriteToken

	log.Info().Strs("bundles", req.Bundles).Msg("Requesting bundles to be added to index image")
	build, err := s.builder.AddBundles(ctx, req)
	if err != nil {
		return "", err
	}
	return s.publishBuild(ctx, build, "", signingKeys)
}

// RemoveOperators removes operators from an index image and publishes the
// result under the tag chosen by the builder.
func (s *Service) RemoveOperators(ctx context.Context, req domain.RemoveOperatorsRequest, signingKeys []string) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "RemoveOperators",
		"index_image":         req.IndexImage,
	})
	log := zerowrap.FromCtx(ctx)

	if req.IndexImage == "" {
		return "", fmt.Errorf("%w: an index image must be given", domain.ErrInvalidConfiguration)
	}
	req.Overwrite, req.OverwriteToken = s.cfg.Overwrite, s.cfg.OverwriteToken

	log.Info().Strs("operators", req.Operators).Msg("Requesting operators to be removed from index image")
	build, err := s.builder.RemoveOperators(ctx, req)
	if err != nil {
		return "", err
	}
	return s.publishBuild(ctx, build, "", signingKeys)
}

// BuildFromScratch builds an index image holding only the bundles and
// publishes it under tag.
func (s *Service) BuildFromScratch(ctx context.Context, req domain.BuildFromScratchRequest, tag string, signingKeys []string) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "BuildFromScratch",
		"tag":                 tag,
	})
	log := zerowrap.FromCtx(ctx)

	if tag == "" {
		return "", fmt.Errorf("%w: a tag for the new index image must be given", domain.ErrInvalidConfiguration)
	}

	log.Info().Strs("bundles", req.Bundles).Msg("Requesting a new index image")
	build, err := s.builder.BuildFromScratch(ctx, req)
	if err != nil {
		return "", err
	}
	return s.publishBuild(ctx, build, tag, signingKeys)
}

// publishBuild signs the intermediate image of build and copies the tagged
// index image to the operator repository. An empty tag keeps the tag of the
// built image.
func (s *Service) publishBuild(ctx context.Context, build domain.IndexBuild, tag string, signingKeys []string) (string, error) {
	log := zerowrap.FromCtx(ctx)

	if tag == "" {
		builtTag, err := domain.ReferenceTag(build.IndexImage)
		if err != nil {
			return "", fmt.Errorf("invalid index image of build %d: %w", build.ID, err)
		}
		tag = builtTag
	}

	if err := s.signer.SignIndexBuild(ctx, build, tag, signingKeys); err != nil {
		return "", log.WrapErr(err, "failed to sign index image")
	}

	// The tagged image is copied rather than the intermediate one so the
	// destination gets the most recent content of the tag.
	repo := s.cfg.Namespace + "/" + domain.InternalRepoName(s.cfg.OperatorRepository)
	dest := domain.ImageLocator{Repository: repo, Tag: tag}.Reference(s.cfg.Host)
	if err := s.registry.CopyImage(ctx, build.IndexImage, dest); err != nil {
		return "", fmt.Errorf("failed to push index image %s: %w", build.IndexImage, err)
	}

	log.Info().Str("destination", dest).Msg("index image pushed")
	return dest, nil
}
