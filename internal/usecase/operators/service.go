// Package operators adds operator bundles to index images and publishes the
// resulting indices.
package operators

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/domain"
)

// Config holds the operator index settings.
type Config struct {
	Host                string
	Namespace           string
	ReferenceRegistries []string
	// IndexImage is the index image repository, tagged with each OCP version.
	IndexImage         string
	OperatorRepository string
	Overwrite          bool
	OverwriteToken     string
}

// Service builds and publishes operator index images.
type Service struct {
	resolver    out.OCPVersionResolver
	deprecation out.DeprecationListSource
	builder     out.IndexBuilder
	registry    out.ManifestRegistry
	cfg         Config
}

// NewService creates a new operator index service.
func NewService(
	resolver out.OCPVersionResolver,
	deprecation out.DeprecationListSource,
	builder out.IndexBuilder,
	registry out.ManifestRegistry,
	cfg Config,
) *Service {
	return &Service{
		resolver:    resolver,
		deprecation: deprecation,
		builder:     builder,
		registry:    registry,
		cfg:         cfg,
	}
}

// VersionItemsMapping groups the items by the OCP versions they target.
// Each distinct version range is resolved once.
func (s *Service) VersionItemsMapping(ctx context.Context, items []domain.PushItem) (map[string][]domain.PushItem, error) {
	log := zerowrap.FromCtx(ctx)

	resolved := make(map[string][]string)
	mapping := make(map[string][]domain.PushItem)
	for _, item := range items {
		versionsRange := item.Metadata.OCPVersions
		versions, ok := resolved[versionsRange]
		if !ok {
			log.Info().Str("range", versionsRange).Msg("Getting OCP versions from Pyxis")
			indices, err := s.resolver.GetOCPVersions(ctx, versionsRange)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve OCP versions %q: %w", versionsRange, err)
			}
			if len(indices) == 0 {
				return nil, fmt.Errorf("no OCP versions returned for '%s' specified in build %d",
					versionsRange, item.Metadata.Build.BuildID)
			}
			for _, index := range indices {
				versions = append(versions, "v"+index.Version)
			}
			resolved[versionsRange] = versions
		}
		for _, version := range versions {
			mapping[version] = append(mapping[version], item)
		}
	}
	return mapping, nil
}

// BuildIndexImages asks the index builder to add the bundles of items to the
// index image of every OCP version they target.
func (s *Service) BuildIndexImages(ctx context.Context, items []domain.PushItem) ([]domain.VersionBuild, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "BuildIndexImages",
	})
	log := zerowrap.FromCtx(ctx)

	mapping, err := s.VersionItemsMapping(ctx, items)
	if err != nil {
		return nil, err
	}

	builds := make([]domain.VersionBuild, 0, len(mapping))
	for _, version := range sortedVersions(mapping) {
		versionItems := mapping[version]

		bundles := make([]string, 0, len(versionItems))
		for _, item := range versionItems {
			ref, err := s.PublicBundleRef(item)
			if err != nil {
				return nil, err
			}
			bundles = append(bundles, ref)
		}

		deprecations, err := s.DeprecationList(ctx, version)
		if err != nil {
			return nil, err
		}

		req := domain.AddBundlesRequest{
			IndexImage:      s.cfg.IndexImage + ":" + version,
			Bundles:         bundles,
			Archs:           itemArchs(versionItems),
			DeprecationList: deprecations,
			Overwrite:       s.cfg.Overwrite,
			OverwriteToken:  s.cfg.OverwriteToken,
		}
		log.Info().Strs("bundles", bundles).Str("index_image", req.IndexImage).Msg("Requesting IIB to add bundles")

		build, err := s.builder.AddBundles(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to build index image for %s: %w", version, err)
		}
		builds = append(builds, domain.VersionBuild{
			Version:     version,
			Build:       build,
			SigningKeys: signingKeys(versionItems),
		})
	}
	return builds, nil
}

// PushIndexImages copies every built index image into the operator repository,
// keeping the tag the builder gave it.
func (s *Service) PushIndexImages(ctx context.Context, builds []domain.VersionBuild) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "PushIndexImages",
	})
	log := zerowrap.FromCtx(ctx)

	repo := s.cfg.Namespace + "/" + domain.InternalRepoName(s.cfg.OperatorRepository)
	for _, build := range builds {
		tag, err := domain.ReferenceTag(build.Build.IndexImage)
		if err != nil {
			return fmt.Errorf("invalid index image of %s: %w", build.Version, err)
		}
		dest := domain.ImageLocator{Repository: repo, Tag: tag}.Reference(s.cfg.Host)
		if err := s.registry.CopyImage(ctx, build.Build.IndexImage, dest); err != nil {
			return fmt.Errorf("failed to push index image %s: %w", build.Build.IndexImage, err)
		}
		log.Info().Str("version", build.Version).Str("destination", dest).Msg("index image pushed")
	}
	return nil
}

// DeprecationList returns the bundles to deprecate in the index of version,
// as customer-visible references, sorted.
func (s *Service) DeprecationList(ctx context.Context, version string) ([]string, error) {
	log := zerowrap.FromCtx(ctx)
	log.Info().Str("version", version).Msg("Getting the deprecation list")

	packages, err := s.deprecation.GetDeprecationList(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get deprecation list for %s: %w", version, err)
	}

	registry := s.referenceRegistry()
	var bundles []string
	for _, paths := range packages {
		for _, path := range paths {
			bundles = append(bundles, registry+"/"+path)
		}
	}
	sort.Strings(bundles)
	return bundles, nil
}

// PublicBundleRef returns the customer-visible reference of an operator
// bundle, addressed by its immutable tag.
func (s *Service) PublicBundleRef(item domain.PushItem) (string, error) {
	repos := item.DestinationRepos()
	if len(repos) == 0 {
		return "", &domain.BadPushItemError{Item: item.String(), Reason: "has no destination tags"}
	}
	tag := ImmutableTag(item.Metadata.VR, item.Metadata.Tags[repos[0]])
	return s.referenceRegistry() + "/" + repos[0] + ":" + tag, nil
}

func (s *Service) referenceRegistry() string {
	if len(s.cfg.ReferenceRegistries) == 0 {
		return ""
	}
	return s.cfg.ReferenceRegistries[0]
}

var digitGroups = regexp.MustCompile(`\d+`)

// ImmutableTag returns vr when it is one of the tags. Otherwise the tag with
// the most numeric groups wins, ties going to the greatest tag.
func ImmutableTag(vr string, tags []string) string {
	for _, tag := range tags {
		if tag == vr {
			return vr
		}
	}

	best, bestGroups := "", -1
	for _, tag := range tags {
		groups := len(digitGroups.FindAllString(tag, -1))
		if groups > bestGroups || (groups == bestGroups && tag > best) {
			best, bestGroups = tag, groups
		}
	}
	return best
}

func itemArchs(items []domain.PushItem) []string {
	set := make(map[string]struct{})
	for _, item := range items {
		arch := item.Metadata.Arch
		if arch == "x86_64" {
			arch = "amd64"
		}
		set[arch] = struct{}{}
	}
	return sortedKeys(set)
}

func signingKeys(items []domain.PushItem) []string {
	set := make(map[string]struct{})
	for _, item := range items {
		set[item.ClaimsSigningKey] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedVersions orders OCP versions numerically (v4.9 before v4.10).
// Versions that do not parse sort after the others, by name.
func sortedVersions(mapping map[string][]domain.PushItem) []string {
	versions := make([]string, 0, len(mapping))
	for v := range mapping {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i])
		vj, errj := semver.NewVersion(versions[j])
		switch {
		case erri == nil && errj == nil:
			if !vi.Equal(vj) {
				return vi.LessThan(vj)
			}
		case erri == nil:
			return true
		case errj == nil:
			return false
		}
		return strings.Compare(versions[i], versions[j]) < 0
	})
	return versions
}
