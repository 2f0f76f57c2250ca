package merger

import (
	"context"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/domain"
)

// platformKey identifies the platform an entry is built for. Images are
// built for a single OS, so the architecture alone is enough.
func platformKey(p domain.PlatformManifest) string {
	return p.Platform.Architecture
}

// MissingArchitectures returns the destination entries whose architecture is
// absent from the source list. Each architecture is returned once.
func MissingArchitectures(ctx context.Context, src, dest domain.ManifestList) []domain.PlatformManifest {
	present := make(map[string]struct{}, len(src.Manifests))
	for _, m := range src.Manifests {
		present[platformKey(m)] = struct{}{}
	}

	var missing []domain.PlatformManifest
	var names []string
	for _, m := range dest.Manifests {
		key := platformKey(m)
		if _, ok := present[key]; ok {
			continue
		}
		present[key] = struct{}{}
		missing = append(missing, m.Clone())
		names = append(names, key)
	}

	log := zerowrap.FromCtx(ctx)
	log.Info().
		Str("architectures", strings.Join(names, ", ")).
		Msg("Architectures missing from the new image")
	return missing
}

// MergeAll returns a copy of src with the missing entries appended.
func MergeAll(src domain.ManifestList, missing []domain.PlatformManifest) domain.ManifestList {
	merged := src.Clone()
	for _, m := range missing {
		merged.Manifests = append(merged.Manifests, m.Clone())
	}
	return merged
}

// MergeSelectedArchitectures builds a list holding the eligible source
// entries first, followed by the destination entries whose architecture was
// not taken from the source. A nil dest means the destination does not exist.
func MergeSelectedArchitectures(src domain.ManifestList, dest *domain.ManifestList, eligible []string) domain.ManifestList {
	eligibleSet := make(map[string]struct{}, len(eligible))
	for _, arch := range eligible {
		eligibleSet[arch] = struct{}{}
	}

	added := make(map[string]struct{})
	manifests := make([]domain.PlatformManifest, 0, len(src.Manifests))
	for _, m := range src.Manifests {
		if _, ok := eligibleSet[m.Platform.Architecture]; !ok {
			continue
		}
		manifests = append(manifests, m.Clone())
		added[platformKey(m)] = struct{}{}
	}

	if dest != nil {
		for _, m := range dest.Manifests {
			if _, ok := added[platformKey(m)]; ok {
				continue
			}
			manifests = append(manifests, m.Clone())
		}
	}

	merged := src.Clone()
	merged.Manifests = manifests
	return merged
}
