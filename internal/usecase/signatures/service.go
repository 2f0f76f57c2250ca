// Package signatures finds and removes the signatures bound to a repository.
package signatures

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/bnema/zerowrap"
	"golang.org/x/time/rate"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/domain"
)

// DefaultBatchSize is the maximum number of digests per signature store query.
const DefaultBatchSize = 50

// Config holds the reconciler settings.
type Config struct {
	// Host is the registry host used to fetch manifest lists.
	Host string
	// BatchSize bounds the digests sent in a single query.
	BatchSize int
	// QueryRPS bounds the signature store query rate. Zero disables the limit.
	QueryRPS float64
}

// Service reconciles the signature store with the content of a repository.
type Service struct {
	admin    out.RepositoryAdmin
	registry out.ManifestRegistry
	store    out.SignatureStore
	metrics  out.MetricsRecorder
	cfg      Config
	limiter  *rate.Limiter
}

// NewService creates a new signature reconciler. metrics may be nil.
func NewService(
	admin out.RepositoryAdmin,
	registry out.ManifestRegistry,
	store out.SignatureStore,
	metrics out.MetricsRecorder,
	cfg Config,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.QueryRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QueryRPS), 1)
	}
	return &Service{
		admin:    admin,
		registry: registry,
		store:    store,
		metrics:  metrics,
		cfg:      cfg,
		limiter:  limiter,
	}
}

// RepositoryDigests returns the digests of every image in repo, sorted and
// without duplicates. Manifest lists contribute the digests of their
// entries, never their own digest, since only platform images are signed.
func (s *Service) RepositoryDigests(ctx context.Context, repo string) ([]string, error) {
	data, err := s.admin.GetRepositoryData(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository data of %s: %w", repo, err)
	}
	return s.digestsOf(ctx, repo, data)
}

// digestsOf resolves the image digests of the tags listed in data.
func (s *Service) digestsOf(ctx context.Context, repo string, data domain.RepositoryData) ([]string, error) {
	log := zerowrap.FromCtx(ctx)

	seen := make(map[string]struct{})
	for _, tag := range data.TagNames() {
		tagData := data.Tags[tag]
		if !tagData.IsManifestList() {
			seen[tagData.ManifestDigest] = struct{}{}
			continue
		}

		ref := domain.ImageLocator{Repository: repo, Tag: tag}.Reference(s.cfg.Host)
		list, err := s.registry.GetManifestList(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to get manifest list %s: %w", ref, err)
		}
		for _, digest := range list.Digests() {
			seen[digest] = struct{}{}
		}
	}

	digests := make([]string, 0, len(seen))
	for digest := range seen {
		digests = append(digests, digest)
	}
	sort.Strings(digests)

	log.Debug().Str("repository", repo).Int("digests", len(digests)).Msg("collected repository digests")
	return digests, nil
}

// FindSignatures streams the signatures of digests. The store is queried
// lazily, one chunk of at most batchSize digests at a time, so a consumer
// that stops early avoids the remaining queries. A batchSize below one uses
// the configured default. The first query error is yielded and ends the stream.
func (s *Service) FindSignatures(ctx context.Context, digests []string, batchSize int) iter.Seq2[domain.SignatureRecord, error] {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}

	return func(yield func(domain.SignatureRecord, error) bool) {
		for start := 0; start < len(digests); start += batchSize {
			end := min(start+batchSize, len(digests))

			if err := s.limiter.Wait(ctx); err != nil {
				yield(domain.SignatureRecord{}, err)
				return
			}
			records, err := s.store.QuerySignatures(ctx, digests[start:end])
			if err != nil {
				yield(domain.SignatureRecord{}, fmt.Errorf("failed to query signatures: %w", err))
				return
			}
			for _, record := range records {
				if !yield(record, nil) {
					return
				}
			}
		}
	}
}

// ReconcileRepository deletes every signature that binds an image of
// internalRepo to externalRepo. Signatures of the same digests under other
// repositories are kept.
func (s *Service) ReconcileRepository(ctx context.Context, externalRepo, internalRepo string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ReconcileRepository",
		"repository":         externalRepo,
	})
	log := zerowrap.FromCtx(ctx)

	log.Info().Msg("Removing signatures of all images of repository")

	data, err := s.admin.GetRepositoryData(ctx, internalRepo)
	if domain.IsNotFound(err) {
		log.Info().Str("internal_repository", internalRepo).Msg("repository doesn't exist, no signatures to remove")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get repository data of %s: %w", internalRepo, err)
	}

	// A tag that vanished while listing is an error, not an absent repository.
	digests, err := s.digestsOf(ctx, internalRepo, data)
	if err != nil {
		return err
	}

	var ids []string
	for record, err := range s.FindSignatures(ctx, digests, s.cfg.BatchSize) {
		if err != nil {
			return err
		}
		if record.Repository == externalRepo {
			ids = append(ids, record.ID)
		}
	}

	if len(ids) == 0 {
		log.Info().Msg("No signatures need to be removed")
		return nil
	}

	log.Info().Int("count", len(ids)).Msg("signatures will be removed")
	if err := s.store.DeleteSignatures(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete signatures: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordSignatures("removed", len(ids))
	}
	return nil
}
