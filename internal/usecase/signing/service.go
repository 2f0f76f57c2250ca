// Package signing requests container signatures from the external signer and
// stores them in the signature store.
package signing

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/domain"
)

// DefaultMaxUploadItems is the largest signature batch the store accepts.
const DefaultMaxUploadItems = 100

// Config holds the signing settings.
type Config struct {
	Enabled             bool
	Host                string
	Namespace           string
	ReferenceRegistries []string
	OperatorRepository  string
	TaskID              string
	Creator             string
	MaxUploadItems      int
}

// SignatureFinder streams the existing signatures of a set of digests.
type SignatureFinder interface {
	FindSignatures(ctx context.Context, digests []string, batchSize int) iter.Seq2[domain.SignatureRecord, error]
}

// Service drives the claim signing workflow.
type Service struct {
	admin    out.RepositoryAdmin
	registry out.ManifestRegistry
	store    out.SignatureStore
	signer   out.ClaimSigner
	finder   SignatureFinder
	metrics  out.MetricsRecorder
	cfg      Config

	newID func() string
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator overrides the request ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock overrides the clock used for claim creation times.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithMetrics records the number of uploaded signatures.
func WithMetrics(metrics out.MetricsRecorder) Option {
	return func(s *Service) { s.metrics = metrics }
}

// NewService creates a new signing service.
func NewService(
	admin out.RepositoryAdmin,
	registry out.ManifestRegistry,
	store out.SignatureStore,
	signer out.ClaimSigner,
	finder SignatureFinder,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.MaxUploadItems <= 0 {
		cfg.MaxUploadItems = DefaultMaxUploadItems
	}
	s := &Service{
		admin:    admin,
		registry: registry,
		store:    store,
		signer:   signer,
		finder:   finder,
		cfg:      cfg,
		newID:    defaultID,
		now:      defaultNow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignContainerImages signs every image digest of the items under every
// destination reference, skipping signatures that already exist.
func (s *Service) SignContainerImages(ctx context.Context, items []domain.PushItem) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "SignContainerImages",
	})
	log := zerowrap.FromCtx(ctx)

	if !s.cfg.Enabled {
		log.Info().Msg("Container signing not allowed in target settings, skipping.")
		return nil
	}

	var claims []domain.ClaimMessage
	for _, item := range items {
		itemClaims, err := s.itemClaims(ctx, item)
		if err != nil {
			return err
		}
		claims = append(claims, itemClaims...)
	}

	claims = RemoveDuplicateClaims(claims)
	claims, err := s.FilterExistingClaims(ctx, claims)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		log.Info().Msg("No new claim messages will be uploaded")
		return nil
	}

	return s.signAndUpload(ctx, claims)
}

// SignIndexImages signs the images of freshly built operator indices. The
// signature store is not consulted since a new image cannot be signed yet.
func (s *Service) SignIndexImages(ctx context.Context, builds []domain.VersionBuild) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "SignIndexImages",
	})
	log := zerowrap.FromCtx(ctx)

	if !s.cfg.Enabled {
		log.Info().Msg("Container signing not allowed in target settings, skipping.")
		return nil
	}

	sorted := make([]domain.VersionBuild, len(builds))
	copy(sorted, builds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	var claims []domain.ClaimMessage
	for _, build := range sorted {
		intermediate, err := s.intermediateIndexImage(build.Build)
		if err != nil {
			return err
		}
		versionClaims, err := s.IndexImageClaims(ctx, intermediate, build.Version, build.SigningKeys)
		if err != nil {
			return err
		}
		claims = append(claims, versionClaims...)
	}
	if len(claims) == 0 {
		log.Info().Msg("No new claim messages will be uploaded")
		return nil
	}

	return s.signAndUpload(ctx, claims)
}

// SignIndexBuild signs the intermediate image of one index build so that
// customers see it as <registry>/<operator repository>:<tag>. Unlike
// SignIndexImages it is not gated by the signing setting.
func (s *Service) SignIndexBuild(ctx context.Context, build domain.IndexBuild, tag string, signingKeys []string) error {
	log := zerowrap.FromCtx(ctx)

	intermediate, err := s.intermediateIndexImage(build)
	if err != nil {
		return err
	}
	claims, err := s.IndexImageClaims(ctx, intermediate, tag, signingKeys)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		log.Info().Msg("No new claim messages will be uploaded")
		return nil
	}
	return s.signAndUpload(ctx, claims)
}

// IndexImageClaims builds the claims for every platform image of indexImage,
// published to customers as <registry>/<operator repository>:<tag>.
func (s *Service) IndexImageClaims(ctx context.Context, indexImage, tag string, signingKeys []string) ([]domain.ClaimMessage, error) {
	log := zerowrap.FromCtx(ctx)
	log.Info().Str("index_image", indexImage).Msg("Constructing claim messages for index image")

	list, err := s.registry.GetManifestList(ctx, indexImage)
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest list of index image %s: %w", indexImage, err)
	}

	repo := s.cfg.OperatorRepository
	destinationRepo := s.cfg.Namespace + "/" + domain.InternalRepoName(repo)

	var claims []domain.ClaimMessage
	for _, registry := range s.cfg.ReferenceRegistries {
		for _, key := range signingKeys {
			if key == "" {
				continue
			}
			for _, digest := range list.Digests() {
				claim, err := s.newClaimMessage(claimParams{
					destinationRepo: destinationRepo,
					signingKey:      key,
					digest:          digest,
					reference:       registry + "/" + repo + ":" + tag,
					imageName:       repo,
				})
				if err != nil {
					return nil, err
				}
				claims = append(claims, claim)
			}
		}
	}
	return claims, nil
}

// FilterExistingClaims drops claims whose signature (reference, digest and
// key) is already present in the signature store.
func (s *Service) FilterExistingClaims(ctx context.Context, claims []domain.ClaimMessage) ([]domain.ClaimMessage, error) {
	log := zerowrap.FromCtx(ctx)
	log.Info().Msg("Removing claim messages which already exist in Pyxis")

	digestSet := make(map[string]struct{})
	for _, claim := range claims {
		digestSet[claim.ManifestDigest] = struct{}{}
	}
	digests := make([]string, 0, len(digestSet))
	for digest := range digestSet {
		digests = append(digests, digest)
	}
	sort.Strings(digests)

	existing := make(map[domain.SignatureKey]struct{})
	for record, err := range s.finder.FindSignatures(ctx, digests, 0) {
		if err != nil {
			return nil, err
		}
		existing[domain.SignatureKey{
			Reference:      record.Reference,
			ManifestDigest: record.ManifestDigest,
			SigKeyID:       record.SigKeyID,
		}] = struct{}{}
	}

	filtered := make([]domain.ClaimMessage, 0, len(claims))
	for _, claim := range claims {
		key := domain.SignatureKey{
			Reference:      claim.DockerReference,
			ManifestDigest: claim.ManifestDigest,
			SigKeyID:       claim.SigKeyID,
		}
		if _, ok := existing[key]; !ok {
			filtered = append(filtered, claim)
		}
	}

	log.Info().Int("remaining", len(filtered)).Msg("claim messages remain after removing duplicates")
	return filtered, nil
}

func (s *Service) itemClaims(ctx context.Context, item domain.PushItem) ([]domain.ClaimMessage, error) {
	if item.ClaimsSigningKey == "" {
		return nil, nil
	}
	log := zerowrap.FromCtx(ctx)
	log.Info().Str("item", item.String()).Msg("Constructing claim messages for push item")

	digests, err := s.taggedImageDigests(ctx, item.SourceRef())
	if err != nil {
		return nil, err
	}

	var claims []domain.ClaimMessage
	for _, digest := range digests {
		for _, repo := range item.DestinationRepos() {
			for _, tag := range item.Metadata.Tags[repo] {
				variants, err := s.variantClaims(repo, tag, digest, []string{item.ClaimsSigningKey})
				if err != nil {
					return nil, err
				}
				claims = append(claims, variants...)
			}
		}
	}
	return claims, nil
}

// variantClaims builds one claim per reference registry and signing key.
func (s *Service) variantClaims(repo, tag, digest string, keys []string) ([]domain.ClaimMessage, error) {
	destinationRepo := s.cfg.Namespace + "/" + domain.InternalRepoName(repo)

	var claims []domain.ClaimMessage
	for _, registry := range s.cfg.ReferenceRegistries {
		for _, key := range keys {
			claim, err := s.newClaimMessage(claimParams{
				destinationRepo: destinationRepo,
				signingKey:      key,
				digest:          digest,
				reference:       registry + "/" + repo + ":" + tag,
				imageName:       repo,
			})
			if err != nil {
				return nil, err
			}
			claims = append(claims, claim)
		}
	}
	return claims, nil
}

// taggedImageDigests returns the platform image digests referenced by ref.
// A single-arch image yields its own digest, a manifest list its entries.
func (s *Service) taggedImageDigests(ctx context.Context, ref string) ([]string, error) {
	parsed, err := domain.ParseReference(ref)
	if err != nil {
		return nil, err
	}

	tagged, ok := parsed.(name.Tag)
	if !ok {
		manifest, err := s.registry.GetManifest(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to get manifest %s: %w", ref, err)
		}
		if !manifest.IsList() {
			return []string{parsed.Identifier()}, nil
		}
		list, err := domain.ParseManifestList(manifest)
		if err != nil {
			return nil, err
		}
		return list.Digests(), nil
	}

	repo := lastPathComponents(parsed.Context().RepositoryStr(), 2)
	data, err := s.admin.GetRepositoryData(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository data of %s: %w", repo, err)
	}
	tagData, ok := data.Tags[tagged.TagStr()]
	if !ok {
		return nil, fmt.Errorf("tag %s of %s: %w", tagged.TagStr(), repo, domain.ErrNotFound)
	}
	if !tagData.IsManifestList() {
		return []string{tagData.ManifestDigest}, nil
	}

	list, err := s.registry.GetManifestList(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest list %s: %w", ref, err)
	}
	return list.Digests(), nil
}

// intermediateIndexImage points at the index image built by IIB by digest,
// so that later rebuilds of the same tag cannot change what gets signed.
func (s *Service) intermediateIndexImage(build domain.IndexBuild) (string, error) {
	parsed, err := domain.ParseReference(build.IndexImageResolved)
	if err != nil {
		return "", err
	}
	resolved, ok := parsed.(name.Digest)
	if !ok {
		return "", fmt.Errorf("%w: resolved index image %q has no digest", domain.ErrInvalidReference, build.IndexImageResolved)
	}
	namespace, _, _ := strings.Cut(resolved.Context().RepositoryStr(), "/")
	return s.cfg.Host + "/" + namespace + "/iib@" + resolved.DigestStr(), nil
}

func (s *Service) signAndUpload(ctx context.Context, claims []domain.ClaimMessage) error {
	log := zerowrap.FromCtx(ctx)
	log.Info().Int("count", len(claims)).Msg("claim messages will be uploaded")

	signed, err := s.signer.SignClaims(ctx, claims)
	if err != nil {
		return fmt.Errorf("failed to sign claims: %w", err)
	}
	if err := validateSignedClaims(ctx, claims, signed); err != nil {
		return err
	}
	return s.uploadSignatures(ctx, claims, signed)
}

func validateSignedClaims(ctx context.Context, claims []domain.ClaimMessage, signed []domain.SignedClaim) error {
	log := zerowrap.FromCtx(ctx)

	byID := make(map[string]domain.ClaimMessage, len(claims))
	for _, claim := range claims {
		byID[claim.RequestID] = claim
	}

	failed := 0
	for _, reply := range signed {
		if len(reply.Errors) == 0 {
			continue
		}
		claim := byID[reply.RequestID]
		log.Error().
			Str("request_id", reply.RequestID).
			Str("reference", claim.DockerReference).
			Strs("errors", reply.Errors).
			Msg("Signing of claim message failed")
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("%w: Signing of %d/%d messages has failed", domain.ErrSigning, failed, len(claims))
	}
	return nil
}

func (s *Service) uploadSignatures(ctx context.Context, claims []domain.ClaimMessage, signed []domain.SignedClaim) error {
	log := zerowrap.FromCtx(ctx)
	log.Info().Msg("Sending new signatures to Pyxis")

	byID := make(map[string]domain.ClaimMessage, len(claims))
	for _, claim := range claims {
		byID[claim.RequestID] = claim
	}

	sorted := make([]domain.SignedClaim, len(signed))
	copy(sorted, signed)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RequestID < sorted[j].RequestID })

	uploads := make([]domain.SignatureUpload, 0, len(sorted))
	for _, reply := range sorted {
		claim, ok := byID[reply.RequestID]
		if !ok {
			return fmt.Errorf("%w: reply for unknown request %s", domain.ErrSigning, reply.RequestID)
		}
		uploads = append(uploads, domain.SignatureUpload{
			ManifestDigest: reply.ManifestDigest,
			Reference:      claim.DockerReference,
			Repository:     claim.ImageName,
			SigKeyID:       claim.SigKeyID,
			SignatureData:  reply.SignedClaim,
		})
	}

	batches := (len(uploads) + s.cfg.MaxUploadItems - 1) / s.cfg.MaxUploadItems
	for i := 0; i < batches; i++ {
		start := i * s.cfg.MaxUploadItems
		end := min(start+s.cfg.MaxUploadItems, len(uploads))
		log.Info().Msgf("Uploading signature batch #%d/%d", i+1, batches)
		if err := s.store.UploadSignatures(ctx, uploads[start:end]); err != nil {
			return fmt.Errorf("failed to upload signature batch %d/%d: %w", i+1, batches, err)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSignatures("created", len(uploads))
	}
	return nil
}

func lastPathComponents(path string, n int) string {
	parts := strings.Split(path, "/")
	if len(parts) <= n {
		return path
	}
	return strings.Join(parts[len(parts)-n:], "/")
}
