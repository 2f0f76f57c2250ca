// Package publish implements the publish run: it validates push items,
// snapshots the destination tags, pushes and signs container images and
// operator indices, and restores the snapshot if any stage fails.
package publish

import (
	"context"
	"sort"
	"time"

	"github.com/bnema/zerowrap"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/domain"
)

const defaultConcurrency = 8

// Config holds the publish run settings.
type Config struct {
	Host      string
	Namespace string
	// StageNamespace is set when the run propagates content from stage.
	StageNamespace string
	// Concurrency bounds the parallel read-only lookups. Zero uses a default.
	Concurrency int
}

func (c Config) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return defaultConcurrency
}

// ContainerPusher pushes container push items.
type ContainerPusher interface {
	PushContainers(ctx context.Context, items []domain.PushItem) error
}

// ImageSigner signs pushed container images and index images.
type ImageSigner interface {
	SignContainerImages(ctx context.Context, items []domain.PushItem) error
	SignIndexImages(ctx context.Context, builds []domain.VersionBuild) error
}

// IndexPublisher builds and pushes operator index images.
type IndexPublisher interface {
	BuildIndexImages(ctx context.Context, items []domain.PushItem) ([]domain.VersionBuild, error)
	PushIndexImages(ctx context.Context, builds []domain.VersionBuild) error
}

// Service orchestrates a publish run.
type Service struct {
	admin     out.RepositoryAdmin
	registry  out.ManifestRegistry
	metadata  out.RepositoryMetadataSource
	pusher    ContainerPusher
	signer    ImageSigner
	operators IndexPublisher
	metrics   out.MetricsRecorder
	cfg       Config

	operatorPreflight func() error
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records run and rollback outcomes.
func WithMetrics(metrics out.MetricsRecorder) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithOperatorPreflight runs check before the snapshot when operator items
// are present, typically to validate the index build settings.
func WithOperatorPreflight(check func() error) Option {
	return func(s *Service) { s.operatorPreflight = check }
}

// NewService creates a new publish orchestrator.
func NewService(
	admin out.RepositoryAdmin,
	registry out.ManifestRegistry,
	metadata out.RepositoryMetadataSource,
	pusher ContainerPusher,
	signer ImageSigner,
	operators IndexPublisher,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		admin:     admin,
		registry:  registry,
		metadata:  metadata,
		pusher:    pusher,
		signer:    signer,
		operators: operators,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run publishes items and returns the external repositories it published to.
// Once the snapshot is taken, any failure triggers a single rollback and the
// failure is returned unchanged. Rollback errors are only logged.
func (s *Service) Run(ctx context.Context, items []domain.PushItem) (repos []string, err error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Run",
	})
	log := zerowrap.FromCtx(ctx)

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordRun("push", err == nil, time.Since(start))
		}
	}()

	containers, err := ContainerItems(items)
	if err != nil {
		return nil, err
	}
	operators, err := OperatorItems(items)
	if err != nil {
		return nil, err
	}
	if len(operators) > 0 && s.operatorPreflight != nil {
		if err := s.operatorPreflight(); err != nil {
			return nil, err
		}
	}

	containers = FilterUnrelatedRepos(containers)
	if err := s.CheckRepositoryValidity(ctx, containers); err != nil {
		return nil, err
	}

	backup, rollback, err := s.GenerateBackupMapping(ctx, containers)
	if err != nil {
		return nil, err
	}

	if err := s.publish(ctx, containers, operators); err != nil {
		log.Error().Err(err).Msg("publish failed")
		rollbackErr := s.Rollback(ctx, backup, rollback)
		if rollbackErr != nil {
			log.Error().Err(rollbackErr).Msg("rollback finished with errors")
		}
		if s.metrics != nil {
			s.metrics.RecordRollback(rollbackErr == nil)
		}
		return nil, err
	}

	repos = ExternalRepos(containers)
	log.Info().Strs("repositories", repos).Msg("push finished")
	return repos, nil
}

func (s *Service) publish(ctx context.Context, containers, operators []domain.PushItem) error {
	if err := s.pusher.PushContainers(ctx, containers); err != nil {
		return err
	}
	if err := s.signer.SignContainerImages(ctx, containers); err != nil {
		return err
	}

	if len(operators) == 0 {
		log := zerowrap.FromCtx(ctx)
		log.Info().Msg("no operator push items, skipping index images")
		return nil
	}

	builds, err := s.operators.BuildIndexImages(ctx, operators)
	if err != nil {
		return err
	}
	if err := s.operators.PushIndexImages(ctx, builds); err != nil {
		return err
	}
	return s.signer.SignIndexImages(ctx, builds)
}

// CheckRepositoryValidity verifies that every destination repository of
// items exists in the catalog and is not deprecated. When the run propagates
// from stage, the repository must also exist on stage.
func (s *Service) CheckRepositoryValidity(ctx context.Context, items []domain.PushItem) error {
	log := zerowrap.FromCtx(ctx)
	repos := ExternalRepos(items)

	metadata := make([]domain.RepositoryMetadata, len(repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.concurrency())
	for i, repo := range repos {
		g.Go(func() error {
			md, err := s.metadata.GetRepositoryMetadata(gctx, repo)
			if domain.IsNotFound(err) {
				return &domain.InvalidRepositoryError{Repository: repo, Reason: "doesn't exist in Comet"}
			}
			if err != nil {
				return err
			}
			metadata[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, repo := range repos {
		if metadata[i].IsDeprecated() {
			return &domain.InvalidRepositoryError{Repository: repo, Reason: "is deprecated"}
		}
	}

	if s.cfg.StageNamespace != "" {
		for _, repo := range repos {
			stageRepo := s.cfg.StageNamespace + "/" + domain.InternalRepoName(repo)
			_, err := s.admin.GetRepositoryData(ctx, stageRepo)
			if domain.IsNotFound(err) {
				return &domain.InvalidRepositoryError{Repository: repo, Reason: "doesn't exist on stage"}
			}
			if err != nil {
				return err
			}
		}
	}

	log.Info().Int("repositories", len(repos)).Msg("repositories are valid")
	return nil
}

func (s *Service) internalRepo(external string) string {
	return s.cfg.Namespace + "/" + domain.InternalRepoName(external)
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
