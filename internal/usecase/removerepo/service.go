// Package removerepo implements the removal of a published repository.
package removerepo

import (
	"context"

	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/domain"
)

// SignatureReconciler removes the signatures bound to a repository.
type SignatureReconciler interface {
	ReconcileRepository(ctx context.Context, externalRepo, internalRepo string) error
}

// PublisherFactory connects a publisher to the given brokers.
type PublisherFactory func(settings domain.BusSettings) (out.MessagePublisher, error)

// Service removes repositories.
type Service struct {
	admin        out.RepositoryAdmin
	signatures   SignatureReconciler
	newPublisher PublisherFactory
}

// NewService creates a new repository removal service.
func NewService(admin out.RepositoryAdmin, signatures SignatureReconciler, newPublisher PublisherFactory) *Service {
	return &Service{
		admin:        admin,
		signatures:   signatures,
		newPublisher: newPublisher,
	}
}

// RemoveRepository deletes the signatures of the repository, then the
// repository itself, and optionally announces the removal. A failed
// announcement is returned but the repository stays removed.
func (s *Service) RemoveRepository(ctx context.Context, req domain.RemoveRepositoryRequest) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "RemoveRepository",
		"repository":         req.Repository,
	})
	log := zerowrap.FromCtx(ctx)

	if err := req.Validate(); err != nil {
		return err
	}
	log.Info().Msg("Removing repository")

	internalRepo := req.Namespace + "/" + domain.InternalRepoName(req.Repository)
	if err := s.signatures.ReconcileRepository(ctx, req.Repository, internalRepo); err != nil {
		return log.WrapErr(err, "failed to remove signatures")
	}
	if err := s.admin.DeleteRepository(ctx, internalRepo); err != nil {
		return log.WrapErr(err, "failed to delete repository "+internalRepo)
	}
	log.Info().Msg("Repository has been removed")

	if !req.Notify {
		return nil
	}

	topic := req.Topic
	if topic == "" {
		topic = domain.RemoveRepoTopic
	}
	log.Info().Str("topic", topic).Msg("Sending a UMB message")

	publisher, err := s.newPublisher(req.Bus)
	if err != nil {
		return log.WrapErr(err, "failed to connect to the message bus")
	}
	if err := publisher.Publish(ctx, topic, map[string]any{"removed_repository": req.Repository}); err != nil {
		return log.WrapErr(err, "failed to announce removal of "+req.Repository)
	}
	return nil
}
