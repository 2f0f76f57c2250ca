package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bnema/zerowrap"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/quaypush/internal/domain"
)

// GenerateBackupMapping captures the current state of every destination tag
// of items. Existing tags are recorded with their manifest so they can be
// restored; tags that don't exist yet are returned in the rollback set.
// Any error other than a missing repository aborts the snapshot.
func (s *Service) GenerateBackupMapping(ctx context.Context, items []domain.PushItem) (domain.BackupMapping, domain.RollbackSet, error) {
	log := zerowrap.FromCtx(ctx)

	tagsByRepo := make(map[string]map[string]struct{})
	for _, item := range items {
		for repo, tags := range item.Metadata.Tags {
			internal := s.internalRepo(repo)
			if tagsByRepo[internal] == nil {
				tagsByRepo[internal] = make(map[string]struct{})
			}
			for _, tag := range tags {
				tagsByRepo[internal][tag] = struct{}{}
			}
		}
	}
	repos := make([]string, 0, len(tagsByRepo))
	for repo := range tagsByRepo {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	var (
		mu       sync.Mutex
		backup   = make(domain.BackupMapping)
		rollback domain.RollbackSet
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.concurrency())
	for _, repo := range repos {
		g.Go(func() error {
			data, err := s.admin.GetRepositoryData(gctx, repo)
			if err != nil && !domain.IsNotFound(err) {
				return err
			}

			for _, tag := range sortedSet(tagsByRepo[repo]) {
				locator := domain.ImageLocator{Repository: repo, Tag: tag}
				tagData, exists := data.Tags[tag]
				if err != nil || !exists {
					mu.Lock()
					rollback = append(rollback, locator)
					mu.Unlock()
					continue
				}

				ref := s.cfg.Host + "/" + repo + "@" + tagData.ManifestDigest
				manifest, err := s.registry.GetManifest(gctx, ref)
				if err != nil {
					return fmt.Errorf("failed to back up %s: %w", locator, err)
				}
				mu.Lock()
				backup[locator] = manifest
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	domain.SortLocators(rollback)
	log.Info().
		Int("backed_up", len(backup)).
		Int("new_tags", len(rollback)).
		Msg("backup mapping generated")
	return backup, rollback, nil
}

// Rollback restores every backed up tag, then deletes the tags created by the
// run. Every restore is attempted even when some fail; the failures are
// returned joined.
func (s *Service) Rollback(ctx context.Context, backup domain.BackupMapping, rollback domain.RollbackSet) error {
	log := zerowrap.FromCtx(ctx)
	log.Warn().Msg("Performing rollback")

	var errs []error
	for _, locator := range backup.Locators() {
		ref := locator.Reference(s.cfg.Host)
		if err := s.registry.UploadManifest(ctx, backup[locator], ref); err != nil {
			log.Error().Err(err).Str("image", ref).Msg("failed to restore tag")
			errs = append(errs, fmt.Errorf("failed to restore %s: %w", ref, err))
		}
	}

	for _, locator := range rollback {
		err := s.admin.DeleteTag(ctx, locator.Repository, locator.Tag)
		if domain.IsNotFound(err) {
			log.Debug().Str("image", locator.String()).Msg("tag was never created")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("image", locator.String()).Msg("failed to delete tag")
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", locator, err))
		}
	}

	return errors.Join(errs...)
}
