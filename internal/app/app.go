package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/boundaries/in"
	"github.com/bnema/quaypush/internal/domain"
)

// RemoveRepoOptions holds the command line settings of a repository removal.
// Empty values fall back to the configuration file.
type RemoveRepoOptions struct {
	Repository string
	Namespace  string
	Notify     bool
	URLs       []string
	CertFile   string
	KeyFile    string
	CAFile     string
	Topic      string
}

// Push publishes the push items stored in itemsPath.
func Push(ctx context.Context, configPath, itemsPath string) error {
	k, err := NewKernel(configPath)
	if err != nil {
		return err
	}
	defer k.Close(ctx)
	ctx = k.Context(ctx)
	log := zerowrap.FromCtx(ctx)

	items, err := domain.LoadPushItems(itemsPath)
	if err != nil {
		return err
	}
	publisher, err := k.Publisher()
	if err != nil {
		return err
	}

	start := time.Now()
	repos, err := publisher.Run(ctx, items)
	if err != nil {
		return err
	}
	log.Info().
		Strs("repositories", repos).
		Dur("duration", time.Since(start)).
		Msg("Push completed")
	return nil
}

// RemoveRepo removes a repository, its signatures and optionally announces it.
func RemoveRepo(ctx context.Context, configPath string, opts RemoveRepoOptions) error {
	k, err := NewKernel(configPath)
	if err != nil {
		return err
	}
	defer k.Close(ctx)
	ctx = k.Context(ctx)

	remover, err := k.RepositoryRemover()
	if err != nil {
		return err
	}

	start := time.Now()
	err = remover.RemoveRepository(ctx, removalRequest(k.Config().Quay.Namespace, k.busSettings(), k.Config().UMB.Topic, opts))
	k.telemetry.Metrics.RecordRun("remove-repo", err == nil, time.Since(start))
	return err
}

func removalRequest(namespace string, bus domain.BusSettings, topic string, opts RemoveRepoOptions) domain.RemoveRepositoryRequest {
	req := domain.RemoveRepositoryRequest{
		Repository: opts.Repository,
		Namespace:  namespace,
		Notify:     opts.Notify,
		Bus:        bus,
		Topic:      topic,
	}
	if opts.Namespace != "" {
		req.Namespace = opts.Namespace
	}
	if len(opts.URLs) > 0 {
		req.Bus.URLs = opts.URLs
	}
	if opts.CertFile != "" {
		req.Bus.CertFile = opts.CertFile
	}
	if opts.KeyFile != "" {
		req.Bus.KeyFile = opts.KeyFile
	}
	if opts.CAFile != "" {
		req.Bus.CAFile = opts.CAFile
	}
	if opts.Topic != "" {
		req.Topic = opts.Topic
	}
	return req
}

// MergeManifestList merges the architectures dest is missing from src and
// uploads the result to dest.
func MergeManifestList(ctx context.Context, configPath, src, dest string) error {
	k, err := NewKernel(configPath)
	if err != nil {
		return err
	}
	defer k.Close(ctx)
	ctx = k.Context(ctx)

	start := time.Now()
	err = k.ManifestMerger().MergeManifestLists(ctx, src, dest)
	k.telemetry.Metrics.RecordRun("merge-manifest-list", err == nil, time.Since(start))
	return err
}

// TagMerge publishes the eligible architectures of src to dest, keeping the
// other architectures already at dest.
func TagMerge(ctx context.Context, configPath, src, dest string, archs []string) error {
	if len(archs) == 0 {
		return fmt.Errorf("%w: at least one architecture must be given", domain.ErrInvalidConfiguration)
	}
	k, err := NewKernel(configPath)
	if err != nil {
		return err
	}
	defer k.Close(ctx)
	ctx = k.Context(ctx)

	start := time.Now()
	err = k.ManifestMerger().MergeTag(ctx, src, dest, archs)
	k.telemetry.Metrics.RecordRun("tag-merge", err == nil, time.Since(start))
	return err
}

// IndexTaskOptions holds the command line settings of an index image task.
type IndexTaskOptions struct {
	IndexImage      string
	Bundles         []string
	Operators       []string
	Archs           []string
	DeprecationList []string
	SigningKeys     []string
	Tag             string
}

// IIBAddBundles adds bundles to an index image, then signs and publishes
// the new index. Without --index-image the configured index is used.
func IIBAddBundles(ctx context.Context, configPath string, opts IndexTaskOptions) error {
	return runIndexTask(ctx, configPath, "iib-add-bundles", func(ctx context.Context, k *Kernel, tasks in.IndexTasks) (string, error) {
		return tasks.AddBundles(ctx, domain.AddBundlesRequest{
			IndexImage:      indexImageOrDefault(opts.IndexImage, k.Config().IIB.IndexImage),
			Bundles:         opts.Bundles,
			Archs:           opts.Archs,
			DeprecationList: opts.DeprecationList,
		}, opts.SigningKeys)
	})
}

// IIBRemoveOperators removes operators from an index image, then signs and
// publishes the new index.
func IIBRemoveOperators(ctx context.Context, configPath string, opts IndexTaskOptions) error {
	return runIndexTask(ctx, configPath, "iib-remove-operators", func(ctx context.Context, k *Kernel, tasks in.IndexTasks) (string, error) {
		return tasks.RemoveOperators(ctx, domain.RemoveOperatorsRequest{
			IndexImage: indexImageOrDefault(opts.IndexImage, k.Config().IIB.IndexImage),
			Operators:  opts.Operators,
			Archs:      opts.Archs,
		}, opts.SigningKeys)
	})
}

// IIBBuildFromScratch builds an index image holding only the given bundles
// and publishes it under opts.Tag.
func IIBBuildFromScratch(ctx context.Context, configPath string, opts IndexTaskOptions) error {
	return runIndexTask(ctx, configPath, "iib-build-from-scratch", func(ctx context.Context, _ *Kernel, tasks in.IndexTasks) (string, error) {
		return tasks.BuildFromScratch(ctx, domain.BuildFromScratchRequest{
			Bundles: opts.Bundles,
			Archs:   opts.Archs,
		}, opts.Tag, opts.SigningKeys)
	})
}

func runIndexTask(ctx context.Context, configPath, command string, run func(context.Context, *Kernel, in.IndexTasks) (string, error)) error {
	k, err := NewKernel(configPath)
	if err != nil {
		return err
	}
	defer k.Close(ctx)
	ctx = k.Context(ctx)
	log := zerowrap.FromCtx(ctx)

	tasks, err := k.IndexTasks()
	if err != nil {
		return err
	}

	start := time.Now()
	dest, err := run(ctx, k, tasks)
	k.telemetry.Metrics.RecordRun(command, err == nil, time.Since(start))
	if err != nil {
		return err
	}
	log.Info().Str("destination", dest).Dur("duration", time.Since(start)).Msg("Index image published")
	return nil
}

func indexImageOrDefault(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}
