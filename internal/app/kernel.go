// Package app wires configuration, logging, adapters and use cases for
// each command.
package app

import (
	"context"
	"fmt"

	"github.com/bnema/zerowrap"
	"github.com/spf13/viper"

	"github.com/bnema/quaypush/internal/adapters/out/deprecation"
	"github.com/bnema/quaypush/internal/adapters/out/httpclient"
	"github.com/bnema/quaypush/internal/adapters/out/iib"
	"github.com/bnema/quaypush/internal/adapters/out/pyxis"
	"github.com/bnema/quaypush/internal/adapters/out/quayapi"
	"github.com/bnema/quaypush/internal/adapters/out/registry"
	"github.com/bnema/quaypush/internal/adapters/out/telemetry"
	"github.com/bnema/quaypush/internal/adapters/out/umb"
	"github.com/bnema/quaypush/internal/boundaries/in"
	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/config"
	"github.com/bnema/quaypush/internal/domain"
	"github.com/bnema/quaypush/internal/logging"
	"github.com/bnema/quaypush/internal/usecase/containers"
	"github.com/bnema/quaypush/internal/usecase/indextasks"
	"github.com/bnema/quaypush/internal/usecase/merger"
	"github.com/bnema/quaypush/internal/usecase/operators"
	"github.com/bnema/quaypush/internal/usecase/publish"
	"github.com/bnema/quaypush/internal/usecase/removerepo"
	"github.com/bnema/quaypush/internal/usecase/signatures"
	"github.com/bnema/quaypush/internal/usecase/signing"
)

// Kernel holds the configuration and shared resources of one command run.
// Services are built on demand so each command only requires its own settings.
type Kernel struct {
	cfg       config.Config
	log       zerowrap.Logger
	telemetry *telemetry.Provider
	cleanup   func()
	shutdown  func(context.Context)
}

// NewKernel loads the configuration and initializes logging and metrics.
func NewKernel(configPath string) (*Kernel, error) {
	cfg, err := config.Load(viper.New(), configPath)
	if err != nil {
		return nil, err
	}
	return newKernel(cfg)
}

func newKernel(cfg config.Config) (*Kernel, error) {
	log, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, err
	}

	provider, shutdown, err := telemetry.NewProvider(telemetry.Config{
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		Job:            cfg.Metrics.Job,
		Grouping:       map[string]string{"task_id": cfg.TaskID},
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	return &Kernel{
		cfg:       cfg,
		log:       log,
		telemetry: provider,
		cleanup:   cleanup,
		shutdown:  shutdown,
	}, nil
}

// Context returns ctx carrying the kernel logger.
func (k *Kernel) Context(ctx context.Context) context.Context {
	return zerowrap.WithCtx(ctx, k.log)
}

// Config returns the loaded configuration.
func (k *Kernel) Config() config.Config {
	return k.cfg
}

// Close pushes the collected metrics and releases the log file.
func (k *Kernel) Close(ctx context.Context) {
	k.shutdown(k.Context(ctx))
	k.cleanup()
}

func (k *Kernel) quayHTTPOptions() []httpclient.Option {
	return []httpclient.Option{
		httpclient.WithRetryMax(k.cfg.Quay.RetryMax),
		httpclient.WithTimeout(k.cfg.Quay.Timeout),
	}
}

func (k *Kernel) repositoryAdmin() (*quayapi.Client, error) {
	return quayapi.NewClient(k.cfg.Quay.Host, k.cfg.Quay.APIToken, k.quayHTTPOptions()...)
}

func (k *Kernel) manifestRegistry() *registry.Client {
	return registry.NewClient(
		registry.WithBasicAuth(k.cfg.Quay.User, k.cfg.Quay.Password),
		registry.WithInsecure(k.cfg.Quay.Insecure),
	)
}

func (k *Kernel) pyxisClient() (*pyxis.Client, error) {
	p := k.cfg.Pyxis
	return pyxis.NewClient(p.Server,
		pyxis.WithCatalogRegistry(p.CatalogRegistry),
		pyxis.WithOrganization(p.Organization),
		pyxis.WithUploadWorkers(p.UploadWorkers),
		pyxis.WithHTTPOptions(
			httpclient.WithClientCertificate(p.CertFile, p.KeyFile, p.CAFile),
			httpclient.WithTimeout(p.Timeout),
		),
	)
}

func (k *Kernel) busSettings() domain.BusSettings {
	return domain.BusSettings{
		URLs:     k.cfg.UMB.URLs,
		CertFile: k.cfg.UMB.CertFile,
		KeyFile:  k.cfg.UMB.KeyFile,
		CAFile:   k.cfg.UMB.CAFile,
	}
}

func (k *Kernel) signatureReconciler(admin out.RepositoryAdmin, reg out.ManifestRegistry, store out.SignatureStore) *signatures.Service {
	return signatures.NewService(admin, reg, store, k.telemetry.Metrics, signatures.Config{
		Host:      k.cfg.Quay.Host,
		BatchSize: k.cfg.Signing.QueryBatchSize,
		QueryRPS:  k.cfg.Signing.QueryRPS,
	})
}

func (k *Kernel) claimSigner() (*umb.ClaimSigner, error) {
	signer, err := umb.NewClaimSigner(k.busSettings(), umb.SignerConfig{
		Topic:        k.cfg.Signing.SignTopic,
		ReplyAddress: k.cfg.Signing.ReplyAddress,
		Timeout:      k.cfg.Signing.Timeout,
		Throttle:     k.cfg.Signing.Throttle,
		Retry:        k.cfg.Signing.Retry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure claim signer: %w", err)
	}
	return signer, nil
}

func (k *Kernel) indexBuilder() (*iib.Client, error) {
	return iib.NewClient(k.cfg.IIB.Server, k.cfg.IIB.Token,
		iib.WithPolling(k.cfg.IIB.PollInterval, k.cfg.IIB.PollTimeout))
}

func (k *Kernel) signingService(admin *quayapi.Client, reg *registry.Client, pyx *pyxis.Client, claimSigner out.ClaimSigner) *signing.Service {
	return signing.NewService(admin, reg, pyx, claimSigner, k.signatureReconciler(admin, reg, pyx), signing.Config{
		Enabled:             k.cfg.Signing.Enabled,
		Host:                k.cfg.Quay.Host,
		Namespace:           k.cfg.Quay.Namespace,
		ReferenceRegistries: k.cfg.Docker.ReferenceRegistries,
		OperatorRepository:  k.cfg.IIB.OperatorRepository,
		TaskID:              k.cfg.TaskID,
		Creator:             k.cfg.Signing.Creator,
		MaxUploadItems:      k.cfg.Signing.MaxUploadItems,
	}, signing.WithMetrics(k.telemetry.Metrics))
}

// Publisher builds the publish orchestrator and everything it drives.
func (k *Kernel) Publisher() (in.Publisher, error) {
	if err := k.cfg.ValidatePush(); err != nil {
		return nil, err
	}

	admin, err := k.repositoryAdmin()
	if err != nil {
		return nil, err
	}
	reg := k.manifestRegistry()
	pyx, err := k.pyxisClient()
	if err != nil {
		return nil, err
	}

	var claimSigner out.ClaimSigner
	if k.cfg.Signing.Enabled {
		claimSigner, err = k.claimSigner()
		if err != nil {
			return nil, err
		}
	}

	builder, err := k.indexBuilder()
	if err != nil {
		return nil, err
	}
	deprecations, err := deprecation.NewSource(k.cfg.IIB.DeprecationListURL)
	if err != nil {
		return nil, err
	}

	signer := k.signingService(admin, reg, pyx, claimSigner)

	indexes := operators.NewService(pyx, deprecations, builder, reg, operators.Config{
		Host:                k.cfg.Quay.Host,
		Namespace:           k.cfg.Quay.Namespace,
		ReferenceRegistries: k.cfg.Docker.ReferenceRegistries,
		IndexImage:          k.cfg.IIB.IndexImage,
		OperatorRepository:  k.cfg.IIB.OperatorRepository,
		Overwrite:           k.cfg.IIB.OverwriteFromIndex,
		OverwriteToken:      k.cfg.IIB.OverwriteFromIndexToken,
	})

	pusher := containers.NewService(reg, containers.Config{
		Host:      k.cfg.Quay.Host,
		Namespace: k.cfg.Quay.Namespace,
	})

	return publish.NewService(admin, reg, pyx, pusher, signer, indexes, publish.Config{
		Host:           k.cfg.Quay.Host,
		Namespace:      k.cfg.Quay.Namespace,
		StageNamespace: k.cfg.Stage.Namespace,
	},
		publish.WithMetrics(k.telemetry.Metrics),
		publish.WithOperatorPreflight(k.cfg.ValidateOperators),
	), nil
}

// RepositoryRemover builds the repository teardown service.
func (k *Kernel) RepositoryRemover() (in.RepositoryRemover, error) {
	if err := k.cfg.ValidateQuay(); err != nil {
		return nil, err
	}
	if k.cfg.Pyxis.Server == "" {
		return nil, fmt.Errorf("%w: pyxis.server must be set", domain.ErrInvalidConfiguration)
	}

	admin, err := k.repositoryAdmin()
	if err != nil {
		return nil, err
	}
	pyx, err := k.pyxisClient()
	if err != nil {
		return nil, err
	}

	newPublisher := func(settings domain.BusSettings) (out.MessagePublisher, error) {
		return umb.NewPublisher(settings)
	}
	return removerepo.NewService(admin, k.signatureReconciler(admin, k.manifestRegistry(), pyx), newPublisher), nil
}

// IndexTasks builds the standalone index image task runner. Index images
// are always signed, so the message bus must be configured.
func (k *Kernel) IndexTasks() (in.IndexTasks, error) {
	if err := k.cfg.ValidateIndexTasks(); err != nil {
		return nil, err
	}

	admin, err := k.repositoryAdmin()
	if err != nil {
		return nil, err
	}
	reg := k.manifestRegistry()
	pyx, err := k.pyxisClient()
	if err != nil {
		return nil, err
	}
	claimSigner, err := k.claimSigner()
	if err != nil {
		return nil, err
	}
	builder, err := k.indexBuilder()
	if err != nil {
		return nil, err
	}

	return indextasks.NewService(builder, k.signingService(admin, reg, pyx, claimSigner), reg, indextasks.Config{
		Host:               k.cfg.Quay.Host,
		Namespace:          k.cfg.Quay.Namespace,
		OperatorRepository: k.cfg.IIB.OperatorRepository,
		Overwrite:          k.cfg.IIB.OverwriteFromIndex,
		OverwriteToken:     k.cfg.IIB.OverwriteFromIndexToken,
	}), nil
}

// ManifestMerger builds the manifest list merger.
func (k *Kernel) ManifestMerger() in.ManifestMerger {
	return merger.NewService(k.manifestRegistry())
}
