// Package telemetry provides Prometheus metrics for publishing runs. Runs
// are short-lived, so metrics are pushed to a Pushgateway when they end.
package telemetry

import (
	"context"
	"fmt"

	"github.com/bnema/zerowrap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Config holds telemetry configuration.
type Config struct {
	PushgatewayURL string
	Job            string
	// Grouping labels the pushed metrics, such as the task id.
	Grouping map[string]string
}

// Provider owns the registry and the instruments of one process.
type Provider struct {
	Registry *prometheus.Registry
	Metrics  *Metrics
	cfg      Config
}

// NewProvider creates the registry and its instruments. The returned
// shutdown pushes the collected metrics when a Pushgateway is configured.
func NewProvider(cfg Config) (*Provider, func(context.Context), error) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, func(context.Context) {}, fmt.Errorf("register metrics: %w", err)
	}

	p := &Provider{Registry: reg, Metrics: metrics, cfg: cfg}
	shutdown := func(ctx context.Context) {
		if err := p.Push(ctx); err != nil {
			log := zerowrap.FromCtx(ctx)
			log.Warn().Err(err).Str("pushgateway", cfg.PushgatewayURL).Msg("failed to push metrics")
		}
	}
	return p, shutdown, nil
}

// Push sends the current metrics to the Pushgateway. It does nothing
// when none is configured.
func (p *Provider) Push(ctx context.Context) error {
	if p.cfg.PushgatewayURL == "" {
		return nil
	}
	job := p.cfg.Job
	if job == "" {
		job = "quaypush"
	}

	pusher := push.New(p.cfg.PushgatewayURL, job).Gatherer(p.Registry)
	for name, value := range p.cfg.Grouping {
		if value != "" {
			pusher = pusher.Grouping(name, value)
		}
	}
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
