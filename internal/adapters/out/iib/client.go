// Package iib implements the client of the operator index image build service.
package iib

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/cenkalti/backoff/v4"

	"github.com/bnema/quaypush/internal/adapters/out/httpclient"
	"github.com/bnema/quaypush/internal/domain"
)

// Build states reported by the service.
const (
	StateComplete   = "complete"
	StateFailed     = "failed"
	StateInProgress = "in_progress"
)

var errBuildPending = errors.New("build still in progress")

// Client submits index image builds and waits for them.
type Client struct {
	baseURL      string
	http         *httpclient.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	httpOpts     []httpclient.Option
}

// Option configures the Client.
type Option func(*Client)

// WithPolling sets how often and for how long a build is polled.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.pollTimeout = timeout
		}
	}
}

// WithHTTPOptions passes options to the underlying HTTP client.
func WithHTTPOptions(opts ...httpclient.Option) Option {
	return func(c *Client) {
		c.httpOpts = append(c.httpOpts, opts...)
	}
}

// NewClient creates a client for the service at server.
func NewClient(server, token string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:      strings.TrimRight(server, "/") + "/api/v1",
		pollInterval: 30 * time.Second,
		pollTimeout:  2 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}

	hc, err := httpclient.New("iib", append([]httpclient.Option{httpclient.WithBearerToken(token)}, c.httpOpts...)...)
	if err != nil {
		return nil, err
	}
	c.http = hc
	return c, nil
}

type addRequest struct {
	Bundles                 []string `json:"bundles"`
	FromIndex               string   `json:"from_index,omitempty"`
	AddArches               []string `json:"add_arches,omitempty"`
	DeprecationList         []string `json:"deprecation_list,omitempty"`
	OverwriteFromIndex      bool     `json:"overwrite_from_index,omitempty"`
	OverwriteFromIndexToken string   `json:"overwrite_from_index_token,omitempty"`
}

type removeRequest struct {
	Operators               []string `json:"operators"`
	FromIndex               string   `json:"from_index"`
	AddArches               []string `json:"add_arches,omitempty"`
	OverwriteFromIndex      bool     `json:"overwrite_from_index,omitempty"`
	OverwriteFromIndexToken string   `json:"overwrite_from_index_token,omitempty"`
}

// AddBundles requests a new index image with the bundles added and waits
// until the build completes. A failed build is returned as an error.
func (c *Client) AddBundles(ctx context.Context, req domain.AddBundlesRequest) (domain.IndexBuild, error) {
	return c.submit(ctx, "/builds/add", req.IndexImage, addRequest{
		Bundles:                 req.Bundles,
		FromIndex:               req.IndexImage,
		AddArches:               req.Archs,
		DeprecationList:         req.DeprecationList,
		OverwriteFromIndex:      req.Overwrite,
		OverwriteFromIndexToken: req.OverwriteToken,
	})
}

// RemoveOperators requests a new index image without the operators and
// waits until the build completes.
func (c *Client) RemoveOperators(ctx context.Context, req domain.RemoveOperatorsRequest) (domain.IndexBuild, error) {
	return c.submit(ctx, "/builds/rm", req.IndexImage, removeRequest{
		Operators:               req.Operators,
		FromIndex:               req.IndexImage,
		AddArches:               req.Archs,
		OverwriteFromIndex:      req.Overwrite,
		OverwriteFromIndexToken: req.OverwriteToken,
	})
}

// BuildFromScratch requests an index image that holds only the bundles.
// No source index is sent, so there is nothing to overwrite.
func (c *Client) BuildFromScratch(ctx context.Context, req domain.BuildFromScratchRequest) (domain.IndexBuild, error) {
	return c.submit(ctx, "/builds/add", "", addRequest{
		Bundles:   req.Bundles,
		AddArches: req.Archs,
	})
}

func (c *Client) submit(ctx context.Context, path, fromIndex string, body any) (domain.IndexBuild, error) {
	log := zerowrap.FromCtx(ctx)

	var build domain.IndexBuild
	if err := c.http.Do(ctx, http.MethodPost, c.baseURL+path, body, &build); err != nil {
		return domain.IndexBuild{}, fmt.Errorf("failed to request index build: %w", err)
	}
	log.Info().Int("build_id", build.ID).Str("index_image", fromIndex).Msg("Index image build submitted")

	return c.waitForBuild(ctx, build)
}

func (c *Client) waitForBuild(ctx context.Context, build domain.IndexBuild) (domain.IndexBuild, error) {
	log := zerowrap.FromCtx(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	current := build
	poll := func() error {
		if current.State != StateComplete && current.State != StateFailed {
			if err := c.http.Do(ctx, http.MethodGet, c.baseURL+"/builds/"+strconv.Itoa(current.ID), nil, &current); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to get index build %d: %w", current.ID, err))
			}
		}
		switch current.State {
		case StateComplete:
			return nil
		case StateFailed:
			return backoff.Permanent(fmt.Errorf("index build %d failed: %s", current.ID, current.StateReason))
		}
		return errBuildPending
	}
	notify := func(_ error, next time.Duration) {
		log.Debug().Int("build_id", current.ID).Str("state", current.State).Dur("next_poll", next).Msg("waiting for index build")
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), ctx)
	if err := backoff.RetryNotify(poll, b, notify); err != nil {
		if errors.Is(err, errBuildPending) || errors.Is(err, context.DeadlineExceeded) {
			return current, fmt.Errorf("index build %d did not finish in %s: %w", current.ID, c.pollTimeout, err)
		}
		return current, err
	}
	log.Info().Int("build_id", current.ID).Str("index_image", current.IndexImageResolved).Msg("Index image build complete")
	return current, nil
}
