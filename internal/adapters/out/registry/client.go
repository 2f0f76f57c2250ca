// Package registry implements the Docker registry API client used to read,
// write and copy manifests.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bnema/zerowrap"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/bnema/quaypush/internal/domain"
)

// Client talks to the registry API of Quay or any other registry.
type Client struct {
	auth      authn.Authenticator
	transport http.RoundTripper
	insecure  bool
}

// Option configures the Client.
type Option func(*Client)

// WithBasicAuth authenticates with a user and password.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		if user != "" {
			c.auth = &authn.Basic{Username: user, Password: password}
		}
	}
}

// WithTransport sets the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithInsecure allows plain HTTP registries.
func WithInsecure(insecure bool) Option {
	return func(c *Client) {
		c.insecure = insecure
	}
}

// NewClient creates a new registry client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		auth:      authn.Anonymous,
		transport: remote.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetManifest returns the raw manifest at ref. Manifest lists are preferred
// over platform manifests.
func (c *Client) GetManifest(ctx context.Context, ref string) (domain.Manifest, error) {
	parsed, err := c.parse(ref)
	if err != nil {
		return domain.Manifest{}, err
	}

	log := zerowrap.FromCtx(ctx)
	log.Debug().Str("reference", ref).Msg("fetching manifest")
	desc, err := remote.Get(parsed, c.remoteOptions(ctx)...)
	if err != nil {
		return domain.Manifest{}, mapError(http.MethodGet, ref, err)
	}
	return domain.Manifest{MediaType: string(desc.MediaType), Data: desc.Manifest}, nil
}

// GetManifestList returns the manifest list at ref.
func (c *Client) GetManifestList(ctx context.Context, ref string) (domain.ManifestList, error) {
	manifest, err := c.GetManifest(ctx, ref)
	if err != nil {
		return domain.ManifestList{}, err
	}
	list, err := domain.ParseManifestList(manifest)
	if err != nil {
		return domain.ManifestList{}, fmt.Errorf("%s: %w", ref, err)
	}
	return list, nil
}

// UploadManifest stores the manifest bytes unchanged at ref.
func (c *Client) UploadManifest(ctx context.Context, manifest domain.Manifest, ref string) error {
	parsed, err := c.parse(ref)
	if err != nil {
		return err
	}

	log := zerowrap.FromCtx(ctx)
	log.Debug().
		Str("reference", ref).
		Str("media_type", manifest.MediaType).
		Msg("uploading manifest")
	if err := remote.Put(parsed, rawManifest{m: manifest}, c.remoteOptions(ctx)...); err != nil {
		return mapError(http.MethodPut, ref, err)
	}
	return nil
}

// CopyImage copies src to dest. For manifest lists every platform image
// is copied as well.
func (c *Client) CopyImage(ctx context.Context, src, dest string) error {
	log := zerowrap.FromCtx(ctx)
	log.Debug().Str("source", src).Str("destination", dest).Msg("copying image")

	opts := []crane.Option{
		crane.WithContext(ctx),
		crane.WithAuth(c.auth),
		crane.WithTransport(c.transport),
	}
	if c.insecure {
		opts = append(opts, crane.Insecure)
	}
	if err := crane.Copy(src, dest, opts...); err != nil {
		return mapError("COPY", src, err)
	}
	return nil
}

func (c *Client) parse(ref string) (name.Reference, error) {
	var opts []name.Option
	if c.insecure {
		opts = append(opts, name.Insecure)
	}
	parsed, err := name.ParseReference(ref, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidReference, ref, err)
	}
	return parsed, nil
}

func (c *Client) remoteOptions(ctx context.Context) []remote.Option {
	return []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuth(c.auth),
		remote.WithTransport(c.transport),
	}
}

// rawManifest lets remote.Put store bytes without re-serializing them.
type rawManifest struct {
	m domain.Manifest
}

var _ remote.Taggable = rawManifest{}

func (r rawManifest) RawManifest() ([]byte, error) {
	return r.m.Data, nil
}

func (r rawManifest) MediaType() (types.MediaType, error) {
	return types.MediaType(r.m.MediaType), nil
}

// mapError turns registry status errors into domain errors.
func mapError(method, ref string, err error) error {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return fmt.Errorf("registry %s %s: %w", method, ref, err)
	}
	return &domain.RemoteServiceError{
		Service:    "registry",
		Method:     method,
		URL:        ref,
		StatusCode: terr.StatusCode,
		Body:       terr.Error(),
	}
}
