// Package quayapi implements the Quay REST API client for repository
// administration.
package quayapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/adapters/out/httpclient"
	"github.com/bnema/quaypush/internal/domain"
)

// Client implements out.RepositoryAdmin against the Quay REST API.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// NewClient creates a client for host, authenticating with an OAuth token.
// host may carry a scheme; https is assumed otherwise.
func NewClient(host, token string, opts ...httpclient.Option) (*Client, error) {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	hc, err := httpclient.New("quay", append([]httpclient.Option{httpclient.WithBearerToken(token)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(host, "/") + "/api/v1",
		http:    hc,
	}, nil
}

// GetRepositoryData returns the repository with all its tags.
func (c *Client) GetRepositoryData(ctx context.Context, repo string) (domain.RepositoryData, error) {
	var data domain.RepositoryData
	endpoint := c.repositoryURL(repo) + "?includeTags=true"
	if err := c.http.Do(ctx, http.MethodGet, endpoint, nil, &data); err != nil {
		return domain.RepositoryData{}, err
	}
	if data.Tags == nil {
		data.Tags = map[string]domain.TagData{}
	}
	return data, nil
}

// DeleteTag removes one tag of repo.
func (c *Client) DeleteTag(ctx context.Context, repo, tag string) error {
	log := zerowrap.FromCtx(ctx)
	log.Info().Str("repository", repo).Str("tag", tag).Msg("Deleting tag")
	endpoint := fmt.Sprintf("%s/tag/%s", c.repositoryURL(repo), url.PathEscape(tag))
	return c.http.Do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// DeleteRepository removes repo with all its tags.
func (c *Client) DeleteRepository(ctx context.Context, repo string) error {
	log := zerowrap.FromCtx(ctx)
	log.Info().Str("repository", repo).Msg("Deleting repository")
	return c.http.Do(ctx, http.MethodDelete, c.repositoryURL(repo), nil, nil)
}

// repositoryURL keeps the organization separator as a path segment.
func (c *Client) repositoryURL(repo string) string {
	parts := strings.Split(repo, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.baseURL + "/repository/" + strings.Join(parts, "/")
}
