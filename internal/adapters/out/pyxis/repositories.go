package pyxis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bnema/quaypush/internal/domain"
)

// GetRepositoryMetadata returns the catalog record of an external repository.
func (c *Client) GetRepositoryMetadata(ctx context.Context, repo string) (domain.RepositoryMetadata, error) {
	path := fmt.Sprintf("/repositories/registry/%s/repository/%s",
		url.PathEscape(c.catalogRegistry), repo)

	var metadata domain.RepositoryMetadata
	if err := c.http.Do(ctx, http.MethodGet, c.endpoint(path, nil), nil, &metadata); err != nil {
		return domain.RepositoryMetadata{}, err
	}
	return metadata, nil
}
