package pyxis

import (
	"context"
	"net/http"
	"net/url"

	"github.com/bnema/quaypush/internal/domain"
)

type indicesPage struct {
	Data []domain.OCPVersion `json:"data"`
}

// GetOCPVersions returns the OpenShift versions whose index matches versionsRange.
func (c *Client) GetOCPVersions(ctx context.Context, versionsRange string) ([]domain.OCPVersion, error) {
	query := url.Values{
		"ocp_versions_range": {versionsRange},
		"organization":       {c.organization},
	}
	var resp indicesPage
	if err := c.http.Do(ctx, http.MethodGet, c.endpoint("/operators/indices", query), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
