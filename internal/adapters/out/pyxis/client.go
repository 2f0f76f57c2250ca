// Package pyxis implements the clients of the container metadata service:
// the signature store, the repository catalog and the operator index lookup.
package pyxis

import (
	"net/url"
	"strings"

	"github.com/bnema/quaypush/internal/adapters/out/httpclient"
)

const defaultPageSize = 100

// Client talks to the Pyxis REST API.
type Client struct {
	baseURL         string
	http            *httpclient.Client
	catalogRegistry string
	organization    string
	uploadWorkers   int
	pageSize        int
	httpOpts        []httpclient.Option
}

// Option configures the Client.
type Option func(*Client)

// WithCatalogRegistry sets the registry repositories are registered under.
func WithCatalogRegistry(registry string) Option {
	return func(c *Client) {
		c.catalogRegistry = registry
	}
}

// WithOrganization sets the organization of the operator indices.
func WithOrganization(org string) Option {
	return func(c *Client) {
		c.organization = org
	}
}

// WithUploadWorkers bounds the number of concurrent signature uploads.
func WithUploadWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.uploadWorkers = n
		}
	}
}

// WithPageSize sets the page size of list queries.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
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
func NewClient(server string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:         strings.TrimRight(server, "/") + "/v1",
		catalogRegistry: "registry.access.redhat.com",
		organization:    "redhat",
		uploadWorkers:   4,
		pageSize:        defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	hc, err := httpclient.New("pyxis", c.httpOpts...)
	if err != nil {
		return nil, err
	}
	c.http = hc
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
