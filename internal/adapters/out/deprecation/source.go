// Package deprecation fetches per-version operator bundle deprecation lists.
package deprecation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"gopkg.in/yaml.v3"

	"github.com/bnema/quaypush/internal/adapters/out/httpclient"
)

// Source reads deprecation lists stored as YAML files in a git forge,
// one file per OpenShift version.
type Source struct {
	baseURL string
	http    *httpclient.Client
}

// NewSource creates a source rooted at baseURL.
func NewSource(baseURL string, opts ...httpclient.Option) (*Source, error) {
	defaults := []httpclient.Option{
		httpclient.WithRetryMax(6),
		httpclient.WithRetryWait(800*time.Millisecond, 30*time.Second),
	}
	hc, err := httpclient.New("deprecation-list", append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Source{baseURL: strings.TrimRight(baseURL, "/"), http: hc}, nil
}

// URL returns the location of the deprecation list of version.
func (s *Source) URL(version string) string {
	return fmt.Sprintf("%s/%s.yml/raw?ref=master", s.baseURL, strings.ReplaceAll(version, ".", "_"))
}

// GetDeprecationList returns bundle paths keyed by package. An empty file
// yields an empty map.
func (s *Source) GetDeprecationList(ctx context.Context, version string) (map[string][]string, error) {
	url := s.URL(version)
	data, err := s.http.DoRaw(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	packages := map[string][]string{}
	if err := yaml.Unmarshal(data, &packages); err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Error().Err(err).Str("url", url).Msg("Deprecation list is invalid")
		return nil, fmt.Errorf("data in %s is invalid: %w", url, err)
	}
	return packages, nil
}
