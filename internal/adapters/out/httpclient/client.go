// Package httpclient provides the retrying JSON client shared by the REST
// service adapters.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bnema/quaypush/internal/domain"
)

// Defaults applied when no option overrides them.
const (
	DefaultTimeout  = 60 * time.Second
	DefaultRetryMax = 3
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// Client sends JSON requests to one remote service.
type Client struct {
	service      string
	token        string
	timeout      time.Duration
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	certFile     string
	keyFile      string
	caFile       string
	transport    http.RoundTripper
	http         *retryablehttp.Client
}

// Option configures the Client.
type Option func(*Client)

// WithBearerToken authenticates every request with token.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the timeout of a single attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetryMax sets how many times a failed request is retried.
func WithRetryMax(retryMax int) Option {
	return func(c *Client) {
		if retryMax >= 0 {
			c.retryMax = retryMax
		}
	}
}

// WithRetryWait sets the bounds of the wait between retries.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.retryWaitMin = minWait
		c.retryWaitMax = maxWait
	}
}

// WithClientCertificate enables mutual TLS. keyFile may be empty when
// certFile holds both the certificate and the key.
func WithClientCertificate(certFile, keyFile, caFile string) Option {
	return func(c *Client) {
		c.certFile = certFile
		c.keyFile = keyFile
		c.caFile = caFile
	}
}

// WithTransport sets the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// New creates a client for the named service.
func New(service string, opts ...Option) (*Client, error) {
	c := &Client{
		service:      service,
		timeout:      DefaultTimeout,
		retryMax:     DefaultRetryMax,
		retryWaitMin: time.Second,
		retryWaitMax: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := c.transport
	if transport == nil {
		tlsConfig, err := TLSConfig(c.certFile, c.keyFile, c.caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS for %s: %w", service, err)
		}
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSClientConfig = tlsConfig
		transport = base
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: c.timeout, Transport: transport}
	rc.RetryMax = c.retryMax
	rc.RetryWaitMin = c.retryWaitMin
	rc.RetryWaitMax = c.retryWaitMax
	rc.Logger = nil
	// Keep the last response so its status and body reach the caller.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log := zerowrap.FromCtx(req.Context())
			log.Warn().
				Str("service", service).
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("attempt", attempt).
				Msg("retrying request")
		}
	}
	c.http = rc
	return c, nil
}

// TLSConfig builds a client TLS configuration. It returns nil when no file is given.
func TLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	if certFile == "" && caFile == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if certFile != "" {
		if keyFile == "" {
			keyFile = certFile
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificate found in %s", caFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Do sends body encoded as JSON and decodes a successful response into out.
// body and out may be nil.
func (c *Client) Do(ctx context.Context, method, url string, body, out any) error {
	data, err := c.DoRaw(ctx, method, url, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response from %s: %w", c.service, url, err)
	}
	return nil
}

// DoRaw sends the request and returns the response body of a 2xx answer.
// Any other status is returned as *domain.RemoteServiceError.
func (c *Client) DoRaw(ctx context.Context, method, url string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", c.service, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log := zerowrap.FromCtx(ctx)
	log.Debug().Str("service", c.service).Str("method", method).Str("url", url).Msg("sending request")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %s %s failed: %w", c.service, method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.RemoteServiceError{
			Service:    c.service,
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(errBody)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.service, err)
	}
	return data, nil
}
