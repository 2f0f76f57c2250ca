package pyxis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bnema/zerowrap"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/quaypush/internal/domain"
)

type signaturePage struct {
	Data     []domain.SignatureRecord `json:"data"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
	Total    int                      `json:"total"`
}

// QuerySignatures returns every signature of the given manifest digests,
// following pagination.
func (c *Client) QuerySignatures(ctx context.Context, digests []string) ([]domain.SignatureRecord, error) {
	if len(digests) == 0 {
		return nil, nil
	}
	filter := fmt.Sprintf("manifest_digest=in=(%s)", strings.Join(digests, ","))

	var records []domain.SignatureRecord
	for page := 0; ; page++ {
		query := url.Values{
			"filter":    {filter},
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(c.pageSize)},
		}
		var resp signaturePage
		if err := c.http.Do(ctx, http.MethodGet, c.endpoint("/signatures", query), nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to query signatures: %w", err)
		}
		records = append(records, resp.Data...)
		if len(resp.Data) < c.pageSize || (resp.Total > 0 && len(records) >= resp.Total) {
			return records, nil
		}
	}
}

// DeleteSignatures removes signatures by ID.
func (c *Client) DeleteSignatures(ctx context.Context, ids []string) error {
	log := zerowrap.FromCtx(ctx)
	for _, id := range ids {
		log.Debug().Str("signature_id", id).Msg("deleting signature")
		if err := c.http.Do(ctx, http.MethodDelete, c.endpoint("/signatures/id/"+url.PathEscape(id), nil), nil, nil); err != nil {
			return fmt.Errorf("failed to delete signature %s: %w", id, err)
		}
	}
	return nil
}

// UploadSignatures stores a batch of signatures, several at a time.
func (c *Client) UploadSignatures(ctx context.Context, batch []domain.SignatureUpload) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.uploadWorkers)
	for _, sig := range batch {
		g.Go(func() error {
			if err := c.http.Do(gctx, http.MethodPost, c.endpoint("/signatures", nil), sig, nil); err != nil {
				return fmt.Errorf("failed to upload signature of %s for %s: %w", sig.ManifestDigest, sig.Reference, err)
			}
			return nil
		})
	}
	return g.Wait()
}
