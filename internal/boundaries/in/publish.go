package in

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// Publisher defines the contract for publishing push items to Quay.
type Publisher interface {
	// Run publishes items and returns the external repositories that received
	// content. Any failure rolls the destination tags back before returning.
	Run(ctx context.Context, items []domain.PushItem) ([]string, error)
}
