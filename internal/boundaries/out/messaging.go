package out

import (
	"context"

	"github.com/bnema/quaypush/internal/domain"
)

// MessagePublisher defines the contract for fire-and-forget message bus notifications.
type MessagePublisher interface {
	// Publish sends properties as one message to topic.
	Publish(ctx context.Context, topic string, properties map[string]any) error
}

// ClaimSigner defines the contract for the external manifest claim signer.
type ClaimSigner interface {
	// SignClaims sends claims for signing and returns one reply per claim.
	SignClaims(ctx context.Context, claims []domain.ClaimMessage) ([]domain.SignedClaim, error)
}
