package umb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/domain"
)

// SignerConfig configures the claim signer exchange.
type SignerConfig struct {
	// Topic receives the claims.
	Topic string
	// ReplyAddress is where the signer answers.
	ReplyAddress string
	// Timeout bounds the wait for the replies of one round.
	Timeout time.Duration
	// Throttle bounds the number of claims awaiting a reply.
	Throttle int
	// Retry is how many times unanswered claims are sent again.
	Retry int
}

// ClaimSigner sends claims to the signing service and collects the replies.
type ClaimSigner struct {
	dial dialFunc
	cfg  SignerConfig
}

// NewClaimSigner creates a claim signer for the brokers of settings.
func NewClaimSigner(settings domain.BusSettings, cfg SignerConfig) (*ClaimSigner, error) {
	dialer, err := NewDialer(settings)
	if err != nil {
		return nil, err
	}
	return newClaimSigner(dialer.Dial, cfg), nil
}

func newClaimSigner(dial dialFunc, cfg SignerConfig) *ClaimSigner {
	if cfg.Throttle <= 0 {
		cfg.Throttle = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &ClaimSigner{dial: dial, cfg: cfg}
}

// SignClaims returns one reply per claim. Claims left unanswered after
// every retry fail the whole call.
func (s *ClaimSigner) SignClaims(ctx context.Context, claims []domain.ClaimMessage) ([]domain.SignedClaim, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "umb",
		"topic":              s.cfg.Topic,
	})
	log := zerowrap.FromCtx(ctx)

	if len(claims) == 0 {
		return nil, nil
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	snd, err := conn.NewSender(ctx, topicAddress(s.cfg.Topic))
	if err != nil {
		return nil, fmt.Errorf("failed to open sender on %s: %w", s.cfg.Topic, err)
	}
	defer snd.Close(context.WithoutCancel(ctx))

	rcv, err := conn.NewReceiver(ctx, s.cfg.ReplyAddress, int32(s.cfg.Throttle))
	if err != nil {
		return nil, fmt.Errorf("failed to open receiver on %s: %w", s.cfg.ReplyAddress, err)
	}
	defer rcv.Close(context.WithoutCancel(ctx))

	pending := make(map[string]domain.ClaimMessage, len(claims))
	for _, c := range claims {
		pending[c.RequestID] = c
	}
	replies := make(map[string]domain.SignedClaim, len(claims))

	for attempt := 0; attempt <= s.cfg.Retry && len(pending) > 0; attempt++ {
		if attempt > 0 {
			log.Warn().Int("attempt", attempt).Int("unanswered", len(pending)).Msg("resending unanswered claims")
		}
		for _, chunk := range chunkPending(claims, pending, s.cfg.Throttle) {
			if err := s.exchange(ctx, snd, rcv, chunk, pending, replies); err != nil {
				return nil, err
			}
		}
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("%w: no reply received for %d claims", domain.ErrSigning, len(pending))
	}

	out := make([]domain.SignedClaim, 0, len(claims))
	for _, c := range claims {
		out = append(out, replies[c.RequestID])
	}
	log.Info().Int("claims", len(out)).Msg("All claims answered")
	return out, nil
}

// exchange sends chunk and waits for its replies until the round times out.
func (s *ClaimSigner) exchange(ctx context.Context, snd sender, rcv receiver, chunk []domain.ClaimMessage,
	pending map[string]domain.ClaimMessage, replies map[string]domain.SignedClaim) error {
	waiting := make(map[string]struct{}, len(chunk))
	for _, claim := range chunk {
		if _, ok := pending[claim.RequestID]; !ok {
			continue
		}
		body, err := json.Marshal(claim)
		if err != nil {
			return fmt.Errorf("failed to encode claim %s: %w", claim.RequestID, err)
		}
		msg := amqp.NewMessage(body)
		msg.Properties = &amqp.MessageProperties{
			MessageID: claim.RequestID,
			ReplyTo:   &s.cfg.ReplyAddress,
		}
		msg.ApplicationProperties = map[string]any{"request_id": claim.RequestID}
		if err := snd.Send(ctx, msg, nil); err != nil {
			return fmt.Errorf("failed to send claim %s: %w", claim.RequestID, err)
		}
		waiting[claim.RequestID] = struct{}{}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	for len(waiting) > 0 {
		msg, err := rcv.Receive(waitCtx, nil)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil
			}
			return fmt.Errorf("failed to receive signer reply: %w", err)
		}
		_ = rcv.AcceptMessage(ctx, msg)

		var reply domain.SignedClaim
		if err := json.Unmarshal(msg.GetData(), &reply); err != nil {
			log := zerowrap.FromCtx(ctx)
			log.Warn().Err(err).Msg("ignoring undecodable signer reply")
			continue
		}
		if _, ok := pending[reply.RequestID]; !ok {
			continue
		}
		delete(pending, reply.RequestID)
		delete(waiting, reply.RequestID)
		replies[reply.RequestID] = reply
	}
	return nil
}

func chunkPending(claims []domain.ClaimMessage, pending map[string]domain.ClaimMessage, size int) [][]domain.ClaimMessage {
	var chunks [][]domain.ClaimMessage
	var current []domain.ClaimMessage
	for _, c := range claims {
		if _, ok := pending[c.RequestID]; !ok {
			continue
		}
		current = append(current, c)
		if len(current) == size {
			chunks = append(chunks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
