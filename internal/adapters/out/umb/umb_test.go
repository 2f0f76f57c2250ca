package umb

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/quaypush/internal/domain"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

// fakeBroker answers claims through reply, or drops them when reply returns false.
type fakeBroker struct {
	mu      sync.Mutex
	targets []string
	sent    []*amqp.Message
	replies chan *amqp.Message
	reply   func(claim domain.ClaimMessage, attempt int) (domain.SignedClaim, bool)
	seen    map[string]int
	closed  bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{replies: make(chan *amqp.Message, 100), seen: map[string]int{}}
}

func (b *fakeBroker) dial(context.Context) (connection, error) { return b, nil }

func (b *fakeBroker) NewSender(_ context.Context, target string) (sender, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets = append(b.targets, target)
	return fakeLink{b}, nil
}

func (b *fakeBroker) NewReceiver(context.Context, string, int32) (receiver, error) { return fakeLink{b}, nil }

func (b *fakeBroker) Close() error {
	b.closed = true
	return nil
}

// fakeLink is both ends of the broker.
type fakeLink struct {
	b *fakeBroker
}

func (l fakeLink) Close(context.Context) error { return nil }

func (l fakeLink) Send(_ context.Context, msg *amqp.Message, _ *amqp.SendOptions) error {
	b := l.b
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	b.mu.Unlock()
	if b.reply == nil {
		return nil
	}

	var claim domain.ClaimMessage
	if err := json.Unmarshal(msg.GetData(), &claim); err != nil {
		return err
	}
	b.mu.Lock()
	attempt := b.seen[claim.RequestID]
	b.seen[claim.RequestID]++
	b.mu.Unlock()

	if signed, ok := b.reply(claim, attempt); ok {
		data, _ := json.Marshal(signed)
		b.replies <- amqp.NewMessage(data)
	}
	return nil
}

func (l fakeLink) Receive(ctx context.Context, _ *amqp.ReceiveOptions) (*amqp.Message, error) {
	select {
	case msg := <-l.b.replies:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l fakeLink) AcceptMessage(context.Context, *amqp.Message) error { return nil }

func signAll(claim domain.ClaimMessage, _ int) (domain.SignedClaim, bool) {
	return domain.SignedClaim{RequestID: claim.RequestID, ManifestDigest: claim.ManifestDigest, SignedClaim: "signed-" + claim.RequestID}, true
}

func claims(ids ...string) []domain.ClaimMessage {
	out := make([]domain.ClaimMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.ClaimMessage{RequestID: id, ManifestDigest: "sha256:" + id, SigKeyID: "key"})
	}
	return out
}

func TestPublisher_Publish(t *testing.T) {
	broker := newFakeBroker()
	publisher := &Publisher{dial: broker.dial}

	err := publisher.Publish(testContext(), domain.RemoveRepoTopic, map[string]any{"removed_repository": "ns/repo"})

	require.NoError(t, err)
	assert.Equal(t, []string{"topic://" + domain.RemoveRepoTopic}, broker.targets)
	require.Len(t, broker.sent, 1)
	assert.Equal(t, "ns/repo", broker.sent[0].ApplicationProperties["removed_repository"])
	assert.JSONEq(t, `{"removed_repository":"ns/repo"}`, string(broker.sent[0].GetData()))
	assert.True(t, broker.closed)
}

func TestPublisher_DialFailure(t *testing.T) {
	boom := errors.New("connection refused")
	publisher := &Publisher{dial: func(context.Context) (connection, error) { return nil, boom }}

	err := publisher.Publish(testContext(), "topic", map[string]any{})

	assert.ErrorIs(t, err, boom)
}

func TestNewPublisher_RequiresURL(t *testing.T) {
	_, err := NewPublisher(domain.BusSettings{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestClaimSigner_SignClaims(t *testing.T) {
	broker := newFakeBroker()
	broker.reply = signAll
	signer := newClaimSigner(broker.dial, SignerConfig{
		Topic:        "topic://VirtualTopic.sign",
		ReplyAddress: "queue://replies",
		Timeout:      time.Second,
		Throttle:     2,
	})

	replies, err := signer.SignClaims(testContext(), claims("a", "b", "c"))

	require.NoError(t, err)
	require.Len(t, replies, 3)
	assert.Equal(t, "a", replies[0].RequestID)
	assert.Equal(t, "signed-c", replies[2].SignedClaim)
	assert.Equal(t, []string{"topic://VirtualTopic.sign"}, broker.targets)
	assert.Equal(t, "a", broker.sent[0].Properties.MessageID)
	assert.Equal(t, "queue://replies", *broker.sent[0].Properties.ReplyTo)
}

func TestClaimSigner_RetriesUnanswered(t *testing.T) {
	broker := newFakeBroker()
	broker.reply = func(claim domain.ClaimMessage, attempt int) (domain.SignedClaim, bool) {
		if claim.RequestID == "b" && attempt == 0 {
			return domain.SignedClaim{}, false
		}
		return signAll(claim, attempt)
	}
	signer := newClaimSigner(broker.dial, SignerConfig{Topic: "sign", Timeout: 20 * time.Millisecond, Retry: 1})

	replies, err := signer.SignClaims(testContext(), claims("a", "b"))

	require.NoError(t, err)
	assert.Len(t, replies, 2)
	assert.Len(t, broker.sent, 3)
}

func TestClaimSigner_GivesUp(t *testing.T) {
	broker := newFakeBroker()
	broker.reply = func(domain.ClaimMessage, int) (domain.SignedClaim, bool) { return domain.SignedClaim{}, false }
	signer := newClaimSigner(broker.dial, SignerConfig{Topic: "sign", Timeout: 10 * time.Millisecond, Retry: 2})

	_, err := signer.SignClaims(testContext(), claims("a"))

	assert.ErrorIs(t, err, domain.ErrSigning)
	assert.Len(t, broker.sent, 3)
}

func TestClaimSigner_ReplyWithErrorsIsReturned(t *testing.T) {
	broker := newFakeBroker()
	broker.reply = func(claim domain.ClaimMessage, _ int) (domain.SignedClaim, bool) {
		return domain.SignedClaim{RequestID: claim.RequestID, Errors: []string{"key not allowed"}}, true
	}
	signer := newClaimSigner(broker.dial, SignerConfig{Topic: "sign", Timeout: time.Second})

	replies, err := signer.SignClaims(testContext(), claims("a"))

	require.NoError(t, err)
	assert.Equal(t, []string{"key not allowed"}, replies[0].Errors)
}
