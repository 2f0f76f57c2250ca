package umb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/go-amqp"
	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/domain"
)

// Publisher sends fire-and-forget notifications.
type Publisher struct {
	dial dialFunc
}

// NewPublisher creates a publisher for the brokers of settings.
func NewPublisher(settings domain.BusSettings) (*Publisher, error) {
	dialer, err := NewDialer(settings)
	if err != nil {
		return nil, err
	}
	return &Publisher{dial: dialer.Dial}, nil
}

// Publish sends properties to topic, both as application properties and
// as a JSON body.
func (p *Publisher) Publish(ctx context.Context, topic string, properties map[string]any) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "umb",
		"topic":              topic,
	})
	log := zerowrap.FromCtx(ctx)

	body, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	snd, err := conn.NewSender(ctx, topicAddress(topic))
	if err != nil {
		return fmt.Errorf("failed to open sender on %s: %w", topic, err)
	}
	defer snd.Close(context.WithoutCancel(ctx))

	msg := amqp.NewMessage(body)
	msg.ApplicationProperties = properties
	if err := snd.Send(ctx, msg, nil); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}
	log.Info().Msg("Message sent")
	return nil
}
