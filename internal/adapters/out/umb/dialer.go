// Package umb implements the message bus adapters: notification publishing
// and the request/reply exchange with the manifest claim signer.
package umb

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/go-amqp"
	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/adapters/out/httpclient"
	"github.com/bnema/quaypush/internal/domain"
)

type sender interface {
	Send(ctx context.Context, msg *amqp.Message, opts *amqp.SendOptions) error
	Close(ctx context.Context) error
}

type receiver interface {
	Receive(ctx context.Context, opts *amqp.ReceiveOptions) (*amqp.Message, error)
	AcceptMessage(ctx context.Context, msg *amqp.Message) error
	Close(ctx context.Context) error
}

// connection is an open session on one broker.
type connection interface {
	NewSender(ctx context.Context, target string) (sender, error)
	NewReceiver(ctx context.Context, source string, credit int32) (receiver, error)
	Close() error
}

type dialFunc func(ctx context.Context) (connection, error)

// Dialer opens connections to the first reachable broker.
type Dialer struct {
	urls      []string
	tlsConfig *tls.Config
}

// NewDialer creates a dialer authenticating with the client certificate of settings.
func NewDialer(settings domain.BusSettings) (*Dialer, error) {
	if len(settings.URLs) == 0 {
		return nil, fmt.Errorf("%w: no message bus URL", domain.ErrInvalidConfiguration)
	}
	tlsConfig, err := httpclient.TLSConfig(settings.CertFile, settings.KeyFile, settings.CAFile)
	if err != nil {
		return nil, err
	}
	return &Dialer{urls: settings.URLs, tlsConfig: tlsConfig}, nil
}

// Dial tries every broker URL in order.
func (d *Dialer) Dial(ctx context.Context) (connection, error) {
	log := zerowrap.FromCtx(ctx)

	opts := &amqp.ConnOptions{TLSConfig: d.tlsConfig}
	if d.tlsConfig != nil && len(d.tlsConfig.Certificates) > 0 {
		opts.SASLType = amqp.SASLTypeExternal("")
	}

	var errs []error
	for _, url := range d.urls {
		conn, err := amqp.Dial(ctx, url, opts)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("message bus broker unreachable")
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		session, err := conn.NewSession(ctx, nil)
		if err != nil {
			_ = conn.Close()
			errs = append(errs, fmt.Errorf("%s: failed to open session: %w", url, err))
			continue
		}
		log.Debug().Str("url", url).Msg("connected to message bus")
		return &amqpConnection{conn: conn, session: session}, nil
	}
	return nil, fmt.Errorf("failed to connect to the message bus: %w", errors.Join(errs...))
}

type amqpConnection struct {
	conn    *amqp.Conn
	session *amqp.Session
}

func (c *amqpConnection) NewSender(ctx context.Context, target string) (sender, error) {
	return c.session.NewSender(ctx, target, nil)
}

func (c *amqpConnection) NewReceiver(ctx context.Context, source string, credit int32) (receiver, error) {
	return c.session.NewReceiver(ctx, source, &amqp.ReceiverOptions{Credit: credit})
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

// topicAddress returns the broker address of a topic name.
func topicAddress(topic string) string {
	if strings.Contains(topic, "://") {
		return topic
	}
	return "topic://" + topic
}
