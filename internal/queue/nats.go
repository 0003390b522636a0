package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sitephoto/server/internal/observability"
)

const sourceNATS = "nats"

// NATSSubscriber consumes photo messages from a NATS subject within a queue
// group, so several workers share the load.
type NATSSubscriber struct {
	conn    *nats.Conn
	subject string
	group   string
	handler *MessageHandler
}

// NATSOptions tune the connection. Zero values use the defaults.
type NATSOptions struct {
	Name           string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// NewNATSSubscriber connects to url
func NewNATSSubscriber(url, subject, group string, handler *MessageHandler, options NATSOptions) (*NATSSubscriber, error) {
	if subject == "" {
		return nil, errors.New("nats subject is required")
	}
	if group == "" {
		group = "photo-ingest"
	}
	if options.Name == "" {
		options.Name = "sitephoto-worker"
	}
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = 2 * time.Second
	}
	if options.ReconnectWait <= 0 {
		options.ReconnectWait = 2 * time.Second
	}
	if options.MaxReconnects <= 0 {
		options.MaxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name(options.Name),
		nats.Timeout(options.ConnectTimeout),
		nats.ReconnectWait(options.ReconnectWait),
		nats.MaxReconnects(options.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			observability.GetLogger().WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			observability.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATSSubscriber{
		conn:    conn,
		subject: subject,
		group:   group,
		handler: handler,
	}, nil
}

// Run consumes until ctx is done, then drains the subscription. A producer
// that publishes with a reply subject receives the outcome and can retry;
// core NATS has no redelivery of its own.
func (s *NATSSubscriber) Run(ctx context.Context) error {
	sub, err := s.conn.QueueSubscribe(s.subject, s.group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}

		outcome := s.handler.Handle(ctx, sourceNATS, msg.Data, time.Time{})
		if msg.Reply != "" {
			if err := msg.Respond([]byte(outcome)); err != nil {
				observability.GetLogger().WithError(err).Warn("nats reply failed")
			}
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	observability.WithFields(map[string]interface{}{
		"subject": s.subject,
		"group":   s.group,
	}).Info("consuming photo messages from nats")

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := s.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (s *NATSSubscriber) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
