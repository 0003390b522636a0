package queue

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/sitephoto/server/internal/observability"
	"google.golang.org/api/option"
)

const sourcePubSub = "pubsub"

// PubSubSubscriber consumes photo messages from a Google Cloud Pub/Sub
// subscription. Retried messages are nacked so Pub/Sub redelivers them.
type PubSubSubscriber struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	handler      *MessageHandler
}

// NewPubSubSubscriber connects to projectID. Application Default
// Credentials are used unless credentialsJSON is given.
func NewPubSubSubscriber(ctx context.Context, projectID, subscriptionID, credentialsJSON string, maxOutstanding int, handler *MessageHandler) (*PubSubSubscriber, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if subscriptionID == "" {
		return nil, errors.New("pubsub subscription is required")
	}

	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	sub := client.Subscription(subscriptionID)
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}

	return &PubSubSubscriber{client: client, subscription: sub, handler: handler}, nil
}

// Run receives messages until ctx is done
func (s *PubSubSubscriber) Run(ctx context.Context) error {
	exists, err := s.subscription.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("pubsub subscription %q does not exist", s.subscription.ID())
	}

	observability.WithField("subscription", s.subscription.ID()).Info("consuming photo messages from pubsub")

	err = s.subscription.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if s.handler.Handle(ctx, sourcePubSub, m.Data, m.PublishTime) == OutcomeRetry {
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

func (s *PubSubSubscriber) Close() error {
	return s.client.Close()
}
