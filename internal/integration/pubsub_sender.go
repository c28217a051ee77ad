package integration

import (
	"context"
	"encoding/json"

	"gocloud.dev/pubsub"
	// In-memory topics (mem://) for local setups.
	_ "gocloud.dev/pubsub/mempubsub"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
)

// PubSubSender publishes outbox items to a gocloud.dev topic. Every publish failure
// is transient.
type PubSubSender struct {
	topicURL string
	topic    *pubsub.Topic
}

// OpenPubSubSender opens the topic at topicURL (e.g., "mem://events").
func OpenPubSubSender(ctx context.Context, topicURL string) (*PubSubSender, error) {
	topic, err := pubsub.OpenTopic(ctx, topicURL)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to open topic %s", topicURL)
	}
	return &PubSubSender{topicURL: topicURL, topic: topic}, nil
}

// Send publishes the item envelope with its identity as message metadata.
func (p *PubSubSender) Send(ctx context.Context, item *domain.OutboxItem) (*domain.DeliveryReceipt, error) {
	body, err := json.Marshal(newEnvelope(item))
	if err != nil {
		return nil, &domain.PermanentError{Err: apperrors.Wrap(err, "failed to encode pubsub envelope")}
	}

	err = p.topic.Send(ctx, &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			"integration_id":  item.IntegrationID,
			"operation":       item.Operation,
			"idempotency_key": item.IdempotencyKey,
		},
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to publish outbox item")
	}

	receipt, _ := json.Marshal(map[string]string{"topic": p.topicURL})
	return &domain.DeliveryReceipt{ProviderResponse: receipt}, nil
}

// Close flushes and closes the topic.
func (p *PubSubSender) Close(ctx context.Context) error {
	return p.topic.Shutdown(ctx)
}
