package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/sahel-market/api/internal/services"
)

// PubSubNotificationPublisher publishes buyer and seller notifications to a
// Pub/Sub topic. Consumers (push senders, email workers) subscribe downstream.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

var _ services.NotificationDispatcher = (*PubSubNotificationPublisher)(nil)

// Dispatch enqueues one notification message on the configured topic.
func (p *PubSubNotificationPublisher) Dispatch(ctx context.Context, notification services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", string(notification.Type))
	setAttr(attrs, "userId", notification.RecipientID)
	setAttr(attrs, "orderId", notification.OrderID)
	setAttr(attrs, "listingId", notification.ListingID)
	setAttr(attrs, "intentId", notification.IntentID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
