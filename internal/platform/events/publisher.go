package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/services"
)

// PubSubLifecyclePublisher publishes lifecycle events to a Pub/Sub topic.
type PubSubLifecyclePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.LifecycleEventPublisher = (*PubSubLifecyclePublisher)(nil)

// NewPubSubLifecyclePublisher constructs a Pub/Sub backed lifecycle event
// publisher. Message ordering is enabled on the topic so events for one
// aggregate are delivered in publish order.
func NewPubSubLifecyclePublisher(topic *pubsub.Topic) (*PubSubLifecyclePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub lifecycle publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubLifecyclePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishLifecycleEvent enqueues a lifecycle event on the configured topic.
func (p *PubSubLifecyclePublisher) PublishLifecycleEvent(ctx context.Context, event services.LifecycleEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub lifecycle publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" {
		return errors.New("pubsub lifecycle publisher: event type is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "shipmentId", event.ShipmentID)
	setAttr(attrs, "status", event.CurrentStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey(event),
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish lifecycle event: %w", err)
	}
	return nil
}

// orderingKey serialises events per aggregate: the order when one is involved,
// otherwise the shipment, falling back to the event type.
func orderingKey(event services.LifecycleEvent) string {
	if key := strings.TrimSpace(event.OrderID); key != "" {
		return key
	}
	if key := strings.TrimSpace(event.ShipmentID); key != "" {
		return key
	}
	return event.Type
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
