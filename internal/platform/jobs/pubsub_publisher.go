package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/lumenmarket/api/internal/services"
)

// PubSubEventPublisher publishes order and inventory domain events to Pub/Sub topics.
type PubSubEventPublisher struct {
	orders    *pubsub.Topic
	inventory *pubsub.Topic
	marshal   func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. Either topic may be
// nil when the corresponding event stream is disabled.
func NewPubSubEventPublisher(orders *pubsub.Topic, inventory *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orders == nil && inventory == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		orders:    orders,
		inventory: inventory,
		marshal:   json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order lifecycle event on the orders topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orders == nil {
		return errors.New("pubsub event publisher: orders topic not configured")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "previousStatus", string(event.PreviousStatus))
	setAttr(attrs, "currentStatus", string(event.CurrentStatus))
	setAttr(attrs, "actorId", event.ActorID)
	if !event.OccurredAt.IsZero() {
		attrs["occurredAt"] = event.OccurredAt.UTC().Format(time.RFC3339Nano)
	}

	result := p.orders.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PublishInventoryEvent enqueues a stock change event on the inventory topic.
func (p *PubSubEventPublisher) PublishInventoryEvent(ctx context.Context, event services.InventoryStockEvent) error {
	if p == nil || p.inventory == nil {
		return errors.New("pubsub event publisher: inventory topic not configured")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal inventory event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "productId", event.ProductID)
	setAttr(attrs, "sku", event.SKU)
	if event.OrderRef != nil {
		setAttr(attrs, "orderRef", *event.OrderRef)
	}

	result := p.inventory.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish inventory event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
