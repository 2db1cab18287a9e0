package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lumenmarket/api/internal/domain"
	"github.com/lumenmarket/api/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pubsub.Topic, func()) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		srv.Close()
		t.Fatalf("pubsub.NewClient: %v", err)
	}

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		_ = client.Close()
		srv.Close()
		t.Fatalf("CreateTopic: %v", err)
	}

	cleanup := func() {
		topic.Stop()
		_ = client.Close()
		srv.Close()
	}
	return topic, cleanup
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubEventPublisher(topic, nil)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.status.changed",
		OrderID:        "ord_test",
		OrderNumber:    "LM-2026-000042",
		PreviousStatus: domain.OrderStatusProcessing,
		CurrentStatus:  domain.OrderStatusShipped,
		ActorID:        "adm_1",
		OccurredAt:     occurredAt,
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.CurrentStatus != event.CurrentStatus {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["currentStatus"]; attr != "shipped" {
		t.Fatalf("expected currentStatus attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["actorId"]; attr != "adm_1" {
		t.Fatalf("expected actorId attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherPublishesInventoryEvent(t *testing.T) {
	ctx := context.Background()
	topic, cleanup := newTestTopic(t, "inventory-events")
	defer cleanup()

	publisher, err := NewPubSubEventPublisher(nil, topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	orderRef := "/orders/ord_test"
	event := services.InventoryStockEvent{
		Type:       "inventory.restocked",
		ProductID:  "prod_1",
		SKU:        "SKU-1",
		Delta:      3,
		OnHand:     10,
		OrderRef:   &orderRef,
		OccurredAt: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishInventoryEvent(ctx, event); err != nil {
		t.Fatalf("PublishInventoryEvent: %v", err)
	}

	if err := publisher.PublishOrderEvent(ctx, services.OrderEvent{Type: "order.created"}); err == nil {
		t.Fatal("expected error publishing order event without orders topic")
	}
}
