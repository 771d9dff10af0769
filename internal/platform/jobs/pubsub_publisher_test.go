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

	"github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/services"
)

func TestPubSubNotificationPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	notification := services.Notification{
		Type:        domain.NotificationOrderCreated,
		RecipientID: "seller-1",
		OrderID:     "ord_01HZX",
		IntentID:    "pi_test_123",
		Title:       "New order SM-2026-000042",
		Body:        "You sold 2 items.",
		Data:        map[string]string{"orderNumber": "SM-2026-000042"},
		OccurredAt:  occurredAt,
	}

	if err := publisher.Dispatch(ctx, notification); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.Notification
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != notification.OrderID || payload.RecipientID != notification.RecipientID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["type"]; attr != string(domain.NotificationOrderCreated) {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["userId"]; attr != "seller-1" {
		t.Fatalf("expected userId attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["listingId"]; ok {
		t.Fatalf("empty listingId attribute should not be present")
	}
}
