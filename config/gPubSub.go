package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// OrderEventMessage is the payload published to the order-events topic after
// a status transition commits. Consumers (delivery app, support console) are
// outside this service.
type OrderEventMessage struct {
	BusinessId     string    `json:"business_id"`
	OrderId        int       `json:"order_id"`
	OrderKind      string    `json:"order_kind"`
	OrderNumber    string    `json:"order_number"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	OccurredAt     time.Time `json:"occurred_at"`
	CorrelationId  string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

// getPubSubClient lazily initializes the shared Pub/Sub client.
// Uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is set.
func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()

	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("pubsub project id is not configured")
	}

	var opts []option.ClientOption
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	pubsubClient = client
	return pubsubClient, nil
}

// PublishOrderEvent publishes a status-change event and waits for the server ack.
// Callers treat failures as best-effort (log, do not propagate).
func PublishOrderEvent(ctx context.Context, msg OrderEventMessage) (string, error) {
	topicID := os.Getenv("ORDER_EVENTS_TOPIC")
	if topicID == "" {
		return "", errors.New("ORDER_EVENTS_TOPIC is not configured")
	}

	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	topic := client.Topic(topicID)
	result := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"businessId":    msg.BusinessId,
			"orderKind":     msg.OrderKind,
			"correlationId": msg.CorrelationId,
		},
	})
	return result.Get(ctx)
}
