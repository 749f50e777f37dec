package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// InventoryEvent is published after the ledger applied a receipt's opening balance.
type InventoryEvent struct {
	Type          string    `json:"type"`
	TenantId      string    `json:"tenant_id"`
	ReceiptId     int       `json:"receipt_id"`
	MaterialId    int       `json:"material_id"`
	SiteId        *int      `json:"site_id"`
	Quantity      string    `json:"quantity"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationId string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

// InventoryTopic returns PUBSUB_TOPIC_INVENTORY. Publishing is disabled when it is empty.
func InventoryTopic() string {
	return strings.TrimSpace(os.Getenv("PUBSUB_TOPIC_INVENTORY"))
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// unlike the DB and redis connectors this one does not retry; a failed publish is only logged by callers
func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Application Default Credentials
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return pubsubClient, nil
}

// PublishInventoryEvent publishes ev to PUBSUB_TOPIC_INVENTORY and returns the server-assigned id.
// It returns "" and no error when the topic is not configured.
func PublishInventoryEvent(ctx context.Context, ev InventoryEvent) (string, error) {
	topicName := InventoryTopic()
	if topicName == "" {
		return "", nil
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	t := client.Topic(topicName)
	result := t.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"tenant_id": ev.TenantId,
			"type":      ev.Type,
		},
	})
	return result.Get(ctx)
}
