package billing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType is the normalized billing webhook event type.
type EventType string

const (
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventIgnored               EventType = "ignored"
)

// WebhookEvent is the normalized view of a provider webhook payload.
// Only the fields the change-execution path needs are extracted.
type WebhookEvent struct {
	Type           EventType
	ProviderEvent  string
	SubscriptionID string
	CustomerID     string
	Status         string
	ProductID      string
	PriceID        string
}

// ParseWebhookEvent decodes a verified Paddle webhook payload. Callers must
// have validated the signature first (Provider.VerifyWebhook).
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var raw struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &WebhookEvent{
		Type:          mapEventType(raw.EventType),
		ProviderEvent: raw.EventType,
	}

	if !strings.HasPrefix(raw.EventType, "subscription.") {
		return event, nil
	}

	if id, ok := raw.Data["id"].(string); ok {
		event.SubscriptionID = id
	}
	if status, ok := raw.Data["status"].(string); ok {
		event.Status = status
	}
	if customerID, ok := raw.Data["customer_id"].(string); ok {
		event.CustomerID = customerID
	}
	if items, ok := raw.Data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			if price, ok := item["price"].(map[string]any); ok {
				if priceID, ok := price["id"].(string); ok {
					event.PriceID = priceID
				}
				if productID, ok := price["product_id"].(string); ok {
					event.ProductID = productID
				}
			}
		}
	}

	return event, nil
}

func mapEventType(providerEvent string) EventType {
	switch providerEvent {
	case "subscription.updated":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCancelled
	default:
		return EventIgnored
	}
}
