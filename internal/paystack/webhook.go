package paystack

import "encoding/json"

// Webhook event types we act on. Everything else is acknowledged and dropped.
const (
	EventChargeSuccess = "charge.success"
)

// WebhookEvent is the envelope Paystack POSTs to the webhook endpoint.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData is the charge payload. Amount and Fees are in kobo.
type WebhookData struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Fees      int64           `json:"fees"`
	Channel   string          `json:"channel"`
	Metadata  WebhookMetadata `json:"metadata"`
}

// WebhookMetadata echoes back what we attached at initialization.
type WebhookMetadata struct {
	OrderID string `json:"order_id"`
}

// ParseWebhook decodes a verified webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
