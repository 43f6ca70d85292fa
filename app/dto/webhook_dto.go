package dto

import "encoding/json"

// UnipileWebhookRequest is the delivery callback posted by the messaging
// provider. Field presence varies per event; matching prefers tracking_id,
// then message_id, then chat_id.
type UnipileWebhookRequest struct {
	Event      string          `json:"event" validate:"required,max=64"`
	AccountID  string          `json:"account_id"`
	MessageID  string          `json:"message_id"`
	ChatID     string          `json:"chat_id"`
	TrackingID string          `json:"tracking_id"`
	Timestamp  string          `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// WebhookAckResponse is always returned with HTTP 200 so the provider does
// not retry callbacks we have already inspected
type WebhookAckResponse struct {
	Received bool `json:"received"`
	Matched  bool `json:"matched"`
}
