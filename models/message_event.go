package models

import (
	"encoding/json"
	"time"
)

// MessageEventType enumerates the audit events recorded against queue entries
type MessageEventType string

const (
	MessageEventQueued           MessageEventType = "queued"
	MessageEventClaimed          MessageEventType = "claimed"
	MessageEventSent             MessageEventType = "sent"
	MessageEventSendFailed       MessageEventType = "send_failed"
	MessageEventRescheduled      MessageEventType = "rescheduled"
	MessageEventReclaimed        MessageEventType = "reclaimed"
	MessageEventSkipped          MessageEventType = "skipped"
	MessageEventDelivered        MessageEventType = "delivered"
	MessageEventRead             MessageEventType = "read"
	MessageEventReplied          MessageEventType = "replied"
	MessageEventFailed           MessageEventType = "failed"
	MessageEventWebhookUnmatched MessageEventType = "webhook_unmatched"
)

// MessageEvent is an append-only audit record of queue activity, consumed by
// dashboards for operational visibility
// Table: message_events
type MessageEvent struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	SendQueueID *string          `gorm:"type:uuid;index:idx_message_events_send_queue_id" json:"send_queue_id,omitempty"`
	CampaignID  *string          `gorm:"type:uuid;index:idx_message_events_campaign_id" json:"campaign_id,omitempty"`
	ContactID   *string          `gorm:"type:uuid" json:"contact_id,omitempty"`
	AccountID   *string          `gorm:"type:uuid" json:"account_id,omitempty"`
	EventType   MessageEventType `gorm:"size:32;not null;index:idx_message_events_event_type" json:"event_type"`
	EventData   json.RawMessage  `gorm:"type:jsonb" json:"event_data,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_message_events_created_at" json:"created_at"`
}

func (MessageEvent) TableName() string { return "message_events" }

// MessageEventFilter provides filter fields for repository queries
type MessageEventFilter struct {
	ID            *uint
	SendQueueID   *string
	CampaignID    *string
	AccountID     *string
	EventType     *MessageEventType
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
