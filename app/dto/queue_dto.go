package dto

import "time"

// QueueMessageItem is one upstream-produced message inside a batch
// submission. ID is optional; omitted ids are generated server-side.
type QueueMessageItem struct {
	ID           string `json:"id" validate:"omitempty,uuid4"`
	ContactID    string `json:"contact_id" validate:"required,uuid4"`
	AccountID    string `json:"account_id" validate:"required,uuid4"`
	Channel      string `json:"channel" validate:"required,oneof=email linkedin linkedin_connect linkedin_dm linkedin_inmail"`
	RecipientRef string `json:"recipient_ref" validate:"required,max=255"`
	SequenceStep *int   `json:"sequence_step,omitempty" validate:"omitempty,gte=1,lte=50"`
	Priority     int    `json:"priority" validate:"omitempty,gte=1,lte=9"`
	Subject      string `json:"subject" validate:"omitempty,max=998"`
	Body         string `json:"body" validate:"required"`
}

// BatchScheduleRequest asks the scheduling engine to assign slots for a
// campaign's next wave of messages
type BatchScheduleRequest struct {
	CampaignID string             `json:"campaign_id" validate:"required,uuid4"`
	Messages   []QueueMessageItem `json:"messages" validate:"required,min=1,max=500,dive"`
}

// ScheduledEntryDTO is the slim view of a freshly scheduled entry
type ScheduledEntryDTO struct {
	ID           string    `json:"id"`
	ContactID    string    `json:"contact_id"`
	AccountID    string    `json:"account_id"`
	Channel      string    `json:"channel"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Status       string    `json:"status"`
}

// BatchScheduleResponse reports what the batch run produced
type BatchScheduleResponse struct {
	Scheduled      []ScheduledEntryDTO `json:"scheduled"`
	DuplicateCount int                 `json:"duplicate_count"`
	FailedCount    int                 `json:"failed_count"`
}

// SkipQueueEntryRequest cancels a pending entry before dispatch
type SkipQueueEntryRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type SkipQueueEntryResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// QueueStatsRequest scopes the aggregate counts; empty means the whole queue.
// Day restricts counts to entries scheduled on that local calendar day,
// interpreted in Timezone (default America/New_York).
type QueueStatsRequest struct {
	CampaignID string `json:"campaign_id" validate:"omitempty,uuid4"`
	AccountID  string `json:"account_id" validate:"omitempty,uuid4"`
	Day        string `json:"day" validate:"omitempty,datetime=2006-01-02"`
	Timezone   string `json:"timezone" validate:"omitempty,timezone"`
}

type QueueStatsResponse struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// ListQueueRequest filters and paginates queue entries
type ListQueueRequest struct {
	CampaignID string `json:"campaign_id" validate:"omitempty,uuid4"`
	AccountID  string `json:"account_id" validate:"omitempty,uuid4"`
	Status     string `json:"status" validate:"omitempty,oneof=pending claimed sent delivered read replied failed skipped"`
	Page       int    `json:"page" validate:"omitempty,gte=1"`
	PageSize   int    `json:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// QueueEntryDTO is the full operational view of one queue entry
type QueueEntryDTO struct {
	ID                string     `json:"id"`
	CampaignID        string     `json:"campaign_id"`
	ContactID         string     `json:"contact_id"`
	AccountID         string     `json:"account_id"`
	Channel           string     `json:"channel"`
	SequenceStep      *int       `json:"sequence_step,omitempty"`
	Priority          int        `json:"priority"`
	ScheduledFor      time.Time  `json:"scheduled_for"`
	Status            string     `json:"status"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	AttemptCount      int        `json:"attempt_count"`
	LastError         string     `json:"last_error,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type ListQueueResponse struct {
	Items    []QueueEntryDTO `json:"items"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int64           `json:"total"`
}

// CampaignStatusResponse reflects a pause or resume outcome
type CampaignStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
