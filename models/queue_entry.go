package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// QueueStatus represents the lifecycle state of a queue entry
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusClaimed   QueueStatus = "claimed"
	QueueStatusSent      QueueStatus = "sent"
	QueueStatusDelivered QueueStatus = "delivered"
	QueueStatusRead      QueueStatus = "read"
	QueueStatusReplied   QueueStatus = "replied"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusSkipped   QueueStatus = "skipped"
)

// String returns the string representation of the status
func (s QueueStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusClaimed, QueueStatusSent,
		QueueStatusDelivered, QueueStatusRead, QueueStatusReplied,
		QueueStatusFailed, QueueStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is expected from this status
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueStatusReplied, QueueStatusFailed, QueueStatusSkipped:
		return true
	default:
		return false
	}
}

// Active reports whether the entry still occupies its identity key
// (pending or claimed, i.e. not yet handed to the provider and not terminal)
func (s QueueStatus) Active() bool {
	return s == QueueStatusPending || s == QueueStatusClaimed
}

// deliveryRank orders the post-send delivery progression so webhook events
// can only move an entry forward, never backward
var deliveryRank = map[QueueStatus]int{
	QueueStatusSent:      1,
	QueueStatusDelivered: 2,
	QueueStatusRead:      3,
	QueueStatusReplied:   4,
}

// CanTransitionTo reports whether moving from s to next is a sanctioned
// forward transition in the queue state machine
func (s QueueStatus) CanTransitionTo(next QueueStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case QueueStatusPending:
		return next == QueueStatusClaimed || next == QueueStatusSkipped
	case QueueStatusClaimed:
		// claimed -> pending is the stale-reclaim path
		return next == QueueStatusSent || next == QueueStatusFailed || next == QueueStatusPending
	case QueueStatusSent, QueueStatusDelivered, QueueStatusRead:
		if next == QueueStatusFailed {
			return true
		}
		return deliveryRank[next] > deliveryRank[s]
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for QueueStatus
func (s *QueueStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = QueueStatus(v)
	case []byte:
		*s = QueueStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into QueueStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for QueueStatus
func (s QueueStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid QueueStatus: %s", s)
	}
	return string(s), nil
}

// Channel represents the delivery medium of an outbound message
type Channel string

const (
	ChannelEmail           Channel = "email"
	ChannelLinkedInConnect Channel = "linkedin_connect"
	ChannelLinkedInDM      Channel = "linkedin_dm"
	ChannelLinkedInInMail  Channel = "linkedin_inmail"
)

// Valid checks if the channel is valid
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelLinkedInConnect, ChannelLinkedInDM, ChannelLinkedInInMail:
		return true
	default:
		return false
	}
}

// NormalizeChannel maps loose upstream channel names onto the canonical set.
// Plain "linkedin" from older producers means a direct message.
func NormalizeChannel(raw string) Channel {
	if raw == "linkedin" {
		return ChannelLinkedInDM
	}
	c := Channel(raw)
	if c.Valid() {
		return c
	}
	return ChannelEmail
}

// QueueEntry represents one planned or executed outbound send
// Table: send_queue
type QueueEntry struct {
	ID         string  `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID string  `gorm:"type:uuid;not null;index:idx_send_queue_campaign_id" json:"campaign_id"`
	ContactID  string  `gorm:"type:uuid;not null" json:"contact_id"`
	AccountID  string  `gorm:"type:uuid;not null;index:idx_send_queue_account_id" json:"account_id"`
	Channel    Channel `gorm:"type:varchar(32);not null" json:"channel"`

	// RecipientRef is the provider-facing handle snapshotted at queue time:
	// an email address or a LinkedIn provider id, depending on channel
	RecipientRef string `gorm:"size:255;not null" json:"recipient_ref"`

	// IdentityKey is (campaign_id, contact_id); at most one active entry may
	// exist per key regardless of how often upstream re-submits
	IdentityKey string `gorm:"size:80;not null;index:idx_send_queue_identity_key" json:"identity_key"`

	SequenceStep *int   `json:"sequence_step,omitempty"`
	Priority     int    `gorm:"not null;default:5" json:"priority"`
	Subject      string `gorm:"type:text" json:"subject"`
	Body         string `gorm:"type:text;not null" json:"body"`

	ScheduledFor time.Time   `gorm:"not null;index:idx_send_queue_scheduled_for" json:"scheduled_for"`
	Status       QueueStatus `gorm:"type:send_queue_status;not null;default:'pending';index:idx_send_queue_status" json:"status"`

	ProviderMessageID *string `gorm:"size:128;index:idx_send_queue_provider_message_id" json:"provider_message_id,omitempty"`
	ProviderThreadID  *string `gorm:"size:128;index:idx_send_queue_provider_thread_id" json:"provider_thread_id,omitempty"`

	LastError    string `gorm:"type:text" json:"last_error,omitempty"`
	AttemptCount int    `gorm:"not null;default:0" json:"attempt_count"`

	ClaimedBy *string    `gorm:"size:64" json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_send_queue_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (QueueEntry) TableName() string { return "send_queue" }

// IdentityKeyFor derives the deduplication key for one logical send
func IdentityKeyFor(campaignID, contactID string) string {
	return campaignID + ":" + contactID
}

// QueueEntryFilter provides filter fields for repository queries
type QueueEntryFilter struct {
	ID              *string
	CampaignID      *string
	ContactID       *string
	AccountID       *string
	Channel         *Channel
	IdentityKey     *string
	Status          *QueueStatus
	ScheduledAfter  *time.Time
	ScheduledBefore *time.Time
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
}
