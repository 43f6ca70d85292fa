// Package businessflow contains the business logic for the application.
package businessflow

import (
	"github.com/atherial/sendqueue/app/dto"
	"github.com/atherial/sendqueue/models"
)

// ClientMetadata holds all client-related information for audit logging
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// ToQueueEntryDTO converts a queue entry model to its API representation
func ToQueueEntryDTO(entry models.QueueEntry) dto.QueueEntryDTO {
	return dto.QueueEntryDTO{
		ID:                entry.ID,
		CampaignID:        entry.CampaignID,
		ContactID:         entry.ContactID,
		AccountID:         entry.AccountID,
		Channel:           string(entry.Channel),
		SequenceStep:      entry.SequenceStep,
		Priority:          entry.Priority,
		ScheduledFor:      entry.ScheduledFor,
		Status:            entry.Status.String(),
		ProviderMessageID: entry.ProviderMessageID,
		AttemptCount:      entry.AttemptCount,
		LastError:         entry.LastError,
		SentAt:            entry.SentAt,
		CreatedAt:         entry.CreatedAt,
	}
}
