// Package services contains external provider clients used by the dispatch
// worker.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/atherial/sendqueue/models"
)

// SendRequest carries everything a provider needs to deliver one queue entry.
// TrackingID is echoed back through provider webhooks for correlation.
type SendRequest struct {
	EntryID           string
	TrackingID        string
	ProviderAccountID string
	Channel           models.Channel
	RecipientRef      string
	Subject           string
	Body              string
}

// SendResult is the provider's acknowledgement of an accepted message
type SendResult struct {
	ProviderMessageID string
	ProviderThreadID  *string
}

// ChannelAdapter delivers a single message over one outreach channel.
// Implementations classify failures through SendError so the dispatcher can
// decide between retrying and burying the entry.
type ChannelAdapter interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// SendError is a classified delivery failure. Permanent failures (rejected
// recipient, revoked credentials) must not be retried; everything else is
// treated as transient.
type SendError struct {
	Permanent  bool
	StatusCode int
	Reason     string
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s send failure (status %d): %s", kind, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s send failure: %s", kind, e.Reason)
}

// NewPermanentSendError marks a failure that retrying cannot fix
func NewPermanentSendError(statusCode int, reason string) *SendError {
	return &SendError{Permanent: true, StatusCode: statusCode, Reason: reason}
}

// NewTransientSendError marks a failure worth retrying with backoff
func NewTransientSendError(statusCode int, reason string) *SendError {
	return &SendError{Permanent: false, StatusCode: statusCode, Reason: reason}
}

// IsPermanentSendError reports whether err carries a permanent classification.
// Unclassified errors (network failures, timeouts) count as transient.
func IsPermanentSendError(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}
