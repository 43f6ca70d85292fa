// Package businessflow contains the core business logic and use cases for send-queue workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Queue-related errors
	ErrQueueEntryNotFound     = errors.New("queue entry not found")
	ErrQueueEntryNotSkippable = errors.New("queue entry is no longer pending and cannot be skipped")
	ErrEmptyBatch             = errors.New("batch contains no messages")

	// Campaign-related errors
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrCampaignNotPausable  = errors.New("campaign is not in a pausable state")
	ErrCampaignNotResumable = errors.New("campaign is not paused")

	// Filter errors
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func IsQueueEntryNotFound(err error) bool {
	return errors.Is(err, ErrQueueEntryNotFound)
}

func IsQueueEntryNotSkippable(err error) bool {
	return errors.Is(err, ErrQueueEntryNotSkippable)
}

func IsEmptyBatch(err error) bool {
	return errors.Is(err, ErrEmptyBatch)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignNotPausable(err error) bool {
	return errors.Is(err, ErrCampaignNotPausable)
}

func IsCampaignNotResumable(err error) bool {
	return errors.Is(err, ErrCampaignNotResumable)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}
