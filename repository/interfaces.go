// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/atherial/sendqueue/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id any) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// QueueRepository is the durable send queue: idempotent insert, atomic
// claiming, conditional status transitions and the aggregate queries the
// scheduling engine and dashboards need
type QueueRepository interface {
	Repository[models.QueueEntry, models.QueueEntryFilter]

	// Insert persists a new pending entry; ErrDuplicateIdentity if a
	// non-terminal entry already occupies the identity key
	Insert(ctx context.Context, entry *models.QueueEntry) error

	// ClaimNextDue atomically moves up to limit due pending entries of
	// active campaigns to claimed and returns them. Concurrent callers
	// never receive the same entry.
	ClaimNextDue(ctx context.Context, workerID string, now time.Time, limit int) ([]*models.QueueEntry, error)

	// MarkSent records a successful provider handoff for a claimed entry.
	// Re-running with the same provider message id is a no-op; any other
	// state yields ErrStaleTransition.
	MarkSent(ctx context.Context, id string, providerMessageID string, providerThreadID *string, now time.Time) error

	// MarkFailed terminally fails a claimed entry
	MarkFailed(ctx context.Context, id string, sendErr string, now time.Time) error

	// Reschedule returns a claimed entry to pending with a new slot and an
	// incremented attempt count (transient send failure path)
	Reschedule(ctx context.Context, id string, nextAt time.Time, sendErr string, now time.Time) error

	// AdvanceDelivery applies a webhook-driven forward transition
	// (delivered/read/replied/failed). Returns false when the entry is
	// already at or past the target state, or terminal. detail populates
	// last_error when the target is failed.
	AdvanceDelivery(ctx context.Context, id string, target models.QueueStatus, detail string, now time.Time) (bool, error)

	// Skip cancels a pending entry (upstream cancellation)
	Skip(ctx context.Context, id string, reason string, now time.Time) error

	// ReclaimStale resets entries stuck in claimed longer than the cutoff
	// back to pending, incrementing attempts; entries at or over
	// maxAttempts are failed instead. Returns ids of reclaimed entries.
	ReclaimStale(ctx context.Context, claimedBefore time.Time, maxAttempts int, now time.Time) ([]string, error)

	// ActiveByIdentityKey returns the non-terminal pending/claimed entry
	// holding the identity key, if any
	ActiveByIdentityKey(ctx context.Context, identityKey string) (*models.QueueEntry, error)

	// MaxScheduledFor returns the latest scheduled_for among entries that
	// consumed or will consume a slot for the account (everything but
	// failed/skipped); nil when the account has no such entries
	MaxScheduledFor(ctx context.Context, accountID string) (*time.Time, error)

	// CountScheduledBetween counts slot-consuming entries for the account
	// with scheduled_for in [from, to)
	CountScheduledBetween(ctx context.Context, accountID string, from, to time.Time) (int64, error)

	ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.QueueEntry, error)

	// RecentSentByThread finds the sent entry for a provider thread no
	// older than since (webhook fallback match)
	RecentSentByThread(ctx context.Context, providerThreadID string, since time.Time) (*models.QueueEntry, error)

	// CountsByStatus aggregates entry counts for dashboards; zero-value
	// filter aggregates the whole queue
	CountsByStatus(ctx context.Context, filter models.QueueEntryFilter) (map[models.QueueStatus]int64, error)
}

// MessageEventRepository persists the append-only audit log
type MessageEventRepository interface {
	Repository[models.MessageEvent, models.MessageEventFilter]
}

// CampaignRepository defines operations for campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	UpdateStatus(ctx context.Context, id string, status models.CampaignStatus, now time.Time) error
}

// SendingAccountRepository defines operations for sending accounts
type SendingAccountRepository interface {
	Repository[models.SendingAccount, models.SendingAccountFilter]
	ByProviderAccountID(ctx context.Context, providerAccountID string) (*models.SendingAccount, error)
}
