package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atherial/sendqueue/models"
	"gorm.io/gorm"
)

// QueueRepositoryImpl implements QueueRepository
type QueueRepositoryImpl struct {
	*BaseRepository[models.QueueEntry, models.QueueEntryFilter]
}

func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &QueueRepositoryImpl{BaseRepository: NewBaseRepository[models.QueueEntry, models.QueueEntryFilter](db)}
}

// Insert persists a new pending entry, enforcing at most one non-terminal
// entry per identity key. The check and insert run in one transaction;
// concurrent submissions for the same account are additionally serialized by
// the scheduling engine's per-account lock.
func (r *QueueRepositoryImpl) Insert(ctx context.Context, entry *models.QueueEntry) (err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	txCtx := context.WithValue(ctx, TxContextKey, db)

	existing, err := r.ActiveByIdentityKey(txCtx, entry.IdentityKey)
	if err != nil {
		return err
	}
	if existing != nil {
		err = ErrDuplicateIdentity
		return err
	}

	entry.Status = models.QueueStatusPending
	if err = db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return nil
}

// ClaimNextDue claims up to limit due pending entries of active campaigns.
// The inner SELECT locks candidate rows with SKIP LOCKED so concurrent
// workers partition the due set instead of colliding on it.
func (r *QueueRepositoryImpl) ClaimNextDue(ctx context.Context, workerID string, now time.Time, limit int) ([]*models.QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	db := r.getDB(ctx)

	var entries []*models.QueueEntry
	err := db.Raw(`
		UPDATE send_queue
		SET status = 'claimed', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id IN (
			SELECT sq.id FROM send_queue sq
			JOIN campaigns c ON c.id = sq.campaign_id
			WHERE sq.status = 'pending' AND sq.scheduled_for <= ? AND c.status = 'active'
			ORDER BY sq.scheduled_for ASC
			LIMIT ?
			FOR UPDATE OF sq SKIP LOCKED
		)
		RETURNING *`,
		workerID, now, now, now, limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to claim due queue entries: %w", err)
	}
	return entries, nil
}

// MarkSent moves a claimed entry to sent and records the provider
// correlation ids. Safe to re-run: a second call with the same provider
// message id is a no-op.
func (r *QueueRepositoryImpl) MarkSent(ctx context.Context, id string, providerMessageID string, providerThreadID *string, now time.Time) error {
	db := r.getDB(ctx)

	res := db.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.QueueStatusClaimed).
		Updates(map[string]any{
			"status":              models.QueueStatusSent,
			"provider_message_id": providerMessageID,
			"provider_thread_id":  providerThreadID,
			"sent_at":             now,
			"last_error":          "",
			"attempt_count":       gorm.Expr("attempt_count + 1"),
			"updated_at":          now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark queue entry %s sent: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Retry tolerance: a previous attempt may have already applied this update
	entry, err := r.ByID(ctx, id)
	if err != nil {
		return err
	}
	if entry != nil && entry.Status == models.QueueStatusSent &&
		entry.ProviderMessageID != nil && *entry.ProviderMessageID == providerMessageID {
		return nil
	}
	return fmt.Errorf("mark sent for entry %s: %w", id, ErrStaleTransition)
}

// MarkFailed terminally fails a claimed entry after a permanent send error
// or attempt exhaustion
func (r *QueueRepositoryImpl) MarkFailed(ctx context.Context, id string, sendErr string, now time.Time) error {
	db := r.getDB(ctx)

	res := db.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.QueueStatusClaimed).
		Updates(map[string]any{
			"status":        models.QueueStatusFailed,
			"last_error":    sendErr,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark queue entry %s failed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark failed for entry %s: %w", id, ErrStaleTransition)
	}
	return nil
}

// Reschedule returns a claimed entry to pending at a later slot after a
// transient send error
func (r *QueueRepositoryImpl) Reschedule(ctx context.Context, id string, nextAt time.Time, sendErr string, now time.Time) error {
	db := r.getDB(ctx)

	res := db.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.QueueStatusClaimed).
		Updates(map[string]any{
			"status":        models.QueueStatusPending,
			"scheduled_for": nextAt,
			"last_error":    sendErr,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"claimed_by":    nil,
			"claimed_at":    nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to reschedule queue entry %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reschedule for entry %s: %w", id, ErrStaleTransition)
	}
	return nil
}

// deliveryPredecessors lists the statuses a webhook transition may move from.
// Conditioning the UPDATE on them makes replayed events no-ops and keeps
// terminal entries closed.
var deliveryPredecessors = map[models.QueueStatus][]models.QueueStatus{
	models.QueueStatusDelivered: {models.QueueStatusSent},
	models.QueueStatusRead:      {models.QueueStatusSent, models.QueueStatusDelivered},
	models.QueueStatusReplied:   {models.QueueStatusSent, models.QueueStatusDelivered, models.QueueStatusRead},
	models.QueueStatusFailed:    {models.QueueStatusSent, models.QueueStatusDelivered, models.QueueStatusRead},
}

// AdvanceDelivery applies a webhook-driven forward transition
func (r *QueueRepositoryImpl) AdvanceDelivery(ctx context.Context, id string, target models.QueueStatus, detail string, now time.Time) (bool, error) {
	preds, ok := deliveryPredecessors[target]
	if !ok {
		return false, fmt.Errorf("advance delivery: %s is not a webhook-reachable status", target)
	}

	updates := map[string]any{
		"status":     target,
		"updated_at": now,
	}
	if target == models.QueueStatusFailed && detail != "" {
		updates["last_error"] = detail
	}

	db := r.getDB(ctx)
	res := db.Model(&models.QueueEntry{}).
		Where("id = ? AND status IN ?", id, preds).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to advance queue entry %s to %s: %w", id, target, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Skip cancels a pending entry; claims in flight and completed sends are
// never skipped
func (r *QueueRepositoryImpl) Skip(ctx context.Context, id string, reason string, now time.Time) error {
	db := r.getDB(ctx)

	res := db.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.QueueStatusPending).
		Updates(map[string]any{
			"status":     models.QueueStatusSkipped,
			"last_error": reason,
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to skip queue entry %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("skip for entry %s: %w", id, ErrStaleTransition)
	}
	return nil
}

// ReclaimStale recovers entries stuck in claimed past the cutoff (worker
// crashed mid-send). Attempts are incremented so a crash loop cannot
// redispatch forever; entries out of attempts fail instead.
func (r *QueueRepositoryImpl) ReclaimStale(ctx context.Context, claimedBefore time.Time, maxAttempts int, now time.Time) (reclaimed []string, err error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return nil, err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	if err = db.Raw(`
		UPDATE send_queue
		SET status = 'pending', attempt_count = attempt_count + 1,
		    claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE status = 'claimed' AND claimed_at < ? AND attempt_count + 1 < ?
		RETURNING id`,
		now, claimedBefore, maxAttempts,
	).Scan(&reclaimed).Error; err != nil {
		return nil, fmt.Errorf("failed to reclaim stale claims: %w", err)
	}

	res := db.Model(&models.QueueEntry{}).
		Where("status = ? AND claimed_at < ? AND attempt_count + 1 >= ?",
			models.QueueStatusClaimed, claimedBefore, maxAttempts).
		Updates(map[string]any{
			"status":        models.QueueStatusFailed,
			"last_error":    "max attempts exceeded after stale claim",
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to fail exhausted stale claims: %w", res.Error)
	}
	return reclaimed, nil
}

// ActiveByIdentityKey returns the pending/claimed entry holding the key
func (r *QueueRepositoryImpl) ActiveByIdentityKey(ctx context.Context, identityKey string) (*models.QueueEntry, error) {
	db := r.getDB(ctx)

	var entry models.QueueEntry
	err := db.Where("identity_key = ? AND status IN ?", identityKey,
		[]models.QueueStatus{models.QueueStatusPending, models.QueueStatusClaimed}).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active entry for identity key: %w", err)
	}
	return &entry, nil
}

// slotConsumingStatuses are the statuses that occupy a scheduling slot for
// cap and cursor purposes; failed and skipped entries free their slot
var slotConsumingStatuses = []models.QueueStatus{
	models.QueueStatusPending, models.QueueStatusClaimed, models.QueueStatusSent,
	models.QueueStatusDelivered, models.QueueStatusRead, models.QueueStatusReplied,
}

// MaxScheduledFor returns the account's scheduling cursor base
func (r *QueueRepositoryImpl) MaxScheduledFor(ctx context.Context, accountID string) (*time.Time, error) {
	db := r.getDB(ctx)

	var maxAt *time.Time
	err := db.Model(&models.QueueEntry{}).
		Where("account_id = ? AND status IN ?", accountID, slotConsumingStatuses).
		Select("MAX(scheduled_for)").
		Scan(&maxAt).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute max scheduled_for for account %s: %w", accountID, err)
	}
	return maxAt, nil
}

// CountScheduledBetween counts slot-consuming entries in [from, to)
func (r *QueueRepositoryImpl) CountScheduledBetween(ctx context.Context, accountID string, from, to time.Time) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.QueueEntry{}).
		Where("account_id = ? AND status IN ? AND scheduled_for >= ? AND scheduled_for < ?",
			accountID, slotConsumingStatuses, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled entries for account %s: %w", accountID, err)
	}
	return count, nil
}

func (r *QueueRepositoryImpl) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.QueueEntry, error) {
	db := r.getDB(ctx)

	var entry models.QueueEntry
	err := db.Where("provider_message_id = ?", providerMessageID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find entry by provider message id: %w", err)
	}
	return &entry, nil
}

// RecentSentByThread is the webhook fallback match for providers that do not
// echo the message id: only sent entries inside the recency window qualify,
// so terminal entries are never reopened
func (r *QueueRepositoryImpl) RecentSentByThread(ctx context.Context, providerThreadID string, since time.Time) (*models.QueueEntry, error) {
	db := r.getDB(ctx)

	var entry models.QueueEntry
	err := db.Where("provider_thread_id = ? AND status = ? AND sent_at >= ?",
		providerThreadID, models.QueueStatusSent, since).
		Order("sent_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find entry by provider thread id: %w", err)
	}
	return &entry, nil
}

// CountsByStatus aggregates entry counts for the inspection API
func (r *QueueRepositoryImpl) CountsByStatus(ctx context.Context, filter models.QueueEntryFilter) (map[models.QueueStatus]int64, error) {
	db := r.getDB(ctx)

	type row struct {
		Status models.QueueStatus
		Count  int64
	}
	var rows []row
	query := r.applyFilter(db.Model(&models.QueueEntry{}), filter)
	if err := query.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate queue counts: %w", err)
	}

	counts := make(map[models.QueueStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (r *QueueRepositoryImpl) applyFilter(db *gorm.DB, f models.QueueEntryFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.ContactID != nil {
		db = db.Where("contact_id = ?", *f.ContactID)
	}
	if f.AccountID != nil {
		db = db.Where("account_id = ?", *f.AccountID)
	}
	if f.Channel != nil {
		db = db.Where("channel = ?", *f.Channel)
	}
	if f.IdentityKey != nil {
		db = db.Where("identity_key = ?", *f.IdentityKey)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.ScheduledAfter != nil {
		db = db.Where("scheduled_for >= ?", *f.ScheduledAfter)
	}
	if f.ScheduledBefore != nil {
		db = db.Where("scheduled_for < ?", *f.ScheduledBefore)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *QueueRepositoryImpl) ByFilter(ctx context.Context, filter models.QueueEntryFilter, orderBy string, limit, offset int) ([]*models.QueueEntry, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.QueueEntry{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.QueueEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *QueueRepositoryImpl) Count(ctx context.Context, filter models.QueueEntryFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.QueueEntry{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
