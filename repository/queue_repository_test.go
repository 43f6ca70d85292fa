package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/atherial/sendqueue/models"
	testutil "github.com/atherial/sendqueue/testing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupQueueRepoTest provisions a disposable database; tests are skipped when
// no PostgreSQL server is reachable (TEST_DB_* environment variables)
func setupQueueRepoTest(t *testing.T) (QueueRepository, *testutil.TestFixtures) {
	t.Helper()

	db, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("skipping database test: %v", err)
	}
	t.Cleanup(func() {
		if err := db.TeardownTestDB(); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})

	return NewQueueRepository(db.DB), testutil.NewTestFixtures(db)
}

func dbNow() time.Time {
	// PostgreSQL timestamps carry microsecond precision
	return time.Now().UTC().Truncate(time.Microsecond)
}

func TestInsertEnforcesIdentityUniqueness(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	contactID := uuid.New().String()
	entry := &models.QueueEntry{
		ID:           uuid.New().String(),
		CampaignID:   campaign.ID,
		ContactID:    contactID,
		AccountID:    account.ID,
		Channel:      models.ChannelEmail,
		RecipientRef: "contact@example.com",
		IdentityKey:  models.IdentityKeyFor(campaign.ID, contactID),
		Body:         "Hello",
		ScheduledFor: dbNow().Add(time.Hour),
	}
	require.NoError(t, repo.Insert(ctx, entry))

	// A second active entry for the same campaign and contact is rejected
	dup := *entry
	dup.ID = uuid.New().String()
	err = repo.Insert(ctx, &dup)
	require.ErrorIs(t, err, ErrDuplicateIdentity)

	// Once the first entry is terminal the identity key frees up
	require.NoError(t, repo.Skip(ctx, entry.ID, "cancelled", dbNow()))
	dup.ID = uuid.New().String()
	require.NoError(t, repo.Insert(ctx, &dup))
}

func TestClaimNextDue(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	paused, err := fixtures.CreateTestCampaign(models.CampaignStatusPaused)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	due1, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(-10*time.Minute))
	require.NoError(t, err)
	due2, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(-5*time.Minute))
	require.NoError(t, err)
	future, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(time.Hour))
	require.NoError(t, err)
	pausedEntry, err := fixtures.CreateTestEntry(paused, account, models.QueueStatusPending, now.Add(-10*time.Minute))
	require.NoError(t, err)

	claimed, err := repo.ClaimNextDue(ctx, "worker-a", now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Oldest slot first
	assert.Equal(t, due1.ID, claimed[0].ID)
	assert.Equal(t, due2.ID, claimed[1].ID)
	for _, e := range claimed {
		assert.Equal(t, models.QueueStatusClaimed, e.Status)
		require.NotNil(t, e.ClaimedBy)
		assert.Equal(t, "worker-a", *e.ClaimedBy)
		assert.NotNil(t, e.ClaimedAt)
	}

	// Future entries and paused campaigns stay pending
	got, err := repo.ByID(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)
	got, err = repo.ByID(ctx, pausedEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)

	// A second claim pass finds nothing left
	claimed, err = repo.ClaimNextDue(ctx, "worker-b", now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimNextDueConcurrentWorkers(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	const entryCount = 20
	const workerCount = 5
	for i := 0; i < entryCount; i++ {
		_, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(-time.Hour))
		require.NoError(t, err)
	}

	results := make([][]*models.QueueEntry, workerCount)
	errs := make([]error, workerCount)
	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			worker := fmt.Sprintf("worker-%d", w)
			results[w], errs[w] = repo.ClaimNextDue(ctx, worker, now, entryCount)
		}(w)
	}
	wg.Wait()

	// Every entry is claimed by exactly one worker
	claimedBy := make(map[string]string)
	for w, claimed := range results {
		require.NoError(t, errs[w])
		for _, e := range claimed {
			prev, seen := claimedBy[e.ID]
			assert.False(t, seen, "entry %s claimed by both %s and %s", e.ID, prev, *e.ClaimedBy)
			claimedBy[e.ID] = *e.ClaimedBy
		}
	}
	assert.Len(t, claimedBy, entryCount)
}

func TestClaimNextDueRespectsLimit(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(-time.Hour))
		require.NoError(t, err)
	}

	claimed, err := repo.ClaimNextDue(ctx, "worker-a", now, 3)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)
}

func TestMarkSent(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)
	entry, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Minute))
	require.NoError(t, err)

	threadID := "chat-1"
	require.NoError(t, repo.MarkSent(ctx, entry.ID, "pm-1", &threadID, now))

	got, err := repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusSent, got.Status)
	require.NotNil(t, got.ProviderMessageID)
	assert.Equal(t, "pm-1", *got.ProviderMessageID)
	require.NotNil(t, got.ProviderThreadID)
	assert.Equal(t, "chat-1", *got.ProviderThreadID)
	assert.Equal(t, 1, got.AttemptCount)
	assert.NotNil(t, got.SentAt)

	// Re-running with the same provider message id is a no-op
	require.NoError(t, repo.MarkSent(ctx, entry.ID, "pm-1", &threadID, dbNow()))
	got, err = repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptCount)

	// A different provider message id on a sent entry is stale
	err = repo.MarkSent(ctx, entry.ID, "pm-2", nil, dbNow())
	require.ErrorIs(t, err, ErrStaleTransition)
}

func TestMarkSentRequiresClaim(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)
	entry, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(time.Hour))
	require.NoError(t, err)

	err = repo.MarkSent(ctx, entry.ID, "pm-1", nil, now)
	require.ErrorIs(t, err, ErrStaleTransition)
}

func TestMarkFailedAndReschedule(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	failing, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, failing.ID, "invalid recipient", now))
	got, err := repo.ByID(ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, got.Status)
	assert.Equal(t, "invalid recipient", got.LastError)
	assert.Equal(t, 1, got.AttemptCount)

	retrying, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Minute))
	require.NoError(t, err)
	nextAt := now.Add(4 * time.Minute)
	require.NoError(t, repo.Reschedule(ctx, retrying.ID, nextAt, "timeout", now))
	got, err = repo.ByID(ctx, retrying.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)
	assert.True(t, got.ScheduledFor.Equal(nextAt), "rescheduled slot mismatch: %s != %s", got.ScheduledFor, nextAt)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.ClaimedBy)
	assert.Nil(t, got.ClaimedAt)

	// Both operations demand a claimed entry
	require.ErrorIs(t, repo.MarkFailed(ctx, retrying.ID, "x", now), ErrStaleTransition)
	require.ErrorIs(t, repo.Reschedule(ctx, failing.ID, nextAt, "x", now), ErrStaleTransition)
}

func TestAdvanceDeliveryForwardOnly(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)
	entry, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, entry.ID, "pm-1", nil, now))

	applied, err := repo.AdvanceDelivery(ctx, entry.ID, models.QueueStatusDelivered, "", now)
	require.NoError(t, err)
	assert.True(t, applied)

	// Replay of the same event does not apply twice
	applied, err = repo.AdvanceDelivery(ctx, entry.ID, models.QueueStatusDelivered, "", now)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.AdvanceDelivery(ctx, entry.ID, models.QueueStatusRead, "", now)
	require.NoError(t, err)
	assert.True(t, applied)

	// Out-of-order delivered after read never moves the entry backward
	applied, err = repo.AdvanceDelivery(ctx, entry.ID, models.QueueStatusDelivered, "", now)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.AdvanceDelivery(ctx, entry.ID, models.QueueStatusReplied, "", now)
	require.NoError(t, err)
	assert.True(t, applied)

	// Replied is terminal
	applied, err = repo.AdvanceDelivery(ctx, entry.ID, models.QueueStatusFailed, "late bounce", now)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestAdvanceDeliveryFailureRecordsDetail(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)
	entry, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, entry.ID, "pm-1", nil, now))

	applied, err := repo.AdvanceDelivery(ctx, entry.ID, models.QueueStatusFailed, "mailbox full", now)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.ByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, got.Status)
	assert.Equal(t, "mailbox full", got.LastError)
}

func TestSkipOnlyPendingEntries(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	pending, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(time.Hour))
	require.NoError(t, err)
	claimed, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Minute))
	require.NoError(t, err)

	require.NoError(t, repo.Skip(ctx, pending.ID, "contact unsubscribed", now))
	got, err := repo.ByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusSkipped, got.Status)
	assert.Equal(t, "contact unsubscribed", got.LastError)

	require.ErrorIs(t, repo.Skip(ctx, claimed.ID, "too late", now), ErrStaleTransition)
}

func TestReclaimStale(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	stale, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Hour))
	require.NoError(t, err)
	exhausted, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Hour))
	require.NoError(t, err)
	fresh, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Hour))
	require.NoError(t, err)

	oldClaim := now.Add(-30 * time.Minute)
	require.NoError(t, fixtures.DB.DB.Model(&models.QueueEntry{}).
		Where("id IN ?", []string{stale.ID, exhausted.ID}).
		Update("claimed_at", oldClaim).Error)
	require.NoError(t, fixtures.DB.DB.Model(&models.QueueEntry{}).
		Where("id = ?", exhausted.ID).
		Update("attempt_count", 4).Error)

	cutoff := now.Add(-10 * time.Minute)
	reclaimed, err := repo.ReclaimStale(ctx, cutoff, 5, now)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stale.ID, reclaimed[0])

	got, err := repo.ByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.ClaimedBy)

	// Out of attempts: failed instead of retried
	got, err = repo.ByID(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, got.Status)
	assert.Equal(t, 5, got.AttemptCount)

	// Claims newer than the cutoff are untouched
	got, err = repo.ByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusClaimed, got.Status)
}

func TestSchedulingCursorQueries(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	maxAt, err := repo.MaxScheduledFor(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, maxAt)

	early := now.Add(time.Hour)
	late := now.Add(3 * time.Hour)
	_, err = fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, early)
	require.NoError(t, err)
	_, err = fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, late)
	require.NoError(t, err)

	// Failed and skipped entries free their slots
	freed, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(5*time.Hour))
	require.NoError(t, err)
	require.NoError(t, fixtures.DB.DB.Model(&models.QueueEntry{}).
		Where("id = ?", freed.ID).
		Update("status", models.QueueStatusFailed).Error)

	maxAt, err = repo.MaxScheduledFor(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, maxAt)
	assert.True(t, maxAt.Equal(late), "cursor mismatch: %s != %s", maxAt, late)

	count, err := repo.CountScheduledBetween(ctx, account.ID, now, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = repo.CountScheduledBetween(ctx, account.ID, now, now.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRecentSentByThread(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	entry, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Hour))
	require.NoError(t, err)
	threadID := "chat-9"
	require.NoError(t, repo.MarkSent(ctx, entry.ID, "pm-9", &threadID, now.Add(-time.Hour)))

	got, err := repo.RecentSentByThread(ctx, "chat-9", now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ID, got.ID)

	// Outside the recency window nothing matches
	got, err = repo.RecentSentByThread(ctx, "chat-9", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.ByProviderMessageID(ctx, "pm-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ID, got.ID)
}

func TestCountsByStatus(t *testing.T) {
	repo, fixtures := setupQueueRepoTest(t)
	ctx := context.Background()
	now := dbNow()

	campaign, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	other, err := fixtures.CreateTestCampaign(models.CampaignStatusActive)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := fixtures.CreateTestEntry(campaign, account, models.QueueStatusPending, now.Add(time.Hour))
		require.NoError(t, err)
	}
	_, err = fixtures.CreateTestEntry(campaign, account, models.QueueStatusClaimed, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = fixtures.CreateTestEntry(other, account, models.QueueStatusPending, now.Add(time.Hour))
	require.NoError(t, err)

	counts, err := repo.CountsByStatus(ctx, models.QueueEntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[models.QueueStatusPending])
	assert.Equal(t, int64(1), counts[models.QueueStatusClaimed])

	counts, err = repo.CountsByStatus(ctx, models.QueueEntryFilter{CampaignID: &campaign.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.QueueStatusPending])
}
