// Package testing provides test utilities and database setup for testing the send-queue service
package testing

import (
	"fmt"
	"time"

	"github.com/atherial/sendqueue/models"
	"github.com/google/uuid"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestCampaign creates an active campaign with default scheduling
func (tf *TestFixtures) CreateTestCampaign(status models.CampaignStatus) (*models.Campaign, error) {
	campaign := &models.Campaign{
		ID:         uuid.New().String(),
		Name:       fmt.Sprintf("test-campaign-%s", uuid.New().String()[:8]),
		Status:     status,
		Scheduling: models.DefaultSchedulingConfig(),
	}
	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}
	return campaign, nil
}

// CreateTestAccount creates an active sending account with default scheduling
func (tf *TestFixtures) CreateTestAccount() (*models.SendingAccount, error) {
	account := &models.SendingAccount{
		ID:                uuid.New().String(),
		Name:              fmt.Sprintf("test-account-%s", uuid.New().String()[:8]),
		Status:            models.AccountStatusActive,
		ProviderAccountID: fmt.Sprintf("prov-%s", uuid.New().String()[:8]),
		Scheduling:        models.DefaultSchedulingConfig(),
	}
	if err := tf.DB.DB.Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create test account: %w", err)
	}
	return account, nil
}

// CreateTestEntry creates a queue entry in the given status scheduled at
// scheduledFor, wired to the campaign and account
func (tf *TestFixtures) CreateTestEntry(campaign *models.Campaign, account *models.SendingAccount, status models.QueueStatus, scheduledFor time.Time) (*models.QueueEntry, error) {
	contactID := uuid.New().String()
	entry := &models.QueueEntry{
		ID:           uuid.New().String(),
		CampaignID:   campaign.ID,
		ContactID:    contactID,
		AccountID:    account.ID,
		Channel:      models.ChannelEmail,
		RecipientRef: fmt.Sprintf("%s@example.com", contactID[:8]),
		IdentityKey:  models.IdentityKeyFor(campaign.ID, contactID),
		Priority:     5,
		Subject:      "Quick question",
		Body:         "Test body",
		ScheduledFor: scheduledFor,
		Status:       status,
	}
	if status == models.QueueStatusClaimed {
		worker := "test-worker"
		now := time.Now().UTC()
		entry.ClaimedBy = &worker
		entry.ClaimedAt = &now
	}
	if err := tf.DB.DB.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create test queue entry: %w", err)
	}
	return entry, nil
}
