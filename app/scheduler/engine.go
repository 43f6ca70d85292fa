package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/atherial/sendqueue/models"
	"github.com/atherial/sendqueue/repository"
	"github.com/atherial/sendqueue/utils"
	"github.com/google/uuid"
)

// MessageToSchedule is one upstream-produced message awaiting a slot.
// Content and ICP filtering happened upstream; the engine only assigns time.
type MessageToSchedule struct {
	ID           string
	CampaignID   string
	ContactID    string
	AccountID    string
	Channel      string
	RecipientRef string
	SequenceStep *int
	Priority     int
	Subject      string
	Body         string
}

// BatchResult summarizes one scheduling run
type BatchResult struct {
	Scheduled  []*models.QueueEntry
	Duplicates int
	Failed     int
}

// Engine assigns send slots that respect the account's daily cap, local
// send window and inter-message spacing, continuing after the latest slot
// already booked for each account so repeated runs append instead of collide
type Engine struct {
	queueRepo    repository.QueueRepository
	eventRepo    repository.MessageEventRepository
	campaignRepo repository.CampaignRepository
	accountRepo  repository.SendingAccountRepository
	locks        *AccountLocker
	logger       *log.Logger

	now    func() time.Time
	jitter func(min, max time.Duration) time.Duration
}

func NewEngine(
	queueRepo repository.QueueRepository,
	eventRepo repository.MessageEventRepository,
	campaignRepo repository.CampaignRepository,
	accountRepo repository.SendingAccountRepository,
	locks *AccountLocker,
	logger *log.Logger,
) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		queueRepo:    queueRepo,
		eventRepo:    eventRepo,
		campaignRepo: campaignRepo,
		accountRepo:  accountRepo,
		locks:        locks,
		logger:       logger,
		now:          utils.UTCNow,
		jitter:       uniformJitter,
	}
}

// uniformJitter draws a spacing delay uniformly from [min, max]
func uniformJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// ScheduleBatch assigns slots for all messages in submission order and
// inserts them as pending queue entries. A duplicate identity skips that
// message only; the batch always continues.
func (e *Engine) ScheduleBatch(ctx context.Context, campaignID string, msgs []MessageToSchedule) (*BatchResult, error) {
	result := &BatchResult{}
	if len(msgs) == 0 {
		return result, nil
	}

	campaign, err := e.campaignRepo.ByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("schedule batch: load campaign %s: %w", campaignID, err)
	}

	// Group by account preserving submission order; cursors are
	// account-scoped so groups schedule independently
	accountOrder := make([]string, 0, 4)
	byAccount := make(map[string][]MessageToSchedule)
	for _, m := range msgs {
		if _, seen := byAccount[m.AccountID]; !seen {
			accountOrder = append(accountOrder, m.AccountID)
		}
		byAccount[m.AccountID] = append(byAccount[m.AccountID], m)
	}

	for _, accountID := range accountOrder {
		if err := e.scheduleForAccount(ctx, campaign, campaignID, accountID, byAccount[accountID], result); err != nil {
			return result, err
		}
	}

	e.logger.Printf("engine: campaign id=%s scheduled=%d duplicates=%d failed=%d",
		campaignID, len(result.Scheduled), result.Duplicates, result.Failed)
	return result, nil
}

func (e *Engine) scheduleForAccount(ctx context.Context, campaign *models.Campaign, campaignID, accountID string, msgs []MessageToSchedule, result *BatchResult) error {
	release, err := e.locks.Acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	cfg, err := e.resolveConfig(ctx, campaign, accountID)
	if err != nil {
		return err
	}

	// Durable cursor: continue after the latest slot already booked for
	// this account, recomputed from the store rather than held in memory
	cursor := e.now()
	if maxAt, err := e.queueRepo.MaxScheduledFor(ctx, accountID); err != nil {
		return fmt.Errorf("schedule batch: cursor for account %s: %w", accountID, err)
	} else if maxAt != nil && maxAt.After(cursor) {
		cursor = *maxAt
	}

	dayCounts := make(map[int64]int64)
	entries := make([]*models.QueueEntry, 0, len(msgs))

	for _, m := range msgs {
		scheduledFor, next, err := e.nextSlot(ctx, accountID, cursor, cfg, dayCounts)
		if err != nil {
			return err
		}
		cursor = next

		id := m.ID
		if id == "" {
			id = uuid.New().String()
		}
		entries = append(entries, &models.QueueEntry{
			ID:           id,
			CampaignID:   campaignID,
			ContactID:    m.ContactID,
			AccountID:    accountID,
			Channel:      models.NormalizeChannel(m.Channel),
			RecipientRef: m.RecipientRef,
			IdentityKey:  models.IdentityKeyFor(campaignID, m.ContactID),
			SequenceStep: m.SequenceStep,
			Priority:     m.Priority,
			Subject:      m.Subject,
			Body:         m.Body,
			ScheduledFor: scheduledFor,
			Status:       models.QueueStatusPending,
		})
	}

	events := make([]*models.MessageEvent, 0, len(entries))
	for _, entry := range entries {
		if err := e.queueRepo.Insert(ctx, entry); err != nil {
			if errors.Is(err, repository.ErrDuplicateIdentity) {
				e.logger.Printf("engine: duplicate identity key=%s campaign id=%s, skipping", entry.IdentityKey, campaignID)
				duplicateIdentityTotal.Inc()
				result.Duplicates++
				continue
			}
			e.logger.Printf("engine: insert failed for entry id=%s: %v", entry.ID, err)
			result.Failed++
			continue
		}

		result.Scheduled = append(result.Scheduled, entry)
		entriesScheduledTotal.WithLabelValues(string(entry.Channel)).Inc()
		events = append(events, queuedEvent(entry))
	}

	if len(events) > 0 {
		if err := e.eventRepo.SaveBatch(ctx, events); err != nil {
			e.logger.Printf("engine: failed to record queued events for campaign id=%s: %v", campaignID, err)
		}
	}
	return nil
}

// nextSlot advances the cursor to the next instant satisfying window, cap
// and spacing constraints. The horizon is unbounded: full or invalid days
// are walked one at a time.
func (e *Engine) nextSlot(ctx context.Context, accountID string, cursor time.Time, cfg models.SchedulingConfig, dayCounts map[int64]int64) (time.Time, time.Time, error) {
	for {
		cursor = NextWindowStart(cursor, cfg)

		dayStart, dayEnd := LocalDayBounds(cursor, cfg)
		used, err := e.dayCount(ctx, accountID, dayStart, dayEnd, dayCounts)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if used >= int64(cfg.DailyLimit) {
			cursor = NextDayWindowStart(cursor, cfg)
			continue
		}

		candidate := cursor.Add(e.jitter(cfg.MinInterval, cfg.MaxInterval))
		if !candidate.Before(WindowEndOn(cursor, cfg)) {
			// Jitter would overflow today's window: push to the next
			// valid day instead of sending after hours
			cursor = NextDayWindowStart(cursor, cfg)
			continue
		}

		dayCounts[dayStart.Unix()] = used + 1
		return candidate, candidate, nil
	}
}

// dayCount returns slots already consumed on the day, counting both stored
// entries and the ones assigned earlier in this run
func (e *Engine) dayCount(ctx context.Context, accountID string, dayStart, dayEnd time.Time, dayCounts map[int64]int64) (int64, error) {
	key := dayStart.Unix()
	if cached, ok := dayCounts[key]; ok {
		return cached, nil
	}
	stored, err := e.queueRepo.CountScheduledBetween(ctx, accountID, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("count scheduled for account %s: %w", accountID, err)
	}
	dayCounts[key] = stored
	return stored, nil
}

// resolveConfig prefers the campaign's scheduling config, falling back to
// the account's, then to platform defaults
func (e *Engine) resolveConfig(ctx context.Context, campaign *models.Campaign, accountID string) (models.SchedulingConfig, error) {
	if campaign != nil && !schedulingConfigUnset(campaign.Scheduling) {
		return campaign.Scheduling.Normalized(), nil
	}

	account, err := e.accountRepo.ByID(ctx, accountID)
	if err != nil {
		return models.SchedulingConfig{}, fmt.Errorf("resolve scheduling config for account %s: %w", accountID, err)
	}
	if account != nil && !schedulingConfigUnset(account.Scheduling) {
		return account.Scheduling.Normalized(), nil
	}
	return models.DefaultSchedulingConfig(), nil
}

func schedulingConfigUnset(cfg models.SchedulingConfig) bool {
	return cfg.DailyLimit == 0 && cfg.Timezone == "" && len(cfg.SendDays) == 0
}

func queuedEvent(entry *models.QueueEntry) *models.MessageEvent {
	data, _ := json.Marshal(map[string]any{
		"source":        "scheduling-engine",
		"scheduled_for": entry.ScheduledFor,
	})
	return &models.MessageEvent{
		SendQueueID: &entry.ID,
		CampaignID:  &entry.CampaignID,
		ContactID:   &entry.ContactID,
		AccountID:   &entry.AccountID,
		EventType:   models.MessageEventQueued,
		EventData:   data,
	}
}
