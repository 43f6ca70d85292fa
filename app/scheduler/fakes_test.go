package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atherial/sendqueue/models"
	"github.com/atherial/sendqueue/repository"
)

// In-memory repository fakes mirroring the store's transition rules, shared
// by the engine and dispatcher tests.

type fakeQueueRepo struct {
	mu        sync.Mutex
	entries   map[string]*models.QueueEntry
	campaigns *fakeCampaignRepo
}

func newFakeQueueRepo(campaigns *fakeCampaignRepo) *fakeQueueRepo {
	return &fakeQueueRepo{
		entries:   make(map[string]*models.QueueEntry),
		campaigns: campaigns,
	}
}

func slotConsuming(s models.QueueStatus) bool {
	return s != models.QueueStatusFailed && s != models.QueueStatusSkipped
}

func (r *fakeQueueRepo) ByID(ctx context.Context, id any) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _ := id.(string)
	if e, ok := r.entries[key]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeQueueRepo) ByFilter(ctx context.Context, filter models.QueueEntryFilter, orderBy string, limit, offset int) ([]*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.QueueEntry, 0)
	for _, e := range r.entries {
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.CampaignID != nil && e.CampaignID != *filter.CampaignID {
			continue
		}
		if filter.AccountID != nil && e.AccountID != *filter.AccountID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (r *fakeQueueRepo) Save(ctx context.Context, entity *models.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entity
	r.entries[entity.ID] = &cp
	return nil
}

func (r *fakeQueueRepo) SaveBatch(ctx context.Context, entities []*models.QueueEntry) error {
	for _, e := range entities {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeQueueRepo) Count(ctx context.Context, filter models.QueueEntryFilter) (int64, error) {
	list, err := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(list)), err
}

func (r *fakeQueueRepo) Insert(ctx context.Context, entry *models.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.IdentityKey == entry.IdentityKey && e.Status.Active() {
			return repository.ErrDuplicateIdentity
		}
	}
	cp := *entry
	r.entries[entry.ID] = &cp
	return nil
}

func (r *fakeQueueRepo) ClaimNextDue(ctx context.Context, workerID string, now time.Time, limit int) ([]*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*models.QueueEntry, 0)
	for _, e := range r.entries {
		if e.Status != models.QueueStatusPending || e.ScheduledFor.After(now) {
			continue
		}
		if r.campaigns != nil && !r.campaigns.active(e.CampaignID) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.QueueEntry, 0, len(due))
	for _, e := range due {
		e.Status = models.QueueStatusClaimed
		e.ClaimedBy = &workerID
		at := now
		e.ClaimedAt = &at
		cp := *e
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (r *fakeQueueRepo) MarkSent(ctx context.Context, id string, providerMessageID string, providerThreadID *string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return repository.ErrStaleTransition
	}
	if e.Status == models.QueueStatusSent && e.ProviderMessageID != nil && *e.ProviderMessageID == providerMessageID {
		return nil
	}
	if e.Status != models.QueueStatusClaimed {
		return repository.ErrStaleTransition
	}
	e.Status = models.QueueStatusSent
	e.ProviderMessageID = &providerMessageID
	e.ProviderThreadID = providerThreadID
	at := now
	e.SentAt = &at
	e.AttemptCount++
	return nil
}

func (r *fakeQueueRepo) MarkFailed(ctx context.Context, id string, sendErr string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != models.QueueStatusClaimed {
		return repository.ErrStaleTransition
	}
	e.Status = models.QueueStatusFailed
	e.LastError = sendErr
	e.AttemptCount++
	return nil
}

func (r *fakeQueueRepo) Reschedule(ctx context.Context, id string, nextAt time.Time, sendErr string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != models.QueueStatusClaimed {
		return repository.ErrStaleTransition
	}
	e.Status = models.QueueStatusPending
	e.ScheduledFor = nextAt
	e.LastError = sendErr
	e.AttemptCount++
	e.ClaimedBy = nil
	e.ClaimedAt = nil
	return nil
}

func (r *fakeQueueRepo) AdvanceDelivery(ctx context.Context, id string, target models.QueueStatus, detail string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false, nil
	}
	if !e.Status.CanTransitionTo(target) {
		return false, nil
	}
	e.Status = target
	if target == models.QueueStatusFailed {
		e.LastError = detail
	}
	return true, nil
}

func (r *fakeQueueRepo) Skip(ctx context.Context, id string, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != models.QueueStatusPending {
		return repository.ErrStaleTransition
	}
	e.Status = models.QueueStatusSkipped
	e.LastError = reason
	return nil
}

func (r *fakeQueueRepo) ReclaimStale(ctx context.Context, claimedBefore time.Time, maxAttempts int, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reclaimed := make([]string, 0)
	for _, e := range r.entries {
		if e.Status != models.QueueStatusClaimed || e.ClaimedAt == nil || !e.ClaimedAt.Before(claimedBefore) {
			continue
		}
		if e.AttemptCount+1 >= maxAttempts {
			e.Status = models.QueueStatusFailed
			e.LastError = "claim expired"
			e.AttemptCount++
			continue
		}
		e.Status = models.QueueStatusPending
		e.AttemptCount++
		e.ClaimedBy = nil
		e.ClaimedAt = nil
		reclaimed = append(reclaimed, e.ID)
	}
	return reclaimed, nil
}

func (r *fakeQueueRepo) ActiveByIdentityKey(ctx context.Context, identityKey string) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.IdentityKey == identityKey && e.Status.Active() {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeQueueRepo) MaxScheduledFor(ctx context.Context, accountID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var maxAt *time.Time
	for _, e := range r.entries {
		if e.AccountID != accountID || !slotConsuming(e.Status) {
			continue
		}
		if maxAt == nil || e.ScheduledFor.After(*maxAt) {
			at := e.ScheduledFor
			maxAt = &at
		}
	}
	return maxAt, nil
}

func (r *fakeQueueRepo) CountScheduledBetween(ctx context.Context, accountID string, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, e := range r.entries {
		if e.AccountID != accountID || !slotConsuming(e.Status) {
			continue
		}
		if !e.ScheduledFor.Before(from) && e.ScheduledFor.Before(to) {
			count++
		}
	}
	return count, nil
}

func (r *fakeQueueRepo) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ProviderMessageID != nil && *e.ProviderMessageID == providerMessageID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeQueueRepo) RecentSentByThread(ctx context.Context, providerThreadID string, since time.Time) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.QueueEntry
	for _, e := range r.entries {
		if e.Status != models.QueueStatusSent || e.ProviderThreadID == nil || *e.ProviderThreadID != providerThreadID {
			continue
		}
		if e.SentAt == nil || e.SentAt.Before(since) {
			continue
		}
		if best == nil || e.SentAt.After(*best.SentAt) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *fakeQueueRepo) CountsByStatus(ctx context.Context, filter models.QueueEntryFilter) (map[models.QueueStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.QueueStatus]int64)
	for _, e := range r.entries {
		if filter.CampaignID != nil && e.CampaignID != *filter.CampaignID {
			continue
		}
		if filter.AccountID != nil && e.AccountID != *filter.AccountID {
			continue
		}
		out[e.Status]++
	}
	return out, nil
}

func (r *fakeQueueRepo) get(id string) *models.QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (r *fakeQueueRepo) all() []*models.QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.QueueEntry, 0, len(r.entries))
	for _, e := range r.entries {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []*models.MessageEvent
}

func (r *fakeEventRepo) ByID(ctx context.Context, id any) (*models.MessageEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) ByFilter(ctx context.Context, filter models.MessageEventFilter, orderBy string, limit, offset int) ([]*models.MessageEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.MessageEvent, 0)
	for _, e := range r.events {
		if filter.EventType != nil && e.EventType != *filter.EventType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeEventRepo) Save(ctx context.Context, entity *models.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, entity)
	return nil
}

func (r *fakeEventRepo) SaveBatch(ctx context.Context, entities []*models.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, entities...)
	return nil
}

func (r *fakeEventRepo) Count(ctx context.Context, filter models.MessageEventFilter) (int64, error) {
	list, err := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(list)), err
}

func (r *fakeEventRepo) ofType(eventType models.MessageEventType) []*models.MessageEvent {
	out, _ := r.ByFilter(context.Background(), models.MessageEventFilter{EventType: &eventType}, "", 0, 0)
	return out
}

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*models.Campaign
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[string]*models.Campaign)}
}

func (r *fakeCampaignRepo) add(c *models.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.campaigns[c.ID] = &cp
}

func (r *fakeCampaignRepo) active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	return ok && c.Dispatchable()
}

func (r *fakeCampaignRepo) ByID(ctx context.Context, id any) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _ := id.(string)
	if c, ok := r.campaigns[key]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) Save(ctx context.Context, entity *models.Campaign) error {
	r.add(entity)
	return nil
}

func (r *fakeCampaignRepo) SaveBatch(ctx context.Context, entities []*models.Campaign) error {
	for _, c := range entities {
		r.add(c)
	}
	return nil
}

func (r *fakeCampaignRepo) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	return int64(len(r.campaigns)), nil
}

func (r *fakeCampaignRepo) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.Status = status
	}
	return nil
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.SendingAccount
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*models.SendingAccount)}
}

func (r *fakeAccountRepo) add(a *models.SendingAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.ID] = &cp
}

func (r *fakeAccountRepo) ByID(ctx context.Context, id any) (*models.SendingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _ := id.(string)
	if a, ok := r.accounts[key]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeAccountRepo) ByFilter(ctx context.Context, filter models.SendingAccountFilter, orderBy string, limit, offset int) ([]*models.SendingAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) Save(ctx context.Context, entity *models.SendingAccount) error {
	r.add(entity)
	return nil
}

func (r *fakeAccountRepo) SaveBatch(ctx context.Context, entities []*models.SendingAccount) error {
	for _, a := range entities {
		r.add(a)
	}
	return nil
}

func (r *fakeAccountRepo) Count(ctx context.Context, filter models.SendingAccountFilter) (int64, error) {
	return int64(len(r.accounts)), nil
}

func (r *fakeAccountRepo) ByProviderAccountID(ctx context.Context, providerAccountID string) (*models.SendingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ProviderAccountID == providerAccountID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}
