package businessflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atherial/sendqueue/models"
	"github.com/atherial/sendqueue/repository"
)

// In-memory repositories mirroring the store's transition semantics, used by
// the flow tests in this package.

type memQueueRepo struct {
	mu      sync.Mutex
	entries map[string]*models.QueueEntry
}

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{entries: make(map[string]*models.QueueEntry)}
}

func (r *memQueueRepo) put(e *models.QueueEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries[e.ID] = &cp
}

func (r *memQueueRepo) get(id string) *models.QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (r *memQueueRepo) ByID(ctx context.Context, id any) (*models.QueueEntry, error) {
	key, _ := id.(string)
	return r.get(key), nil
}

func (r *memQueueRepo) ByFilter(ctx context.Context, filter models.QueueEntryFilter, orderBy string, limit, offset int) ([]*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.QueueEntry, 0)
	for _, e := range r.entries {
		if !matchesFilter(e, filter) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesFilter(e *models.QueueEntry, filter models.QueueEntryFilter) bool {
	if filter.CampaignID != nil && e.CampaignID != *filter.CampaignID {
		return false
	}
	if filter.AccountID != nil && e.AccountID != *filter.AccountID {
		return false
	}
	if filter.Status != nil && e.Status != *filter.Status {
		return false
	}
	if filter.ScheduledAfter != nil && e.ScheduledFor.Before(*filter.ScheduledAfter) {
		return false
	}
	if filter.ScheduledBefore != nil && !e.ScheduledFor.Before(*filter.ScheduledBefore) {
		return false
	}
	return true
}

func (r *memQueueRepo) Save(ctx context.Context, entity *models.QueueEntry) error {
	r.put(entity)
	return nil
}

func (r *memQueueRepo) SaveBatch(ctx context.Context, entities []*models.QueueEntry) error {
	for _, e := range entities {
		r.put(e)
	}
	return nil
}

func (r *memQueueRepo) Count(ctx context.Context, filter models.QueueEntryFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if matchesFilter(e, filter) {
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) Insert(ctx context.Context, entry *models.QueueEntry) error {
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

func (r *memQueueRepo) ClaimNextDue(ctx context.Context, workerID string, now time.Time, limit int) ([]*models.QueueEntry, error) {
	return nil, nil
}

func (r *memQueueRepo) MarkSent(ctx context.Context, id string, providerMessageID string, providerThreadID *string, now time.Time) error {
	return nil
}

func (r *memQueueRepo) MarkFailed(ctx context.Context, id string, sendErr string, now time.Time) error {
	return nil
}

func (r *memQueueRepo) Reschedule(ctx context.Context, id string, nextAt time.Time, sendErr string, now time.Time) error {
	return nil
}

func (r *memQueueRepo) AdvanceDelivery(ctx context.Context, id string, target models.QueueStatus, detail string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.Status.CanTransitionTo(target) {
		return false, nil
	}
	e.Status = target
	if target == models.QueueStatusFailed {
		e.LastError = detail
	}
	return true, nil
}

func (r *memQueueRepo) Skip(ctx context.Context, id string, reason string, now time.Time) error {
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

func (r *memQueueRepo) ReclaimStale(ctx context.Context, claimedBefore time.Time, maxAttempts int, now time.Time) ([]string, error) {
	return nil, nil
}

func (r *memQueueRepo) ActiveByIdentityKey(ctx context.Context, identityKey string) (*models.QueueEntry, error) {
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

func (r *memQueueRepo) MaxScheduledFor(ctx context.Context, accountID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var maxAt *time.Time
	for _, e := range r.entries {
		if e.AccountID != accountID || e.Status == models.QueueStatusFailed || e.Status == models.QueueStatusSkipped {
			continue
		}
		if maxAt == nil || e.ScheduledFor.After(*maxAt) {
			at := e.ScheduledFor
			maxAt = &at
		}
	}
	return maxAt, nil
}

func (r *memQueueRepo) CountScheduledBetween(ctx context.Context, accountID string, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.AccountID != accountID || e.Status == models.QueueStatusFailed || e.Status == models.QueueStatusSkipped {
			continue
		}
		if !e.ScheduledFor.Before(from) && e.ScheduledFor.Before(to) {
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) ByProviderMessageID(ctx context.Context, providerMessageID string) (*models.QueueEntry, error) {
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

func (r *memQueueRepo) RecentSentByThread(ctx context.Context, providerThreadID string, since time.Time) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.QueueEntry
	for _, e := range r.entries {
		if e.ProviderThreadID == nil || *e.ProviderThreadID != providerThreadID {
			continue
		}
		if e.Status != models.QueueStatusSent || e.SentAt == nil || e.SentAt.Before(since) {
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

func (r *memQueueRepo) CountsByStatus(ctx context.Context, filter models.QueueEntryFilter) (map[models.QueueStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.QueueStatus]int64)
	for _, e := range r.entries {
		if matchesFilter(e, filter) {
			out[e.Status]++
		}
	}
	return out, nil
}

type memEventRepo struct {
	mu     sync.Mutex
	events []*models.MessageEvent
}

func (r *memEventRepo) ByID(ctx context.Context, id any) (*models.MessageEvent, error) {
	return nil, nil
}

func (r *memEventRepo) ByFilter(ctx context.Context, filter models.MessageEventFilter, orderBy string, limit, offset int) ([]*models.MessageEvent, error) {
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

func (r *memEventRepo) Save(ctx context.Context, entity *models.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, entity)
	return nil
}

func (r *memEventRepo) SaveBatch(ctx context.Context, entities []*models.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, entities...)
	return nil
}

func (r *memEventRepo) Count(ctx context.Context, filter models.MessageEventFilter) (int64, error) {
	list, err := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(list)), err
}

func (r *memEventRepo) ofType(eventType models.MessageEventType) []*models.MessageEvent {
	out, _ := r.ByFilter(context.Background(), models.MessageEventFilter{EventType: &eventType}, "", 0, 0)
	return out
}

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*models.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: make(map[string]*models.Campaign)}
}

func (r *memCampaignRepo) put(c *models.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.campaigns[c.ID] = &cp
}

func (r *memCampaignRepo) ByID(ctx context.Context, id any) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _ := id.(string)
	if c, ok := r.campaigns[key]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *memCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *memCampaignRepo) Save(ctx context.Context, entity *models.Campaign) error {
	r.put(entity)
	return nil
}

func (r *memCampaignRepo) SaveBatch(ctx context.Context, entities []*models.Campaign) error {
	for _, c := range entities {
		r.put(c)
	}
	return nil
}

func (r *memCampaignRepo) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	return int64(len(r.campaigns)), nil
}

func (r *memCampaignRepo) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.Status = status
	}
	return nil
}

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.SendingAccount
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: make(map[string]*models.SendingAccount)}
}

func (r *memAccountRepo) put(a *models.SendingAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.ID] = &cp
}

func (r *memAccountRepo) ByID(ctx context.Context, id any) (*models.SendingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _ := id.(string)
	if a, ok := r.accounts[key]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *memAccountRepo) ByFilter(ctx context.Context, filter models.SendingAccountFilter, orderBy string, limit, offset int) ([]*models.SendingAccount, error) {
	return nil, nil
}

func (r *memAccountRepo) Save(ctx context.Context, entity *models.SendingAccount) error {
	r.put(entity)
	return nil
}

func (r *memAccountRepo) SaveBatch(ctx context.Context, entities []*models.SendingAccount) error {
	for _, a := range entities {
		r.put(a)
	}
	return nil
}

func (r *memAccountRepo) Count(ctx context.Context, filter models.SendingAccountFilter) (int64, error) {
	return int64(len(r.accounts)), nil
}

func (r *memAccountRepo) ByProviderAccountID(ctx context.Context, providerAccountID string) (*models.SendingAccount, error) {
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
