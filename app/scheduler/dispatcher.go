package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/atherial/sendqueue/app/services"
	"github.com/atherial/sendqueue/config"
	"github.com/atherial/sendqueue/models"
	"github.com/atherial/sendqueue/repository"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Dispatcher drains the send queue: each tick it claims due entries for this
// worker, hands them to the channel adapter, and records the outcome. Crashed
// workers leave entries in claimed; the reclaim loop returns those to pending.
type Dispatcher struct {
	queueRepo   repository.QueueRepository
	eventRepo   repository.MessageEventRepository
	accountRepo repository.SendingAccountRepository
	adapter     services.ChannelAdapter
	cfg         config.DispatcherConfig
	logger      *log.Logger

	now func() time.Time
}

func NewDispatcher(
	queueRepo repository.QueueRepository,
	eventRepo repository.MessageEventRepository,
	accountRepo repository.SendingAccountRepository,
	adapter services.ChannelAdapter,
	cfg config.DispatcherConfig,
	logCfg config.LoggingConfig,
) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	return &Dispatcher{
		queueRepo:   queueRepo,
		eventRepo:   eventRepo,
		accountRepo: accountRepo,
		adapter:     adapter,
		cfg:         cfg,
		logger:      newDispatcherLogger(logCfg),
		now:         time.Now,
	}
}

// newDispatcherLogger writes to stdout and a size-rotated file so dispatch
// history survives restarts without growing unbounded
func newDispatcherLogger(cfg config.LoggingConfig) *log.Logger {
	if cfg.FilePath == "" {
		return log.New(os.Stdout, "dispatcher ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	}
	rotor := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	mw := io.MultiWriter(os.Stdout, rotor)
	return log.New(mw, "dispatcher ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Start launches the dispatch and reclaim loops in background goroutines and
// returns a stop function
func (d *Dispatcher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()

		d.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.runOnce(ctx)
			}
		}
	}()

	go d.startReclaimLoop(ctx)

	return cancel
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	now := d.now()

	entries, err := d.queueRepo.ClaimNextDue(ctx, d.cfg.WorkerID, now, d.cfg.BatchLimit)
	if err != nil {
		d.logger.Printf("dispatcher: claim failed: %v", err)
		return
	}
	d.samplePendingDepth(ctx)
	if len(entries) == 0 {
		return
	}
	d.logger.Printf("dispatcher: claimed %d entries worker=%s", len(entries), d.cfg.WorkerID)
	d.recordClaims(ctx, entries)

	// Entries are claimed exclusively, so concurrent dispatch is safe. The
	// wait bounds in-flight sends to one batch per tick.
	var wg sync.WaitGroup
	for _, entry := range entries {
		e := entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.dispatch(ctx, e)
		}()
	}
	wg.Wait()
}

// recordClaims writes one claimed audit event per claimed entry
func (d *Dispatcher) recordClaims(ctx context.Context, entries []*models.QueueEntry) {
	events := make([]*models.MessageEvent, 0, len(entries))
	for _, entry := range entries {
		data, _ := json.Marshal(map[string]any{
			"worker_id": d.cfg.WorkerID,
			"attempt":   entry.AttemptCount + 1,
		})
		events = append(events, &models.MessageEvent{
			SendQueueID: &entry.ID,
			CampaignID:  &entry.CampaignID,
			ContactID:   &entry.ContactID,
			AccountID:   &entry.AccountID,
			EventType:   models.MessageEventClaimed,
			EventData:   data,
		})
	}
	if err := d.eventRepo.SaveBatch(ctx, events); err != nil {
		d.logger.Printf("dispatcher: failed to record claim events: %v", err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, entry *models.QueueEntry) {
	sendCtx := ctx
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	result, err := d.adapter.Send(sendCtx, services.SendRequest{
		EntryID:           entry.ID,
		TrackingID:        entry.ID,
		ProviderAccountID: d.providerAccountID(ctx, entry.AccountID),
		Channel:           entry.Channel,
		RecipientRef:      entry.RecipientRef,
		Subject:           entry.Subject,
		Body:              entry.Body,
	})
	now := d.now()

	if err != nil {
		d.handleSendFailure(ctx, entry, err, now)
		return
	}

	if err := d.queueRepo.MarkSent(ctx, entry.ID, result.ProviderMessageID, result.ProviderThreadID, now); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			d.logger.Printf("dispatcher: entry id=%s left claimed before mark sent could land: %v", entry.ID, err)
			return
		}
		d.logger.Printf("dispatcher: mark sent failed for entry id=%s: %v", entry.ID, err)
		return
	}

	sendAttemptsTotal.WithLabelValues(string(entry.Channel), "sent").Inc()
	d.logger.Printf("dispatcher: sent entry id=%s channel=%s provider message id=%s", entry.ID, entry.Channel, result.ProviderMessageID)
	d.recordEvent(ctx, entry, models.MessageEventSent, map[string]any{
		"provider_message_id": result.ProviderMessageID,
		"attempt":             entry.AttemptCount + 1,
	})
}

func (d *Dispatcher) handleSendFailure(ctx context.Context, entry *models.QueueEntry, sendErr error, now time.Time) {
	attempt := entry.AttemptCount + 1

	if services.IsPermanentSendError(sendErr) {
		sendAttemptsTotal.WithLabelValues(string(entry.Channel), "permanent").Inc()
		d.logger.Printf("dispatcher: permanent failure for entry id=%s: %v", entry.ID, sendErr)
		if err := d.queueRepo.MarkFailed(ctx, entry.ID, sendErr.Error(), now); err != nil {
			d.logger.Printf("dispatcher: mark failed errored for entry id=%s: %v", entry.ID, err)
			return
		}
		d.recordEvent(ctx, entry, models.MessageEventSendFailed, map[string]any{
			"error":   sendErr.Error(),
			"attempt": attempt,
			"final":   true,
		})
		return
	}

	if attempt >= d.cfg.MaxAttempts {
		sendAttemptsTotal.WithLabelValues(string(entry.Channel), "exhausted").Inc()
		d.logger.Printf("dispatcher: attempts exhausted for entry id=%s after %d tries: %v", entry.ID, attempt, sendErr)
		if err := d.queueRepo.MarkFailed(ctx, entry.ID, sendErr.Error(), now); err != nil {
			d.logger.Printf("dispatcher: mark failed errored for entry id=%s: %v", entry.ID, err)
			return
		}
		d.recordEvent(ctx, entry, models.MessageEventSendFailed, map[string]any{
			"error":   sendErr.Error(),
			"attempt": attempt,
			"final":   true,
		})
		return
	}

	nextAt := now.Add(d.backoff(entry.AttemptCount))
	sendAttemptsTotal.WithLabelValues(string(entry.Channel), "transient").Inc()
	d.logger.Printf("dispatcher: transient failure for entry id=%s attempt=%d, retrying at %s: %v",
		entry.ID, attempt, nextAt.UTC().Format(time.RFC3339), sendErr)
	if err := d.queueRepo.Reschedule(ctx, entry.ID, nextAt, sendErr.Error(), now); err != nil {
		d.logger.Printf("dispatcher: reschedule failed for entry id=%s: %v", entry.ID, err)
		return
	}
	d.recordEvent(ctx, entry, models.MessageEventRescheduled, map[string]any{
		"error":   sendErr.Error(),
		"attempt": attempt,
		"next_at": nextAt.UTC(),
	})
}

// backoff doubles the base delay per prior attempt, capped
func (d *Dispatcher) backoff(priorAttempts int) time.Duration {
	base := d.cfg.BackoffBase
	if base <= 0 {
		base = 2 * time.Minute
	}
	maxDelay := d.cfg.BackoffCap
	if maxDelay <= 0 {
		maxDelay = 4 * time.Hour
	}
	if priorAttempts > 20 {
		return maxDelay
	}
	delay := base << uint(priorAttempts)
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (d *Dispatcher) startReclaimLoop(ctx context.Context) {
	interval := d.cfg.ReclaimInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reclaimOnce(ctx)
		}
	}
}

func (d *Dispatcher) reclaimOnce(ctx context.Context) {
	now := d.now()
	cutoff := now.Add(-d.cfg.ClaimTimeout)

	ids, err := d.queueRepo.ReclaimStale(ctx, cutoff, d.cfg.MaxAttempts, now)
	if err != nil {
		d.logger.Printf("dispatcher: reclaim failed: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	staleReclaimsTotal.Add(float64(len(ids)))
	d.logger.Printf("dispatcher: reclaimed %d stale entries", len(ids))

	events := make([]*models.MessageEvent, 0, len(ids))
	for _, id := range ids {
		entryID := id
		data, _ := json.Marshal(map[string]any{"claimed_before": cutoff.UTC()})
		events = append(events, &models.MessageEvent{
			SendQueueID: &entryID,
			EventType:   models.MessageEventReclaimed,
			EventData:   data,
		})
	}
	if err := d.eventRepo.SaveBatch(ctx, events); err != nil {
		d.logger.Printf("dispatcher: failed to record reclaim events: %v", err)
	}
}

// providerAccountID resolves the provider-side account handle, falling back
// to our own account id when the account row is missing
func (d *Dispatcher) providerAccountID(ctx context.Context, accountID string) string {
	account, err := d.accountRepo.ByID(ctx, accountID)
	if err != nil || account == nil || account.ProviderAccountID == "" {
		return accountID
	}
	return account.ProviderAccountID
}

func (d *Dispatcher) samplePendingDepth(ctx context.Context) {
	counts, err := d.queueRepo.CountsByStatus(ctx, models.QueueEntryFilter{})
	if err != nil {
		return
	}
	pendingDepth.Set(float64(counts[models.QueueStatusPending]))
}

func (d *Dispatcher) recordEvent(ctx context.Context, entry *models.QueueEntry, eventType models.MessageEventType, data map[string]any) {
	payload, _ := json.Marshal(data)
	event := &models.MessageEvent{
		SendQueueID: &entry.ID,
		CampaignID:  &entry.CampaignID,
		ContactID:   &entry.ContactID,
		AccountID:   &entry.AccountID,
		EventType:   eventType,
		EventData:   payload,
	}
	if err := d.eventRepo.Save(ctx, event); err != nil {
		d.logger.Printf("dispatcher: failed to record %s event for entry id=%s: %v", eventType, entry.ID, err)
	}
}
