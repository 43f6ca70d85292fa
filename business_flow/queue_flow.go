// Package businessflow contains the core business logic and use cases for send-queue workflows
package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/atherial/sendqueue/app/dto"
	"github.com/atherial/sendqueue/app/scheduler"
	"github.com/atherial/sendqueue/models"
	"github.com/atherial/sendqueue/repository"
	"github.com/atherial/sendqueue/utils"
)

// QueueFlow handles batch submission and operational queue management
type QueueFlow interface {
	SubmitBatch(ctx context.Context, req *dto.BatchScheduleRequest, metadata *ClientMetadata) (*dto.BatchScheduleResponse, error)
	SkipEntry(ctx context.Context, entryID string, req *dto.SkipQueueEntryRequest, metadata *ClientMetadata) (*dto.SkipQueueEntryResponse, error)
	GetStats(ctx context.Context, req *dto.QueueStatsRequest) (*dto.QueueStatsResponse, error)
	ListEntries(ctx context.Context, req *dto.ListQueueRequest) (*dto.ListQueueResponse, error)
	PauseCampaign(ctx context.Context, campaignID string, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error)
	ResumeCampaign(ctx context.Context, campaignID string, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error)
}

// QueueFlowImpl implements the queue management business flow
type QueueFlowImpl struct {
	engine       *scheduler.Engine
	queueRepo    repository.QueueRepository
	eventRepo    repository.MessageEventRepository
	campaignRepo repository.CampaignRepository
	logger       *log.Logger
	now          func() time.Time
}

// NewQueueFlow creates a new queue flow instance
func NewQueueFlow(
	engine *scheduler.Engine,
	queueRepo repository.QueueRepository,
	eventRepo repository.MessageEventRepository,
	campaignRepo repository.CampaignRepository,
	logger *log.Logger,
) QueueFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &QueueFlowImpl{
		engine:       engine,
		queueRepo:    queueRepo,
		eventRepo:    eventRepo,
		campaignRepo: campaignRepo,
		logger:       logger,
		now:          utils.UTCNow,
	}
}

// SubmitBatch feeds a campaign's message batch through the scheduling engine
func (s *QueueFlowImpl) SubmitBatch(ctx context.Context, req *dto.BatchScheduleRequest, metadata *ClientMetadata) (*dto.BatchScheduleResponse, error) {
	if len(req.Messages) == 0 {
		return nil, NewBusinessError("EMPTY_BATCH", "Batch contains no messages", ErrEmptyBatch)
	}

	campaign, err := s.campaignRepo.ByID(ctx, req.CampaignID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}

	msgs := make([]scheduler.MessageToSchedule, 0, len(req.Messages))
	for _, item := range req.Messages {
		msgs = append(msgs, scheduler.MessageToSchedule{
			ID:           item.ID,
			CampaignID:   req.CampaignID,
			ContactID:    item.ContactID,
			AccountID:    item.AccountID,
			Channel:      item.Channel,
			RecipientRef: item.RecipientRef,
			SequenceStep: item.SequenceStep,
			Priority:     normalizePriority(item.Priority),
			Subject:      item.Subject,
			Body:         item.Body,
		})
	}

	result, err := s.engine.ScheduleBatch(ctx, req.CampaignID, msgs)
	if err != nil {
		return nil, NewBusinessError("SCHEDULING_FAILED", "Failed to schedule batch", err)
	}

	resp := &dto.BatchScheduleResponse{
		Scheduled:      make([]dto.ScheduledEntryDTO, 0, len(result.Scheduled)),
		DuplicateCount: result.Duplicates,
		FailedCount:    result.Failed,
	}
	for _, entry := range result.Scheduled {
		resp.Scheduled = append(resp.Scheduled, dto.ScheduledEntryDTO{
			ID:           entry.ID,
			ContactID:    entry.ContactID,
			AccountID:    entry.AccountID,
			Channel:      string(entry.Channel),
			ScheduledFor: entry.ScheduledFor,
			Status:       entry.Status.String(),
		})
	}
	return resp, nil
}

// SkipEntry cancels a pending entry before the dispatcher picks it up
func (s *QueueFlowImpl) SkipEntry(ctx context.Context, entryID string, req *dto.SkipQueueEntryRequest, metadata *ClientMetadata) (*dto.SkipQueueEntryResponse, error) {
	entry, err := s.queueRepo.ByID(ctx, entryID)
	if err != nil {
		return nil, NewBusinessError("QUEUE_LOOKUP_FAILED", "Failed to lookup queue entry", err)
	}
	if entry == nil {
		return nil, NewBusinessError("QUEUE_ENTRY_NOT_FOUND", "Queue entry not found", ErrQueueEntryNotFound)
	}

	reason := req.Reason
	if reason == "" {
		reason = "skipped by operator"
	}

	if err := s.queueRepo.Skip(ctx, entryID, reason, s.now()); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return nil, NewBusinessError("QUEUE_ENTRY_NOT_SKIPPABLE", "Queue entry is no longer pending", ErrQueueEntryNotSkippable)
		}
		return nil, NewBusinessError("QUEUE_SKIP_FAILED", "Failed to skip queue entry", err)
	}

	s.recordSkipEvent(ctx, entry, reason, metadata)
	return &dto.SkipQueueEntryResponse{
		ID:     entryID,
		Status: models.QueueStatusSkipped.String(),
	}, nil
}

// GetStats aggregates entry counts per status for the requested scope
func (s *QueueFlowImpl) GetStats(ctx context.Context, req *dto.QueueStatsRequest) (*dto.QueueStatsResponse, error) {
	filter := models.QueueEntryFilter{}
	if req.CampaignID != "" {
		filter.CampaignID = &req.CampaignID
	}
	if req.AccountID != "" {
		filter.AccountID = &req.AccountID
	}
	if req.Day != "" {
		tz := req.Timezone
		if tz == "" {
			tz = models.DefaultTimezone
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, NewBusinessError("INVALID_TIMEZONE", "Unknown timezone", err)
		}
		day, err := time.ParseInLocation("2006-01-02", req.Day, loc)
		if err != nil {
			return nil, NewBusinessError("INVALID_DAY", "Day must be formatted as YYYY-MM-DD", err)
		}
		dayEnd := day.AddDate(0, 0, 1)
		filter.ScheduledAfter = &day
		filter.ScheduledBefore = &dayEnd
	}

	counts, err := s.queueRepo.CountsByStatus(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("QUEUE_STATS_FAILED", "Failed to aggregate queue stats", err)
	}

	resp := &dto.QueueStatsResponse{ByStatus: make(map[string]int64, len(counts))}
	for status, count := range counts {
		resp.ByStatus[status.String()] = count
		resp.Total += count
	}
	return resp, nil
}

// ListEntries returns a filtered, paginated queue listing ordered by slot
func (s *QueueFlowImpl) ListEntries(ctx context.Context, req *dto.ListQueueRequest) (*dto.ListQueueResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 100 {
		return nil, NewBusinessError("INVALID_PAGE_SIZE", "Page size is out of range", ErrInvalidPageSize)
	}

	filter := models.QueueEntryFilter{}
	if req.CampaignID != "" {
		filter.CampaignID = &req.CampaignID
	}
	if req.AccountID != "" {
		filter.AccountID = &req.AccountID
	}
	if req.Status != "" {
		status := models.QueueStatus(req.Status)
		filter.Status = &status
	}

	entries, err := s.queueRepo.ByFilter(ctx, filter, "scheduled_for ASC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("QUEUE_LIST_FAILED", "Failed to list queue entries", err)
	}
	total, err := s.queueRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("QUEUE_COUNT_FAILED", "Failed to count queue entries", err)
	}

	resp := &dto.ListQueueResponse{
		Items:    make([]dto.QueueEntryDTO, 0, len(entries)),
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}
	for _, entry := range entries {
		resp.Items = append(resp.Items, ToQueueEntryDTO(*entry))
	}
	return resp, nil
}

// PauseCampaign halts dispatch for a campaign; already claimed entries finish
// their in-flight send, everything still pending stays put
func (s *QueueFlowImpl) PauseCampaign(ctx context.Context, campaignID string, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error) {
	campaign, err := s.campaignRepo.ByID(ctx, campaignID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, NewBusinessError("CAMPAIGN_NOT_PAUSABLE", "Only active campaigns can be paused", ErrCampaignNotPausable)
	}

	if err := s.campaignRepo.UpdateStatus(ctx, campaignID, models.CampaignStatusPaused, s.now()); err != nil {
		return nil, NewBusinessError("CAMPAIGN_PAUSE_FAILED", "Failed to pause campaign", err)
	}

	s.logger.Printf("queue flow: campaign id=%s paused", campaignID)
	return &dto.CampaignStatusResponse{ID: campaignID, Status: models.CampaignStatusPaused.String()}, nil
}

// ResumeCampaign reopens dispatch; entries whose slots passed while paused
// become due immediately and drain in scheduled order
func (s *QueueFlowImpl) ResumeCampaign(ctx context.Context, campaignID string, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error) {
	campaign, err := s.campaignRepo.ByID(ctx, campaignID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if campaign.Status != models.CampaignStatusPaused {
		return nil, NewBusinessError("CAMPAIGN_NOT_RESUMABLE", "Only paused campaigns can be resumed", ErrCampaignNotResumable)
	}

	if err := s.campaignRepo.UpdateStatus(ctx, campaignID, models.CampaignStatusActive, s.now()); err != nil {
		return nil, NewBusinessError("CAMPAIGN_RESUME_FAILED", "Failed to resume campaign", err)
	}

	s.logger.Printf("queue flow: campaign id=%s resumed", campaignID)
	return &dto.CampaignStatusResponse{ID: campaignID, Status: models.CampaignStatusActive.String()}, nil
}

func normalizePriority(priority int) int {
	if priority < 1 || priority > 9 {
		return 5
	}
	return priority
}

func (s *QueueFlowImpl) recordSkipEvent(ctx context.Context, entry *models.QueueEntry, reason string, metadata *ClientMetadata) {
	payload := map[string]any{"reason": reason}
	if metadata != nil {
		payload["ip_address"] = metadata.IPAddress
		payload["request_id"] = metadata.RequestID
	}
	data, _ := json.Marshal(payload)
	event := &models.MessageEvent{
		SendQueueID: &entry.ID,
		CampaignID:  &entry.CampaignID,
		ContactID:   &entry.ContactID,
		AccountID:   &entry.AccountID,
		EventType:   models.MessageEventSkipped,
		EventData:   data,
	}
	if err := s.eventRepo.Save(ctx, event); err != nil {
		s.logger.Printf("queue flow: failed to record skip event for entry id=%s: %v", entry.ID, err)
	}
}
