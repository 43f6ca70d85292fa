// Package businessflow contains the core business logic and use cases for send-queue workflows
package businessflow

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/atherial/sendqueue/app/dto"
	"github.com/atherial/sendqueue/models"
	"github.com/atherial/sendqueue/repository"
	"github.com/atherial/sendqueue/utils"
)

// threadMatchWindow bounds the fallback match by provider thread: replies to
// conversations older than this are ignored rather than misattributed
const threadMatchWindow = 72 * time.Hour

// deliveryEventTargets maps provider webhook event names onto queue states.
// An inbound message on a thread we messaged means the contact replied.
var deliveryEventTargets = map[string]models.QueueStatus{
	"message_delivered": models.QueueStatusDelivered,
	"mail_delivered":    models.QueueStatusDelivered,
	"message_read":      models.QueueStatusRead,
	"mail_opened":       models.QueueStatusRead,
	"message_received":  models.QueueStatusReplied,
	"message_failed":    models.QueueStatusFailed,
	"mail_bounced":      models.QueueStatusFailed,
}

var deliveryEventTypes = map[models.QueueStatus]models.MessageEventType{
	models.QueueStatusDelivered: models.MessageEventDelivered,
	models.QueueStatusRead:      models.MessageEventRead,
	models.QueueStatusReplied:   models.MessageEventReplied,
	models.QueueStatusFailed:    models.MessageEventFailed,
}

// ReconcileFlow applies provider delivery callbacks to the send queue
type ReconcileFlow interface {
	ApplyProviderEvent(ctx context.Context, req *dto.UnipileWebhookRequest, metadata *ClientMetadata) (*dto.WebhookAckResponse, error)
}

// ReconcileFlowImpl implements the webhook reconciliation flow
type ReconcileFlowImpl struct {
	queueRepo repository.QueueRepository
	eventRepo repository.MessageEventRepository
	logger    *log.Logger
	now       func() time.Time
}

// NewReconcileFlow creates a new reconciliation flow instance
func NewReconcileFlow(
	queueRepo repository.QueueRepository,
	eventRepo repository.MessageEventRepository,
	logger *log.Logger,
) ReconcileFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &ReconcileFlowImpl{
		queueRepo: queueRepo,
		eventRepo: eventRepo,
		logger:    logger,
		now:       utils.UTCNow,
	}
}

// ApplyProviderEvent resolves the callback to a queue entry and advances its
// delivery state. Replayed and out-of-order callbacks are absorbed without
// moving the entry backward; the caller always acks regardless of outcome.
func (s *ReconcileFlowImpl) ApplyProviderEvent(ctx context.Context, req *dto.UnipileWebhookRequest, metadata *ClientMetadata) (*dto.WebhookAckResponse, error) {
	target, known := deliveryEventTargets[req.Event]
	if !known {
		s.logger.Printf("reconcile: ignoring unknown webhook event type=%s message id=%s", req.Event, req.MessageID)
		webhookEventsTotal.WithLabelValues(req.Event, "unknown_event").Inc()
		return &dto.WebhookAckResponse{Received: true, Matched: false}, nil
	}

	entry, err := s.matchEntry(ctx, req)
	if err != nil {
		return nil, NewBusinessError("WEBHOOK_MATCH_FAILED", "Failed to match webhook to queue entry", err)
	}
	if entry == nil {
		s.recordUnmatched(ctx, req)
		webhookEventsTotal.WithLabelValues(req.Event, "unmatched").Inc()
		return &dto.WebhookAckResponse{Received: true, Matched: false}, nil
	}

	detail := ""
	if target == models.QueueStatusFailed {
		detail = failureDetail(req)
	}

	applied, err := s.queueRepo.AdvanceDelivery(ctx, entry.ID, target, detail, s.now())
	if err != nil {
		return nil, NewBusinessError("WEBHOOK_TRANSITION_FAILED", "Failed to apply delivery transition", err)
	}

	if !applied {
		outcome := "replay"
		if entry.Status.Active() {
			// The callback beat the send confirmation; the entry has not
			// reached sent yet so the transition cannot land
			outcome = "early_arrival"
			s.logger.Printf("reconcile: event=%s arrived before entry id=%s was marked sent (status=%s)", req.Event, entry.ID, entry.Status)
		}
		webhookEventsTotal.WithLabelValues(req.Event, outcome).Inc()
		return &dto.WebhookAckResponse{Received: true, Matched: true}, nil
	}

	s.logger.Printf("reconcile: entry id=%s advanced to %s via event=%s", entry.ID, target, req.Event)
	webhookEventsTotal.WithLabelValues(req.Event, "applied").Inc()
	s.recordApplied(ctx, entry, target, req)

	return &dto.WebhookAckResponse{Received: true, Matched: true}, nil
}

// matchEntry resolves the callback to an entry: by our tracking id when the
// provider echoed it, then by provider message id, then by recent activity on
// the provider thread
func (s *ReconcileFlowImpl) matchEntry(ctx context.Context, req *dto.UnipileWebhookRequest) (*models.QueueEntry, error) {
	if req.TrackingID != "" {
		entry, err := s.queueRepo.ByID(ctx, req.TrackingID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}

	if req.MessageID != "" {
		entry, err := s.queueRepo.ByProviderMessageID(ctx, req.MessageID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}

	if req.ChatID != "" {
		return s.queueRepo.RecentSentByThread(ctx, req.ChatID, s.now().Add(-threadMatchWindow))
	}
	return nil, nil
}

func (s *ReconcileFlowImpl) recordApplied(ctx context.Context, entry *models.QueueEntry, target models.QueueStatus, req *dto.UnipileWebhookRequest) {
	data, _ := json.Marshal(map[string]any{
		"event":               req.Event,
		"provider_message_id": req.MessageID,
		"provider_chat_id":    req.ChatID,
	})
	event := &models.MessageEvent{
		SendQueueID: &entry.ID,
		CampaignID:  &entry.CampaignID,
		ContactID:   &entry.ContactID,
		AccountID:   &entry.AccountID,
		EventType:   deliveryEventTypes[target],
		EventData:   data,
	}
	if err := s.eventRepo.Save(ctx, event); err != nil {
		s.logger.Printf("reconcile: failed to record %s event for entry id=%s: %v", event.EventType, entry.ID, err)
	}
}

// recordUnmatched keeps an audit trail of callbacks we could not attribute,
// which is the main signal when provider correlation breaks
func (s *ReconcileFlowImpl) recordUnmatched(ctx context.Context, req *dto.UnipileWebhookRequest) {
	s.logger.Printf("reconcile: no entry matched webhook event=%s message id=%s chat id=%s", req.Event, req.MessageID, req.ChatID)
	data, _ := json.Marshal(req)
	event := &models.MessageEvent{
		EventType: models.MessageEventWebhookUnmatched,
		EventData: data,
	}
	if err := s.eventRepo.Save(ctx, event); err != nil {
		s.logger.Printf("reconcile: failed to record unmatched webhook event: %v", err)
	}
}

func failureDetail(req *dto.UnipileWebhookRequest) string {
	var payload struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &payload); err == nil {
			if payload.Error != "" {
				return payload.Error
			}
			if payload.Reason != "" {
				return payload.Reason
			}
		}
	}
	return "provider reported delivery failure: " + req.Event
}
