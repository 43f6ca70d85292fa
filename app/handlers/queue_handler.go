// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/atherial/sendqueue/app/dto"
	businessflow "github.com/atherial/sendqueue/business_flow"
	"github.com/atherial/sendqueue/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// QueueHandlerInterface defines the contract for queue handlers
type QueueHandlerInterface interface {
	BatchSchedule(c fiber.Ctx) error
	SkipEntry(c fiber.Ctx) error
	GetStats(c fiber.Ctx) error
	ListEntries(c fiber.Ctx) error
}

// QueueHandler handles queue-related HTTP requests
type QueueHandler struct {
	queueFlow businessflow.QueueFlow
	validator *validator.Validate
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queueFlow businessflow.QueueFlow) *QueueHandler {
	return &QueueHandler{
		queueFlow: queueFlow,
		validator: validator.New(),
	}
}

func (h *QueueHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *QueueHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// BatchSchedule handles batch submission into the send queue
// @Summary Schedule Batch
// @Description Assign send slots to a campaign's message batch and enqueue the entries
// @Tags Queue
// @Accept json
// @Produce json
// @Param request body dto.BatchScheduleRequest true "Batch of messages to schedule"
// @Success 201 {object} dto.APIResponse{data=dto.BatchScheduleResponse} "Batch scheduled"
// @Failure 400 {object} dto.APIResponse "Validation error or invalid request"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/queue/batch [post]
func (h *QueueHandler) BatchSchedule(c fiber.Ctx) error {
	var req dto.BatchScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	ctx, cancel := h.createRequestContext(c, "/api/v1/queue/batch", time.Minute)
	defer cancel()

	result, err := h.queueFlow.SubmitBatch(ctx, &req, metadata)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		if businessflow.IsEmptyBatch(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Batch contains no messages", "EMPTY_BATCH", nil)
		}

		log.Println("Batch scheduling failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Batch scheduling failed", "SCHEDULING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Batch scheduled successfully", result)
}

// SkipEntry cancels a pending queue entry
// @Summary Skip Queue Entry
// @Description Cancel a pending entry before the dispatcher claims it
// @Tags Queue
// @Accept json
// @Produce json
// @Param id path string true "Queue entry ID"
// @Param request body dto.SkipQueueEntryRequest false "Skip reason"
// @Success 200 {object} dto.APIResponse{data=dto.SkipQueueEntryResponse} "Entry skipped"
// @Failure 404 {object} dto.APIResponse "Entry not found"
// @Failure 409 {object} dto.APIResponse "Entry is no longer pending"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/queue/{id}/skip [post]
func (h *QueueHandler) SkipEntry(c fiber.Ctx) error {
	entryID := c.Params("id")
	if entryID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Queue entry ID is required", "MISSING_ENTRY_ID", nil)
	}

	var req dto.SkipQueueEntryRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	ctx, cancel := h.createRequestContext(c, "/api/v1/queue/:id/skip", 30*time.Second)
	defer cancel()

	result, err := h.queueFlow.SkipEntry(ctx, entryID, &req, metadata)
	if err != nil {
		if businessflow.IsQueueEntryNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Queue entry not found", "QUEUE_ENTRY_NOT_FOUND", nil)
		}
		if businessflow.IsQueueEntryNotSkippable(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Queue entry is no longer pending", "QUEUE_ENTRY_NOT_SKIPPABLE", nil)
		}

		log.Println("Queue entry skip failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Queue entry skip failed", "QUEUE_SKIP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Queue entry skipped", result)
}

// GetStats returns aggregate queue counts per status
// @Summary Queue Stats
// @Description Aggregate entry counts per status, optionally scoped by campaign, account or local calendar day
// @Tags Queue
// @Produce json
// @Param campaign_id query string false "Campaign ID"
// @Param account_id query string false "Sending account ID"
// @Param day query string false "Local calendar day (YYYY-MM-DD)"
// @Param timezone query string false "IANA timezone interpreting the day"
// @Success 200 {object} dto.APIResponse{data=dto.QueueStatsResponse} "Queue stats"
// @Failure 400 {object} dto.APIResponse "Invalid query parameters"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/queue/stats [get]
func (h *QueueHandler) GetStats(c fiber.Ctx) error {
	req := dto.QueueStatsRequest{
		CampaignID: c.Query("campaign_id"),
		AccountID:  c.Query("account_id"),
		Day:        c.Query("day"),
		Timezone:   c.Query("timezone"),
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "VALIDATION_ERROR", err.Error())
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/queue/stats", 30*time.Second)
	defer cancel()

	result, err := h.queueFlow.GetStats(ctx, &req)
	if err != nil {
		log.Println("Queue stats failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Queue stats failed", "QUEUE_STATS_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Queue stats retrieved", result)
}

// ListEntries returns a filtered, paginated queue listing
// @Summary List Queue Entries
// @Description List queue entries ordered by scheduled slot with optional filters
// @Tags Queue
// @Produce json
// @Param campaign_id query string false "Campaign ID"
// @Param account_id query string false "Sending account ID"
// @Param status query string false "Entry status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListQueueResponse} "Queue entries"
// @Failure 400 {object} dto.APIResponse "Invalid query parameters"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/queue [get]
func (h *QueueHandler) ListEntries(c fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "50"))

	req := dto.ListQueueRequest{
		CampaignID: c.Query("campaign_id"),
		AccountID:  c.Query("account_id"),
		Status:     c.Query("status"),
		Page:       page,
		PageSize:   pageSize,
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "VALIDATION_ERROR", err.Error())
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/queue", 30*time.Second)
	defer cancel()

	result, err := h.queueFlow.ListEntries(ctx, &req)
	if err != nil {
		if businessflow.IsInvalidPageSize(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Page size is out of range", "INVALID_PAGE_SIZE", nil)
		}

		log.Println("Queue listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Queue listing failed", "QUEUE_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Queue entries retrieved", result)
}

func (h *QueueHandler) createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	return ctx, cancel
}
