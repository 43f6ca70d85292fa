// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"time"

	"github.com/atherial/sendqueue/app/dto"
	businessflow "github.com/atherial/sendqueue/business_flow"
	"github.com/atherial/sendqueue/utils"
	"github.com/gofiber/fiber/v3"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	queueFlow businessflow.QueueFlow
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(queueFlow businessflow.QueueFlow) *CampaignHandler {
	return &CampaignHandler{queueFlow: queueFlow}
}

func (h *CampaignHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CampaignHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// PauseCampaign halts dispatch for a campaign
// @Summary Pause Campaign
// @Description Stop claiming the campaign's pending entries; in-flight sends complete
// @Tags Campaigns
// @Produce json
// @Param id path string true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignStatusResponse} "Campaign paused"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign is not active"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{id}/pause [post]
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	campaignID := c.Params("id")
	if campaignID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign ID is required", "MISSING_CAMPAIGN_ID", nil)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/:id/pause")
	defer cancel()

	result, err := h.queueFlow.PauseCampaign(ctx, campaignID, metadata)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		if businessflow.IsCampaignNotPausable(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Only active campaigns can be paused", "CAMPAIGN_NOT_PAUSABLE", nil)
		}

		log.Println("Campaign pause failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign pause failed", "CAMPAIGN_PAUSE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign paused", result)
}

// ResumeCampaign reopens dispatch for a paused campaign
// @Summary Resume Campaign
// @Description Resume claiming the campaign's pending entries; overdue entries drain in scheduled order
// @Tags Campaigns
// @Produce json
// @Param id path string true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignStatusResponse} "Campaign resumed"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign is not paused"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{id}/resume [post]
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	campaignID := c.Params("id")
	if campaignID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign ID is required", "MISSING_CAMPAIGN_ID", nil)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/:id/resume")
	defer cancel()

	result, err := h.queueFlow.ResumeCampaign(ctx, campaignID, metadata)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		if businessflow.IsCampaignNotResumable(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Only paused campaigns can be resumed", "CAMPAIGN_NOT_RESUMABLE", nil)
		}

		log.Println("Campaign resume failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign resume failed", "CAMPAIGN_RESUME_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign resumed", result)
}

func (h *CampaignHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	return ctx, cancel
}
