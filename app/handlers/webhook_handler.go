// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"crypto/subtle"
	"log"
	"time"

	"github.com/atherial/sendqueue/app/dto"
	businessflow "github.com/atherial/sendqueue/business_flow"
	"github.com/atherial/sendqueue/config"
	"github.com/atherial/sendqueue/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// WebhookHandlerInterface defines the contract for provider webhook handlers
type WebhookHandlerInterface interface {
	HandleUnipileEvent(c fiber.Ctx) error
}

// WebhookHandler receives delivery callbacks from the messaging provider
type WebhookHandler struct {
	reconcileFlow businessflow.ReconcileFlow
	securityCfg   config.SecurityConfig
	validator     *validator.Validate
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(reconcileFlow businessflow.ReconcileFlow, securityCfg config.SecurityConfig) *WebhookHandler {
	return &WebhookHandler{
		reconcileFlow: reconcileFlow,
		securityCfg:   securityCfg,
		validator:     validator.New(),
	}
}

func (h *WebhookHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

// HandleUnipileEvent processes one provider callback
// @Summary Unipile Webhook
// @Description Receive delivery, read, reply and failure callbacks from the messaging provider
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param request body dto.UnipileWebhookRequest true "Provider event payload"
// @Success 200 {object} dto.APIResponse{data=dto.WebhookAckResponse} "Event acknowledged"
// @Failure 401 {object} dto.APIResponse "Missing or invalid webhook secret"
// @Router /api/v1/webhooks/unipile [post]
func (h *WebhookHandler) HandleUnipileEvent(c fiber.Ctx) error {
	if !h.authorized(c) {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid webhook secret", "INVALID_WEBHOOK_SECRET", nil)
	}

	var req dto.UnipileWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		// Ack malformed payloads too: the provider retries non-200s and a
		// payload we cannot parse now will not parse later either
		log.Println("Webhook payload parse failed", err)
		return c.Status(fiber.StatusOK).JSON(dto.APIResponse{
			Success: true,
			Message: "Event received",
			Data:    dto.WebhookAckResponse{Received: true, Matched: false},
		})
	}
	if err := h.validator.Struct(&req); err != nil {
		log.Println("Webhook payload validation failed", err)
		return c.Status(fiber.StatusOK).JSON(dto.APIResponse{
			Success: true,
			Message: "Event received",
			Data:    dto.WebhookAckResponse{Received: true, Matched: false},
		})
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	ctx, cancel := h.createRequestContext(c, "/api/v1/webhooks/unipile")
	defer cancel()

	ack, err := h.reconcileFlow.ApplyProviderEvent(ctx, &req, metadata)
	if err != nil {
		// Store-level failures are worth a retry from the provider side
		log.Println("Webhook reconciliation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Event processing failed", "WEBHOOK_PROCESSING_FAILED", nil)
	}

	return c.Status(fiber.StatusOK).JSON(dto.APIResponse{
		Success: true,
		Message: "Event received",
		Data:    ack,
	})
}

// authorized compares the shared-secret header in constant time
func (h *WebhookHandler) authorized(c fiber.Ctx) bool {
	if h.securityCfg.WebhookSecret == "" {
		return false
	}
	header := h.securityCfg.WebhookSecretHeader
	if header == "" {
		header = "X-Webhook-Secret"
	}
	provided := c.Get(header)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.securityCfg.WebhookSecret)) == 1
}

func (h *WebhookHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	return ctx, cancel
}
