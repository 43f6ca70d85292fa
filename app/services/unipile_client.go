package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/atherial/sendqueue/config"
	"github.com/atherial/sendqueue/models"
)

// httpUnipileClient delivers messages through the Unipile messaging API,
// which fronts both mailbox and LinkedIn sends behind one account model
type httpUnipileClient struct {
	cfg    config.UnipileConfig
	client *http.Client
}

// NewUnipileClient creates the production ChannelAdapter backed by Unipile
func NewUnipileClient(cfg config.UnipileConfig) ChannelAdapter {
	return &httpUnipileClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type unipileSendResponse struct {
	Object    string  `json:"object"`
	MessageID string  `json:"message_id"`
	ID        string  `json:"id"`
	ChatID    *string `json:"chat_id"`
	ThreadID  *string `json:"thread_id"`
}

func (c *httpUnipileClient) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	path, payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	b, _ := json.Marshal(payload)
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-API-KEY", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		body := strings.TrimSpace(string(bodyBytes))
		if readErr != nil {
			body = fmt.Sprintf("unable to read response body: %v", readErr)
		}
		return nil, classifyHTTPFailure(resp.StatusCode, body)
	}

	var out unipileSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	messageID := out.MessageID
	if messageID == "" {
		messageID = out.ID
	}
	if messageID == "" {
		return nil, NewTransientSendError(resp.StatusCode, "provider accepted send but returned no message id")
	}

	threadID := out.ChatID
	if threadID == nil {
		threadID = out.ThreadID
	}
	return &SendResult{ProviderMessageID: messageID, ProviderThreadID: threadID}, nil
}

// buildPayload maps a channel to its Unipile endpoint. Every payload carries
// the tracking id so webhook callbacks can be correlated without a thread.
func (c *httpUnipileClient) buildPayload(req SendRequest) (string, map[string]any, error) {
	switch req.Channel {
	case models.ChannelEmail:
		return "/api/v1/emails", map[string]any{
			"account_id":  req.ProviderAccountID,
			"to":          []map[string]any{{"identifier": req.RecipientRef}},
			"subject":     req.Subject,
			"body":        req.Body,
			"tracking_id": req.TrackingID,
		}, nil
	case models.ChannelLinkedInConnect:
		return "/api/v1/users/invite", map[string]any{
			"account_id":  req.ProviderAccountID,
			"provider_id": req.RecipientRef,
			"message":     req.Body,
			"tracking_id": req.TrackingID,
		}, nil
	case models.ChannelLinkedInDM, models.ChannelLinkedInInMail:
		payload := map[string]any{
			"account_id":    req.ProviderAccountID,
			"attendees_ids": []string{req.RecipientRef},
			"text":          req.Body,
			"tracking_id":   req.TrackingID,
		}
		if req.Channel == models.ChannelLinkedInInMail {
			payload["inmail"] = true
		}
		return "/api/v1/chats", payload, nil
	default:
		return "", nil, NewPermanentSendError(0, fmt.Sprintf("unsupported channel %q", req.Channel))
	}
}

// classifyHTTPFailure treats rate limits and provider-side errors as
// retryable; any other 4xx means the request itself is unsendable
func classifyHTTPFailure(statusCode int, body string) *SendError {
	reason := fmt.Sprintf("unipile send rejected: %s", body)
	if statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout || statusCode >= 500 {
		return NewTransientSendError(statusCode, reason)
	}
	return NewPermanentSendError(statusCode, reason)
}
