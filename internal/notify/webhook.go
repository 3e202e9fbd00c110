package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"xrpl-wash-monitor/internal/domain"
)

// WebhookChannel posts Slack-compatible {"text": ...} payloads.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel. A zero timeout defaults to 10s.
func NewWebhookChannel(url string, timeout time.Duration) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook url required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns "webhook".
func (c *WebhookChannel) Name() string { return "webhook" }

type webhookPayload struct {
	Text string `json:"text"`
}

// Send posts the alert text.
func (c *WebhookChannel) Send(ctx context.Context, alert *domain.Alert) error {
	body, err := json.Marshal(webhookPayload{Text: alert.Text()})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: webhook: %v", ErrTemporary, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: webhook status %d", ErrTemporary, resp.StatusCode)
	default:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
}

var _ Channel = (*WebhookChannel)(nil)
