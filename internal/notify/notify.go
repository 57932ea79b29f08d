// Package notify delivers alert notifications to external channels.
// Delivery is fire-and-forget: the detection pipeline never blocks on or
// fails because of a notification.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier sends one alert notification.
type Notifier interface {
	Notify(ctx context.Context, severity, message string) error
}

// NopNotifier discards notifications. Used when no webhook is configured.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, string, string) error { return nil }

// WebhookNotifier posts Slack-compatible webhook payloads.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier creates a webhook notifier posting to url.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type webhookAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Ts    int64  `json:"ts"`
}

type webhookPayload struct {
	Attachments []webhookAttachment `json:"attachments"`
}

// severityColor maps severities to Slack attachment colors.
func severityColor(severity string) string {
	if severity == "critical" {
		return "#ff0000"
	}
	return "#ffcc00"
}

// Notify posts the alert to the configured webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, severity, message string) error {
	payload := webhookPayload{
		Attachments: []webhookAttachment{{
			Color: severityColor(severity),
			Title: "Alert: " + strings.ToUpper(severity),
			Text:  message,
			Ts:    time.Now().Unix(),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug("notification delivered",
		zap.String("severity", severity),
	)
	return nil
}
