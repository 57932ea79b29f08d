package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWebhookNotifier_PostsSlackPayload(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zap.NewNop())
	if err := n.Notify(context.Background(), "critical", "cpu_percent is 95.0% on web-1"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(received.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(received.Attachments))
	}
	att := received.Attachments[0]
	if att.Color != "#ff0000" {
		t.Errorf("color = %q, want #ff0000 for critical", att.Color)
	}
	if att.Title != "Alert: CRITICAL" {
		t.Errorf("title = %q, want Alert: CRITICAL", att.Title)
	}
	if att.Text != "cpu_percent is 95.0% on web-1" {
		t.Errorf("text = %q", att.Text)
	}
}

func TestWebhookNotifier_WarningColor(t *testing.T) {
	if got := severityColor("warning"); got != "#ffcc00" {
		t.Errorf("warning color = %q, want #ffcc00", got)
	}
}

func TestWebhookNotifier_ErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zap.NewNop())
	if err := n.Notify(context.Background(), "warning", "msg"); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestWebhookNotifier_ErrorOnUnreachable(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", 200*time.Millisecond, zap.NewNop())
	if err := n.Notify(context.Background(), "warning", "msg"); err == nil {
		t.Error("expected error for unreachable webhook")
	}
}

func TestNopNotifier(t *testing.T) {
	if err := (NopNotifier{}).Notify(context.Background(), "critical", "msg"); err != nil {
		t.Errorf("nop notifier returned error: %v", err)
	}
}
