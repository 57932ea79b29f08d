package alerts

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()
	as := newTestStore(t)
	mux := http.NewServeMux()
	NewHandler(as, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, as
}

func TestHandleList_FiltersByStatus(t *testing.T) {
	srv, as := newTestServer(t)
	raiseAlert(t, as, "web-1", MetricCPU, SeverityWarning)
	raiseAlert(t, as, "web-2", MetricDisk, SeverityCritical)

	resp, err := http.Get(srv.URL + "/api/v1/alerts?status=pending")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got []Alert
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d alerts, want 2", len(got))
	}
}

func patchStatus(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPatch, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestHandleUpdateStatus_Acknowledge(t *testing.T) {
	srv, as := newTestServer(t)
	id := raiseAlert(t, as, "web-1", MetricCPU, SeverityWarning)

	resp := patchStatus(t, srv, fmt.Sprintf("/api/v1/alerts/%d", id), `{"status":"acknowledged"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got Alert
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusAcknowledged {
		t.Errorf("alert status = %q, want acknowledged", got.Status)
	}
}

func TestHandleUpdateStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := patchStatus(t, srv, "/api/v1/alerts/9999", `{"status":"acknowledged"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q, want problem+json", ct)
	}
}

func TestHandleUpdateStatus_BadRequests(t *testing.T) {
	srv, as := newTestServer(t)
	id := raiseAlert(t, as, "web-1", MetricCPU, SeverityWarning)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"non-numeric id", "/api/v1/alerts/abc", `{"status":"acknowledged"}`},
		{"empty status", fmt.Sprintf("/api/v1/alerts/%d", id), `{}`},
		{"malformed body", fmt.Sprintf("/api/v1/alerts/%d", id), `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := patchStatus(t, srv, tt.path, tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}
