package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"hostwatch/internal/metrics"
	"hostwatch/internal/store"
)

func newTestHandler(t *testing.T, tick time.Duration) (*Handler, *metrics.Store) {
	t.Helper()

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background(), "metrics", metrics.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ms := metrics.NewStore(s.DB())
	return NewHandler(ms, Config{Tick: tick, Buffer: 16}, zap.NewNop()), ms
}

func f(v float64) *float64 { return &v }

func insertAt(t *testing.T, ms *metrics.Store, host string, ts time.Time, cpu float64) {
	t.Helper()
	err := ms.Insert(context.Background(), &metrics.Sample{
		Timestamp:  ts,
		Host:       host,
		CPUPercent: f(cpu),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestPollOnce_EmitsInOrderAndAdvancesWatermark(t *testing.T) {
	h, ms := newTestHandler(t, time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	insertAt(t, ms, "web-1", base.Add(time.Second), 10)
	insertAt(t, ms, "web-1", base.Add(2*time.Second), 20)
	insertAt(t, ms, "web-1", base, 5) // at the watermark: excluded

	send := make(chan metrics.Sample, 16)
	next, err := h.pollOnce(context.Background(), "web-1", base, send)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	if !next.Equal(base.Add(2 * time.Second)) {
		t.Errorf("watermark = %v, want %v", next, base.Add(2*time.Second))
	}
	if len(send) != 2 {
		t.Fatalf("emitted %d samples, want 2", len(send))
	}
	first, second := <-send, <-send
	if !first.Timestamp.Before(second.Timestamp) {
		t.Errorf("samples out of order: %v then %v", first.Timestamp, second.Timestamp)
	}
}

func TestPollOnce_NoDuplicatesAcrossPolls(t *testing.T) {
	h, ms := newTestHandler(t, time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertAt(t, ms, "web-1", base.Add(time.Second), 10)

	send := make(chan metrics.Sample, 16)
	wm, err := h.pollOnce(context.Background(), "web-1", base, send)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if len(send) != 1 {
		t.Fatalf("first poll emitted %d, want 1", len(send))
	}
	<-send

	// Nothing new: second poll must emit nothing.
	wm2, err := h.pollOnce(context.Background(), "web-1", wm, send)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(send) != 0 {
		t.Errorf("second poll re-emitted %d samples", len(send))
	}
	if !wm2.Equal(wm) {
		t.Errorf("watermark moved without new samples: %v -> %v", wm, wm2)
	}
}

func TestPollOnce_DropsOnFullBufferAndAdvances(t *testing.T) {
	h, ms := newTestHandler(t, time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		insertAt(t, ms, "web-1", base.Add(time.Duration(i)*time.Second), float64(i))
	}

	send := make(chan metrics.Sample, 1)
	next, err := h.pollOnce(context.Background(), "web-1", base, send)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	// Only one sample fits; the rest are dropped, never retried.
	if len(send) != 1 {
		t.Fatalf("buffered %d samples, want 1", len(send))
	}
	if !next.Equal(base.Add(3 * time.Second)) {
		t.Errorf("watermark = %v, want past dropped samples", next)
	}
}

func TestPollOnce_HostFilter(t *testing.T) {
	h, ms := newTestHandler(t, time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertAt(t, ms, "web-1", base.Add(time.Second), 10)
	insertAt(t, ms, "web-2", base.Add(time.Second), 20)

	send := make(chan metrics.Sample, 16)
	if _, err := h.pollOnce(context.Background(), "web-2", base, send); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(send) != 1 {
		t.Fatalf("emitted %d samples, want 1", len(send))
	}
	got := <-send
	if got.Host != "web-2" {
		t.Errorf("host = %q, want web-2", got.Host)
	}
}

func TestHandleStream_DeliversNewSamples(t *testing.T) {
	h, ms := newTestHandler(t, 20*time.Millisecond)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[4:]+"/api/v1/stream?host=web-1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Written after connect: must be delivered.
	insertAt(t, ms, "web-1", time.Now().UTC().Add(100*time.Millisecond), 42)

	var got metrics.Sample
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Host != "web-1" || got.CPUPercent == nil || *got.CPUPercent != 42 {
		t.Errorf("got sample %+v, want web-1 cpu 42", got)
	}
}
