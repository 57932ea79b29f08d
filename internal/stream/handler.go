// Package stream pushes newly ingested samples to websocket subscribers.
// Each subscription polls the store independently behind a watermark; there
// is no replay, and slow subscribers lose samples rather than stall the
// feed.
package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"hostwatch/internal/metrics"
)

var (
	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hostwatch_stream_subscriptions",
		Help: "Currently connected stream subscribers.",
	})
	droppedSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostwatch_stream_dropped_samples_total",
		Help: "Samples dropped because a subscriber's send buffer was full.",
	})
)

// Config controls the stream handler.
type Config struct {
	Tick   time.Duration // poll cadence per subscription
	Buffer int           // per-subscription send buffer
}

// Handler serves the live sample feed.
type Handler struct {
	samples *metrics.Store
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler creates a stream handler.
func NewHandler(samples *metrics.Store, cfg Config, logger *zap.Logger) *Handler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Handler{
		samples: samples,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes registers the stream route on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stream", h.handleStream)
}

// handleStream upgrades to websocket and feeds the subscriber samples
// written after connect time, in timestamp order.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	id := uuid.NewString()
	logger := h.logger.With(zap.String("subscription", id), zap.String("host", host))
	logger.Info("stream subscriber connected")

	activeSubscriptions.Inc()
	defer activeSubscriptions.Dec()

	// CloseRead cancels the context when the client disconnects.
	ctx := conn.CloseRead(r.Context())

	send := make(chan metrics.Sample, h.cfg.Buffer)
	go h.pollLoop(ctx, host, send)

	for {
		select {
		case <-ctx.Done():
			logger.Info("stream subscriber disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case sample := <-send:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, sample)
			cancel()
			if err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		}
	}
}

// pollLoop queries for samples behind the watermark on every tick and
// queues them for the writer. The initial watermark is the connect time,
// so the feed starts with the next sample written, never history.
func (h *Handler) pollLoop(ctx context.Context, host string, send chan<- metrics.Sample) {
	watermark := h.now()
	ticker := time.NewTicker(h.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next, err := h.pollOnce(ctx, host, watermark, send)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.logger.Warn("stream poll failed", zap.Error(err))
				continue
			}
			watermark = next
		}
	}
}

// pollOnce emits all samples strictly newer than the watermark, oldest
// first, and returns the advanced watermark. Samples that do not fit in
// the send buffer are dropped; the watermark still advances past them, so
// they are never retried.
func (h *Handler) pollOnce(ctx context.Context, host string, watermark time.Time, send chan<- metrics.Sample) (time.Time, error) {
	samples, err := h.samples.ListNewerThan(ctx, host, watermark)
	if err != nil {
		return watermark, err
	}

	for _, s := range samples {
		select {
		case send <- s:
		default:
			droppedSamples.Inc()
		}
		if s.Timestamp.After(watermark) {
			watermark = s.Timestamp
		}
	}
	return watermark, nil
}
