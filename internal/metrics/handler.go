package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"hostwatch/internal/server"
)

// NoticePublisher announces that a sample for a host was durably written.
// Defined consumer-side; the queue package provides the implementation.
type NoticePublisher interface {
	Publish(ctx context.Context, host string, ts time.Time) error
}

// Handler serves the sample ingestion and query endpoints.
type Handler struct {
	store     *Store
	publisher NoticePublisher
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewHandler creates a metrics handler. publisher may be nil, in which case
// samples are stored but no ingestion notices are announced.
func NewHandler(store *Store, publisher NoticePublisher, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger,
	}
}

// RegisterRoutes registers the metrics routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/metrics", h.handleIngest)
	mux.HandleFunc("GET /api/v1/metrics", h.handleList)
}

// ingestRequest is the ingestion payload sent by agents.
type ingestRequest struct {
	Host          string     `json:"host" validate:"required"`
	Timestamp     *time.Time `json:"timestamp"`
	CPUPercent    *float64   `json:"cpu_percent" validate:"omitempty,gte=0,lte=100"`
	CPUMin        *float64   `json:"cpu_min" validate:"omitempty,gte=0,lte=100"`
	CPUMax        *float64   `json:"cpu_max" validate:"omitempty,gte=0,lte=100"`
	MemoryPercent *float64   `json:"memory_percent" validate:"omitempty,gte=0,lte=100"`
	MemoryMin     *float64   `json:"memory_min" validate:"omitempty,gte=0,lte=100"`
	MemoryMax     *float64   `json:"memory_max" validate:"omitempty,gte=0,lte=100"`
	DiskPercent   *float64   `json:"disk_percent" validate:"omitempty,gte=0,lte=100"`
	DiskMin       *float64   `json:"disk_min" validate:"omitempty,gte=0,lte=100"`
	DiskMax       *float64   `json:"disk_max" validate:"omitempty,gte=0,lte=100"`
	NetworkIn     *int64     `json:"network_in" validate:"omitempty,gte=0"`
	NetworkOut    *int64     `json:"network_out" validate:"omitempty,gte=0"`
}

// handleIngest stores a sample and announces it on the event queue.
// The announce is best-effort: a publish failure is logged but never rolls
// back the already-durable sample write.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	sample := &Sample{
		Timestamp:     ts,
		Host:          req.Host,
		CPUPercent:    req.CPUPercent,
		CPUMin:        req.CPUMin,
		CPUMax:        req.CPUMax,
		MemoryPercent: req.MemoryPercent,
		MemoryMin:     req.MemoryMin,
		MemoryMax:     req.MemoryMax,
		DiskPercent:   req.DiskPercent,
		DiskMin:       req.DiskMin,
		DiskMax:       req.DiskMax,
		NetworkIn:     req.NetworkIn,
		NetworkOut:    req.NetworkOut,
	}

	if err := h.store.Insert(r.Context(), sample); err != nil {
		h.logger.Error("failed to insert sample",
			zap.String("host", req.Host),
			zap.Error(err),
		)
		server.InternalError(w, "failed to store sample", r.URL.Path)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(r.Context(), sample.Host, sample.Timestamp); err != nil {
			h.logger.Warn("failed to publish ingestion notice",
				zap.String("host", sample.Host),
				zap.Time("timestamp", sample.Timestamp),
				zap.Error(err),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleList returns recent samples, newest first.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			server.BadRequest(w, "limit must be a non-negative integer", r.URL.Path)
			return
		}
		limit = n
	}

	samples, err := h.store.ListRecent(r.Context(), host, limit)
	if err != nil {
		h.logger.Error("failed to list samples", zap.Error(err))
		server.InternalError(w, "failed to list samples", r.URL.Path)
		return
	}
	if samples == nil {
		samples = []Sample{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(samples)
}
