package alerts

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"hostwatch/internal/server"
)

// Handler serves the operator-facing alert endpoints.
type Handler struct {
	store  *Store
	logger *zap.Logger
}

// NewHandler creates an alerts handler.
func NewHandler(store *Store, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes registers the alert routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/alerts", h.handleList)
	mux.HandleFunc("PATCH /api/v1/alerts/{id}", h.handleUpdateStatus)
}

// handleList returns alerts newest first, filtered by host and status.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	status := r.URL.Query().Get("status")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			server.BadRequest(w, "limit must be a non-negative integer", r.URL.Path)
			return
		}
		limit = n
	}

	alerts, err := h.store.List(r.Context(), host, status, limit)
	if err != nil {
		h.logger.Error("failed to list alerts", zap.Error(err))
		server.InternalError(w, "failed to list alerts", r.URL.Path)
		return
	}
	if alerts == nil {
		alerts = []Alert{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alerts)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdateStatus moves an alert to a new status (acknowledge, resolve).
func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		server.BadRequest(w, "alert id must be an integer", r.URL.Path)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Status == "" {
		server.BadRequest(w, "status is required", r.URL.Path)
		return
	}

	alert, err := h.store.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			server.NotFound(w, "no alert with that id", r.URL.Path)
			return
		}
		h.logger.Error("failed to update alert status",
			zap.Int64("id", id),
			zap.Error(err),
		)
		server.InternalError(w, "failed to update alert", r.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alert)
}
