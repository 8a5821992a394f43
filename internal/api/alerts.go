package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crowdwatch/crowdwatch/internal/model"
	"github.com/crowdwatch/crowdwatch/internal/vision/risk"
)

// AlertHandlers serves the §6 alert listing/acknowledgement endpoints.
type AlertHandlers struct {
	repo   *risk.Repository
	logger *slog.Logger
}

// NewAlertHandlers builds AlertHandlers backed by repo.
func NewAlertHandlers(repo *risk.Repository, logger *slog.Logger) *AlertHandlers {
	return &AlertHandlers{repo: repo, logger: logger.With("component", "api-alerts")}
}

// Active serves GET /alerts/active?camera_id&severity&limit.
func (h *AlertHandlers) Active(w http.ResponseWriter, r *http.Request) {
	cameraID := r.URL.Query().Get("camera_id")
	severity := model.RiskLevel(r.URL.Query().Get("severity"))
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	alerts, err := h.repo.Active(r.Context(), cameraID, severity)
	if err != nil {
		WriteError(w, err)
		return
	}
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	OK(w, alerts)
}

// Acknowledge serves POST /alerts/{id}/acknowledge, idempotently.
func (h *AlertHandlers) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.Acknowledge(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	alert, err := h.repo.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	OK(w, alert)
}
