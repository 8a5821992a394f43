package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crowdwatch/crowdwatch/internal/matcher"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// MovementHandlers serves the §6 cross-camera movement query endpoints.
type MovementHandlers struct {
	repo   *matcher.Repository
	logger *slog.Logger
}

// NewMovementHandlers builds MovementHandlers backed by repo.
func NewMovementHandlers(repo *matcher.Repository, logger *slog.Logger) *MovementHandlers {
	return &MovementHandlers{repo: repo, logger: logger.With("component", "api-movements")}
}

// Query serves GET /movements?entry_camera_id&exit_camera_id&start_time&end_time&limit.
func (h *MovementHandlers) Query(w http.ResponseWriter, r *http.Request) {
	filter := matcher.QueryFilter{
		EntryCamera: r.URL.Query().Get("entry_camera_id"),
		ExitCamera:  r.URL.Query().Get("exit_camera_id"),
		Limit:       parseLimit(r, 100),
	}
	if t, ok := parseUnixOrRFC3339(r.URL.Query().Get("start_time")); ok {
		filter.Start = t
	}
	if t, ok := parseUnixOrRFC3339(r.URL.Query().Get("end_time")); ok {
		filter.End = t
	}

	movements, err := h.repo.Query(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeMovements(w, movements)
}

// ByCamera serves GET /movements/camera/{id}.
func (h *MovementHandlers) ByCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	movements, err := h.repo.ByCamera(r.Context(), id, parseLimit(r, 100))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeMovements(w, movements)
}

// ByPair serves GET /movements/pair/{a}/{b}.
func (h *MovementHandlers) ByPair(w http.ResponseWriter, r *http.Request) {
	a, b := chi.URLParam(r, "a"), chi.URLParam(r, "b")
	movements, err := h.repo.ByPair(r.Context(), a, b, parseLimit(r, 100))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeMovements(w, movements)
}

// Statistics serves GET /movements/statistics.
func (h *MovementHandlers) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	OK(w, stats)
}

func writeMovements(w http.ResponseWriter, movements []model.CrossCameraMovement) {
	if movements == nil {
		movements = []model.CrossCameraMovement{}
	}
	OK(w, movements)
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseUnixOrRFC3339(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}
