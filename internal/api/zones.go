package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crowdwatch/crowdwatch/internal/model"
	"github.com/crowdwatch/crowdwatch/internal/zone"
)

// ZoneHandlers serves the §6 zone CRUD endpoints.
type ZoneHandlers struct {
	repo   *zone.Repository
	logger *slog.Logger
}

// NewZoneHandlers builds ZoneHandlers backed by repo.
func NewZoneHandlers(repo *zone.Repository, logger *slog.Logger) *ZoneHandlers {
	return &ZoneHandlers{repo: repo, logger: logger.With("component", "api-zones")}
}

// Create serves POST /zones.
func (h *ZoneHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var body zonePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		BadRequest(w, "malformed request body")
		return
	}
	z, err := h.repo.Create(r.Context(), body.toModel())
	if err != nil {
		WriteError(w, err)
		return
	}
	Created(w, z)
}

// ListByCamera serves GET /zones/{camera_id}.
func (h *ZoneHandlers) ListByCamera(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	zones, err := h.repo.ListByCamera(r.Context(), cameraID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if zones == nil {
		zones = []model.Zone{}
	}
	OK(w, zones)
}

// Update serves PUT /zones/{id}.
func (h *ZoneHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body zonePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		BadRequest(w, "malformed request body")
		return
	}
	z, err := h.repo.Update(r.Context(), id, body.toModel())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			NotFound(w, "zone not found")
			return
		}
		WriteError(w, err)
		return
	}
	OK(w, z)
}

// Delete serves DELETE /zones/{id}.
func (h *ZoneHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			NotFound(w, "zone not found")
			return
		}
		WriteError(w, err)
		return
	}
	NoContent(w)
}
