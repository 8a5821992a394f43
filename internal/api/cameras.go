package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crowdwatch/crowdwatch/internal/camera"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// CameraHandlers serves the §6 camera registration/listing endpoints.
type CameraHandlers struct {
	registry *camera.Registry
	logger   *slog.Logger
}

// NewCameraHandlers builds CameraHandlers backed by registry.
func NewCameraHandlers(registry *camera.Registry, logger *slog.Logger) *CameraHandlers {
	return &CameraHandlers{registry: registry, logger: logger.With("component", "api-cameras")}
}

// Register serves POST /cameras/register: idempotent on camera_id.
func (h *CameraHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var body cameraRegistration
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		BadRequest(w, "malformed request body")
		return
	}
	if err := validateRegistration(body); err != nil {
		WriteError(w, err)
		return
	}

	cam, err := h.registry.Register(r.Context(), body.toModel())
	if err != nil {
		WriteError(w, err)
		return
	}
	OK(w, cam)
}

// List serves GET /cameras.
func (h *CameraHandlers) List(w http.ResponseWriter, r *http.Request) {
	cameras, err := h.registry.List(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if cameras == nil {
		cameras = []model.Camera{}
	}
	OK(w, cameras)
}

// Get serves GET /cameras/{id}.
func (h *CameraHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cam, err := h.registry.Get(r.Context(), id)
	if err != nil {
		NotFound(w, "camera not found")
		return
	}
	OK(w, cam)
}
