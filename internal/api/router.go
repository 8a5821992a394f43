package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/crowdwatch/crowdwatch/internal/push"
)

// Handlers bundles every HTTP-facing component NewRouter mounts.
type Handlers struct {
	Cameras    *CameraHandlers
	Frames     *FrameHandlers
	Zones      *ZoneHandlers
	Alerts     *AlertHandlers
	Movements  *MovementHandlers
	Analytics  *AnalyticsHandlers
	Health     *HealthHandlers
	Stream     *StreamHandlers
	System     *SystemHandlers
	Push       *push.Handlers
}

// NewRouter assembles the §6 HTTP surface: REST endpoints under their
// literal spec paths plus the push fabric's websocket upgrades, behind
// the teacher's standard chi middleware and CORS stack.
func NewRouter(h Handlers, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health.Health)

	r.Route("/cameras", func(r chi.Router) {
		r.Post("/register", h.Cameras.Register)
		r.Get("/", h.Cameras.List)
		r.Get("/{id}", h.Cameras.Get)
		r.Get("/{camera_id}/snapshot", h.Stream.Snapshot)
	})

	r.Route("/frames", func(r chi.Router) {
		r.Post("/upload", h.Frames.Upload)
	})

	r.Route("/zones", func(r chi.Router) {
		r.Post("/", h.Zones.Create)
		r.Get("/{camera_id}", h.Zones.ListByCamera)
		r.Put("/{id}", h.Zones.Update)
		r.Delete("/{id}", h.Zones.Delete)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/active", h.Alerts.Active)
		r.Post("/{id}/acknowledge", h.Alerts.Acknowledge)
	})

	r.Route("/movements", func(r chi.Router) {
		r.Get("/", h.Movements.Query)
		r.Get("/camera/{id}", h.Movements.ByCamera)
		r.Get("/pair/{a}/{b}", h.Movements.ByPair)
		r.Get("/statistics", h.Movements.Statistics)
	})

	r.Route("/analytics/{camera_id}", func(r chi.Router) {
		r.Get("/realtime", h.Analytics.Realtime)
		r.Get("/history", h.Analytics.History)
		r.Get("/heatmap", h.Analytics.Heatmap)
		r.Get("/entry-exit", h.Analytics.EntryExit)
	})

	r.Get("/stream/{camera_id}", h.Stream.Stream)

	r.Route("/system/logs", func(r chi.Router) {
		r.Get("/recent", h.System.RecentLogs)
		r.Get("/stream", h.System.StreamLogs)
	})

	r.Route("/ws", func(r chi.Router) {
		r.Get("/frames", h.Push.Frames)
		r.Get("/dashboard/{camera_id}", h.Push.Dashboard)
		r.Get("/alerts", h.Push.Alerts)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "no route for "+r.URL.Path)
	})

	return r
}
