package api

import (
	"net/http"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/database"
)

// Version is the server's reported build version.
const Version = "0.1.0"

type healthResponse struct {
	Status      string    `json:"status"`
	Version     string    `json:"version"`
	DB          string    `json:"db"`
	DBSizeBytes int64     `json:"db_size_bytes,omitempty"`
	OpenConns   int       `json:"db_open_conns"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthHandlers serves GET /health.
type HealthHandlers struct {
	db *database.DB
}

// NewHealthHandlers builds HealthHandlers backed by db.
func NewHealthHandlers(db *database.DB) *HealthHandlers {
	return &HealthHandlers{db: db}
}

// Health serves GET /health: reports the database's liveness and size
// alongside process status.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := "ok"
	if err := h.db.Health(r.Context()); err != nil {
		dbStatus = "unreachable"
		status = "degraded"
	}
	size, _ := h.db.GetSize()
	OK(w, healthResponse{
		Status:      status,
		Version:     Version,
		DB:          dbStatus,
		DBSizeBytes: size,
		OpenConns:   h.db.Stats().OpenConnections,
		Timestamp:   time.Now().UTC(),
	})
}
