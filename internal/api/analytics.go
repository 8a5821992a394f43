package api

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crowdwatch/crowdwatch/internal/camera"
	"github.com/crowdwatch/crowdwatch/internal/model"
	"github.com/crowdwatch/crowdwatch/internal/vision/analytics"
	"github.com/crowdwatch/crowdwatch/internal/zone"
)

// AnalyticsHandlers serves the §6 analytics read endpoints.
type AnalyticsHandlers struct {
	samples *analytics.Repository
	zones   *zone.Repository
	cameras *camera.Registry
	logger  *slog.Logger
}

// NewAnalyticsHandlers builds AnalyticsHandlers backed by samples and
// zones (the latter supplies entry/exit counts); cameras supplies each
// camera's real resolution for the heatmap grid.
func NewAnalyticsHandlers(samples *analytics.Repository, zones *zone.Repository, cameras *camera.Registry, logger *slog.Logger) *AnalyticsHandlers {
	return &AnalyticsHandlers{samples: samples, zones: zones, cameras: cameras, logger: logger.With("component", "api-analytics")}
}

// Realtime serves GET /analytics/{camera_id}/realtime.
func (h *AnalyticsHandlers) Realtime(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	sample, err := h.samples.Latest(r.Context(), cameraID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			NotFound(w, "no analytics recorded for camera")
			return
		}
		WriteError(w, err)
		return
	}
	OK(w, sample)
}

// historyBucket is one interval-aggregated row of GET .../history.
type historyBucket struct {
	Timestamp   time.Time         `json:"timestamp"`
	PeopleCount float64           `json:"people_count"`
	Density     float64           `json:"density"`
	AvgSpeed    float64           `json:"avg_speed"`
	RiskScore   float64           `json:"risk_score"`
	RiskLevel   model.RiskLevel   `json:"risk_level"`
	Congestion  model.Congestion  `json:"congestion"`
}

// History serves GET /analytics/{camera_id}/history?start_time&end_time&interval.
func (h *AnalyticsHandlers) History(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	q := r.URL.Query()

	now := time.Now().UTC()
	from, ok := parseUnixOrRFC3339(q.Get("start_time"))
	if !ok {
		from = now.Add(-time.Hour)
	}
	to, ok := parseUnixOrRFC3339(q.Get("end_time"))
	if !ok {
		to = now
	}
	interval := 60
	if raw := q.Get("interval"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			interval = n
		}
	}

	samples, err := h.samples.History(r.Context(), cameraID, from, to)
	if err != nil {
		WriteError(w, err)
		return
	}
	OK(w, bucketHistory(samples, from, interval))
}

// bucketHistory aggregates samples into fixed-width interval-second
// buckets, averaging scalar fields and taking the worst (highest rank)
// risk level observed within each bucket.
func bucketHistory(samples []model.AnalyticsSample, from time.Time, interval int) []historyBucket {
	if len(samples) == 0 {
		return []historyBucket{}
	}
	type acc struct {
		n                                 int
		people, density, speed, riskScore float64
		worstRisk                         model.RiskLevel
		congestion                        model.Congestion
	}
	buckets := make(map[int64]*acc)
	var order []int64

	for _, s := range samples {
		bucketStart := s.Timestamp.Sub(from) / time.Second / time.Duration(interval) * time.Duration(interval)
		key := int64(bucketStart)
		a, ok := buckets[key]
		if !ok {
			a = &acc{worstRisk: model.RiskNormal}
			buckets[key] = a
			order = append(order, key)
		}
		a.n++
		a.people += float64(s.PeopleCount)
		a.density += s.Density
		a.speed += s.AvgSpeed
		a.riskScore += s.RiskScore
		a.congestion = s.Congestion
		if riskRank(s.RiskLevel) > riskRank(a.worstRisk) {
			a.worstRisk = s.RiskLevel
		}
	}

	out := make([]historyBucket, 0, len(order))
	for _, key := range order {
		a := buckets[key]
		out = append(out, historyBucket{
			Timestamp:   from.Add(time.Duration(key) * time.Second),
			PeopleCount: a.people / float64(a.n),
			Density:     a.density / float64(a.n),
			AvgSpeed:    a.speed / float64(a.n),
			RiskScore:   a.riskScore / float64(a.n),
			RiskLevel:   a.worstRisk,
			Congestion:  a.congestion,
		})
	}
	return out
}

func riskRank(l model.RiskLevel) int {
	switch l {
	case model.RiskWarning:
		return 1
	case model.RiskCritical:
		return 2
	default:
		return 0
	}
}

type heatmapResolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type heatmapResponse struct {
	CameraID   string            `json:"camera_id"`
	Heatmap    string            `json:"heatmap"`
	Resolution heatmapResolution `json:"resolution"`
	Timestamp  time.Time         `json:"timestamp"`
	Duration   float64           `json:"duration"`
}

// Heatmap serves GET /analytics/{camera_id}/heatmap?duration (duration
// in whole seconds, matching the reference route's plain-integer echo).
func (h *AnalyticsHandlers) Heatmap(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	duration := 300 * time.Second
	if raw := r.URL.Query().Get("duration"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			duration = time.Duration(secs) * time.Second
		} else if d, err := time.ParseDuration(raw); err == nil {
			duration = d
		}
	}

	cam, err := h.cameras.Get(r.Context(), cameraID)
	if err != nil {
		NotFound(w, "camera not found")
		return
	}
	width, height := parseResolution(cam.Resolution)

	now := time.Now().UTC()
	boxes, err := h.samples.DetectionPositions(r.Context(), cameraID, now.Add(-duration), now)
	if err != nil {
		WriteError(w, err)
		return
	}

	hm, err := analytics.RenderHeatmap(boxes, width, height, duration, now)
	if err != nil {
		WriteError(w, err)
		return
	}

	OK(w, heatmapResponse{
		CameraID:   cameraID,
		Heatmap:    base64.StdEncoding.EncodeToString(hm.PNG),
		Resolution: heatmapResolution{Width: hm.Width, Height: hm.Height},
		Timestamp:  hm.Timestamp,
		Duration:   hm.Duration.Seconds(),
	})
}

// parseResolution parses a "WxH" camera resolution string, falling back
// to 1920x1080 when unset or malformed.
func parseResolution(res string) (width, height int) {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return 1920, 1080
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 1920, 1080
	}
	return w, h
}

type entryExitResponse struct {
	EntryCount int                      `json:"entry_count"`
	ExitCount  int                      `json:"exit_count"`
	Events     []model.EntryExitEvent   `json:"events"`
}

// EntryExit serves GET /analytics/{camera_id}/entry-exit?limit.
func (h *AnalyticsHandlers) EntryExit(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	limit := parseLimit(r, 100)

	entries, exits, err := h.zones.EntryExitCounts(r.Context(), cameraID)
	if err != nil {
		WriteError(w, err)
		return
	}
	events, err := h.zones.RecentEvents(r.Context(), cameraID, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	if events == nil {
		events = []model.EntryExitEvent{}
	}
	OK(w, entryExitResponse{EntryCount: entries, ExitCount: exits, Events: events})
}
