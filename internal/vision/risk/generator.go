package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

type cameraState struct {
	lastLevel     model.RiskLevel
	lastEmittedAt time.Time
}

// Generator decides, per camera, when a risk score change warrants an
// alert: on every level transition, or after AlertResampleInterval of a
// sustained level (§4.6).
type Generator struct {
	mu     sync.Mutex
	states map[string]*cameraState
	repo   *Repository
	cfg    Config
}

// NewGenerator builds a Generator backed by repo for persistence.
func NewGenerator(repo *Repository, cfg Config) *Generator {
	if cfg.AlertResampleInterval == 0 {
		cfg.AlertResampleInterval = DefaultConfig().AlertResampleInterval
	}
	return &Generator{states: make(map[string]*cameraState), repo: repo, cfg: cfg}
}

// Evaluate decides whether sample/score warrants a new alert for
// cameraID, persists it if so, and returns it (nil if none).
func (g *Generator) Evaluate(ctx context.Context, cameraID string, sample model.AnalyticsSample) (*model.Alert, error) {
	g.mu.Lock()
	st, ok := g.states[cameraID]
	if !ok {
		st = &cameraState{}
		g.states[cameraID] = st
	}
	levelChanged := st.lastLevel != sample.RiskLevel
	sustained := !levelChanged && time.Since(st.lastEmittedAt) >= g.cfg.AlertResampleInterval
	shouldEmit := levelChanged || sustained
	if shouldEmit {
		st.lastEmittedAt = sample.Timestamp
	}
	st.lastLevel = sample.RiskLevel
	g.mu.Unlock()

	if !shouldEmit {
		return nil, nil
	}
	if sample.RiskLevel == model.RiskNormal && !levelChanged {
		// Don't keep re-emitting NORMAL on every resample interval; only
		// the transition into NORMAL is noteworthy.
		return nil, nil
	}

	alert := model.Alert{
		ID:        uuid.NewString(),
		CameraID:  cameraID,
		Kind:      kindFor(sample),
		Severity:  sample.RiskLevel,
		RiskScore: sample.RiskScore,
		Message:   messageFor(cameraID, sample),
		Timestamp: sample.Timestamp,
	}
	if err := g.repo.Insert(ctx, alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// EvaluateZoneCapacity raises a zone_overcapacity alert whenever a
// zone's current_occupancy exceeds its configured max_capacity (§4.5:
// "the stage does not reject detections; it raises a zone-level alert
// when capacity is exceeded").
func (g *Generator) EvaluateZoneCapacity(ctx context.Context, z model.Zone) (*model.Alert, error) {
	if z.MaxCapacity <= 0 || z.CurrentOccupancy <= z.MaxCapacity {
		return nil, nil
	}
	alert := model.Alert{
		ID:        uuid.NewString(),
		CameraID:  z.CameraID,
		Kind:      model.AlertZoneOvercapacity,
		Severity:  model.RiskWarning,
		RiskScore: 0,
		Message:   fmt.Sprintf("zone %s occupancy %d exceeds capacity %d", z.Name, z.CurrentOccupancy, z.MaxCapacity),
		Timestamp: time.Now().UTC(),
	}
	if err := g.repo.Insert(ctx, alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

func kindFor(sample model.AnalyticsSample) model.AlertKind {
	switch {
	case sample.Congestion == model.CongestionHigh && sample.RiskLevel == model.RiskCritical:
		return model.AlertStampedeRisk
	case sample.Density > 0.66:
		return model.AlertHighDensity
	default:
		return model.AlertCongestion
	}
}

func messageFor(cameraID string, sample model.AnalyticsSample) string {
	return fmt.Sprintf("camera %s risk level %s (score %.2f, density %.2f, congestion %s)",
		cameraID, sample.RiskLevel, sample.RiskScore, sample.Density, sample.Congestion)
}
