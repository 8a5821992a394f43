// Package pipeline wires the per-camera detection -> tracking -> re-id
// -> (analytics, zone evaluator) -> risk -> alert-generator stage graph
// described in spec §2/§4, driven by internal/ingest.Coordinator's
// Handler callback, grounded on the teacher's
// internal/detection/service.go processFrame worker loop.
package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/config"
	"github.com/crowdwatch/crowdwatch/internal/core"
	"github.com/crowdwatch/crowdwatch/internal/framecache"
	"github.com/crowdwatch/crowdwatch/internal/model"
	"github.com/crowdwatch/crowdwatch/internal/vision/analytics"
	"github.com/crowdwatch/crowdwatch/internal/vision/detector"
	"github.com/crowdwatch/crowdwatch/internal/vision/reid"
	"github.com/crowdwatch/crowdwatch/internal/vision/risk"
	"github.com/crowdwatch/crowdwatch/internal/vision/tracker"
	"github.com/crowdwatch/crowdwatch/internal/zone"
)

// AnalyticsRepository persists per-frame analytics samples and the raw
// detection positions the heatmap endpoint grids spatially.
type AnalyticsRepository interface {
	Insert(ctx context.Context, sample model.AnalyticsSample) error
	InsertDetections(ctx context.Context, cameraID string, ts time.Time, boxes []model.BoundingBox) error
}

// cameraState holds the per-camera stage instances and previous-frame
// bookkeeping the pipeline's single worker goroutine owns exclusively,
// so none of it needs its own locking (§5: "one worker per camera").
type cameraState struct {
	tracker    *tracker.Tracker
	evaluator  *zone.Evaluator
	prevSpeeds map[uint64]float64
	embeddings map[uint64][]float64
}

// Pipeline owns one stage graph per camera and the shared stateless
// stages (detector, re-id extractor), plus the shared sinks (frame
// cache, analytics repository, alert generator, event bus).
type Pipeline struct {
	cfg       config.PipelineConfig
	detector  detector.Detector
	extractor reid.Extractor
	zones     *zone.Repository
	analytics AnalyticsRepository
	alerts    *risk.Generator
	cache     *framecache.Cache
	bus       *core.EventBus
	logger    *slog.Logger

	mu      sync.Mutex
	cameras map[string]*cameraState
}

// New builds a Pipeline. Any of zones/analytics/alerts/bus may be nil
// for a minimal in-memory pipeline (used by tests); cache must not be
// nil.
func New(cfg config.PipelineConfig, det detector.Detector, extractor reid.Extractor, zones *zone.Repository, analyticsRepo AnalyticsRepository, alerts *risk.Generator, cache *framecache.Cache, bus *core.EventBus, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		detector:  det,
		extractor: extractor,
		zones:     zones,
		analytics: analyticsRepo,
		alerts:    alerts,
		cache:     cache,
		bus:       bus,
		logger:    logger.With("component", "pipeline"),
		cameras:   make(map[string]*cameraState),
	}
}

func (p *Pipeline) stateFor(cameraID string) *cameraState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.cameras[cameraID]
	if ok {
		return st
	}
	trackerCfg := tracker.Config{
		MatchIoUThreshold: p.cfg.MatchIoUThreshold,
		MinHits:           p.cfg.MinHits,
		MaxAge:            p.cfg.MaxAge,
	}
	st = &cameraState{
		tracker:    tracker.New(trackerCfg),
		evaluator:  zone.NewEvaluator(),
		prevSpeeds: make(map[uint64]float64),
		embeddings: make(map[uint64][]float64),
	}
	p.cameras[cameraID] = st
	return st
}

// Handle is the ingest.Handler driving one frame through the full
// stage graph. It is called from the camera's single ingest worker, so
// per-camera state never needs its own lock.
func (p *Pipeline) Handle(ctx context.Context, frame detector.Frame) {
	st := p.stateFor(frame.CameraID)

	detections, err := p.detector.Detect(ctx, frame)
	if err != nil {
		p.logger.Error("detect", "camera_id", frame.CameraID, "frame_id", frame.FrameID, "error", err)
		return
	}
	detections = detector.FilterAndNMS(detections, p.cfg.ConfThreshold, p.cfg.NMSIoUThreshold)

	if p.analytics != nil {
		if err := p.analytics.InsertDetections(ctx, frame.CameraID, frame.Timestamp, boxesOf(detections)); err != nil {
			p.logger.Error("persist detection positions", "camera_id", frame.CameraID, "error", err)
		}
	}

	tracks := st.tracker.Update(frame.CameraID, detections, frame.Timestamp)

	if p.extractor != nil {
		if img := decodeJPEG(frame.JPEG); img != nil {
			p.runReID(ctx, st, img, tracks)
		}
	}

	sample := analytics.Compute(tracks, analytics.Config{DensityNorm: p.cfg.DensityNorm}, frame.Timestamp)
	sample.CameraID = frame.CameraID

	motions := analytics.Motion(tracks, frame.Timestamp)
	riskCfg := risk.Config{
		ReferenceSpeed:        p.cfg.ReferenceSpeed,
		SpeedJumpThreshold:    p.cfg.SpeedJumpThreshold,
		AlertResampleInterval: time.Duration(p.cfg.AlertResampleInterval) * time.Second,
	}
	score, _ := risk.Score(sample, motions, st.prevSpeeds, riskCfg)
	sample.RiskScore = score
	sample.RiskLevel = model.ClassifyRisk(score)

	for _, m := range motions {
		if m.HasPrev {
			st.prevSpeeds[m.TrackID] = m.Speed
		}
	}

	if p.analytics != nil {
		if err := p.analytics.Insert(ctx, sample); err != nil {
			p.logger.Error("persist analytics sample", "camera_id", frame.CameraID, "error", err)
		}
	}
	if p.bus != nil {
		_ = p.bus.Publish("analytics."+frame.CameraID, sample)
	}
	if p.alerts != nil {
		if alert, err := p.alerts.Evaluate(ctx, frame.CameraID, sample); err != nil {
			p.logger.Error("evaluate risk alert", "camera_id", frame.CameraID, "error", err)
		} else if alert != nil && p.bus != nil {
			_ = p.bus.Publish(core.SubjectAlert, alert)
		}
	}

	if p.zones != nil {
		p.evaluateZones(ctx, st, frame, tracks)
	}

	if p.cache != nil {
		annotated := framecache.Annotate(frame.JPEG, tracks, nil, sample, framecache.DefaultRenderOptions())
		p.cache.Put(frame.CameraID, frame.FrameID, annotated, frame.Width, frame.Height)
	}
}

func (p *Pipeline) runReID(ctx context.Context, st *cameraState, img image.Image, tracks []model.Track) {
	for i := range tracks {
		trk := &tracks[i]
		fresh, err := p.extractor.Extract(ctx, img, trk.BBox)
		if err != nil {
			continue
		}
		updated := reid.UpdateEMA(st.embeddings[trk.TrackID], fresh, reidAlpha(p.cfg.EmbeddingAlpha))
		st.embeddings[trk.TrackID] = updated
		trk.Embedding = updated
	}
}

func reidAlpha(alpha float64) float64 {
	if alpha == 0 {
		return reid.Alpha
	}
	return alpha
}

func (p *Pipeline) evaluateZones(ctx context.Context, st *cameraState, frame detector.Frame, tracks []model.Track) {
	zones, err := p.zones.ListByCamera(ctx, frame.CameraID)
	if err != nil {
		p.logger.Error("list zones", "camera_id", frame.CameraID, "error", err)
		return
	}
	if len(zones) == 0 {
		return
	}

	events := st.evaluator.Evaluate(frame.CameraID, tracks, zones, frame.Timestamp)
	for _, ev := range events {
		if err := p.zones.RecordEvent(ctx, ev); err != nil {
			p.logger.Error("record entry/exit event", "camera_id", frame.CameraID, "error", err)
			continue
		}
		if p.bus != nil {
			_ = p.bus.Publish(core.SubjectEntryExit, ev)
		}
	}

	if p.alerts != nil {
		for _, z := range zones {
			if alert, err := p.alerts.EvaluateZoneCapacity(ctx, z); err == nil && alert != nil && p.bus != nil {
				_ = p.bus.Publish(core.SubjectAlert, alert)
			}
		}
	}
}

func boxesOf(detections []model.Detection) []model.BoundingBox {
	boxes := make([]model.BoundingBox, len(detections))
	for i, d := range detections {
		boxes[i] = d.BBox
	}
	return boxes
}

func decodeJPEG(data []byte) image.Image {
	if len(data) == 0 {
		return nil
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}
