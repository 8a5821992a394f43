// Package tracker implements the §4.3 two-stage IoU tracker: greedy
// highest-IoU-first assignment between active tracks and the current
// frame's detections, tentative/confirmed/terminated lifecycle, and
// strictly increasing per-camera track IDs.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Config holds the tracker's tunables (spec §4.3 defaults).
type Config struct {
	MatchIoUThreshold float64 // default 0.5
	MinHits           int     // default 3
	MaxAge            int     // default 30
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{MatchIoUThreshold: 0.5, MinHits: 3, MaxAge: 30}
}

// Tracker holds one camera's active-track state. It is single-writer:
// only the owning camera worker calls Update.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	active  map[uint64]*model.Track
	nextID  uint64
}

// New builds a Tracker for one camera with the given configuration.
func New(cfg Config) *Tracker {
	if cfg.MatchIoUThreshold == 0 {
		cfg.MatchIoUThreshold = DefaultConfig().MatchIoUThreshold
	}
	if cfg.MinHits == 0 {
		cfg.MinHits = DefaultConfig().MinHits
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	return &Tracker{cfg: cfg, active: make(map[uint64]*model.Track)}
}

type candidateMatch struct {
	trackID uint64
	detIdx  int
	iou     float64
	conf    float64
}

// Update associates detections with active tracks for one frame and
// returns the confirmed tracks only (§4.3: "Only confirmed tracks are
// emitted to downstream stages").
func (t *Tracker) Update(cameraID string, detections []model.Detection, frameTS time.Time) []model.Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	matchedTrack := make(map[uint64]bool, len(t.active))
	matchedDet := make(map[int]bool, len(detections))

	candidates := make([]candidateMatch, 0, len(t.active)*len(detections))
	for id, trk := range t.active {
		for i, d := range detections {
			iou := trk.BBox.IoU(d.BBox)
			if iou >= t.cfg.MatchIoUThreshold {
				candidates = append(candidates, candidateMatch{trackID: id, detIdx: i, iou: iou, conf: d.Confidence})
			}
		}
	}

	// Maximum-weight assignment via greedy-by-descending-IoU, tie-break
	// by higher detection confidence then lower track_id (§4.3 step 2).
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].iou != candidates[j].iou {
			return candidates[i].iou > candidates[j].iou
		}
		if candidates[i].conf != candidates[j].conf {
			return candidates[i].conf > candidates[j].conf
		}
		return candidates[i].trackID < candidates[j].trackID
	})

	for _, c := range candidates {
		if matchedTrack[c.trackID] || matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackID] = true
		matchedDet[c.detIdx] = true

		trk := t.active[c.trackID]
		det := detections[c.detIdx]
		trk.PrevBBox = trk.BBox
		trk.PrevTS = trk.LastSeen
		trk.BBox = det.BBox
		trk.LastSeen = frameTS
		trk.TotalFrames++
		trk.Misses = 0
		trk.AvgConfidence = trk.AvgConfidence + (det.Confidence-trk.AvgConfidence)/float64(trk.TotalFrames)
		if trk.State == model.TrackTentative && trk.TotalFrames >= t.cfg.MinHits {
			trk.State = model.TrackConfirmed
		}
	}

	// Unmatched detections become new tentative tracks (§4.3 step 3).
	for i, d := range detections {
		if matchedDet[i] {
			continue
		}
		t.nextID++
		id := t.nextID
		trk := &model.Track{
			TrackID:       id,
			CameraID:      cameraID,
			FirstSeen:     frameTS,
			LastSeen:      frameTS,
			TotalFrames:   1,
			AvgConfidence: d.Confidence,
			State:         model.TrackTentative,
			BBox:          d.BBox,
		}
		if t.cfg.MinHits <= 1 {
			trk.State = model.TrackConfirmed
		}
		t.active[id] = trk
		matchedTrack[id] = true
	}

	// Unmatched tracks age out (§4.3 step 4).
	for id, trk := range t.active {
		if matchedTrack[id] {
			continue
		}
		trk.Misses++
		if trk.Misses >= t.cfg.MaxAge {
			trk.State = model.TrackTerminated
			delete(t.active, id)
		}
	}

	confirmed := make([]model.Track, 0, len(t.active))
	for _, trk := range t.active {
		if trk.State == model.TrackConfirmed {
			confirmed = append(confirmed, *trk)
		}
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i].TrackID < confirmed[j].TrackID })
	return confirmed
}

// Track returns a copy of one active track by ID, for stages (re-id,
// analytics) that need to mutate the stored embedding or read previous
// frame state without exposing the tracker's internal map.
func (t *Tracker) Track(id uint64) (model.Track, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trk, ok := t.active[id]
	if !ok {
		return model.Track{}, false
	}
	return *trk, true
}

// SetEmbedding stores the re-id stage's updated embedding on the track,
// if it is still active.
func (t *Tracker) SetEmbedding(id uint64, embedding []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trk, ok := t.active[id]; ok {
		trk.Embedding = embedding
	}
}

// SetPrevSpeed records the track's previous-frame speed, used by the
// risk stage's sudden_movement factor (§4.6).
func (t *Tracker) SetPrevSpeed(id uint64, speed float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trk, ok := t.active[id]; ok {
		trk.PrevSpeed = speed
	}
}

// ActiveCount returns the number of tracks (any state) currently held.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
