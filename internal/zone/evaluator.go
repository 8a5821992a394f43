package zone

import (
	"sync"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

// trackZoneKey identifies one (track, zone) pair being watched for a
// crossing edge.
type trackZoneKey struct {
	trackID uint64
	zoneID  string
}

// Evaluator tracks, per camera, the inside/outside state of every
// (track, zone) pair across consecutive frames and emits the §4.5
// entry/exit edge events. It is single-writer per camera, matching the
// tracker's ownership model.
type Evaluator struct {
	mu     sync.Mutex
	inside map[trackZoneKey]bool
}

// NewEvaluator builds an empty per-camera Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{inside: make(map[trackZoneKey]bool)}
}

// Evaluate computes the inside bit for every (track, zone) pair in the
// current frame and returns the entry/exit events implied by the
// transition from the previous frame's bit (§4.5 edge rule). The edge
// rule applies to every zone type alike; current_occupancy moves only
// through the database triggers, up on an entry into an entry-typed
// zone and down on an exit from an exit-typed zone.
func (e *Evaluator) Evaluate(cameraID string, tracks []model.Track, zones []model.Zone, ts time.Time) []model.EntryExitEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []model.EntryExitEvent
	seen := make(map[trackZoneKey]bool, len(tracks)*len(zones))

	for _, trk := range tracks {
		for _, z := range zones {
			key := trackZoneKey{trackID: trk.TrackID, zoneID: z.ID}
			seen[key] = true
			cur := Contains(z, trk.BBox)
			prev, known := e.inside[key]

			switch {
			case !known && cur:
				// First observation with cur==true counts as entry.
				events = append(events, e.emit(cameraID, z, trk, model.EventEntry, ts))
			case known && !prev && cur:
				events = append(events, e.emit(cameraID, z, trk, model.EventEntry, ts))
			case known && prev && !cur:
				events = append(events, e.emit(cameraID, z, trk, model.EventExit, ts))
			}
			e.inside[key] = cur
		}
	}

	// Drop state for (track, zone) pairs no longer observed this frame
	// (track terminated or zone deleted) to bound memory growth.
	for key := range e.inside {
		if !seen[key] {
			delete(e.inside, key)
		}
	}

	return events
}

func (e *Evaluator) emit(cameraID string, z model.Zone, trk model.Track, kind model.EventKind, ts time.Time) model.EntryExitEvent {
	return model.EntryExitEvent{
		CameraID:  cameraID,
		ZoneID:    z.ID,
		TrackID:   trk.TrackID,
		Kind:      kind,
		Timestamp: ts,
		Embedding: trk.Embedding,
	}
}
