// Package detector defines the stateless per-frame person-detection
// contract and the filtering/NMS pass every backend result is put
// through before it reaches the tracker.
package detector

import (
	"context"
	"sort"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Frame is a single decoded camera frame flowing through the pipeline:
// submitted for detection, annotated for the frame cache, and re-used by
// every downstream stage as the per-frame unit of work.
type Frame struct {
	CameraID  string
	FrameID   uint64
	Timestamp time.Time
	Width     int
	Height    int
	JPEG      []byte
}

// Detector runs person detection against a single frame. Implementations
// are stateless across frames: each call only sees the frame passed to
// it, never prior history.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]model.Detection, error)
}

// FilterAndNMS applies the class/confidence filter and IoU-based
// non-maximum suppression a backend's raw output must pass through.
// Boxes below confThreshold or not labeled "person" are dropped; among
// the survivors, greedily keep the highest-confidence box in any
// IoU-overlapping cluster and discard the rest.
func FilterAndNMS(detections []model.Detection, confThreshold, iouThreshold float64) []model.Detection {
	kept := make([]model.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Class == "person" && d.Confidence >= confThreshold {
			kept = append(kept, d)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	result := make([]model.Detection, 0, len(kept))
	suppressed := make([]bool, len(kept))
	for i := range kept {
		if suppressed[i] {
			continue
		}
		result = append(result, kept[i])
		for j := i + 1; j < len(kept); j++ {
			if suppressed[j] {
				continue
			}
			if kept[i].BBox.IoU(kept[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return result
}
