package detector

import (
	"context"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

// StubDetector is an in-process deterministic detector used when no
// model backend is configured. It returns whatever fixed boxes were
// seeded for a camera, independent of the actual frame bytes, so tests
// and local development can exercise the pipeline without a model.
type StubDetector struct {
	boxes map[string][]model.Detection
}

// NewStubDetector builds a StubDetector with no seeded boxes.
func NewStubDetector() *StubDetector {
	return &StubDetector{boxes: make(map[string][]model.Detection)}
}

// Seed registers the detections to return for a given camera.
func (s *StubDetector) Seed(cameraID string, detections []model.Detection) {
	s.boxes[cameraID] = detections
}

// Detect returns the seeded boxes for frame.CameraID, stamped with the
// frame's ID.
func (s *StubDetector) Detect(_ context.Context, frame Frame) ([]model.Detection, error) {
	seeded := s.boxes[frame.CameraID]
	out := make([]model.Detection, len(seeded))
	for i, d := range seeded {
		d.CameraID = frame.CameraID
		d.FrameID = frame.FrameID
		out[i] = d
	}
	return out, nil
}
