package detector

import (
	"context"
	"testing"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

func box(x, y, w, h, conf float64, class string) model.Detection {
	return model.Detection{
		Class:      class,
		Confidence: conf,
		BBox:       model.BoundingBox{X: x, Y: y, Width: w, Height: h},
	}
}

func TestFilterAndNMSDropsLowConfidence(t *testing.T) {
	in := []model.Detection{
		box(0, 0, 10, 10, 0.49, "person"),
		box(20, 20, 10, 10, 0.9, "person"),
	}
	out := FilterAndNMS(in, 0.5, 0.4)
	if len(out) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(out))
	}
	if out[0].Confidence != 0.9 {
		t.Errorf("expected the high-confidence box to survive, got %v", out[0])
	}
}

func TestFilterAndNMSDropsNonPerson(t *testing.T) {
	in := []model.Detection{box(0, 0, 10, 10, 0.9, "car")}
	out := FilterAndNMS(in, 0.5, 0.4)
	if len(out) != 0 {
		t.Fatalf("expected non-person class to be dropped, got %d", len(out))
	}
}

func TestFilterAndNMSSuppressesOverlap(t *testing.T) {
	in := []model.Detection{
		box(0, 0, 10, 10, 0.9, "person"),
		box(1, 1, 10, 10, 0.8, "person"),
	}
	out := FilterAndNMS(in, 0.5, 0.4)
	if len(out) != 1 {
		t.Fatalf("expected overlapping boxes to collapse to 1, got %d", len(out))
	}
	if out[0].Confidence != 0.9 {
		t.Errorf("expected the higher-confidence box to be kept, got %v", out[0])
	}
}

func TestFilterAndNMSKeepsDisjointBoxes(t *testing.T) {
	in := []model.Detection{
		box(0, 0, 10, 10, 0.9, "person"),
		box(100, 100, 10, 10, 0.8, "person"),
	}
	out := FilterAndNMS(in, 0.5, 0.4)
	if len(out) != 2 {
		t.Fatalf("expected disjoint boxes to both survive, got %d", len(out))
	}
}

func TestStubDetectorReturnsSeeded(t *testing.T) {
	stub := NewStubDetector()
	stub.Seed("cam1", []model.Detection{box(0, 0, 10, 10, 0.9, "person")})

	out, err := stub.Detect(context.Background(), Frame{CameraID: "cam1", FrameID: 42})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 seeded detection, got %d", len(out))
	}
	if out[0].FrameID != 42 {
		t.Errorf("expected FrameID stamped to 42, got %d", out[0].FrameID)
	}
}

func TestStubDetectorUnseededCameraEmpty(t *testing.T) {
	stub := NewStubDetector()
	out, err := stub.Detect(context.Background(), Frame{CameraID: "unknown"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no detections for unseeded camera, got %d", len(out))
	}
}
