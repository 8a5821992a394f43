package tracker

import (
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

func det(x, y, w, h, conf float64) model.Detection {
	return model.Detection{BBox: model.BoundingBox{X: x, Y: y, Width: w, Height: h}, Confidence: conf, Class: "person"}
}

func TestUpdate_ConfirmsAfterMinHits(t *testing.T) {
	tr := New(Config{MatchIoUThreshold: 0.5, MinHits: 3, MaxAge: 30})
	base := time.Now()

	for i := 0; i < 2; i++ {
		tracks := tr.Update("cam_A", []model.Detection{det(10, 10, 20, 20, 0.9)}, base.Add(time.Duration(i)*time.Second))
		if len(tracks) != 0 {
			t.Fatalf("frame %d: expected no confirmed tracks yet, got %d", i, len(tracks))
		}
	}

	tracks := tr.Update("cam_A", []model.Detection{det(10, 10, 20, 20, 0.9)}, base.Add(3*time.Second))
	if len(tracks) != 1 {
		t.Fatalf("expected 1 confirmed track on 3rd hit, got %d", len(tracks))
	}
	if tracks[0].TrackID != 1 {
		t.Fatalf("expected track_id 1, got %d", tracks[0].TrackID)
	}
}

func TestUpdate_TerminatesAfterMaxAge(t *testing.T) {
	tr := New(Config{MatchIoUThreshold: 0.5, MinHits: 1, MaxAge: 3})
	base := time.Now()

	tr.Update("cam_A", []model.Detection{det(10, 10, 20, 20, 0.9)}, base)
	if tr.ActiveCount() != 1 {
		t.Fatalf("expected 1 active track")
	}

	for i := 1; i <= 3; i++ {
		tr.Update("cam_A", nil, base.Add(time.Duration(i)*time.Second))
	}

	if tr.ActiveCount() != 0 {
		t.Fatalf("expected track terminated after MaxAge misses, got %d active", tr.ActiveCount())
	}
}

func TestUpdate_StrictlyIncreasingTrackIDs(t *testing.T) {
	tr := New(Config{MatchIoUThreshold: 0.5, MinHits: 1, MaxAge: 30})
	base := time.Now()

	tracks := tr.Update("cam_A", []model.Detection{det(0, 0, 10, 10, 0.9), det(100, 100, 10, 10, 0.9)}, base)
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].TrackID != 1 || tracks[1].TrackID != 2 {
		t.Fatalf("expected track ids 1,2, got %d,%d", tracks[0].TrackID, tracks[1].TrackID)
	}

	// A third, non-overlapping detection gets the next strictly higher id.
	more := tr.Update("cam_A", []model.Detection{det(0, 0, 10, 10, 0.9), det(100, 100, 10, 10, 0.9), det(200, 200, 10, 10, 0.9)}, base.Add(time.Second))
	var newest uint64
	for _, tk := range more {
		if tk.TrackID > newest {
			newest = tk.TrackID
		}
	}
	if newest != 3 {
		t.Fatalf("expected new track id 3, got %d", newest)
	}
}

func TestUpdate_MatchPrefersHigherIoU(t *testing.T) {
	tr := New(Config{MatchIoUThreshold: 0.3, MinHits: 1, MaxAge: 30})
	base := time.Now()

	tr.Update("cam_A", []model.Detection{det(0, 0, 100, 100, 0.9)}, base)

	// Two overlapping candidate boxes next frame: pick the one with
	// higher IoU against the existing track box.
	tracks := tr.Update("cam_A", []model.Detection{
		det(60, 60, 100, 100, 0.5), // lower IoU
		det(5, 5, 100, 100, 0.5),   // higher IoU
	}, base.Add(time.Second))

	if len(tracks) != 2 {
		t.Fatalf("expected the matched track plus a new track for the unmatched detection, got %d", len(tracks))
	}
	if tracks[0].BBox.X != 5 {
		t.Fatalf("expected the higher-IoU detection to be matched, got bbox %+v", tracks[0].BBox)
	}
}
