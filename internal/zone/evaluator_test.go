package zone

import (
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

func entryZone() model.Zone {
	return model.Zone{ID: "z1", CameraID: "cam_A", Type: model.ZoneEntry, Polygon: square()}
}

func track(id uint64, x, y float64) model.Track {
	return model.Track{TrackID: id, State: model.TrackConfirmed, BBox: model.BoundingBox{X: x, Y: y, Width: 10, Height: 10}}
}

// Left-to-right crossing of x=320: the bottom-center enters the
// square at x<320 and exits once x>=320 (scenario S2).
func TestEvaluate_EntryThenExit(t *testing.T) {
	e := NewEvaluator()
	z := entryZone()
	base := time.Now()

	var all []model.EntryExitEvent
	xs := []float64{100, 150, 200, 250, 300, 350, 400}
	for i, x := range xs {
		evs := e.Evaluate("cam_A", []model.Track{track(1, x, 100)}, []model.Zone{z}, base.Add(time.Duration(i)*time.Second))
		all = append(all, evs...)
	}

	if len(all) != 2 {
		t.Fatalf("expected exactly 2 events (entry, exit), got %d: %+v", len(all), all)
	}
	if all[0].Kind != model.EventEntry {
		t.Fatalf("expected first event entry, got %s", all[0].Kind)
	}
	if all[1].Kind != model.EventExit {
		t.Fatalf("expected second event exit, got %s", all[1].Kind)
	}
}

func TestEvaluate_AlternatesStrictly(t *testing.T) {
	e := NewEvaluator()
	z := entryZone()
	base := time.Now()

	// Oscillate in and out of the zone several times.
	positions := []float64{100, 400, 100, 400, 100, 400}
	var kinds []model.EventKind
	for i, x := range positions {
		evs := e.Evaluate("cam_A", []model.Track{track(1, x, 100)}, []model.Zone{z}, base.Add(time.Duration(i)*time.Second))
		for _, ev := range evs {
			kinds = append(kinds, ev.Kind)
		}
	}

	for i, k := range kinds {
		want := model.EventEntry
		if i%2 == 1 {
			want = model.EventExit
		}
		if k != want {
			t.Fatalf("event %d: expected %s, got %s (sequence: %v)", i, want, k, kinds)
		}
	}
}

func TestEvaluate_FirstObservationInsideIsEntry(t *testing.T) {
	e := NewEvaluator()
	z := entryZone()
	evs := e.Evaluate("cam_A", []model.Track{track(1, 100, 100)}, []model.Zone{z}, time.Now())
	if len(evs) != 1 || evs[0].Kind != model.EventEntry {
		t.Fatalf("expected single entry event, got %+v", evs)
	}
}
