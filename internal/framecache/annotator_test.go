package framecache

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

func blankJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{30, 30, 30, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestAnnotate_ProducesValidJPEG(t *testing.T) {
	frame := blankJPEG(t, 320, 240)
	tracks := []model.Track{
		{TrackID: 1, State: model.TrackConfirmed, BBox: model.BoundingBox{X: 10, Y: 10, Width: 40, Height: 80}},
		{TrackID: 2, State: model.TrackTentative, BBox: model.BoundingBox{X: 200, Y: 50, Width: 30, Height: 60}},
	}
	zones := []model.Zone{{ID: "z1", Polygon: []model.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}}}
	sample := model.AnalyticsSample{PeopleCount: 2, Density: 0.4, RiskLevel: model.RiskWarning, Flow: model.FlowVector{X: 1, Y: 0}}

	out := Annotate(frame, tracks, zones, sample, DefaultRenderOptions())
	if len(out) == 0 {
		t.Fatalf("expected non-empty annotated frame")
	}
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("expected annotated output to be a valid JPEG: %v", err)
	}
}

func TestAnnotate_OnDecodeFailureReturnsInput(t *testing.T) {
	bogus := []byte("not a jpeg")
	out := Annotate(bogus, nil, nil, model.AnalyticsSample{}, DefaultRenderOptions())
	if !bytes.Equal(out, bogus) {
		t.Fatalf("expected undecodable input to be returned unchanged")
	}
}
