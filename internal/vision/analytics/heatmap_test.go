package analytics

import (
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

func TestRenderHeatmap_ReportsCameraResolution(t *testing.T) {
	boxes := []model.BoundingBox{
		{X: 100, Y: 100, Width: 40, Height: 80},
	}
	hm, err := RenderHeatmap(boxes, 640, 480, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("RenderHeatmap: %v", err)
	}
	if hm.Width != 640 || hm.Height != 480 {
		t.Fatalf("expected heatmap to echo the camera's own resolution 640x480, got %dx%d", hm.Width, hm.Height)
	}
	if len(hm.PNG) == 0 {
		t.Fatal("expected non-empty PNG")
	}
}

func TestRenderHeatmap_DefaultsResolutionWhenUnset(t *testing.T) {
	hm, err := RenderHeatmap(nil, 0, 0, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("RenderHeatmap: %v", err)
	}
	if hm.Width != 1920 || hm.Height != 1080 {
		t.Fatalf("expected default 1920x1080, got %dx%d", hm.Width, hm.Height)
	}
}

func TestSplat_PeaksNearDetectionCenter(t *testing.T) {
	boxes := []model.BoundingBox{{X: 300, Y: 150, Width: 40, Height: 40}}
	grid := splat(boxes, 640, 320, heatmapGridCols, heatmapGridRows)

	boxCenterX, boxCenterY := 320.0, 170.0
	expectCol := int(boxCenterX * float64(heatmapGridCols) / 640)
	expectRow := int(boxCenterY * float64(heatmapGridRows) / 320)

	peakIdx, peakVal := -1, -1.0
	for i, v := range grid.values {
		if v > peakVal {
			peakVal = v
			peakIdx = i
		}
	}
	if peakIdx < 0 {
		t.Fatal("expected a non-zero peak in the grid")
	}
	peakCol, peakRow := peakIdx%grid.cols, peakIdx/grid.cols
	if abs(peakCol-expectCol) > 1 || abs(peakRow-expectRow) > 1 {
		t.Fatalf("expected peak near (%d,%d), got (%d,%d)", expectCol, expectRow, peakCol, peakRow)
	}
	if peakVal > 1.0001 {
		t.Fatalf("expected normalized grid to peak at <= 1, got %f", peakVal)
	}
}

func TestSplat_EmptyBoxesProducesZeroGrid(t *testing.T) {
	grid := splat(nil, 640, 480, heatmapGridCols, heatmapGridRows)
	for _, v := range grid.values {
		if v != 0 {
			t.Fatalf("expected all-zero grid with no detections, got %f", v)
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
