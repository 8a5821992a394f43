package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/config"
	"github.com/crowdwatch/crowdwatch/internal/framecache"
	"github.com/crowdwatch/crowdwatch/internal/model"
	"github.com/crowdwatch/crowdwatch/internal/vision/detector"
	"github.com/crowdwatch/crowdwatch/internal/vision/reid"
)

func blankJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{40, 40, 40, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

type recordingAnalyticsRepo struct {
	samples []model.AnalyticsSample
}

func (r *recordingAnalyticsRepo) Insert(_ context.Context, s model.AnalyticsSample) error {
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordingAnalyticsRepo) InsertDetections(_ context.Context, _ string, _ time.Time, _ []model.BoundingBox) error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestHandle_ProducesAnalyticsAndCachesAnnotatedFrame(t *testing.T) {
	det := detector.NewStubDetector()
	det.Seed("cam_A", []model.Detection{
		{BBox: model.BoundingBox{X: 10, Y: 10, Width: 40, Height: 80}, Confidence: 0.9, Class: "person"},
	})

	repo := &recordingAnalyticsRepo{}
	cache := framecache.New(framecache.DefaultSize, framecache.DefaultTTL)

	p := New(config.PipelineConfig{
		ConfThreshold:     0.5,
		NMSIoUThreshold:   0.4,
		MatchIoUThreshold: 0.3,
		MinHits:           1,
		MaxAge:            5,
		DensityNorm:       1.0,
	}, det, reid.NewHashExtractor(), nil, repo, nil, cache, nil, discardLogger())

	frame := detector.Frame{CameraID: "cam_A", FrameID: 1, Timestamp: time.Now(), Width: 100, Height: 100, JPEG: blankJPEG(t, 100, 100)}
	p.Handle(context.Background(), frame)

	if len(repo.samples) != 1 {
		t.Fatalf("expected one analytics sample persisted, got %d", len(repo.samples))
	}
	if repo.samples[0].CameraID != "cam_A" {
		t.Fatalf("expected sample stamped with camera id, got %q", repo.samples[0].CameraID)
	}

	if _, ok := cache.GetLatest("cam_A"); !ok {
		t.Fatalf("expected annotated frame to be cached")
	}
}

func TestHandle_ConfirmsTrackAfterMinHitsAcrossFrames(t *testing.T) {
	det := detector.NewStubDetector()
	det.Seed("cam_A", []model.Detection{
		{BBox: model.BoundingBox{X: 10, Y: 10, Width: 40, Height: 80}, Confidence: 0.9, Class: "person"},
	})

	repo := &recordingAnalyticsRepo{}
	cache := framecache.New(framecache.DefaultSize, framecache.DefaultTTL)

	p := New(config.PipelineConfig{
		ConfThreshold:     0.5,
		NMSIoUThreshold:   0.4,
		MatchIoUThreshold: 0.3,
		MinHits:           3,
		MaxAge:            5,
		DensityNorm:       1.0,
	}, det, reid.NewHashExtractor(), nil, repo, nil, cache, nil, discardLogger())

	base := time.Now()
	jpg := blankJPEG(t, 100, 100)
	for i := uint64(1); i <= 3; i++ {
		frame := detector.Frame{CameraID: "cam_A", FrameID: i, Timestamp: base.Add(time.Duration(i) * time.Second), Width: 100, Height: 100, JPEG: jpg}
		p.Handle(context.Background(), frame)
	}

	if len(repo.samples) != 3 {
		t.Fatalf("expected 3 analytics samples, got %d", len(repo.samples))
	}
	if repo.samples[2].PeopleCount != 1 {
		t.Fatalf("expected track confirmed by frame 3, got people_count=%d", repo.samples[2].PeopleCount)
	}
}
