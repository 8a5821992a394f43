// Package integration drives the crowd-monitoring server's §6 HTTP
// surface end-to-end against a real (temp-file) SQLite database, the
// same way the source NVR's tests/integration/api_test.go assembles a
// TestEnv around httptest.NewServer rather than mocking the router.
package integration

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/api"
	"github.com/crowdwatch/crowdwatch/internal/camera"
	"github.com/crowdwatch/crowdwatch/internal/config"
	"github.com/crowdwatch/crowdwatch/internal/database"
	"github.com/crowdwatch/crowdwatch/internal/framecache"
	"github.com/crowdwatch/crowdwatch/internal/ingest"
	"github.com/crowdwatch/crowdwatch/internal/logging"
	"github.com/crowdwatch/crowdwatch/internal/matcher"
	"github.com/crowdwatch/crowdwatch/internal/model"
	"github.com/crowdwatch/crowdwatch/internal/pipeline"
	"github.com/crowdwatch/crowdwatch/internal/push"
	"github.com/crowdwatch/crowdwatch/internal/vision/analytics"
	"github.com/crowdwatch/crowdwatch/internal/vision/detector"
	"github.com/crowdwatch/crowdwatch/internal/vision/reid"
	"github.com/crowdwatch/crowdwatch/internal/vision/risk"
	"github.com/crowdwatch/crowdwatch/internal/zone"

	"log/slog"
)

// testEnv bundles the wired server and its stub detector, so a test
// case can seed detections and then drive everything else over HTTP.
type testEnv struct {
	Server   *httptest.Server
	Detector *detector.StubDetector
	Registry *camera.Registry
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tmpDir := t.TempDir()

	db, err := database.Open(&database.Config{Path: filepath.Join(tmpDir, "test.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.NewMigrator(db).Run(t.Context()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	logger := slog.New(logging.NewStreamHandler(logging.NewRingBuffer(100), io.Discard, slog.LevelError))

	registry := camera.NewRegistry(db.DB)
	zones := zone.NewRepository(db.DB)
	samples := analytics.NewRepository(db.DB)
	alertsRepo := risk.NewRepository(db.DB)
	movements := matcher.NewRepository(db.DB)

	alertGen := risk.NewGenerator(alertsRepo, risk.DefaultConfig())
	cache := framecache.New(framecache.DefaultSize, framecache.DefaultTTL)

	stub := detector.NewStubDetector()
	pipelineCfg := config.PipelineConfig{
		ConfThreshold:     0.5,
		NMSIoUThreshold:   0.4,
		MatchIoUThreshold: 0.3,
		MinHits:           1,
		MaxAge:            5,
		DensityNorm:       1.0,
		StreamFPS:         30,
	}
	pl := pipeline.New(pipelineCfg, stub, reid.NewHashExtractor(), zones, samples, alertGen, cache, nil, logger)
	coordinator := ingest.NewCoordinator(10, pl.Handle)

	fabric := push.New(100, time.Second, logger)
	pushHandlers := push.NewHandlers(fabric, coordinator.Submit, logger)

	router := api.NewRouter(api.Handlers{
		Cameras:   api.NewCameraHandlers(registry, logger),
		Frames:    api.NewFrameHandlers(coordinator, registry, logger),
		Zones:     api.NewZoneHandlers(zones, logger),
		Alerts:    api.NewAlertHandlers(alertsRepo, logger),
		Movements: api.NewMovementHandlers(movements, logger),
		Analytics: api.NewAnalyticsHandlers(samples, zones, registry, logger),
		Health:    api.NewHealthHandlers(db),
		Stream:    api.NewStreamHandlers(cache, pipelineCfg.StreamFPS, logger),
		System:    api.NewSystemHandlers(logging.NewRingBuffer(100), logger),
		Push:      pushHandlers,
	}, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{Server: server, Detector: stub, Registry: registry}
}

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{20, 20, 20, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func uploadFrame(t *testing.T, env *testEnv, cameraID string, jpg []byte) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("camera_id", cameraID); err != nil {
		t.Fatalf("write camera_id field: %v", err)
	}
	part, err := w.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(jpg); err != nil {
		t.Fatalf("write frame body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	resp, err := http.Post(env.Server.URL+"/frames/upload", w.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload frame: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload frame: status %d: %s", resp.StatusCode, b)
	}
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// eventually polls fn until it reports true or the deadline passes,
// accommodating the ingest coordinator's asynchronous per-camera worker.
func eventually(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !fn() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// TestRegisterCameraAndUploadFrames exercises S1: a registered camera
// fed frames containing one person (the same detection box each frame)
// reports a confirmed track with a NORMAL risk level.
func TestRegisterCameraAndUploadFrames(t *testing.T) {
	env := setupTestEnv(t)

	registerBody, _ := json.Marshal(map[string]interface{}{
		"camera_id":  "cam_A",
		"resolution": "640x480",
		"fps":        10,
	})
	resp, err := http.Post(env.Server.URL+"/cameras/register", "application/json", bytes.NewReader(registerBody))
	if err != nil {
		t.Fatalf("register camera: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register camera: status %d", resp.StatusCode)
	}

	env.Detector.Seed("cam_A", []model.Detection{
		{BBox: model.BoundingBox{X: 100, Y: 100, Width: 40, Height: 80}, Confidence: 0.9, Class: "person"},
	})
	jpg := solidJPEG(t, 640, 480)
	for i := 0; i < 5; i++ {
		uploadFrame(t, env, "cam_A", jpg)
	}

	var realtime model.AnalyticsSample
	eventually(t, 2*time.Second, func() bool {
		resp, err := http.Get(env.Server.URL + "/analytics/cam_A/realtime")
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			return false
		}
		decodeJSON(t, resp, &realtime)
		return realtime.PeopleCount == 1
	})

	if realtime.PeopleCount != 1 {
		t.Fatalf("expected people_count=1, got %d", realtime.PeopleCount)
	}
	if realtime.RiskLevel != model.RiskNormal {
		t.Fatalf("expected NORMAL risk level, got %q", realtime.RiskLevel)
	}
}

// TestZoneEntryEventAndCounts exercises S2: a zone crossing produces
// exactly one entry event, reflected in the entry/exit summary.
func TestZoneEntryEventAndCounts(t *testing.T) {
	env := setupTestEnv(t)

	camBody, _ := json.Marshal(map[string]interface{}{"camera_id": "cam_A", "fps": 10})
	resp, err := http.Post(env.Server.URL+"/cameras/register", "application/json", bytes.NewReader(camBody))
	if err != nil {
		t.Fatalf("register camera: %v", err)
	}
	resp.Body.Close()

	zoneBody, _ := json.Marshal(map[string]interface{}{
		"camera_id": "cam_A",
		"name":      "entrance",
		"type":      "entry",
		"polygon": []map[string]float64{
			{"x": 0, "y": 0}, {"x": 320, "y": 0}, {"x": 320, "y": 480}, {"x": 0, "y": 480},
		},
	})
	resp, err = http.Post(env.Server.URL+"/zones", "application/json", bytes.NewReader(zoneBody))
	if err != nil {
		t.Fatalf("create zone: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create zone: status %d", resp.StatusCode)
	}

	jpg := solidJPEG(t, 640, 480)
	// Track stays outside the zone for 5 frames, then crosses in.
	for i := 0; i < 5; i++ {
		env.Detector.Seed("cam_A", []model.Detection{
			{BBox: model.BoundingBox{X: 400, Y: 100, Width: 40, Height: 80}, Confidence: 0.9, Class: "person"},
		})
		uploadFrame(t, env, "cam_A", jpg)
	}
	for i := 0; i < 5; i++ {
		env.Detector.Seed("cam_A", []model.Detection{
			{BBox: model.BoundingBox{X: 100, Y: 100, Width: 40, Height: 80}, Confidence: 0.9, Class: "person"},
		})
		uploadFrame(t, env, "cam_A", jpg)
	}

	var summary struct {
		EntryCount int `json:"entry_count"`
		ExitCount  int `json:"exit_count"`
	}
	eventually(t, 2*time.Second, func() bool {
		resp, err := http.Get(env.Server.URL + "/analytics/cam_A/entry-exit")
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			return false
		}
		decodeJSON(t, resp, &summary)
		return summary.EntryCount == 1
	})

	if summary.EntryCount != 1 {
		t.Fatalf("expected exactly one entry event, got %d", summary.EntryCount)
	}
	if summary.ExitCount != 0 {
		t.Fatalf("expected no exit events, got %d", summary.ExitCount)
	}
}

// TestHealthEndpoint checks the liveness endpoint reports ok against a
// reachable database.
func TestHealthEndpoint(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.Server.URL + "/health")
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		DB     string `json:"db"`
	}
	decodeJSON(t, resp, &body)
	if body.Status != "ok" || body.DB != "ok" {
		t.Fatalf("expected ok status, got %+v", body)
	}
}
