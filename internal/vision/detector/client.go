package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// HTTPClient calls an out-of-process person-detection model server over
// HTTP+JSON. The server contract mirrors an embedded detection backend:
// POST /detect with a base64 frame, a JSON array of boxes back.
type HTTPClient struct {
	mu         sync.Mutex
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	requestCount int64
	errorCount   int64
}

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	Address string
	Timeout time.Duration
}

// NewHTTPClient builds a client for the model backend at cfg.Address.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    fmt.Sprintf("http://%s", cfg.Address),
		logger:     slog.Default().With("component", "detector_client"),
	}
}

type detectRequest struct {
	CameraID  string `json:"camera_id"`
	FrameID   uint64 `json:"frame_id"`
	ImageData string `json:"image_data"`
}

type detectResponseBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

type detectResponse struct {
	Success    bool                `json:"success"`
	Error      string              `json:"error"`
	Detections []detectResponseBox `json:"detections"`
}

// Detect sends the frame to the model backend and returns its raw
// (unfiltered) boxes. Callers run FilterAndNMS on the result.
func (c *HTTPClient) Detect(ctx context.Context, frame Frame) ([]model.Detection, error) {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()

	body, err := json.Marshal(detectRequest{
		CameraID:  frame.CameraID,
		FrameID:   frame.FrameID,
		ImageData: base64.StdEncoding.EncodeToString(frame.JPEG),
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Corrupt, err, "encode detect request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.Fatal, err, "build detect request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.mu.Lock()
		c.errorCount++
		c.mu.Unlock()
		return nil, apierr.Wrap(apierr.Transient, err, "detect request failed")
	}
	defer resp.Body.Close()

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "decode detect response")
	}
	if !result.Success {
		return nil, apierr.New(apierr.Transient, "detector backend error: %s", result.Error)
	}

	out := make([]model.Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		out = append(out, model.Detection{
			CameraID:   frame.CameraID,
			FrameID:    frame.FrameID,
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox: model.BoundingBox{
				X: d.X, Y: d.Y, Width: d.Width, Height: d.Height,
			},
		})
	}
	return out, nil
}

// Stats returns client request/error counters.
func (c *HTTPClient) Stats() (requests, errors int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestCount, c.errorCount
}
