package framecache

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// DefaultStreamFPS is the spec's documented live-stream pacing.
const DefaultStreamFPS = 30

// FrameSource supplies the latest annotated JPEG for one camera on
// demand; internal/api wires this to Cache.GetLatest, whose frames the
// pipeline has already annotated.
type FrameSource func(cameraID string) (frame []byte, ok bool)

// Streamer serves MJPEG multipart streams paced to StreamFPS, per
// spec §4.7: "repeatedly taking GetLatest, annotating, encoding, and
// writing one multipart JPEG part... when no new frame has arrived,
// the annotator returns the last rendered placeholder rather than
// blocking."
type Streamer struct {
	Source       FrameSource
	FPS          int
	Placeholder  []byte
}

// NewStreamer builds a Streamer backed by source, falling back to
// DefaultStreamFPS when fps is zero.
func NewStreamer(source FrameSource, fps int) *Streamer {
	if fps <= 0 {
		fps = DefaultStreamFPS
	}
	return &Streamer{Source: source, FPS: fps}
}

// ServeHTTP writes an MJPEG multipart stream for the given cameraID
// until the request context is cancelled.
func (s *Streamer) ServeHTTP(ctx context.Context, w http.ResponseWriter, cameraID string) error {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported by response writer")
	}

	limiter := rate.NewLimiter(rate.Limit(s.FPS), 1)
	last := s.Placeholder

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		frame, ok := s.Source(cameraID)
		if ok {
			last = frame
		}
		if last == nil {
			continue
		}

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(last)); err != nil {
			return err
		}
		if _, err := w.Write(last); err != nil {
			return err
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return err
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

