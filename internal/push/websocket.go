package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/vision/detector"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outboundMessage is the exact §6 wire shape for /ws/dashboard/{id}
// ({type: "metrics", camera_id, data, timestamp}) and /ws/alerts
// ({type: "alert", alert}).
type outboundMessage struct {
	Type      string      `json:"type"`
	CameraID  string      `json:"camera_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Alert     interface{} `json:"alert,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
}

// Handlers exposes the push fabric's three websocket endpoints
// (§6): outbound dashboard metrics, outbound alerts, and inbound
// frame ingest.
type Handlers struct {
	fabric      *Fabric
	frameSubmit func(f detector.Frame) error
	logger      *slog.Logger
}

// NewHandlers builds Handlers backed by fabric for outbound delivery
// and frameSubmit (typically ingest.Coordinator.Submit) for inbound
// frames.
func NewHandlers(fabric *Fabric, frameSubmit func(f detector.Frame) error, logger *slog.Logger) *Handlers {
	return &Handlers{fabric: fabric, frameSubmit: frameSubmit, logger: logger.With("component", "push-ws")}
}

// Dashboard serves GET /ws/dashboard/{camera_id}: a durable
// subscription to that camera's metrics topic.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade dashboard websocket", "error", err)
		return
	}
	defer conn.Close()

	sub := h.fabric.Subscribe(TopicMetrics, cameraID)
	defer h.fabric.Unsubscribe(sub)

	h.pump(r.Context(), conn, sub, func(env Envelope) outboundMessage {
		return outboundMessage{Type: "metrics", CameraID: env.CameraID, Data: env.Data, Timestamp: &env.Timestamp}
	})
}

// Alerts serves GET /ws/alerts: a durable subscription to the global
// alerts topic.
func (h *Handlers) Alerts(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade alerts websocket", "error", err)
		return
	}
	defer conn.Close()

	sub := h.fabric.Subscribe(TopicAlerts, "")
	defer h.fabric.Unsubscribe(sub)

	h.pump(r.Context(), conn, sub, func(env Envelope) outboundMessage {
		return outboundMessage{Type: "alert", Alert: env.Data}
	})
}

// pump drains sub's channel to conn in emission order until the
// client disconnects or the fabric closes the subscriber, satisfying
// the ordered-per-subscriber delivery guarantee (§4.9, §8 property 7).
func (h *Handlers) pump(ctx context.Context, conn *websocket.Conn, sub *Subscriber, toMessage func(Envelope) outboundMessage) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(DefaultSendDeadline))
			if err := conn.WriteJSON(toMessage(env)); err != nil {
				return
			}
		}
	}
}

// inboundFrame is the exact §6 wire shape accepted on /ws/frames.
type inboundFrame struct {
	CameraID  string `json:"camera_id"`
	FrameID   uint64 `json:"frame_id"`
	Timestamp int64  `json:"timestamp"`
	FrameData string `json:"frame_data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Frames serves GET /ws/frames: a durable inbound channel accepting
// frame messages, submitted to the ingest coordinator exactly as the
// REST upload path does.
func (h *Handlers) Frames(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade frames websocket", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeError(conn, apierr.Invalid("frame", "malformed frame message"))
			continue
		}
		jpeg, err := base64.StdEncoding.DecodeString(msg.FrameData)
		if err != nil {
			h.writeError(conn, apierr.Invalid("frame_data", "invalid base64 JPEG"))
			continue
		}
		frame := detector.Frame{
			CameraID:  msg.CameraID,
			FrameID:   msg.FrameID,
			Timestamp: time.UnixMilli(msg.Timestamp),
			Width:     msg.Width,
			Height:    msg.Height,
			JPEG:      jpeg,
		}
		if err := h.frameSubmit(frame); err != nil {
			h.writeError(conn, err)
		}
	}
}

func (h *Handlers) writeError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(map[string]string{"detail": err.Error()})
}
