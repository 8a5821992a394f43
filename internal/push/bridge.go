package push

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/crowdwatch/crowdwatch/internal/core"
)

// Bridge subscribes to the internal event bus and republishes
// analytics samples and alerts into the Fabric's metrics/alerts
// topics, decoupling the pipeline's publish path (never blocks on a
// slow websocket client) from delivery (Fabric.Publish applies the
// drop policy per subscriber).
type Bridge struct {
	bus    *core.EventBus
	fabric *Fabric
	logger *slog.Logger
}

// NewBridge wires bus's analytics/alert subjects into fabric.
func NewBridge(bus *core.EventBus, fabric *Fabric, logger *slog.Logger) *Bridge {
	return &Bridge{bus: bus, fabric: fabric, logger: logger.With("component", "push-bridge")}
}

// Start subscribes to the analytics and alert subjects. Returns once
// both subscriptions are registered; they run until the bus itself
// shuts down.
func (b *Bridge) Start() error {
	if _, err := b.bus.Subscribe(core.SubjectAnalytics, b.onAnalytics); err != nil {
		return err
	}
	if _, err := b.bus.Subscribe(core.SubjectAlert, b.onAlert); err != nil {
		return err
	}
	return nil
}

func (b *Bridge) onAnalytics(msg *nats.Msg) {
	cameraID := strings.TrimPrefix(msg.Subject, "analytics.")
	var data interface{}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		b.logger.Error("decode analytics sample", "error", err)
		return
	}
	b.fabric.Publish(TopicMetrics, cameraID, data)
}

func (b *Bridge) onAlert(msg *nats.Msg) {
	var data interface{}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		b.logger.Error("decode alert", "error", err)
		return
	}
	b.fabric.Publish(TopicAlerts, "", data)
}
