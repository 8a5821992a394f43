// Package config provides configuration management for the crowd-monitoring
// pipeline: camera roster plus the per-stage tunables from spec §4.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cameras  []CameraConfig `yaml:"cameras"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	Address         string `yaml:"address"`
	DataPath        string `yaml:"data_path"`
	LogLevel        string `yaml:"log_level"`
	DetectorAddress string `yaml:"detector_address"`
}

// PipelineConfig holds the default per-stage thresholds from spec §4.
// Individual cameras may not override these; they are process-wide
// defaults mirroring the "default" values called out throughout §4.
type PipelineConfig struct {
	QueueMax              int     `yaml:"queue_max"`               // Qmax, §4.1, default 10
	ConfThreshold         float64 `yaml:"conf_threshold"`          // §4.2, default 0.5
	NMSIoUThreshold       float64 `yaml:"nms_iou_threshold"`       // §4.2, default 0.4
	MatchIoUThreshold     float64 `yaml:"match_iou_threshold"`     // §4.3, default 0.5
	MinHits               int     `yaml:"min_hits"`                // §4.3, default 3
	MaxAge                int     `yaml:"max_age"`                 // §4.3, default 30
	EmbeddingDim          int     `yaml:"embedding_dim"`           // §4.4, E=512
	EmbeddingAlpha        float64 `yaml:"embedding_alpha"`         // §4.4, alpha=0.3
	DensityNorm           float64 `yaml:"density_norm"`            // §4.5
	ReferenceSpeed        float64 `yaml:"reference_speed"`         // §4.6
	SpeedJumpThreshold    float64 `yaml:"speed_jump_threshold"`    // §4.6
	AlertResampleInterval int     `yaml:"alert_resample_seconds"`  // §4.6, default 30s
	FrameCacheSize        int     `yaml:"frame_cache_size"`        // Nframes, §4.7, default 10
	FrameCacheTTL         int     `yaml:"frame_cache_ttl_seconds"` // §4.7, default 5
	StreamFPS             int     `yaml:"stream_fps"`              // §4.7, default 30
	CrossCamSimThreshold  float64 `yaml:"cross_cam_sim_threshold"` // §4.8, default 0.70
	CrossCamWindowSeconds int     `yaml:"cross_cam_window_seconds"`// §4.8, default 600 (10min)
	WriteBufMax           int     `yaml:"write_buf_max"`           // §5, default 1000
	SendDeadlineMillis    int     `yaml:"send_deadline_millis"`    // §5, default 1000
}

// CameraConfig describes one camera's registration-time metadata.
type CameraConfig struct {
	ID         string `yaml:"id"`
	EdgeID     string `yaml:"edge_id,omitempty"`
	Location   string `yaml:"location,omitempty"`
	Resolution string `yaml:"resolution,omitempty"`
	FPS        int    `yaml:"fps,omitempty"`
	Enabled    bool   `yaml:"enabled"`
}

// ToModel converts a configured camera entry to the registry's model,
// used to seed the camera registry from the roster at startup.
func (c CameraConfig) ToModel() model.Camera {
	return model.Camera{
		ID:         c.ID,
		EdgeID:     c.EdgeID,
		Location:   c.Location,
		Resolution: c.Resolution,
		FPS:        c.FPS,
	}
}

// DefaultPipelineConfig returns the spec's documented defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QueueMax:              10,
		ConfThreshold:         0.5,
		NMSIoUThreshold:       0.4,
		MatchIoUThreshold:     0.5,
		MinHits:               3,
		MaxAge:                30,
		EmbeddingDim:          512,
		EmbeddingAlpha:        0.3,
		DensityNorm:           1.0,
		ReferenceSpeed:        100.0,
		SpeedJumpThreshold:    50.0,
		AlertResampleInterval: 30,
		FrameCacheSize:        10,
		FrameCacheTTL:         5,
		StreamFPS:             30,
		CrossCamSimThreshold:  0.70,
		CrossCamWindowSeconds: 600,
		WriteBufMax:           1000,
		SendDeadlineMillis:    1000,
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// zero-valued pipeline fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{Pipeline: DefaultPipelineConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0:8080"
	}
	if c.Server.DataPath == "" {
		c.Server.DataPath = "/data"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.DetectorAddress == "" {
		c.Server.DetectorAddress = "http://127.0.0.1:9001"
	}
	defaults := DefaultPipelineConfig()
	if c.Pipeline.QueueMax == 0 {
		c.Pipeline.QueueMax = defaults.QueueMax
	}
	if c.Pipeline.ConfThreshold == 0 {
		c.Pipeline.ConfThreshold = defaults.ConfThreshold
	}
	if c.Pipeline.NMSIoUThreshold == 0 {
		c.Pipeline.NMSIoUThreshold = defaults.NMSIoUThreshold
	}
	if c.Pipeline.MatchIoUThreshold == 0 {
		c.Pipeline.MatchIoUThreshold = defaults.MatchIoUThreshold
	}
	if c.Pipeline.MinHits == 0 {
		c.Pipeline.MinHits = defaults.MinHits
	}
	if c.Pipeline.MaxAge == 0 {
		c.Pipeline.MaxAge = defaults.MaxAge
	}
	if c.Pipeline.EmbeddingDim == 0 {
		c.Pipeline.EmbeddingDim = defaults.EmbeddingDim
	}
	if c.Pipeline.EmbeddingAlpha == 0 {
		c.Pipeline.EmbeddingAlpha = defaults.EmbeddingAlpha
	}
	if c.Pipeline.DensityNorm == 0 {
		c.Pipeline.DensityNorm = defaults.DensityNorm
	}
	if c.Pipeline.ReferenceSpeed == 0 {
		c.Pipeline.ReferenceSpeed = defaults.ReferenceSpeed
	}
	if c.Pipeline.SpeedJumpThreshold == 0 {
		c.Pipeline.SpeedJumpThreshold = defaults.SpeedJumpThreshold
	}
	if c.Pipeline.AlertResampleInterval == 0 {
		c.Pipeline.AlertResampleInterval = defaults.AlertResampleInterval
	}
	if c.Pipeline.FrameCacheSize == 0 {
		c.Pipeline.FrameCacheSize = defaults.FrameCacheSize
	}
	if c.Pipeline.FrameCacheTTL == 0 {
		c.Pipeline.FrameCacheTTL = defaults.FrameCacheTTL
	}
	if c.Pipeline.StreamFPS == 0 {
		c.Pipeline.StreamFPS = defaults.StreamFPS
	}
	if c.Pipeline.CrossCamSimThreshold == 0 {
		c.Pipeline.CrossCamSimThreshold = defaults.CrossCamSimThreshold
	}
	if c.Pipeline.CrossCamWindowSeconds == 0 {
		c.Pipeline.CrossCamWindowSeconds = defaults.CrossCamWindowSeconds
	}
	if c.Pipeline.WriteBufMax == 0 {
		c.Pipeline.WriteBufMax = defaults.WriteBufMax
	}
	if c.Pipeline.SendDeadlineMillis == 0 {
		c.Pipeline.SendDeadlineMillis = defaults.SendDeadlineMillis
	}
}

// AlertResampleDuration returns the alert resample interval as a Duration.
func (p PipelineConfig) AlertResampleDuration() time.Duration {
	return time.Duration(p.AlertResampleInterval) * time.Second
}

// FrameCacheTTLDuration returns the frame cache TTL as a Duration.
func (p PipelineConfig) FrameCacheTTLDuration() time.Duration {
	return time.Duration(p.FrameCacheTTL) * time.Second
}

// SendDeadline returns the push-fabric per-message send deadline.
func (p PipelineConfig) SendDeadline() time.Duration {
	return time.Duration(p.SendDeadlineMillis) * time.Millisecond
}

// CrossCamWindow returns the cross-camera match lookback/lookahead window.
func (p PipelineConfig) CrossCamWindow() time.Duration {
	return time.Duration(p.CrossCamWindowSeconds) * time.Second
}

// Watch starts watching the config file for changes, debouncing writes
// and invoking registered OnChange callbacks on reload.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond)
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback invoked after every successful reload.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Server = newCfg.Server
	c.Pipeline = newCfg.Pipeline
	c.Cameras = newCfg.Cameras
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("configuration reloaded")
	for _, fn := range watchers {
		fn(c)
	}
}

// GetCamera returns the configured camera with the given ID, if any.
func (c *Config) GetCamera(id string) *CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			cam := c.Cameras[i]
			return &cam
		}
	}
	return nil
}

// ListCameras returns a snapshot of the configured camera roster.
func (c *Config) ListCameras() []CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CameraConfig, len(c.Cameras))
	copy(out, c.Cameras)
	return out
}

// PipelineSnapshot returns a copy of the current pipeline configuration.
func (c *Config) PipelineSnapshot() PipelineConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Pipeline
}
