// Command crowdwatch runs the crowd-monitoring pipeline server: frame
// ingest, detection/tracking/re-id, analytics and alerting, the
// cross-camera matcher, the push fabric and the §6 HTTP/websocket API,
// all in a single process behind an embedded NATS bus.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/crowdwatch/crowdwatch/internal/api"
	"github.com/crowdwatch/crowdwatch/internal/camera"
	"github.com/crowdwatch/crowdwatch/internal/config"
	"github.com/crowdwatch/crowdwatch/internal/core"
	"github.com/crowdwatch/crowdwatch/internal/database"
	"github.com/crowdwatch/crowdwatch/internal/framecache"
	"github.com/crowdwatch/crowdwatch/internal/ingest"
	"github.com/crowdwatch/crowdwatch/internal/logging"
	"github.com/crowdwatch/crowdwatch/internal/matcher"
	"github.com/crowdwatch/crowdwatch/internal/pipeline"
	"github.com/crowdwatch/crowdwatch/internal/push"
	"github.com/crowdwatch/crowdwatch/internal/vision/analytics"
	"github.com/crowdwatch/crowdwatch/internal/vision/detector"
	"github.com/crowdwatch/crowdwatch/internal/vision/reid"
	"github.com/crowdwatch/crowdwatch/internal/vision/risk"
	"github.com/crowdwatch/crowdwatch/internal/zone"
)

func main() {
	configPath := flag.String("config", os.Getenv("CROWDWATCH_CONFIG"), "path to config.yaml")
	flag.Parse()
	if *configPath == "" {
		*configPath = "config.yaml"
	}

	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logBuffer := logging.GetLogBuffer()
	logger := slog.New(logging.NewStreamHandler(logBuffer, os.Stdout, logLevel))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Watch(); err != nil {
		logger.Warn("config file watch disabled", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(database.DefaultConfig(cfg.Server.DataPath))
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.NewMigrator(db).Run(ctx); err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}

	bus, err := core.NewEventBus(core.DefaultEventBusConfig(), logger)
	if err != nil {
		logger.Error("start event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Stop()

	registry := camera.NewRegistry(db.DB)
	for _, cc := range cfg.ListCameras() {
		if !cc.Enabled {
			continue
		}
		if _, err := registry.Register(ctx, cc.ToModel()); err != nil {
			logger.Error("register configured camera", "camera_id", cc.ID, "error", err)
		}
	}

	zones := zone.NewRepository(db.DB)
	samples := analytics.NewRepository(db.DB)
	alertsRepo := risk.NewRepository(db.DB)
	movements := matcher.NewRepository(db.DB)

	alertGen := risk.NewGenerator(alertsRepo, risk.Config{
		ReferenceSpeed:        cfg.Pipeline.ReferenceSpeed,
		SpeedJumpThreshold:    cfg.Pipeline.SpeedJumpThreshold,
		AlertResampleInterval: cfg.Pipeline.AlertResampleDuration(),
	})

	cache := framecache.New(cfg.Pipeline.FrameCacheSize, cfg.Pipeline.FrameCacheTTLDuration())

	det := detector.NewHTTPClient(detector.ClientConfig{Address: cfg.Server.DetectorAddress})
	extractor := reid.NewHashExtractor()

	pl := pipeline.New(cfg.Pipeline, det, extractor, zones, samples, alertGen, cache, bus, logger)

	coordinator := ingest.NewCoordinator(cfg.Pipeline.QueueMax, pl.Handle)

	matcherCfg := matcher.Config{
		SimThreshold: cfg.Pipeline.CrossCamSimThreshold,
		Window:       cfg.Pipeline.CrossCamWindow(),
	}
	xcam := matcher.New(bus, movements, matcherCfg, logger)
	go func() {
		if err := xcam.Run(ctx); err != nil {
			logger.Error("matcher stopped", "error", err)
		}
	}()

	fabric := push.New(cfg.Pipeline.WriteBufMax, cfg.Pipeline.SendDeadline(), logger)
	go fabric.Run(ctx)

	bridge := push.NewBridge(bus, fabric, logger)
	if err := bridge.Start(); err != nil {
		logger.Error("start push bridge", "error", err)
		os.Exit(1)
	}

	pushHandlers := push.NewHandlers(fabric, coordinator.Submit, logger)

	go staleCameraSweeper(ctx, registry, logger)
	go databaseMaintainer(ctx, db, logger)

	router := api.NewRouter(api.Handlers{
		Cameras:   api.NewCameraHandlers(registry, logger),
		Frames:    api.NewFrameHandlers(coordinator, registry, logger),
		Zones:     api.NewZoneHandlers(zones, logger),
		Alerts:    api.NewAlertHandlers(alertsRepo, logger),
		Movements: api.NewMovementHandlers(movements, logger),
		Analytics: api.NewAnalyticsHandlers(samples, zones, registry, logger),
		Health:    api.NewHealthHandlers(db),
		Stream:    api.NewStreamHandlers(cache, cfg.Pipeline.StreamFPS, logger),
		System:    api.NewSystemHandlers(logBuffer, logger),
		Push:      pushHandlers,
	}, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	logger.Info("stopped")
}

// databaseMaintainer runs a periodic WAL checkpoint and ANALYZE so the
// query planner's statistics stay fresh as analytics_samples/detections
// grow, without blocking request-serving goroutines on either.
func databaseMaintainer(ctx context.Context, db *database.DB, logger *slog.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.Checkpoint(ctx); err != nil {
				logger.Error("wal checkpoint", "error", err)
			}
			if err := db.Analyze(ctx); err != nil {
				logger.Error("analyze", "error", err)
			}
		}
	}
}

// staleCameraSweeper flags cameras inactive once five minutes pass
// without a frame, on a one-minute tick, until ctx is cancelled.
func staleCameraSweeper(ctx context.Context, registry *camera.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := registry.MarkInactive(ctx, 5*time.Minute, time.Now().UTC())
			if err != nil {
				logger.Error("mark stale cameras inactive", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("marked cameras inactive", "count", n)
			}
		}
	}
}
