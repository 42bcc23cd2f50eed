package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/your-org/iaction/internal/ai"
	"github.com/your-org/iaction/internal/api"
	"github.com/your-org/iaction/internal/api/handlers"
	"github.com/your-org/iaction/internal/api/ws"
	"github.com/your-org/iaction/internal/camera"
	"github.com/your-org/iaction/internal/capture"
	"github.com/your-org/iaction/internal/config"
	"github.com/your-org/iaction/internal/detection"
	"github.com/your-org/iaction/internal/models"
	"github.com/your-org/iaction/internal/observability"
	"github.com/your-org/iaction/internal/publisher"
	"github.com/your-org/iaction/internal/queue"
	"github.com/your-org/iaction/internal/storage"
)

const retentionEvery = 60 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting IAction agent", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks []handlers.Check

	// Detection store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("open detection store", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	if pg, ok := store.(*storage.PostgresStore); ok {
		checks = append(checks, handlers.Check{Name: "postgres", Ping: pg.Ping})
	}

	// MQTT state publisher
	var pub publisher.Publisher = publisher.Nop{}
	if cfg.MQTT.Enabled {
		m := publisher.NewMQTT(cfg.MQTT)
		if err := m.Connect(ctx); err != nil {
			slog.Warn("mqtt broker not reachable yet, retrying in background", "error", err)
		}
		pub = m
	}
	defer pub.Close()

	// Snapshot archive
	opts := detection.Options{WebhookTimeout: cfg.Analysis.WebhookTimeout}
	var snapshotReader handlers.SnapshotReader
	if cfg.MinIO.Endpoint != "" {
		snapshots, err := storage.NewSnapshotStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := snapshots.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		opts.Snapshots = snapshots
		snapshotReader = snapshots
		checks = append(checks, handlers.Check{Name: "minio", Ping: snapshots.Ping})
		go snapshots.RunRetention(ctx, cfg.Storage.SnapshotRetention, retentionEvery)
	}

	// WebSocket hub, fed directly or through NATS
	hub := ws.NewHub()
	go hub.Run(ctx)

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = queue.Connect(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		producer, err := queue.NewProducer(nc)
		if err != nil {
			slog.Error("create nats producer", "error", err)
			os.Exit(1)
		}
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		opts.Events = append(opts.Events, producer)
		checks = append(checks, handlers.Check{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }})

		consumer, err := queue.NewConsumer(nc)
		if err != nil {
			slog.Error("create nats consumer", "error", err)
			os.Exit(1)
		}
		if err := consumer.ConsumeEvents(ctx, "agent-ws", hub.PublishEvent); err != nil {
			slog.Warn("start event consumer, feeding websocket directly", "error", err)
			opts.Events = append(opts.Events, hub)
		}
	} else {
		opts.Events = append(opts.Events, hub)
	}

	// Detections and cameras
	detections := detection.NewService(store, ai.NewHTTPClassifier(cfg.AI), pub, opts)
	if err := detections.Load(ctx); err != nil {
		slog.Warn("load detections, starting empty", "error", err)
	}

	opener := &capture.FFmpegOpener{
		Path:        cfg.Capture.FFmpegPath,
		BufferSize:  cfg.Capture.BufferSize,
		OpenTimeout: cfg.Capture.OpenTimeout,
		ReadTimeout: cfg.Capture.ReadTimeout,
	}
	registry := camera.NewRegistry(*cfg, opener, detections, pub)

	if nc != nil {
		sub, err := queue.SubscribeControl(nc, controlHandler(registry), cfg.Capture.OpenTimeout+5*time.Second)
		if err != nil {
			slog.Warn("subscribe camera control", "error", err)
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Cameras:    registry,
		Detections: detections,
		Hub:        hub,
		Snapshots:  snapshotReader,
		Checks:     checks,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("control API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Error("camera shutdown error", "error", err)
	}
	detections.Wait()
	cancel()

	slog.Info("agent stopped")
}

// openStore picks Postgres when a database host is configured and the JSON
// file otherwise.
func openStore(ctx context.Context, cfg *config.Config) (detection.Store, func(), error) {
	if cfg.Database.Host == "" {
		slog.Info("using file detection store", "path", cfg.Storage.DetectionsFile)
		return storage.NewFileStore(cfg.Storage.DetectionsFile), func() {}, nil
	}

	pg, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	slog.Info("using postgres detection store", "host", cfg.Database.Host, "db", cfg.Database.Name)
	return pg, pg.Close, nil
}

func controlHandler(registry *camera.Registry) queue.ControlHandler {
	return func(ctx context.Context, cmd queue.Command) error {
		switch cmd.Action {
		case queue.ActionStop:
			return registry.Stop(cmd.CameraID)
		default:
			_, err := registry.Start(ctx, camera.StartRequest{
				CameraID:   cmd.CameraID,
				SourceType: models.SourceType(cmd.SourceType),
				URL:        cmd.URL,
				Username:   cmd.Username,
				Password:   cmd.Password,
				EntityID:   cmd.EntityID,
			})
			return err
		}
	}
}
