package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/durianscan/internal/api"
	"github.com/your-org/durianscan/internal/api/handlers"
	"github.com/your-org/durianscan/internal/api/ws"
	"github.com/your-org/durianscan/internal/config"
	"github.com/your-org/durianscan/internal/grading"
	"github.com/your-org/durianscan/internal/models"
	"github.com/your-org/durianscan/internal/observability"
	"github.com/your-org/durianscan/internal/queue"
	"github.com/your-org/durianscan/internal/scan"
	"github.com/your-org/durianscan/internal/storage"
	"github.com/your-org/durianscan/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting durian scanner API", "port", cfg.Server.Port, "vision_backend", cfg.Vision.Backend)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Models. The API keeps serving history and analytics without them.
	visionModels, closeModels, err := vision.Setup(cfg.Vision)
	if err != nil {
		slog.Warn("vision models unavailable, scans will report no detections", "error", err)
		visionModels, closeModels = &vision.Models{}, func() {}
	}
	defer closeModels()

	scanner := scan.NewService(scan.Deps{
		Objects:        visionModels.Objects,
		Disease:        visionModels.Disease,
		Color:          visionModels.Color,
		DiseaseClasses: grading.NewClassFilter(cfg.Vision.DiseaseClasses...),
		Store:          db,
		Images:         minioStore,
		Publisher:      producer,
		ThumbnailSize:  cfg.Vision.ThumbnailSize,
		MaxUploadBytes: cfg.Server.MaxUploadBytes(),
		MaxImagePixels: cfg.Server.MaxImagePixels(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Start event consumer to push completed scans via WebSocket
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
		ev, err := queue.Decode[models.ScanEvent](msg)
		if err != nil {
			return err
		}
		hub.BroadcastScan(ev)
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: cfg.Server.MaxUploadBytes(),
		Scanner:        scanner,
		Users:          db,
		Checks: map[string]handlers.Check{
			"postgres": db.Ping,
			"minio":    minioStore.Ping,
			"nats":     func(context.Context) error { return producer.Ping() },
			"models":   visionModels.Check,
		},
		Hub: hub,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
