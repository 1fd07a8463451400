package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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

	slog.Info("starting durian scan worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
		"vision_backend", cfg.Vision.Backend,
	)

	// Load models
	visionModels, closeModels, err := vision.Setup(cfg.Vision)
	if err != nil {
		slog.Error("init vision models", "error", err)
		os.Exit(1)
	}
	defer closeModels()
	if !visionModels.Ready() {
		slog.Warn("object detector not loaded, every scan will grade as not found")
	}

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

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

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

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming scan tasks
	err = consumer.ConsumeTasks(ctx, "scan-workers", func(ctx context.Context, msg jetstream.Msg) error {
		task, err := queue.Decode[models.ScanTask](msg)
		if err != nil {
			return err
		}

		rec, err := scanner.ProcessTask(ctx, task)
		if err != nil {
			err = fmt.Errorf("process scan %s: %w", task.ScanID, err)
			if !scan.Retryable(err) {
				return queue.Permanent(err)
			}
			return err
		}

		slog.Info("scan task done", "scan_id", rec.ID, "user_id", rec.UserID, "status", rec.Status)
		return nil
	}, cfg.Vision.WorkerCount)
	if err != nil {
		slog.Error("start scan task consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
