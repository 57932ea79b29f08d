// Command worker runs the detection pipeline: it consumes ingestion
// notices, evaluates the threshold and anomaly detectors, and dispatches
// alert notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hostwatch/internal/alerts"
	"hostwatch/internal/anomaly"
	"hostwatch/internal/config"
	"hostwatch/internal/detect"
	"hostwatch/internal/metrics"
	"hostwatch/internal/notify"
	"hostwatch/internal/queue"
	"hostwatch/internal/store"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	v, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	db, err := store.New(v.GetString("database.path"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx, "metrics", metrics.Migrations()); err != nil {
		return fmt.Errorf("migrate metrics: %w", err)
	}
	if err := db.Migrate(ctx, "alerts", alerts.Migrations()); err != nil {
		return fmt.Errorf("migrate alerts: %w", err)
	}

	conn, err := queue.Connect(v.GetString("queue.url"), logger)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer conn.Close()

	consumer, err := queue.NewConsumer(conn, v.GetInt("worker.prefetch"), v.GetDuration("queue.ack_wait"))
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer consumer.Unsubscribe()

	sampleStore := metrics.NewStore(db.DB())
	alertStore := alerts.NewStore(db.DB())

	var notifier notify.Notifier = notify.NopNotifier{}
	if url := v.GetString("notify.webhook_url"); url != "" {
		notifier = notify.NewWebhookNotifier(url, v.GetDuration("notify.timeout"), logger)
	} else {
		logger.Info("no webhook configured, notifications disabled")
	}

	anomalyCfg := anomaly.DefaultConfig()
	anomalyCfg.Window = v.GetDuration("anomaly.window")
	anomalyCfg.RetrainInterval = v.GetDuration("anomaly.retrain_interval")
	anomalyCfg.MinSamples = v.GetInt("anomaly.min_samples")
	anomalyCfg.Trees = v.GetInt("anomaly.trees")
	anomalyCfg.Subsample = v.GetInt("anomaly.subsample")
	anomalyCfg.Contamination = v.GetFloat64("anomaly.contamination")
	anomalyCfg.CacheSize = v.GetInt("anomaly.cache_size")

	worker := detect.NewWorker(
		consumer,
		sampleStore,
		detect.NewThreshold(alertStore, logger),
		anomaly.NewDetector(sampleStore, alertStore, anomalyCfg, logger),
		notifier,
		detect.Config{
			Count:               v.GetInt("worker.count"),
			Batch:               v.GetInt("worker.prefetch"),
			RetentionPeriod:     v.GetDuration("worker.retention_period"),
			MaintenanceInterval: v.GetDuration("worker.maintenance_interval"),
		},
		logger,
	)

	admin := adminServer(v.GetInt("worker.admin_port"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error {
		logger.Info("admin listener started", zap.String("addr", admin.Addr))
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return admin.Shutdown(shutdownCtx)
	})

	logger.Info("worker started",
		zap.Int("consumers", v.GetInt("worker.count")),
		zap.Int("prefetch", v.GetInt("worker.prefetch")),
	)
	return g.Wait()
}

// adminServer exposes liveness and prometheus metrics on a side port.
func adminServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}
