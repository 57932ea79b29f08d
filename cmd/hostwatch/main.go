// Command hostwatch runs the ingestion API and live sample stream server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hostwatch/internal/alerts"
	"hostwatch/internal/config"
	"hostwatch/internal/metrics"
	"hostwatch/internal/queue"
	"hostwatch/internal/server"
	"hostwatch/internal/store"
	"hostwatch/internal/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hostwatch: %v\n", err)
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

	sampleStore := metrics.NewStore(db.DB())
	alertStore := alerts.NewStore(db.DB())

	srv := server.New(
		fmt.Sprintf("%s:%d", v.GetString("server.host"), v.GetInt("server.port")),
		logger,
		func(ctx context.Context) error { return db.DB().PingContext(ctx) },
		metrics.NewHandler(sampleStore, queue.NewPublisher(conn), logger),
		alerts.NewHandler(alertStore, logger),
		stream.NewHandler(sampleStore, stream.Config{
			Tick:   v.GetDuration("stream.tick"),
			Buffer: v.GetInt("stream.buffer"),
		}, logger),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("server.shutdown_timeout"))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
