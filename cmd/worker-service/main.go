package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/intern-crm/internal/app"
	"github.com/cuongbtq/intern-crm/internal/config"
	"github.com/cuongbtq/intern-crm/internal/worker"
	"github.com/cuongbtq/intern-crm/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   cfg.Logging.TimeFormat,
		Service:      cfg.App.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.RabbitMQ.Consumer.Tag
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	application, err := app.New(cfg, appLogger.Logger, app.Options{ConsumeQueue: true})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Broker:        application.Rabbit,
		Runner:        application.Fetch,
		WorkerID:      workerID,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	var runErr error
	if err := w.Start(ctx); err != nil {
		runErr = fmt.Errorf("failed to start worker: %w", err)
	}

	var scheduler *worker.Scheduler
	if runErr == nil && cfg.Scheduler.Enabled {
		scheduler = worker.NewScheduler(&worker.SchedulerConfig{
			Publisher: application.Publisher,
			Interval:  cfg.Scheduler.Interval,
			Filters:   cfg.Scheduler.Filters,
			Logger:    appLogger.Logger,
		})
		scheduler.Start(ctx)
	}

	if runErr == nil {
		appLogger.Info("Worker service is running")

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
	}

	appLogger.Info("Shutting down worker service...")

	if scheduler != nil {
		scheduler.Stop()
	}

	// cancelling ctx cancels the running fetch job
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if err := w.Stop(shutdownCtx); err != nil {
		appLogger.Error("Worker forced to stop", slog.Any("error", err))
		runErr = errors.Join(runErr, err)
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Shutdown incomplete", slog.Any("error", err))
		runErr = errors.Join(runErr, err)
	}

	appLogger.Info("Worker service stopped")
	return runErr
}
