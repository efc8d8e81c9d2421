// Package app wires the components shared by the API and worker services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/intern-crm/internal/config"
	"github.com/cuongbtq/intern-crm/internal/events"
	"github.com/cuongbtq/intern-crm/internal/fetch"
	"github.com/cuongbtq/intern-crm/internal/progress"
	"github.com/cuongbtq/intern-crm/internal/reconcile"
	"github.com/cuongbtq/intern-crm/internal/source"
	"github.com/cuongbtq/intern-crm/internal/storage"
	"github.com/cuongbtq/intern-crm/shared/postgresql"
	"github.com/cuongbtq/intern-crm/shared/rabbitmq"
	"github.com/cuongbtq/intern-crm/shared/redis"
)

const schemaTimeout = 30 * time.Second

// Options tune how the shared components are built for one service
type Options struct {
	// ConsumeQueue declares and binds the trigger queue on the broker
	ConsumeQueue bool
}

// App holds the connected clients and the fetch pipeline
type App struct {
	DB        *postgresql.Client
	Storage   *storage.Storage
	Redis     *redis.Client
	Rabbit    *rabbitmq.Client
	Tracker   *progress.Tracker
	Publisher events.Publisher
	Fetch     *fetch.Service

	logger *slog.Logger
}

// New connects every configured backend and builds the fetch service.
// Clients opened before a failure are closed.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{logger: logger}
	if err := a.build(cfg, opts); err != nil {
		if closeErr := a.closeClients(); closeErr != nil {
			logger.Warn("Failed to close clients", slog.String("error", closeErr.Error()))
		}
		return nil, err
	}

	a.Tracker.Start()
	return a, nil
}

func (a *App) build(cfg *config.Config, opts Options) error {
	logger := a.logger

	var err error

	a.DB, err = initPostgreSQL(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	a.Storage = storage.NewStorage(a.DB, logger)
	if cfg.Database.EnsureSchema {
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		err = a.Storage.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	store, err := a.initProgressStore(cfg, logger)
	if err != nil {
		return err
	}

	a.Tracker = progress.NewTracker(store, &progress.TrackerConfig{
		Retention:       cfg.Progress.Retention,
		CleanupInterval: cfg.Progress.CleanupInterval,
	}, logger)

	a.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		a.Rabbit, err = initRabbitMQ(&cfg.RabbitMQ, opts.ConsumeQueue, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		a.Publisher = events.NewBrokerPublisher(a.Rabbit, logger)
	} else {
		logger.Warn("RabbitMQ disabled, job events will not be published")
	}

	src, err := initSource(&cfg.Ingest, logger)
	if err != nil {
		return err
	}

	engine := reconcile.NewEngine(a.Storage, a.Storage, a.Tracker, logger)

	a.Fetch = fetch.NewService(&fetch.Dependencies{
		Logs:      a.Storage,
		Source:    src,
		Engine:    engine,
		Tracker:   a.Tracker,
		Publisher: a.Publisher,
		Logger:    logger,

		OwnerTimeout: cfg.Progress.OwnerTimeout,
	})

	return nil
}

func (a *App) initProgressStore(cfg *config.Config, logger *slog.Logger) (progress.Store, error) {
	if cfg.Progress.Store != config.ProgressStoreRedis {
		logger.Info("Using in-memory progress store")
		return progress.NewMemoryStore(), nil
	}

	client, err := redis.NewClient(&redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.Redis = client

	retention := cfg.Progress.Retention
	if retention <= 0 {
		retention = progress.DefaultRetention
	}
	return progress.NewRedisStore(client.Redis(), retention), nil
}

// Shutdown cancels running jobs, waits for them to finalize and closes
// every client
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Fetch.Shutdown(ctx)
	a.Tracker.Stop()
	return errors.Join(err, a.closeClients())
}

func (a *App) closeClients() error {
	var errs []error
	if a.Rabbit != nil {
		errs = append(errs, a.Rabbit.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client. The API service only
// publishes, so it leaves the queue undeclared.
func initRabbitMQ(cfg *config.RabbitMQConfig, consume bool, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		ExchangeDurable:   cfg.Exchange.Durable,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
		PublishBackoff:    cfg.Publish.BackoffMultiplier,
	}

	if consume {
		rabbitConfig.QueueName = cfg.Queue.Name
		rabbitConfig.QueueDurable = cfg.Queue.Durable
		rabbitConfig.BindingKey = cfg.BindingKey
		if rabbitConfig.BindingKey == "" {
			rabbitConfig.BindingKey = events.RoutingKeyTrigger
		}
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initSource builds the configured listing source
func initSource(cfg *config.IngestConfig, logger *slog.Logger) (source.Source, error) {
	switch cfg.Source {
	case config.SourceProcess:
		return source.NewProcessSource(&source.ProcessConfig{
			Command:   cfg.Command,
			Args:      cfg.Args,
			Dir:       cfg.WorkDir,
			APIKey:    cfg.RapidAPIKey,
			KillGrace: cfg.KillGrace,
			Logger:    logger,
		}), nil
	case config.SourceFile:
		return source.NewFileSource(cfg.FilePath, logger), nil
	default:
		return nil, fmt.Errorf("unknown ingest source: %q", cfg.Source)
	}
}
