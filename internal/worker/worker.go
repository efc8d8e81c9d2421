package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/intern-crm/internal/events"
	"github.com/cuongbtq/intern-crm/internal/fetch"
)

// ErrInvalidMessage is returned for trigger messages that cannot be decoded or validated
var ErrInvalidMessage = errors.New("invalid trigger message")

// Runner runs one fetch job to completion
type Runner interface {
	Run(ctx context.Context, req fetch.RunRequest) (string, error)
}

// Broker is the subset of the RabbitMQ client the worker consumes with
type Broker interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Broker        Broker
	Runner        Runner
	WorkerID      string
	Concurrency   int
	PrefetchCount int
}

// triggerJob is a decoded trigger waiting for a worker goroutine
type triggerJob struct {
	message     events.TriggerMessage
	deliveryTag uint64
}

// Worker consumes fetch triggers from the broker and runs them
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	runner        Runner
	validate      *validator.Validate
	workerID      string
	concurrency   int
	prefetchCount int

	jobsChan chan *triggerJob
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		runner:        cfg.Runner,
		validate:      validator.New(),
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobsChan:      make(chan *triggerJob),
		stopChan:      make(chan struct{}),
	}
}

// Start subscribes to the trigger queue and spawns the worker pool.
// Running jobs are cancelled when ctx ends.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop stops accepting triggers and waits for in-flight jobs
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker stop: %w", ctx.Err())
	}
}
