package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/fetch"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop runs triggers until the worker is stopped
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			return

		case <-ctx.Done():
			return

		case job := <-w.jobsChan:
			w.logger.Info("Worker received trigger",
				slog.String("worker_name", workerName),
				slog.String("trigger_type", job.message.TriggerType),
				slog.Uint64("delivery_tag", job.deliveryTag),
			)

			jobID, err := w.runner.Run(ctx, fetch.RunRequest{
				TriggerType: job.message.TriggerType,
				Filters:     job.message.Filters,
			})

			if err != nil {
				requeue := shouldRequeue(err)
				w.logger.Warn("Trigger not run",
					slog.String("worker_name", workerName),
					slog.String("error", err.Error()),
					slog.Bool("requeue", requeue),
				)
				w.nack(job.deliveryTag, requeue)
				continue
			}

			// the fetch log carries the outcome, so every run trigger is acked
			if ackErr := w.broker.Ack(job.deliveryTag); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", jobID),
					slog.String("error", ackErr.Error()),
				)
				continue
			}

			w.logger.Info("Fetch job finished",
				slog.String("worker_name", workerName),
				slog.String("job_id", jobID),
			)
		}
	}
}

// shouldRequeue decides whether a trigger that could not run is retried.
// A trigger arriving while another job runs is dropped.
func shouldRequeue(err error) bool {
	switch {
	case errors.Is(err, domain.ErrJobInProgress):
		return false
	case errors.Is(err, domain.ErrInvalidTrigger):
		return false
	case errors.Is(err, fetch.ErrShuttingDown):
		return true
	default:
		return false
	}
}
