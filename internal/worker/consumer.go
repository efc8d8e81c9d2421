package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/intern-crm/internal/events"
)

// setupConsumer starts consuming the trigger queue with the configured prefetch
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.broker.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// decodeTrigger parses and validates a delivery body
func (w *Worker) decodeTrigger(body []byte) (events.TriggerMessage, error) {
	var msg events.TriggerMessage

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if err := w.validate.Struct(msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	return msg, nil
}

// startMessageDispatcher listens to deliveries and hands triggers to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer w.wg.Done()

	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped")
			return

		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := w.decodeTrigger(delivery.Body)
			if err != nil {
				w.logger.Error("Rejecting trigger message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the dead-letter exchange, if any
				w.nack(delivery.DeliveryTag, false)
				continue
			}

			job := &triggerJob{message: msg, deliveryTag: delivery.DeliveryTag}

			select {
			case w.jobsChan <- job:
				w.logger.Debug("Trigger dispatched to worker pool",
					slog.String("trigger_type", msg.TriggerType),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-w.stopChan:
				w.nack(delivery.DeliveryTag, true)
				return
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching trigger")
				w.nack(delivery.DeliveryTag, true)
				return
			}
		}
	}
}

func (w *Worker) nack(tag uint64, requeue bool) {
	if err := w.broker.Nack(tag, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", tag),
			slog.String("error", err.Error()),
		)
	}
}
