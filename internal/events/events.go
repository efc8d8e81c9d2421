package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

const (
	// RoutingKeyTrigger routes run requests to the worker-service queue
	RoutingKeyTrigger = "fetch.trigger"

	jobRoutingPrefix = "fetch.job."
	contentTypeJSON  = "application/json"

	EventFetchCompleted = "fetch_completed"
)

// TriggerMessage asks a worker to start a fetch run
type TriggerMessage struct {
	TriggerType string         `json:"trigger_type" validate:"required,oneof=manual scheduled"`
	Filters     domain.Filters `json:"filters"`
	RequestedAt time.Time      `json:"requested_at"`
}

// JobFinished is emitted once per fetch job when its log is finalized
type JobFinished struct {
	Event       string          `json:"event"`
	JobID       string          `json:"job_id"`
	TriggerType string          `json:"trigger_type"`
	Status      string          `json:"status"`
	Counters    domain.Counters `json:"counters"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// JobRoutingKey returns the routing key for a finished job with the given status
func JobRoutingKey(status string) string {
	return jobRoutingPrefix + status
}

// Publisher sends fetch events to the message broker
type Publisher interface {
	PublishTrigger(ctx context.Context, msg TriggerMessage) error
	PublishJobFinished(ctx context.Context, evt JobFinished) error
}

// amqpPublisher is the subset of the RabbitMQ client used here
type amqpPublisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// BrokerPublisher publishes events as JSON through RabbitMQ
type BrokerPublisher struct {
	client amqpPublisher
	logger *slog.Logger
}

// NewBrokerPublisher creates a new broker-backed publisher
func NewBrokerPublisher(client amqpPublisher, logger *slog.Logger) *BrokerPublisher {
	return &BrokerPublisher{client: client, logger: logger}
}

func (p *BrokerPublisher) PublishTrigger(ctx context.Context, msg TriggerMessage) error {
	if msg.RequestedAt.IsZero() {
		msg.RequestedAt = time.Now().UTC()
	}
	return p.publish(ctx, RoutingKeyTrigger, msg)
}

func (p *BrokerPublisher) PublishJobFinished(ctx context.Context, evt JobFinished) error {
	evt.Event = EventFetchCompleted
	return p.publish(ctx, JobRoutingKey(evt.Status), evt)
}

func (p *BrokerPublisher) publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, routingKey, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.logger.Debug("Event published",
		slog.String("routing_key", routingKey),
	)
	return nil
}

// NopPublisher drops every event; used when the broker is disabled
type NopPublisher struct{}

func (NopPublisher) PublishTrigger(context.Context, TriggerMessage) error { return nil }

func (NopPublisher) PublishJobFinished(context.Context, JobFinished) error { return nil }
