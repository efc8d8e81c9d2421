package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/events"
)

// SchedulerConfig holds the periodic trigger settings
type SchedulerConfig struct {
	Publisher events.Publisher
	Interval  time.Duration
	Filters   domain.Filters
	Logger    *slog.Logger
}

// Scheduler publishes a scheduled trigger on a fixed interval
type Scheduler struct {
	publisher events.Publisher
	interval  time.Duration
	filters   domain.Filters
	logger    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	return &Scheduler{
		publisher: cfg.Publisher,
		interval:  cfg.Interval,
		filters:   cfg.Filters,
		logger:    cfg.Logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins publishing triggers in the background
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting fetch scheduler",
		slog.Duration("interval", s.interval),
	)

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the scheduler and waits for it to exit
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.trigger(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	msg := events.TriggerMessage{
		TriggerType: domain.TriggerScheduled,
		Filters:     s.filters,
		RequestedAt: time.Now().UTC(),
	}

	if err := s.publisher.PublishTrigger(ctx, msg); err != nil {
		s.logger.Error("Failed to publish scheduled trigger",
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("Scheduled fetch triggered")
}
