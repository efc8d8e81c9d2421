package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

const (
	DefaultRetention       = time.Hour
	DefaultCleanupInterval = 10 * time.Minute
)

// TrackerConfig holds the retention settings of a Tracker
type TrackerConfig struct {
	Retention       time.Duration
	CleanupInterval time.Duration
}

// Tracker records job progress on top of a Store. Percent never decreases
// while a job runs and terminal phases are never overwritten.
type Tracker struct {
	store           Store
	logger          *slog.Logger
	retention       time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTracker creates a new progress tracker
func NewTracker(store Store, cfg *TrackerConfig, logger *slog.Logger) *Tracker {
	retention := DefaultRetention
	cleanupInterval := DefaultCleanupInterval
	if cfg != nil {
		if cfg.Retention > 0 {
			retention = cfg.Retention
		}
		if cfg.CleanupInterval > 0 {
			cleanupInterval = cfg.CleanupInterval
		}
	}

	return &Tracker{
		store:           store,
		logger:          logger,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
}

// Begin registers a new job in the fetching phase
func (t *Tracker) Begin(ctx context.Context, jobID string) error {
	return t.store.Set(ctx, domain.JobProgress{
		JobID:     jobID,
		Phase:     domain.PhaseFetching,
		Percent:   domain.PercentFetching,
		UpdatedAt: t.now(),
	})
}

// Advance moves a running job to the given phase and counters. A lower
// percent than the stored one is clamped up.
func (t *Tracker) Advance(ctx context.Context, jobID string, phase domain.Phase, percent int, counters domain.Counters) error {
	current, err := t.store.Get(ctx, jobID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if current.Phase.IsTerminal() {
		return ErrTerminal
	}
	if percent < current.Percent {
		percent = current.Percent
	}
	if percent > domain.PercentUpsertMax {
		percent = domain.PercentUpsertMax
	}

	return t.store.Set(ctx, domain.JobProgress{
		JobID:     jobID,
		Phase:     phase,
		Percent:   percent,
		Counters:  counters,
		UpdatedAt: t.now(),
	})
}

// Finish marks a job done at 100%
func (t *Tracker) Finish(ctx context.Context, jobID string, counters domain.Counters) error {
	return t.store.Set(ctx, domain.JobProgress{
		JobID:     jobID,
		Phase:     domain.PhaseDone,
		Percent:   domain.PercentDone,
		Counters:  counters,
		UpdatedAt: t.now(),
	})
}

// Fail marks a job failed, keeping its last percent
func (t *Tracker) Fail(ctx context.Context, jobID string, counters domain.Counters, message string) error {
	return t.terminate(ctx, jobID, domain.PhaseFailed, &counters, message)
}

// Cancel marks a job cancelled, keeping its last percent and counters. It
// returns the stored snapshot; for an already terminal job that snapshot is
// returned together with ErrTerminal.
func (t *Tracker) Cancel(ctx context.Context, jobID string, message string) (domain.JobProgress, error) {
	if err := t.terminate(ctx, jobID, domain.PhaseCancelled, nil, message); err != nil {
		current, getErr := t.store.Get(ctx, jobID)
		if getErr != nil {
			return domain.JobProgress{}, err
		}
		return current, err
	}
	return t.store.Get(ctx, jobID)
}

// CancelWithCounters marks a job cancelled with the exact counters its
// runner observed. On an entry already cancelled by Cancel it only
// replaces the counters.
func (t *Tracker) CancelWithCounters(ctx context.Context, jobID string, counters domain.Counters, message string) error {
	return t.terminate(ctx, jobID, domain.PhaseCancelled, &counters, message)
}

func (t *Tracker) terminate(ctx context.Context, jobID string, phase domain.Phase, counters *domain.Counters, message string) error {
	current, err := t.store.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		current = domain.JobProgress{JobID: jobID}
	}
	if current.Phase.IsTerminal() {
		if current.Phase != phase || counters == nil {
			return ErrTerminal
		}
		// the runner settling the final counters of its own cancelled job
		current.Counters = *counters
		current.UpdatedAt = t.now()
		return t.store.Set(ctx, current)
	}

	next := current
	next.Phase = phase
	next.Message = message
	next.UpdatedAt = t.now()
	if counters != nil {
		next.Counters = *counters
	}
	return t.store.Set(ctx, next)
}

// IsCancelled reports whether the job has been marked cancelled. Store
// errors are logged and read as not cancelled.
func (t *Tracker) IsCancelled(ctx context.Context, jobID string) bool {
	p, err := t.store.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.logger.Warn("Failed to read progress for cancellation check",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
		return false
	}
	return p.Phase == domain.PhaseCancelled
}

// Get returns the current snapshot or ErrNotFound
func (t *Tracker) Get(ctx context.Context, jobID string) (domain.JobProgress, error) {
	return t.store.Get(ctx, jobID)
}

// Start launches the retention cleanup loop
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.cleanupRoutine()
}

// Stop ends the cleanup loop and waits for it
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.wg.Wait()
}

func (t *Tracker) cleanupRoutine() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tracker) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := t.store.Cleanup(ctx, t.retention)
	if err != nil {
		t.logger.Error("Failed to clean up job progress",
			slog.Any("error", err),
		)
		return
	}
	if removed > 0 {
		t.logger.Debug("Evicted finished job progress",
			slog.Int("removed", removed),
			slog.Duration("retention", t.retention),
		)
	}
}
