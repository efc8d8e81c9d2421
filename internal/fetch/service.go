package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/events"
	"github.com/cuongbtq/intern-crm/internal/model"
	"github.com/cuongbtq/intern-crm/internal/progress"
	"github.com/cuongbtq/intern-crm/internal/reconcile"
	"github.com/cuongbtq/intern-crm/internal/source"
)

// Messages shown on the progress of a cancelled job
const (
	CancelMessage   = "Cancelled by user"
	ShutdownMessage = "Cancelled by shutdown"
)

const finalizeTimeout = 30 * time.Second

// DefaultOwnerTimeout is how long a job owned by another process may go
// without a progress update before a cancel finalizes it here
const DefaultOwnerTimeout = 2 * time.Minute

// ErrShuttingDown is returned by Start and Run once Shutdown was called
var ErrShuttingDown = errors.New("fetch service is shutting down")

// LogStore persists fetch job logs
type LogStore interface {
	StartFetchLog(ctx context.Context, triggerType string) (*model.FetchLog, error)
	FinalizeFetchLog(ctx context.Context, fetchID string, counters domain.Counters, status string) error
	GetFetchLog(ctx context.Context, fetchID string) (*model.FetchLog, error)
}

// Reconciler applies fetched records to the CRM tables
type Reconciler interface {
	Reconcile(ctx context.Context, jobID string, records []domain.RawRecord, onProgress reconcile.ProgressFunc) reconcile.Result
}

// RunRequest describes one fetch run
type RunRequest struct {
	TriggerType string
	Filters     domain.Filters
}

// Dependencies holds everything a Service needs
type Dependencies struct {
	Logs      LogStore
	Source    source.Source
	Engine    Reconciler
	Tracker   *progress.Tracker
	Publisher events.Publisher
	Logger    *slog.Logger

	// OwnerTimeout defaults to DefaultOwnerTimeout
	OwnerTimeout time.Duration
}

type run struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	reason string
}

// stop cancels the run's context. The first reason given wins.
func (r *run) stop(reason string) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.mu.Unlock()
	r.cancel()
}

// stopReason is the message recorded when the run ends cancelled. A run
// stopped without a reason was ended by service shutdown.
func (r *run) stopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		return ShutdownMessage
	}
	return r.reason
}

// Service owns the lifecycle of fetch jobs in this process: it starts at
// most one at a time, runs it in the background and finalizes its log
// exactly once.
type Service struct {
	logs      LogStore
	source    source.Source
	engine    Reconciler
	tracker   *progress.Tracker
	publisher events.Publisher
	logger    *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	ownerTimeout time.Duration

	mu      sync.Mutex
	busy    bool
	running map[string]*run
	wg      sync.WaitGroup
}

// NewService creates a new fetch service
func NewService(deps *Dependencies) *Service {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	ownerTimeout := deps.OwnerTimeout
	if ownerTimeout <= 0 {
		ownerTimeout = DefaultOwnerTimeout
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Service{
		logs:         deps.Logs,
		source:       deps.Source,
		engine:       deps.Engine,
		tracker:      deps.Tracker,
		publisher:    publisher,
		logger:       deps.Logger,
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		ownerTimeout: ownerTimeout,
		running:      make(map[string]*run),
	}
}

// Start creates the job log and progress entry and runs the job in the
// background. It returns domain.ErrJobInProgress while another job runs.
func (s *Service) Start(ctx context.Context, req RunRequest) (string, error) {
	r, err := s.start(ctx, req)
	if err != nil {
		return "", err
	}
	return r.jobID, nil
}

// Run starts a job and blocks until it is finalized. When ctx ends first
// the job is cancelled and Run waits for it to wind down.
func (s *Service) Run(ctx context.Context, req RunRequest) (string, error) {
	r, err := s.start(ctx, req)
	if err != nil {
		return "", err
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		r.stop(ShutdownMessage)
		<-r.done
	}
	return r.jobID, nil
}

func (s *Service) start(ctx context.Context, req RunRequest) (*run, error) {
	trigger := req.TriggerType
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	if !domain.ValidTrigger(trigger) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTrigger, trigger)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, domain.ErrJobInProgress
	}
	if s.baseCtx.Err() != nil {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.busy = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}

	fetchLog, err := s.logs.StartFetchLog(ctx, trigger)
	if err != nil {
		release()
		return nil, err
	}

	if err := s.tracker.Begin(ctx, fetchLog.FetchID); err != nil {
		release()
		s.finalize(fetchLog, domain.Counters{}, domain.FetchStatusFailed)
		return nil, fmt.Errorf("failed to register job progress: %w", err)
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	r := &run{
		jobID:  fetchLog.FetchID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.running[r.jobID] = r
	s.mu.Unlock()

	s.logger.Info("Fetch job started",
		slog.String("job_id", r.jobID),
		slog.String("trigger_type", trigger),
		slog.String("source", s.source.Name()),
	)

	s.wg.Add(1)
	go s.execute(runCtx, r, fetchLog, req.Filters)

	return r, nil
}

// execute drives fetching → processing → upserting → terminal for one job
func (s *Service) execute(ctx context.Context, r *run, fetchLog *model.FetchLog, filters domain.Filters) {
	defer s.wg.Done()
	defer func() {
		r.cancel()
		s.mu.Lock()
		delete(s.running, r.jobID)
		s.busy = false
		s.mu.Unlock()
		close(r.done)
	}()

	jobID := r.jobID
	bg := context.WithoutCancel(ctx)
	start := time.Now()

	records, err := s.source.Fetch(ctx, filters)
	if err != nil {
		if ctx.Err() != nil || s.tracker.IsCancelled(bg, jobID) {
			s.complete(fetchLog, domain.Counters{}, domain.FetchStatusCancelled, r.stopReason())
			return
		}
		s.logger.Error("Fetch job source failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		s.complete(fetchLog, domain.Counters{}, domain.FetchStatusFailed, err.Error())
		return
	}

	total := len(records)
	counters := domain.Counters{TotalFetched: total}

	if err := s.tracker.Advance(bg, jobID, domain.PhaseProcessing, domain.PercentProcessing, counters); err != nil {
		s.onAdvanceError(r, fetchLog, counters, err)
		return
	}
	if err := s.tracker.Advance(bg, jobID, domain.PhaseUpserting, domain.PercentUpsertBase, counters); err != nil {
		s.onAdvanceError(r, fetchLog, counters, err)
		return
	}

	result := s.engine.Reconcile(ctx, jobID, records, func(processed, total int, res reconcile.Result) {
		err := s.tracker.Advance(bg, jobID, domain.PhaseUpserting, domain.UpsertPercent(processed, total), res.Counters(total))
		if err != nil && !errors.Is(err, progress.ErrTerminal) {
			s.logger.Warn("Failed to update job progress",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	})
	counters = result.Counters(total)

	status, message := domain.FetchStatusSuccess, ""
	if result.Cancelled {
		status, message = domain.FetchStatusCancelled, r.stopReason()
	}
	s.complete(fetchLog, counters, status, message)

	s.logger.Info("Fetch job finished",
		slog.String("job_id", jobID),
		slog.String("status", status),
		slog.Int("total_fetched", counters.TotalFetched),
		slog.Int("valid_entries", counters.ValidEntries),
		slog.Int("duplicates", counters.Duplicates),
		slog.Duration("elapsed", time.Since(start)),
	)
}

func (s *Service) onAdvanceError(r *run, fetchLog *model.FetchLog, counters domain.Counters, err error) {
	if errors.Is(err, progress.ErrTerminal) {
		s.complete(fetchLog, counters, domain.FetchStatusCancelled, r.stopReason())
		return
	}
	s.logger.Error("Failed to update job progress",
		slog.String("job_id", fetchLog.FetchID),
		slog.Any("error", err),
	)
	s.complete(fetchLog, counters, domain.FetchStatusFailed, err.Error())
}

// complete moves progress to its terminal phase and finalizes the log. A
// success that loses the race against a cancel is recorded as cancelled.
func (s *Service) complete(fetchLog *model.FetchLog, counters domain.Counters, status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	jobID := fetchLog.FetchID

	var err error
	switch status {
	case domain.FetchStatusSuccess:
		err = s.tracker.Finish(ctx, jobID, counters)
		if errors.Is(err, progress.ErrTerminal) {
			status = domain.FetchStatusCancelled
		}
	case domain.FetchStatusFailed:
		err = s.tracker.Fail(ctx, jobID, counters, message)
	case domain.FetchStatusCancelled:
		err = s.tracker.CancelWithCounters(ctx, jobID, counters, message)
	}
	if err != nil && !errors.Is(err, progress.ErrTerminal) {
		s.logger.Warn("Failed to record final job progress",
			slog.String("job_id", jobID),
			slog.String("status", status),
			slog.Any("error", err),
		)
	}

	s.finalize(fetchLog, counters, status)
}

// finalize writes the log's terminal state once and announces it
func (s *Service) finalize(fetchLog *model.FetchLog, counters domain.Counters, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	err := s.logs.FinalizeFetchLog(ctx, fetchLog.FetchID, counters, status)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyFinalized) {
			s.logger.Debug("Fetch log already finalized",
				slog.String("job_id", fetchLog.FetchID),
			)
			return
		}
		s.logger.Error("Failed to finalize fetch log",
			slog.String("job_id", fetchLog.FetchID),
			slog.String("status", status),
			slog.Any("error", err),
		)
		return
	}

	evt := events.JobFinished{
		JobID:       fetchLog.FetchID,
		TriggerType: fetchLog.TriggerType,
		Status:      status,
		Counters:    counters,
		StartedAt:   fetchLog.StartedAt,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishJobFinished(ctx, evt); err != nil {
		s.logger.Warn("Failed to publish fetch completion",
			slog.String("job_id", fetchLog.FetchID),
			slog.Any("error", err),
		)
	}
}

// Cancel stops a job. It is a no-op for unknown or finished jobs.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	r := s.running[jobID]
	s.mu.Unlock()

	if r != nil {
		if _, err := s.tracker.Cancel(ctx, jobID, CancelMessage); err != nil && !errors.Is(err, progress.ErrTerminal) {
			s.logger.Warn("Failed to mark job cancelled",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
		r.stop(CancelMessage)
		s.logger.Info("Fetch job cancellation requested",
			slog.String("job_id", jobID),
		)
		return nil
	}

	fetchLog, err := s.logs.GetFetchLog(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil
		}
		return err
	}
	if fetchLog.CompletedAt.Valid {
		return nil
	}

	// owned by another process, or orphaned by a crash. A live owner sees
	// the flag at its next checkpoint and finalizes with exact counters.
	before, getErr := s.tracker.Get(ctx, jobID)
	ownerAlive := getErr == nil && !before.Phase.IsTerminal() && time.Since(before.UpdatedAt) < s.ownerTimeout

	p, err := s.tracker.Cancel(ctx, jobID, CancelMessage)
	if errors.Is(err, progress.ErrTerminal) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark job cancelled: %w", err)
	}

	if ownerAlive {
		s.logger.Info("Fetch job cancellation handed to its owner",
			slog.String("job_id", jobID),
		)
		return nil
	}

	s.logger.Info("Cancelling fetch job without a live owner",
		slog.String("job_id", jobID),
	)
	s.finalize(fetchLog, p.Counters, domain.FetchStatusCancelled)
	return nil
}

// Status returns live progress, falling back to the job log once the
// progress entry has been evicted
func (s *Service) Status(ctx context.Context, jobID string) (domain.JobProgress, error) {
	p, err := s.tracker.Get(ctx, jobID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, progress.ErrNotFound) {
		return domain.JobProgress{}, err
	}

	fetchLog, err := s.logs.GetFetchLog(ctx, jobID)
	if err != nil {
		return domain.JobProgress{}, err
	}
	if !fetchLog.CompletedAt.Valid {
		return domain.JobProgress{}, domain.ErrJobNotFound
	}

	return progressFromLog(fetchLog), nil
}

func progressFromLog(fetchLog *model.FetchLog) domain.JobProgress {
	p := domain.JobProgress{
		JobID: fetchLog.FetchID,
		Counters: domain.Counters{
			TotalFetched: fetchLog.TotalFetched,
			ValidEntries: fetchLog.ValidEntries,
			Duplicates:   fetchLog.Duplicates,
		},
		UpdatedAt: fetchLog.CompletedAt.Time,
	}

	switch fetchLog.Status {
	case domain.FetchStatusSuccess:
		p.Phase = domain.PhaseDone
		p.Percent = domain.PercentDone
	case domain.FetchStatusCancelled:
		p.Phase = domain.PhaseCancelled
		p.Message = CancelMessage
	default:
		p.Phase = domain.PhaseFailed
	}
	return p
}

// Running returns the ids of jobs executing in this process
func (s *Service) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every running job and waits for them to be finalized
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.baseCancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Fetch service stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fetch service shutdown: %w", ctx.Err())
	}
}
