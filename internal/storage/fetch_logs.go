package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/model"
	"github.com/google/uuid"
)

const fetchLogColumns = `
	fetch_id, trigger_type, total_fetched, valid_entries,
	duplicates, started_at, completed_at, status
`

// StartFetchLog persists a provisional fetch log and returns it.
// The status starts optimistic and completed_at stays NULL until finalized.
func (s *Storage) StartFetchLog(ctx context.Context, triggerType string) (*model.FetchLog, error) {
	if !domain.ValidTrigger(triggerType) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTrigger, triggerType)
	}

	log := model.FetchLog{
		FetchID:     uuid.New().String(),
		TriggerType: triggerType,
		StartedAt:   time.Now().UTC(),
		Status:      domain.FetchStatusSuccess,
	}

	query := `
		INSERT INTO fetch_logs (
			fetch_id, trigger_type, total_fetched, valid_entries,
			duplicates, started_at, status
		) VALUES (
			$1, $2, 0, 0,
			0, $3, $4
		)
	`

	if _, err := s.db.ExecContext(ctx, query, log.FetchID, log.TriggerType, log.StartedAt, log.Status); err != nil {
		return nil, fmt.Errorf("failed to create fetch log: %w", err)
	}

	s.logger.Info("Fetch log started",
		slog.String("fetch_id", log.FetchID),
		slog.String("trigger_type", log.TriggerType),
	)

	return &log, nil
}

// FinalizeFetchLog writes terminal counters and status exactly once.
// Returns domain.ErrAlreadyFinalized if the log was completed before.
func (s *Storage) FinalizeFetchLog(ctx context.Context, fetchID string, counters domain.Counters, status string) error {
	query := `
		UPDATE fetch_logs
		SET total_fetched = $1,
			valid_entries = $2,
			duplicates = $3,
			status = $4,
			completed_at = NOW()
		WHERE fetch_id = $5
		  AND completed_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query,
		counters.TotalFetched,
		counters.ValidEntries,
		counters.Duplicates,
		status,
		fetchID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize fetch log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM fetch_logs WHERE fetch_id = $1)`, fetchID); err != nil {
			return fmt.Errorf("failed to check fetch log: %w", err)
		}
		if !exists {
			return domain.ErrJobNotFound
		}
		return domain.ErrAlreadyFinalized
	}

	s.logger.Info("Fetch log finalized",
		slog.String("fetch_id", fetchID),
		slog.String("status", status),
		slog.Int("total_fetched", counters.TotalFetched),
		slog.Int("valid_entries", counters.ValidEntries),
		slog.Int("duplicates", counters.Duplicates),
	)

	return nil
}

// GetFetchLog retrieves a fetch log by its ID
func (s *Storage) GetFetchLog(ctx context.Context, fetchID string) (*model.FetchLog, error) {
	var log model.FetchLog
	query := `SELECT ` + fetchLogColumns + ` FROM fetch_logs WHERE fetch_id = $1`

	err := s.db.GetContext(ctx, &log, query, fetchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get fetch log: %w", err)
	}

	return &log, nil
}

type FetchLogFilter struct {
	TriggerType string
	Status      string
	PageSize    int
	Cursor      *FetchLogCursor
}

type FetchLogCursor struct {
	StartedAt time.Time
	FetchID   string
}

// ListFetchLogs returns run history newest first. One extra row is fetched
// so callers can tell whether another page exists.
func (s *Storage) ListFetchLogs(ctx context.Context, filter FetchLogFilter) ([]model.FetchLog, error) {
	query := `SELECT ` + fetchLogColumns + ` FROM fetch_logs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.TriggerType != "" {
		query += fmt.Sprintf(" AND trigger_type = $%d", argIdx)
		args = append(args, filter.TriggerType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (started_at, fetch_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.StartedAt, filter.Cursor.FetchID)
		argIdx += 2
	}

	query += " ORDER BY started_at DESC, fetch_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var logs []model.FetchLog
	if err := s.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list fetch logs: %w", err)
	}

	return logs, nil
}
