package progress

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

var (
	// ErrNotFound is returned for job ids with no progress entry
	ErrNotFound = errors.New("progress not found")

	// ErrTerminal is returned when moving a done, failed or cancelled entry
	// to any other phase
	ErrTerminal = errors.New("progress already terminal")
)

// Store persists job progress snapshots keyed by job id.
// Implementations must refuse to move a terminal entry to another phase;
// rewriting it in the same phase is allowed.
type Store interface {
	Get(ctx context.Context, jobID string) (domain.JobProgress, error)
	Set(ctx context.Context, p domain.JobProgress) error
	Delete(ctx context.Context, jobID string) error

	// Cleanup evicts terminal entries last updated before now-maxAge and
	// returns how many were removed
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}
