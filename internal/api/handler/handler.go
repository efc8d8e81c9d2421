package handler

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/fetch"
	"github.com/cuongbtq/intern-crm/internal/model"
	"github.com/cuongbtq/intern-crm/internal/storage"
)

// FetchService runs, inspects and cancels fetch jobs
type FetchService interface {
	Start(ctx context.Context, req fetch.RunRequest) (string, error)
	Status(ctx context.Context, jobID string) (domain.JobProgress, error)
	Cancel(ctx context.Context, jobID string) error
}

// FetchLogReader reads run history
type FetchLogReader interface {
	GetFetchLog(ctx context.Context, fetchID string) (*model.FetchLog, error)
	ListFetchLogs(ctx context.Context, filter storage.FetchLogFilter) ([]model.FetchLog, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Fetch    FetchService
	Logs     FetchLogReader
	Database HealthChecker
}

// FetchHandler handles fetch job HTTP requests
type FetchHandler struct {
	logger   *slog.Logger
	fetch    FetchService
	logs     FetchLogReader
	validate *validator.Validate
}

// NewFetchHandler creates a new FetchHandler instance
func NewFetchHandler(deps *Dependencies) *FetchHandler {
	return &FetchHandler{
		logger:   deps.Logger,
		fetch:    deps.Fetch,
		logs:     deps.Logs,
		validate: validator.New(),
	}
}
