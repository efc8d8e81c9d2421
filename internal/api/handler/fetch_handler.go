package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/intern-crm/internal/api/dto"
	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/fetch"
	"github.com/cuongbtq/intern-crm/internal/model"
	"github.com/cuongbtq/intern-crm/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RunFetch handles POST /api/v1/fetch/run
// Starts a fetch job in the background and returns its id
func (h *FetchHandler) RunFetch(c *gin.Context) {
	var req dto.RunFetchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.logger.Warn("Request validation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	runReq := fetch.RunRequest{TriggerType: req.TriggerType}
	if req.Filters != nil {
		runReq.Filters = *req.Filters
	}

	jobID, err := h.fetch.Start(c.Request.Context(), runReq)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobInProgress):
			c.JSON(http.StatusConflict, gin.H{
				"error": "job_in_progress",
			})
		case errors.Is(err, domain.ErrInvalidTrigger):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
		default:
			h.logger.Error("Failed to start fetch job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to start fetch job",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.RunFetchResponse{JobID: jobID})
}

// GetStatus handles GET /api/v1/fetch/status/:job_id
func (h *FetchHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	p, err := h.fetch.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("Failed to get job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job status",
		})
		return
	}

	c.JSON(http.StatusOK, p)
}

// CancelFetch handles POST /api/v1/fetch/cancel/:job_id
// Unknown and finished jobs are acknowledged without change.
func (h *FetchHandler) CancelFetch(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("CancelFetch called",
		slog.String("job_id", jobID),
	)

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if err := h.fetch.Cancel(c.Request.Context(), jobID); err != nil {
		h.logger.Error("Failed to cancel fetch job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel fetch job",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListLogs handles GET /api/v1/fetch/logs
// Lists run history newest first with cursor pagination
func (h *FetchHandler) ListLogs(c *gin.Context) {
	var req dto.ListFetchLogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeFetchLogCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	logs, err := h.logs.ListFetchLogs(c.Request.Context(), storage.FetchLogFilter{
		TriggerType: req.TriggerType,
		Status:      req.Status,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list fetch logs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list fetch logs",
		})
		return
	}

	hasMore := len(logs) > req.PageSize
	if hasMore {
		logs = logs[:req.PageSize]
	}

	resp := dto.ListFetchLogsResponse{
		Logs: make([]dto.FetchLogDTO, len(logs)),
	}
	for i := range logs {
		resp.Logs[i] = toFetchLogDTO(&logs[i])
	}

	if hasMore {
		last := logs[len(logs)-1]
		resp.NextCursor = EncodeFetchLogCursor(&storage.FetchLogCursor{
			StartedAt: last.StartedAt,
			FetchID:   last.FetchID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// GetLog handles GET /api/v1/fetch/logs/:job_id
func (h *FetchHandler) GetLog(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	log, err := h.logs.GetFetchLog(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("Failed to get fetch log",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get fetch log",
		})
		return
	}

	c.JSON(http.StatusOK, toFetchLogDTO(log))
}

func toFetchLogDTO(l *model.FetchLog) dto.FetchLogDTO {
	out := dto.FetchLogDTO{
		JobID:        l.FetchID,
		TriggerType:  l.TriggerType,
		Status:       l.Status,
		TotalFetched: l.TotalFetched,
		ValidEntries: l.ValidEntries,
		Duplicates:   l.Duplicates,
		StartedAt:    l.StartedAt.UTC().Format(time.RFC3339),
	}
	if l.CompletedAt.Valid {
		completed := l.CompletedAt.Time.UTC().Format(time.RFC3339)
		out.CompletedAt = &completed
	}
	return out
}
