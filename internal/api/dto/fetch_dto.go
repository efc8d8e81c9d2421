package dto

import "github.com/cuongbtq/intern-crm/internal/domain"

type RunFetchRequest struct {
	TriggerType string          `json:"trigger_type" validate:"omitempty,oneof=manual scheduled"`
	Filters     *domain.Filters `json:"filters" validate:"omitempty"`
}

type RunFetchResponse struct {
	JobID string `json:"job_id"`
}

type ListFetchLogsRequest struct {
	TriggerType string `form:"trigger_type"`
	Status      string `form:"status"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListFetchLogsResponse struct {
	Logs       []FetchLogDTO `json:"logs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type FetchLogDTO struct {
	JobID        string  `json:"job_id"`
	TriggerType  string  `json:"trigger_type"`
	Status       string  `json:"status"`
	TotalFetched int     `json:"total_fetched"`
	ValidEntries int     `json:"valid_entries"`
	Duplicates   int     `json:"duplicates"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  *string `json:"completed_at"`
}
