package model

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// FetchLog is the durable record of one ingestion run
type FetchLog struct {
	FetchID      string       `db:"fetch_id"`
	TriggerType  string       `db:"trigger_type"`
	TotalFetched int          `db:"total_fetched"`
	ValidEntries int          `db:"valid_entries"`
	Duplicates   int          `db:"duplicates"`
	StartedAt    time.Time    `db:"started_at"`
	CompletedAt  sql.NullTime `db:"completed_at"`
	Status       string       `db:"status"`
}

// Company is a prospect organisation. Name is the pipeline's natural key.
type Company struct {
	CompanyID        string         `db:"company_id"`
	Name             string         `db:"name"`
	Website          string         `db:"website"`
	Industry         string         `db:"industry"`
	Size             string         `db:"size"`
	Headquarters     string         `db:"headquarters"`
	LinkedInURL      string         `db:"linkedin_url"`
	EnrichmentSource types.JSONText `db:"enrichment_source"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// Internship is a lead. Status, AssignedTo, LastContacted and FollowUpDate
// belong to sales and are never written by ingestion.
type Internship struct {
	InternshipID   string         `db:"internship_id"`
	CompanyID      string         `db:"company_id"`
	Title          string         `db:"title"`
	InternshipType string         `db:"internship_type"`
	Location       string         `db:"location"`
	Description    string         `db:"description"`
	PostedAt       string         `db:"posted_at"`
	Source         string         `db:"source"`
	SourceURL      string         `db:"source_url"`
	FetchedAt      time.Time      `db:"fetched_at"`
	Status         string         `db:"status"`
	AssignedTo     sql.NullString `db:"assigned_to"`
	LastContacted  sql.NullTime   `db:"last_contacted"`
	FollowUpDate   sql.NullTime   `db:"follow_up_date"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}
