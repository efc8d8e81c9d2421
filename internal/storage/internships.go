package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/model"
	"github.com/google/uuid"
)

const internshipColumns = `
	internship_id, company_id, title, internship_type, location, description,
	posted_at, source, source_url, fetched_at, status, assigned_to,
	last_contacted, follow_up_date, created_at, updated_at
`

// FindInternshipBySourceURL looks up an internship by its exact apply link
func (s *Storage) FindInternshipBySourceURL(ctx context.Context, sourceURL string) (*model.Internship, error) {
	if sourceURL == "" {
		return nil, nil
	}
	query := `SELECT ` + internshipColumns + ` FROM internships WHERE source_url = $1 ORDER BY created_at LIMIT 1`
	return s.getInternship(ctx, query, sourceURL)
}

// FindInternshipByCompanyAndTitle looks up an internship by its secondary key
func (s *Storage) FindInternshipByCompanyAndTitle(ctx context.Context, companyID, title string) (*model.Internship, error) {
	query := `SELECT ` + internshipColumns + ` FROM internships WHERE company_id = $1 AND title = $2 ORDER BY created_at LIMIT 1`
	return s.getInternship(ctx, query, companyID, title)
}

func (s *Storage) getInternship(ctx context.Context, query string, args ...interface{}) (*model.Internship, error) {
	var internship model.Internship
	err := s.db.GetContext(ctx, &internship, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find internship: %w", err)
	}
	return &internship, nil
}

// CreateInternship inserts a new lead with the default unassigned status
func (s *Storage) CreateInternship(ctx context.Context, internship *model.Internship) error {
	now := time.Now().UTC()
	internship.InternshipID = uuid.New().String()
	internship.Status = domain.InternshipStatusUnassigned
	internship.CreatedAt = now
	internship.UpdatedAt = now

	query := `
		INSERT INTO internships (
			internship_id, company_id, title, internship_type, location, description,
			posted_at, source, source_url, fetched_at, status, created_at, updated_at
		) VALUES (
			:internship_id, :company_id, :title, :internship_type, :location, :description,
			:posted_at, :source, :source_url, :fetched_at, :status, :created_at, :updated_at
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, internship); err != nil {
		return fmt.Errorf("failed to create internship: %w", err)
	}

	return nil
}

// UpdateInternshipListing rewrites pipeline-owned columns only; status,
// assigned_to, last_contacted and follow_up_date are never touched here.
// source_url is only filled in when it was empty.
func (s *Storage) UpdateInternshipListing(ctx context.Context, internship *model.Internship) error {
	query := `
		UPDATE internships
		SET company_id = :company_id,
			title = :title,
			internship_type = :internship_type,
			location = :location,
			description = :description,
			posted_at = :posted_at,
			source = :source,
			source_url = CASE WHEN source_url = '' THEN :source_url ELSE source_url END,
			fetched_at = :fetched_at,
			updated_at = NOW()
		WHERE internship_id = :internship_id
	`

	if _, err := s.db.NamedExecContext(ctx, query, internship); err != nil {
		return fmt.Errorf("failed to update internship: %w", err)
	}

	return nil
}
