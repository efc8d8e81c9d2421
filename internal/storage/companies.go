package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/intern-crm/internal/model"
	"github.com/google/uuid"
)

const companyColumns = `
	company_id, name, website, industry, size, headquarters,
	linkedin_url, enrichment_source, created_at, updated_at
`

// FindCompanyByName returns the company with exactly this name, or nil
func (s *Storage) FindCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	var company model.Company
	query := `SELECT ` + companyColumns + ` FROM companies WHERE name = $1 ORDER BY created_at LIMIT 1`

	err := s.db.GetContext(ctx, &company, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find company: %w", err)
	}

	return &company, nil
}

// CreateCompany inserts a company, assigning its ID and timestamps
func (s *Storage) CreateCompany(ctx context.Context, company *model.Company) error {
	now := time.Now().UTC()
	company.CompanyID = uuid.New().String()
	company.CreatedAt = now
	company.UpdatedAt = now

	query := `
		INSERT INTO companies (
			company_id, name, website, industry, size, headquarters,
			linkedin_url, enrichment_source, created_at, updated_at
		) VALUES (
			:company_id, :name, :website, :industry, :size, :headquarters,
			:linkedin_url, :enrichment_source, :created_at, :updated_at
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, company); err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}

	return nil
}

// BackfillCompanyWebsite sets the website only while it is still empty
func (s *Storage) BackfillCompanyWebsite(ctx context.Context, companyID, website string) error {
	query := `
		UPDATE companies
		SET website = $1,
			updated_at = NOW()
		WHERE company_id = $2
		  AND website = ''
	`

	if _, err := s.db.ExecContext(ctx, query, website, companyID); err != nil {
		return fmt.Errorf("failed to backfill company website: %w", err)
	}

	return nil
}
