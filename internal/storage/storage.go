package storage

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/intern-crm/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

// Storage handles all database operations for fetch logs, companies and internships
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// EnsureSchema creates missing tables and indexes
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	s.logger.Info("Database schema ensured")
	return nil
}
