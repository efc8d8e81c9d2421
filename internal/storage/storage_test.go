package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/model"
)

// sqlLog records every statement sent to the mock, whitespace collapsed
type sqlLog struct {
	mu      sync.Mutex
	queries []string
}

func (l *sqlLog) Match(_, actual string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, strings.Join(strings.Fields(actual), " "))
	return nil
}

func (l *sqlLog) statement(t *testing.T, i int) string {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.Greater(t, len(l.queries), i)
	return l.queries[i]
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock, *sqlLog) {
	t.Helper()

	log := &sqlLog{}
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(log))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	s := &Storage{
		db:     sqlx.NewDb(db, "postgres"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return s, mock, log
}

func TestStorage_BackfillCompanyWebsite(t *testing.T) {
	s, mock, log := newMockStorage(t)

	mock.ExpectExec("UPDATE companies").
		WithArgs("https://acme.example", "company-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.BackfillCompanyWebsite(context.Background(), "company-1", "https://acme.example"))

	query := log.statement(t, 0)
	assert.Contains(t, query, "SET website = $1")
	// a website already set is never overwritten
	assert.Contains(t, query, "WHERE company_id = $2 AND website = ''")
}

func TestStorage_UpdateInternshipListing(t *testing.T) {
	s, mock, log := newMockStorage(t)

	listing := &model.Internship{
		InternshipID:   "internship-1",
		CompanyID:      "company-1",
		Title:          "Backend Intern",
		InternshipType: "Internship",
		Location:       "Remote",
		Description:    "Go services",
		PostedAt:       "2024-05-01",
		Source:         "LinkedIn",
		SourceURL:      "https://jobs.example/1",
		FetchedAt:      time.Now().UTC(),
		Status:         domain.InternshipStatusOffer,
	}

	mock.ExpectExec("UPDATE internships").
		WithArgs(
			"company-1", "Backend Intern", "Internship", "Remote", "Go services",
			"2024-05-01", "LinkedIn", "https://jobs.example/1", sqlmock.AnyArg(), "internship-1",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateInternshipListing(context.Background(), listing))

	query := log.statement(t, 0)
	assert.Contains(t, query, "source_url = CASE WHEN source_url = '' THEN $8 ELSE source_url END")
	assert.Contains(t, query, "WHERE internship_id = $10")

	for _, salesColumn := range []string{"status", "assigned_to", "last_contacted", "follow_up_date"} {
		assert.NotContains(t, query, salesColumn)
	}
}

func TestStorage_FinalizeFetchLog(t *testing.T) {
	counters := domain.Counters{TotalFetched: 10, ValidEntries: 4, Duplicates: 2}

	tests := []struct {
		name     string
		affected int64
		exists   bool
		wantErr  error
	}{
		{name: "first finalize", affected: 1},
		{name: "already finalized", affected: 0, exists: true, wantErr: domain.ErrAlreadyFinalized},
		{name: "unknown job", affected: 0, exists: false, wantErr: domain.ErrJobNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock, log := newMockStorage(t)

			mock.ExpectExec("UPDATE fetch_logs").
				WithArgs(10, 4, 2, domain.FetchStatusCancelled, "job-1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("job-1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			err := s.FinalizeFetchLog(context.Background(), "job-1", counters, domain.FetchStatusCancelled)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			assert.Contains(t, log.statement(t, 0), "WHERE fetch_id = $5 AND completed_at IS NULL")
		})
	}
}
