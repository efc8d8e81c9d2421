package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/model"
	"github.com/cuongbtq/intern-crm/internal/source"
)

// CompanyRepository resolves companies by their natural key
type CompanyRepository interface {
	FindCompanyByName(ctx context.Context, name string) (*model.Company, error)
	CreateCompany(ctx context.Context, company *model.Company) error
	BackfillCompanyWebsite(ctx context.Context, companyID, website string) error
}

// InternshipRepository resolves and writes internship leads
type InternshipRepository interface {
	FindInternshipBySourceURL(ctx context.Context, sourceURL string) (*model.Internship, error)
	FindInternshipByCompanyAndTitle(ctx context.Context, companyID, title string) (*model.Internship, error)
	CreateInternship(ctx context.Context, internship *model.Internship) error
	UpdateInternshipListing(ctx context.Context, internship *model.Internship) error
}

// Canceller reports cancellation requested outside the job's own context
type Canceller interface {
	IsCancelled(ctx context.Context, jobID string) bool
}

// Result is the outcome of one reconciliation pass
type Result struct {
	Valid      int
	Duplicates int
	Processed  int
	Cancelled  bool
}

// Counters converts the result into fetch log counters
func (r Result) Counters(totalFetched int) domain.Counters {
	return domain.Counters{
		TotalFetched: totalFetched,
		ValidEntries: r.Valid,
		Duplicates:   r.Duplicates,
	}
}

// ProgressFunc is called after every record
type ProgressFunc func(processed, total int, result Result)

var errRejected = errors.New("record is missing title or company")

// Engine upserts listings into companies and internships without touching
// sales-owned fields
type Engine struct {
	companies   CompanyRepository
	internships InternshipRepository
	canceller   Canceller
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates a new reconciliation engine. canceller may be nil.
func NewEngine(companies CompanyRepository, internships InternshipRepository, canceller Canceller, logger *slog.Logger) *Engine {
	return &Engine{
		companies:   companies,
		internships: internships,
		canceller:   canceller,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile processes records one at a time. It stops before the next
// record once ctx is done or the job is marked cancelled; a record already
// started is written in full and counted. Per-record failures are counted
// as duplicates.
func (e *Engine) Reconcile(ctx context.Context, jobID string, records []domain.RawRecord, onProgress ProgressFunc) Result {
	var result Result
	total := len(records)

	// cancellation is only observed between records
	recordCtx := context.WithoutCancel(ctx)

	for i, raw := range records {
		if e.stopped(ctx, jobID) {
			result.Cancelled = true
			e.logger.Info("Reconciliation stopped by cancellation",
				slog.String("job_id", jobID),
				slog.Int("processed", result.Processed),
				slog.Int("total", total),
			)
			return result
		}

		created, err := e.apply(recordCtx, raw)
		switch {
		case err == nil && created:
			result.Valid++
		case err == nil:
			result.Duplicates++
		case errors.Is(err, errRejected):
			e.logger.Warn("Rejected listing",
				slog.String("job_id", jobID),
				slog.Int("index", i),
				slog.String("schema", source.DetectSchema(raw)),
			)
			result.Duplicates++
		default:
			e.logger.Error("Failed to reconcile listing",
				slog.String("job_id", jobID),
				slog.Int("index", i),
				slog.Any("error", err),
			)
			result.Duplicates++
		}

		result.Processed++
		if onProgress != nil {
			onProgress(result.Processed, total, result)
		}
	}

	e.logger.Info("Reconciliation finished",
		slog.String("job_id", jobID),
		slog.Int("total", total),
		slog.Int("valid", result.Valid),
		slog.Int("duplicates", result.Duplicates),
	)

	return result
}

func (e *Engine) stopped(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	return e.canceller != nil && e.canceller.IsCancelled(ctx, jobID)
}

// apply upserts a single listing and reports whether a new internship was created
func (e *Engine) apply(ctx context.Context, raw domain.RawRecord) (bool, error) {
	record := source.Normalize(raw)
	if record.Title == "" || record.CompanyName == "" {
		return false, errRejected
	}

	company, err := e.resolveCompany(ctx, record)
	if err != nil {
		return false, err
	}

	existing, err := e.internships.FindInternshipBySourceURL(ctx, record.ApplyLink)
	if err != nil {
		return false, err
	}
	if existing == nil {
		existing, err = e.internships.FindInternshipByCompanyAndTitle(ctx, company.CompanyID, record.Title)
		if err != nil {
			return false, err
		}
	}

	listing := &model.Internship{
		CompanyID:      company.CompanyID,
		Title:          record.Title,
		InternshipType: orDefault(record.InternshipType, domain.DefaultInternshipType),
		Location:       record.Location,
		Description:    record.Description,
		PostedAt:       record.PostedAt,
		Source:         orDefault(record.Publisher, domain.DefaultSource),
		SourceURL:      record.ApplyLink,
		FetchedAt:      e.now(),
	}

	if existing != nil {
		listing.InternshipID = existing.InternshipID
		return false, e.internships.UpdateInternshipListing(ctx, listing)
	}

	return true, e.internships.CreateInternship(ctx, listing)
}

func (e *Engine) resolveCompany(ctx context.Context, record domain.Record) (*model.Company, error) {
	company, err := e.companies.FindCompanyByName(ctx, record.CompanyName)
	if err != nil {
		return nil, err
	}

	if company == nil {
		company = &model.Company{
			Name:             record.CompanyName,
			Website:          record.Website,
			EnrichmentSource: enrichment(record.Publisher),
		}
		if err := e.companies.CreateCompany(ctx, company); err != nil {
			return nil, err
		}
		return company, nil
	}

	if company.Website == "" && record.Website != "" {
		if err := e.companies.BackfillCompanyWebsite(ctx, company.CompanyID, record.Website); err != nil {
			return nil, err
		}
		company.Website = record.Website
	}

	return company, nil
}

func enrichment(publisher string) types.JSONText {
	if publisher == "" {
		return types.JSONText("{}")
	}
	data, err := json.Marshal(map[string]string{"publisher": publisher})
	if err != nil {
		return types.JSONText("{}")
	}
	return types.JSONText(data)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
