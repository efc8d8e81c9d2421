package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/intern-crm/internal/domain"
	"github.com/cuongbtq/intern-crm/internal/model"
)

// memRepo mirrors the SQL semantics of storage.Storage in memory. Like a
// database driver it fails every call made with a done context.
type memRepo struct {
	mu          sync.Mutex
	companies   []*model.Company
	internships []*model.Internship
	seq         int
	writes      int

	failCompany     string
	onCreateCompany func(name string)
}

func (r *memRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%d", prefix, r.seq)
}

func (r *memRepo) FindCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == r.failCompany {
		return nil, errors.New("connection reset")
	}
	for _, c := range r.companies {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) CreateCompany(ctx context.Context, company *model.Company) error {
	if r.onCreateCompany != nil {
		r.onCreateCompany(company.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	company.CompanyID = r.nextID("company")
	cp := *company
	r.companies = append(r.companies, &cp)
	r.writes++
	return nil
}

func (r *memRepo) BackfillCompanyWebsite(ctx context.Context, companyID, website string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.companies {
		if c.CompanyID == companyID && c.Website == "" {
			c.Website = website
			r.writes++
		}
	}
	return nil
}

func (r *memRepo) FindInternshipBySourceURL(ctx context.Context, sourceURL string) (*model.Internship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sourceURL == "" {
		return nil, nil
	}
	for _, in := range r.internships {
		if in.SourceURL == sourceURL {
			cp := *in
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindInternshipByCompanyAndTitle(ctx context.Context, companyID, title string) (*model.Internship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.internships {
		if in.CompanyID == companyID && in.Title == title {
			cp := *in
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) CreateInternship(ctx context.Context, internship *model.Internship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	internship.InternshipID = r.nextID("internship")
	internship.Status = domain.InternshipStatusUnassigned
	cp := *internship
	r.internships = append(r.internships, &cp)
	r.writes++
	return nil
}

func (r *memRepo) UpdateInternshipListing(ctx context.Context, internship *model.Internship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.internships {
		if in.InternshipID != internship.InternshipID {
			continue
		}
		in.CompanyID = internship.CompanyID
		in.Title = internship.Title
		in.InternshipType = internship.InternshipType
		in.Location = internship.Location
		in.Description = internship.Description
		in.PostedAt = internship.PostedAt
		in.Source = internship.Source
		if in.SourceURL == "" {
			in.SourceURL = internship.SourceURL
		}
		in.FetchedAt = internship.FetchedAt
		r.writes++
	}
	return nil
}

func (r *memRepo) company(name string) *model.Company {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.companies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type flagCanceller struct {
	mu        sync.Mutex
	cancelled bool
}

func (c *flagCanceller) set() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
}

func (c *flagCanceller) IsCancelled(context.Context, string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listing(i int) domain.RawRecord {
	return domain.RawRecord{
		"title":      fmt.Sprintf("Intern %d", i),
		"company":    fmt.Sprintf("Company %d", i%3),
		"website":    fmt.Sprintf("https://company%d.example", i%3),
		"apply_link": fmt.Sprintf("https://jobs.example/%d", i),
		"publisher":  "LinkedIn",
	}
}

func listings(n int) []domain.RawRecord {
	out := make([]domain.RawRecord, n)
	for i := range out {
		out[i] = listing(i)
	}
	return out
}

func TestEngine_Reconcile_CreatesRecords(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())

	result := engine.Reconcile(context.Background(), "job-1", listings(6), nil)

	assert.Equal(t, 6, result.Valid)
	assert.Equal(t, 0, result.Duplicates)
	assert.Equal(t, 6, result.Processed)
	assert.False(t, result.Cancelled)
	assert.Len(t, repo.companies, 3)
	require.Len(t, repo.internships, 6)

	in := repo.internships[0]
	assert.Equal(t, domain.InternshipStatusUnassigned, in.Status)
	assert.Equal(t, "LinkedIn", in.Source)
	assert.Equal(t, domain.DefaultInternshipType, in.InternshipType)
	assert.False(t, in.FetchedAt.IsZero())
	assert.JSONEq(t, `{"publisher":"LinkedIn"}`, string(repo.companies[0].EnrichmentSource))
}

func TestEngine_Reconcile_Defaults(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())

	engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{
		{"title": "Intern", "company": "Acme"},
	}, nil)

	require.Len(t, repo.internships, 1)
	assert.Equal(t, domain.DefaultSource, repo.internships[0].Source)
	assert.Equal(t, domain.DefaultInternshipType, repo.internships[0].InternshipType)
	assert.JSONEq(t, `{}`, string(repo.companies[0].EnrichmentSource))
}

func TestEngine_Reconcile_Idempotent(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())
	records := listings(5)

	first := engine.Reconcile(context.Background(), "job-1", records, nil)
	second := engine.Reconcile(context.Background(), "job-2", records, nil)

	assert.Equal(t, 5, first.Valid)
	assert.Equal(t, 0, second.Valid)
	assert.Equal(t, 5, second.Duplicates)
	assert.Len(t, repo.companies, 3)
	assert.Len(t, repo.internships, 5)
}

func TestEngine_Reconcile_PreservesSalesFields(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())
	engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{listing(1)}, nil)

	require.Len(t, repo.internships, 1)
	stored := repo.internships[0]
	stored.Status = domain.InternshipStatusInterview
	stored.AssignedTo = sql.NullString{String: "user-42", Valid: true}

	updated := listing(1)
	updated["title"] = "Intern 1 (Summer)"
	updated["location"] = "Remote"
	result := engine.Reconcile(context.Background(), "job-2", []domain.RawRecord{updated}, nil)

	assert.Equal(t, 1, result.Duplicates)
	require.Len(t, repo.internships, 1)
	assert.Equal(t, "Intern 1 (Summer)", stored.Title)
	assert.Equal(t, "Remote", stored.Location)
	assert.Equal(t, domain.InternshipStatusInterview, stored.Status)
	assert.Equal(t, "user-42", stored.AssignedTo.String)
}

func TestEngine_Reconcile_WebsiteBackfill(t *testing.T) {
	t.Run("fills empty website", func(t *testing.T) {
		repo := &memRepo{}
		engine := NewEngine(repo, repo, nil, testLogger())

		engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{
			{"title": "A", "company": "Acme"},
			{"title": "B", "company": "Acme", "website": "https://acme.example"},
		}, nil)

		assert.Equal(t, "https://acme.example", repo.company("Acme").Website)
	})

	t.Run("never overwrites a website", func(t *testing.T) {
		repo := &memRepo{}
		engine := NewEngine(repo, repo, nil, testLogger())

		engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{
			{"title": "A", "company": "Acme", "website": "https://acme.example"},
			{"title": "B", "company": "Acme", "website": "https://other.example"},
			{"title": "C", "company": "Acme"},
		}, nil)

		assert.Equal(t, "https://acme.example", repo.company("Acme").Website)
	})
}

func TestEngine_Reconcile_MatchPrecedence(t *testing.T) {
	t.Run("source url wins over title", func(t *testing.T) {
		repo := &memRepo{}
		engine := NewEngine(repo, repo, nil, testLogger())

		engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{
			{"title": "Backend Intern", "company": "Acme", "apply_link": "https://jobs.example/1"},
		}, nil)
		result := engine.Reconcile(context.Background(), "job-2", []domain.RawRecord{
			{"title": "Backend Intern II", "company": "Acme", "apply_link": "https://jobs.example/1"},
		}, nil)

		assert.Equal(t, 1, result.Duplicates)
		require.Len(t, repo.internships, 1)
		assert.Equal(t, "Backend Intern II", repo.internships[0].Title)
	})

	t.Run("company and title without source url", func(t *testing.T) {
		repo := &memRepo{}
		engine := NewEngine(repo, repo, nil, testLogger())

		engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{
			{"title": "Backend Intern", "company": "Acme"},
		}, nil)
		result := engine.Reconcile(context.Background(), "job-2", []domain.RawRecord{
			{"title": "Backend Intern", "company": "Acme", "apply_link": "https://jobs.example/9"},
		}, nil)

		assert.Equal(t, 1, result.Duplicates)
		require.Len(t, repo.internships, 1)
		assert.Equal(t, "https://jobs.example/9", repo.internships[0].SourceURL)
	})

	t.Run("same title at another company is new", func(t *testing.T) {
		repo := &memRepo{}
		engine := NewEngine(repo, repo, nil, testLogger())

		result := engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{
			{"title": "Backend Intern", "company": "Acme"},
			{"title": "Backend Intern", "company": "Globex"},
		}, nil)

		assert.Equal(t, 2, result.Valid)
	})
}

func TestEngine_Reconcile_RejectsIncompleteRecords(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())

	result := engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{
		{"title": "Intern"},
		{"company": "Acme"},
		{"description": "neither"},
	}, nil)

	assert.Equal(t, 0, result.Valid)
	assert.Equal(t, 3, result.Duplicates)
	assert.Equal(t, 3, result.Processed)
	assert.Zero(t, repo.writes)
}

func TestEngine_Reconcile_DatastoreErrorCountsDuplicate(t *testing.T) {
	repo := &memRepo{failCompany: "Broken"}
	engine := NewEngine(repo, repo, nil, testLogger())

	result := engine.Reconcile(context.Background(), "job-1", []domain.RawRecord{
		{"title": "A", "company": "Broken"},
		{"title": "B", "company": "Acme"},
	}, nil)

	assert.Equal(t, 1, result.Valid)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 2, result.Processed)
}

func TestEngine_Reconcile_CancelMidRun(t *testing.T) {
	repo := &memRepo{}
	canceller := &flagCanceller{}
	engine := NewEngine(repo, repo, canceller, testLogger())

	calls := 0
	result := engine.Reconcile(context.Background(), "job-1", listings(10), func(processed, total int, _ Result) {
		calls++
		if processed == 4 {
			canceller.set()
		}
	})

	assert.True(t, result.Cancelled)
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 4, result.Valid)
	assert.Equal(t, 4, calls)
	assert.Len(t, repo.internships, 4)
}

func TestEngine_Reconcile_ContextCancelled(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	result := engine.Reconcile(ctx, "job-1", listings(10), func(processed, _ int, _ Result) {
		if processed == 2 {
			cancel()
		}
	})

	assert.True(t, result.Cancelled)
	assert.Equal(t, 2, result.Processed)
	assert.Len(t, repo.internships, 2)
}

func TestEngine_Reconcile_CancelDuringRecordFinishesIt(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// listing(1) is the first record of "Company 1"
	repo.onCreateCompany = func(name string) {
		if name == "Company 1" {
			cancel()
		}
	}

	result := engine.Reconcile(ctx, "job-1", listings(10), nil)

	assert.True(t, result.Cancelled)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Valid)
	assert.Zero(t, result.Duplicates)

	require.Len(t, repo.companies, 2)
	require.Len(t, repo.internships, 2)
	assert.Equal(t, "Intern 1", repo.internships[1].Title)
	assert.Equal(t, repo.company("Company 1").CompanyID, repo.internships[1].CompanyID)
}

func TestEngine_Reconcile_ProgressIsMonotonic(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())

	var percents []int
	engine.Reconcile(context.Background(), "job-1", listings(7), func(processed, total int, _ Result) {
		percents = append(percents, domain.UpsertPercent(processed, total))
	})

	require.Len(t, percents, 7)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, domain.PercentUpsertMax, percents[len(percents)-1])
}

func TestEngine_Reconcile_Empty(t *testing.T) {
	repo := &memRepo{}
	engine := NewEngine(repo, repo, nil, testLogger())

	result := engine.Reconcile(context.Background(), "job-1", nil, nil)
	assert.Equal(t, Result{}, result)
}
