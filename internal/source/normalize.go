package source

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

// Schema maps one known upstream record layout onto the canonical fields.
// An empty key means the schema has no such field.
type Schema struct {
	Name        string
	Title       string
	Company     string
	Website     string
	Location    string
	City        string
	State       string
	Country     string
	Type        string
	ApplyLink   string
	Description string
	PostedAt    string
	Publisher   string
}

var (
	// CanonicalSchema is what the ingest script emits after its transform step
	CanonicalSchema = Schema{
		Name:        "canonical",
		Title:       "title",
		Company:     "company",
		Website:     "website",
		Location:    "location",
		City:        "city",
		State:       "state",
		Country:     "country",
		Type:        "type",
		ApplyLink:   "apply_link",
		Description: "description",
		PostedAt:    "posted_at",
		Publisher:   "publisher",
	}

	// CamelSchema covers older script output using camelCase keys
	CamelSchema = Schema{
		Name:        "camel",
		Title:       "jobTitle",
		Company:     "companyName",
		Website:     "companyWebsite",
		Location:    "jobLocation",
		Type:        "employmentType",
		ApplyLink:   "applyLink",
		Description: "jobDescription",
		PostedAt:    "postedAt",
		Publisher:   "jobPublisher",
	}

	// JSearchSchema is the raw JSearch API job layout
	JSearchSchema = Schema{
		Name:        "jsearch",
		Title:       "job_title",
		Company:     "employer_name",
		Website:     "employer_website",
		Location:    "job_location",
		City:        "job_city",
		State:       "job_state",
		Country:     "job_country",
		Type:        "job_employment_type",
		ApplyLink:   "job_apply_link",
		Description: "job_description",
		PostedAt:    "job_posted_at",
		Publisher:   "job_publisher",
	}
)

// KnownSchemas lists the accepted layouts in lookup precedence order
var KnownSchemas = []Schema{CanonicalSchema, CamelSchema, JSearchSchema}

// Normalize maps a raw record onto the canonical shape. For every field the
// first non-empty value across KnownSchemas wins.
func Normalize(raw domain.RawRecord) domain.Record {
	pick := func(key func(Schema) string) string {
		for _, schema := range KnownSchemas {
			if v := stringValue(raw, key(schema)); v != "" {
				return v
			}
		}
		return ""
	}

	record := domain.Record{
		Title:          pick(func(s Schema) string { return s.Title }),
		CompanyName:    pick(func(s Schema) string { return s.Company }),
		Website:        pick(func(s Schema) string { return s.Website }),
		Location:       pick(func(s Schema) string { return s.Location }),
		InternshipType: pick(func(s Schema) string { return s.Type }),
		ApplyLink:      pick(func(s Schema) string { return s.ApplyLink }),
		Description:    pick(func(s Schema) string { return s.Description }),
		PostedAt:       pick(func(s Schema) string { return s.PostedAt }),
		Publisher:      pick(func(s Schema) string { return s.Publisher }),
	}

	if record.Location == "" {
		record.Location = joinNonEmpty(", ",
			pick(func(s Schema) string { return s.City }),
			pick(func(s Schema) string { return s.State }),
			pick(func(s Schema) string { return s.Country }),
		)
	}

	return record
}

// DetectSchema returns the name of the first known schema whose title or
// company key is present, or "unknown"
func DetectSchema(raw domain.RawRecord) string {
	for _, schema := range KnownSchemas {
		if stringValue(raw, schema.Title) != "" || stringValue(raw, schema.Company) != "" {
			return schema.Name
		}
	}
	return "unknown"
}

func stringValue(raw domain.RawRecord, key string) string {
	if key == "" {
		return ""
	}
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
