package domain

// RawRecord is an unnormalized listing as emitted by the external source.
// Keys vary by upstream schema.
type RawRecord map[string]any

// Record is the canonical listing shape consumed by reconciliation
type Record struct {
	Title          string
	CompanyName    string
	Website        string
	Location       string
	InternshipType string
	ApplyLink      string
	Description    string
	PostedAt       string
	Publisher      string
}

// Filters narrow what the external source fetches. They are forwarded to
// the ingest process untouched.
type Filters struct {
	InternshipTypes []string `json:"internship_types,omitempty" yaml:"internship_types" validate:"omitempty,dive,required"`
	Locations       []string `json:"locations,omitempty" yaml:"locations" validate:"omitempty,dive,required"`
	Sources         []string `json:"sources,omitempty" yaml:"sources" validate:"omitempty,dive,required"`
	Threshold       int      `json:"threshold,omitempty" yaml:"threshold" validate:"gte=0"`
	Query           string   `json:"query,omitempty" yaml:"query"`
}
