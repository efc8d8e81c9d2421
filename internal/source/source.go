package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

// Source produces raw listing records for one fetch job
type Source interface {
	// Name identifies the source in logs
	Name() string

	// Fetch returns the listings for the given filters. An empty result is
	// not an error. Failures are returned as *domain.SourceError; a
	// cancelled context is returned as the context error.
	Fetch(ctx context.Context, filters domain.Filters) ([]domain.RawRecord, error)
}

// errorEnvelope is what the ingest script prints instead of a record array
// when it cannot fetch anything
type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ParseOutput decodes the ingest output contract: a JSON array of records,
// or an {"status":"error"} envelope. Blank output yields zero records.
func ParseOutput(data []byte) ([]domain.RawRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	switch data[0] {
	case '[':
		var records []domain.RawRecord
		if err := dec.Decode(&records); err != nil {
			return nil, domain.NewSourceError("parse", err, "malformed record array")
		}
		return records, nil

	case '{':
		var envelope errorEnvelope
		if err := dec.Decode(&envelope); err != nil {
			return nil, domain.NewSourceError("parse", err, "malformed output object")
		}
		if envelope.Status == "error" {
			return nil, domain.NewSourceError("fetch", nil, envelope.Message)
		}
		return nil, domain.NewSourceError("parse", nil, fmt.Sprintf("unexpected output object with status %q", envelope.Status))

	default:
		return nil, domain.NewSourceError("parse", nil, "output is not JSON")
	}
}
