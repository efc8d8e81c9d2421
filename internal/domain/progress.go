package domain

import "time"

// Phase is a step of the fetch job state machine.
// idle → fetching → processing → upserting → {done | failed | cancelled}
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseProcessing Phase = "processing"
	PhaseUpserting  Phase = "upserting"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// IsTerminal reports whether no transition may leave the phase
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCancelled
}

// Percent milestones for the phases before and after the per-record range.
const (
	PercentFetching   = 5
	PercentProcessing = 60
	PercentUpsertBase = 65
	PercentUpsertMax  = 99
	PercentDone       = 100
)

// Counters are the per-run tallies shared by the progress snapshot and the fetch log
type Counters struct {
	TotalFetched int `json:"total_fetched" db:"total_fetched"`
	ValidEntries int `json:"valid_entries" db:"valid_entries"`
	Duplicates   int `json:"duplicates" db:"duplicates"`
}

// JobProgress is the live, process-local view of a fetch job
type JobProgress struct {
	JobID   string `json:"job_id"`
	Phase   Phase  `json:"phase"`
	Percent int    `json:"percent"`
	Counters
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertPercent maps the number of processed records onto the upsert range.
// It never reaches 100; only a successful finish does.
func UpsertPercent(processed, total int) int {
	if total <= 0 {
		return PercentUpsertBase
	}
	if processed > total {
		processed = total
	}
	pct := PercentUpsertBase + processed*(PercentUpsertMax-PercentUpsertBase)/total
	if pct > PercentUpsertMax {
		pct = PercentUpsertMax
	}
	return pct
}
