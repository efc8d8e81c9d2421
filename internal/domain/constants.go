package domain

// Trigger types
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Fetch log status constants
const (
	FetchStatusSuccess   = "success"
	FetchStatusFailed    = "failed"
	FetchStatusCancelled = "cancelled"
)

// Internship status values owned by sales. The pipeline only ever writes
// InternshipStatusUnassigned, and only on creation.
const (
	InternshipStatusUnassigned       = "Unassigned"
	InternshipStatusApplied          = "Applied"
	InternshipStatusContacted        = "Contacted"
	InternshipStatusInterview        = "Interview"
	InternshipStatusOffer            = "Offer"
	InternshipStatusGhosted          = "Ghosted"
	InternshipStatusFollowUp         = "Follow-up"
	InternshipStatusMeetingScheduled = "Meeting Scheduled"
	InternshipStatusInterested       = "Interested"
	InternshipStatusNotInterested    = "Not Interested"
	InternshipStatusOnboarded        = "Onboarded"
	InternshipStatusRejected         = "Rejected"
)

// DefaultInternshipType is used when a listing carries no employment type
const DefaultInternshipType = "Internship"

// DefaultSource is used when a listing carries no publisher
const DefaultSource = "JSearch"

// ValidTrigger reports whether t is a known trigger type
func ValidTrigger(t string) bool {
	return t == TriggerManual || t == TriggerScheduled
}
