package followup

import (
	"time"

	"callops/internal/calls"
)

// Quote is the commercial context used for quote age.
type Quote struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is an outbound customer message (sms, email or a logged call).
type Message struct {
	ID      string    `json:"id"`
	JobID   *string   `json:"job_id,omitempty"`
	QuoteID *string   `json:"quote_id,omitempty"`
	Channel Channel   `json:"channel"`
	SentAt  time.Time `json:"sent_at"`
}

// QueueRequest scopes a queue read. JobID is optional.
type QueueRequest struct {
	WorkspaceID string `json:"workspace_id"`
	JobID       string `json:"job_id,omitempty"`
	Limit       int    `json:"limit"`
}

// Entry is a call session enriched with its follow-up state.
type Entry struct {
	Session                  calls.CallSession `json:"session"`
	QuoteID                  *string           `json:"quote_id,omitempty"`
	Recommendation           Recommendation    `json:"recommendation"`
	Due                      DueInfo           `json:"due"`
	HasMatchingFollowupToday bool              `json:"has_matching_followup_today"`
}

// Candidate reports whether the entry is owed an un-actioned follow-up.
func (e Entry) Candidate() bool {
	if e.Recommendation.ShouldSkipFollowup || e.HasMatchingFollowupToday {
		return false
	}
	return e.Due.Status == DueOverdue || e.Due.Status == DueToday
}

// Queue is the result of one build. Entries keep call order (newest first);
// Candidates are ordered most overdue first.
type Queue struct {
	Entries      []Entry  `json:"entries"`
	Candidates   []Entry  `json:"candidates"`
	CandidateIDs []string `json:"candidate_ids"`
}
