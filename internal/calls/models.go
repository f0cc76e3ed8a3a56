package calls

import "time"

// CallSession is one phone interaction placed or received through the
// telephony provider.
//
// Multi-tenant invariant: WorkspaceID is required on every row and every
// read/write filters by it.
//
// ProviderStatus is only ever written through the dial gate or the status
// reconciliation path; see Service.
type CallSession struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	JobID       *string   `json:"job_id,omitempty" db:"job_id"`
	CustomerID  *string   `json:"customer_id,omitempty" db:"customer_id"`
	Direction   Direction `json:"direction" db:"direction"`

	FromNumber string `json:"from_number,omitempty" db:"from_number"`
	ToNumber   string `json:"to_number,omitempty" db:"to_number"`

	// ProviderCallID is null until the provider accepts the dial (outbound)
	// or the first callback arrives (inbound).
	ProviderCallID          *string         `json:"provider_call_id,omitempty" db:"provider_call_id"`
	ProviderStatus          *ProviderStatus `json:"provider_status,omitempty" db:"provider_status"`
	ProviderStatusUpdatedAt *time.Time      `json:"provider_status_updated_at,omitempty" db:"provider_status_updated_at"`

	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	OutcomeCode       *string    `json:"outcome_code,omitempty" db:"outcome_code"`
	OutcomeNotes      *string    `json:"outcome_notes,omitempty" db:"outcome_notes"`
	ReachedCustomer   *bool      `json:"reached_customer,omitempty" db:"reached_customer"`
	OutcomeRecordedAt *time.Time `json:"outcome_recorded_at,omitempty" db:"outcome_recorded_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DialResult is the outcome of the dial gate. Conflicts are results, not errors.
type DialResult string

const (
	DialAllowed           DialResult = "allowed_to_dial"
	DialNotFound          DialResult = "not_found"
	DialNotOwned          DialResult = "not_owned"
	DialAlreadyInProgress DialResult = "already_in_progress"
	DialAlreadyCompleted  DialResult = "already_completed"
)

// UpdateReason explains a StatusUpdateResult.
type UpdateReason string

const (
	ReasonApplied           UpdateReason = "applied"
	ReasonPrecedenceIgnored UpdateReason = "precedence_ignored"
	// ReasonUnrecognizedStatus: the callback's status is outside the
	// precedence table; only its diagnostics were recorded.
	ReasonUnrecognizedStatus UpdateReason = "unrecognized_status"
)

// StatusUpdateResult is returned to provider callbacks; a stale callback is
// reported here rather than as an error.
type StatusUpdateResult struct {
	SessionID     string          `json:"session_id"`
	Applied       bool            `json:"applied"`
	CurrentStatus *ProviderStatus `json:"current_status"`
	Reason        UpdateReason    `json:"reason"`
}

// StatusUpdate is one provider callback delivery.
type StatusUpdate struct {
	Status       string
	ErrorCode    *string
	ErrorMessage *string
}

type InboundSessionRequest struct {
	WorkspaceID    string
	ProviderCallID string
	FromNumber     string
	ToNumber       string
	CustomerID     *string
	JobID          *string
	// InitialStatus defaults to ringing.
	InitialStatus ProviderStatus
}

type InboundSessionResult struct {
	SessionID string `json:"session_id"`
	IsNew     bool   `json:"is_new"`
}

type OutboundSessionRequest struct {
	WorkspaceID string
	JobID       *string
	CustomerID  *string
	FromNumber  string
	ToNumber    string
}

type Outcome struct {
	Code            string
	Notes           *string
	ReachedCustomer *bool
}

func (s CallSession) StatusValue() ProviderStatus {
	if s.ProviderStatus == nil {
		return ""
	}
	return *s.ProviderStatus
}

func (s CallSession) JobIDValue() string {
	if s.JobID == nil {
		return ""
	}
	return *s.JobID
}

func (s CallSession) OutcomeCodeValue() string {
	if s.OutcomeCode == nil {
		return ""
	}
	return *s.OutcomeCode
}
