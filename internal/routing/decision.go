package routing

// Decision is the provider-agnostic output of the routing engine.
//
// It carries only what the provider adapter (e.g. the TwiML builder) needs to
// execute it, plus the tenant resolution the webhook needs to record the call.
type Decision struct {
	WorkspaceID string  `json:"workspace_id"`
	CustomerID  *string `json:"customer_id,omitempty"`

	Action    Action `json:"action"`
	ConnectTo string `json:"connect_to,omitempty"`

	// Reason is for internal logs only.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionReject  Action = "reject"
	ActionConnect Action = "connect"
	ActionHangup  Action = "hangup"
)
