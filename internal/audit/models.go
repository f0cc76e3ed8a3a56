package audit

import "time"

// Event is one internal record of a call-lifecycle decision that did not
// change state: a refused dial or a dropped provider callback. Rows are
// append-only and always carry the owning workspace.
type Event struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	Type        EventType `json:"type" db:"type"`
	SessionID   string    `json:"session_id,omitempty" db:"session_id"`
	Message     string    `json:"message,omitempty" db:"message"`
	// Metadata is a JSON object; keys depend on Type.
	Metadata  string    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeDialRejected metadata: result.
	EventTypeDialRejected EventType = "dial_rejected"
	// EventTypeStatusIgnored metadata: stored_status, incoming_status.
	EventTypeStatusIgnored EventType = "status_ignored"
)
