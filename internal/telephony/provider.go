package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Dialer is the provider-agnostic interface used by business logic.
//
// Rules:
//   - No provider HTTP calls outside telephony adapters.
//   - All requests are workspace-scoped (WorkspaceID required).
//   - Request/response types stay provider-agnostic.
type Dialer interface {
	Name() string
	HealthCheck(ctx context.Context) error
	PlaceCall(ctx context.Context, req DialRequest) (DialResponse, error)
}

// DialRequest asks the provider to start one outbound call.
type DialRequest struct {
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id"`

	// From is the caller id; To is the customer. Both E.164.
	From string `json:"from"`
	To   string `json:"to"`

	// ConnectTo is where the answered call is bridged (agent phone or sip: URI).
	ConnectTo string `json:"connect_to"`

	// StatusCallbackURL receives lifecycle callbacks for this call.
	StatusCallbackURL string `json:"status_callback_url"`
}

type DialResponse struct {
	ProviderCallID string `json:"provider_call_id"`
	// Status is the provider's initial status, usually "queued".
	Status string `json:"status"`
}

// ErrProviderRejected means the provider refused the dial request itself
// (bad number, account restrictions); the call never started.
var ErrProviderRejected = errors.New("telephony: provider rejected call")

// RejectedError carries the provider's error detail for a refused dial.
type RejectedError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("telephony: provider rejected call (http %d, code %s): %s", e.HTTPStatus, e.Code, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrProviderRejected }
