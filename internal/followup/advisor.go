package followup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"callops/internal/calls"
)

// HTTPAdvisor asks a text-generation service which channel suits a reached
// customer. The service receives the call's disposition and answers
// {"channel": "sms" | "email" | "phone"}.
type HTTPAdvisor struct {
	url  string
	http *http.Client
}

func NewHTTPAdvisor(url string, timeout time.Duration) *HTTPAdvisor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAdvisor{url: url, http: &http.Client{Timeout: timeout}}
}

type adviceRequest struct {
	SessionID       string  `json:"session_id"`
	WorkspaceID     string  `json:"workspace_id"`
	JobID           *string `json:"job_id,omitempty"`
	OutcomeCode     string  `json:"outcome_code"`
	OutcomeNotes    *string `json:"outcome_notes,omitempty"`
	ReachedCustomer *bool   `json:"reached_customer,omitempty"`
	ProviderStatus  string  `json:"provider_status,omitempty"`
}

type adviceResponse struct {
	Channel string `json:"channel"`
}

func (a *HTTPAdvisor) SuggestChannel(ctx context.Context, s calls.CallSession) (Channel, error) {
	body, err := json.Marshal(adviceRequest{
		SessionID:       s.ID,
		WorkspaceID:     s.WorkspaceID,
		JobID:           s.JobID,
		OutcomeCode:     s.OutcomeCodeValue(),
		OutcomeNotes:    s.OutcomeNotes,
		ReachedCustomer: s.ReachedCustomer,
		ProviderStatus:  string(s.StatusValue()),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("followup: advisor request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("followup: advisor returned %d", resp.StatusCode)
	}

	var out adviceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("followup: decode advice: %w", err)
	}
	ch := Channel(strings.ToLower(strings.TrimSpace(out.Channel)))
	if !ch.Valid() {
		return "", fmt.Errorf("followup: advisor suggested unknown channel %q", out.Channel)
	}
	return ch, nil
}
