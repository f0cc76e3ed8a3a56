package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callops/internal/routing"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioConfig holds REST credentials. BaseURL is overridable for tests.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	Timeout    time.Duration
}

// TwilioProvider places calls through the Twilio REST API.
type TwilioProvider struct {
	cfg  TwilioConfig
	http *http.Client
}

func NewTwilioProvider(cfg TwilioConfig, client *http.Client) *TwilioProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &TwilioProvider{cfg: cfg, http: client}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// HealthCheck fetches the account resource.
func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.accountURL()+".json", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: twilio health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telephony: twilio health check: http %d", resp.StatusCode)
	}
	return nil
}

type twilioCall struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// PlaceCall creates a call resource. A 4xx answer is a RejectedError; 5xx
// and transport failures are plain errors and the call state is unknown.
func (p *TwilioProvider) PlaceCall(ctx context.Context, in DialRequest) (DialResponse, error) {
	if in.WorkspaceID == "" || in.SessionID == "" || in.To == "" || in.From == "" {
		return DialResponse{}, errors.New("telephony: workspace_id, session_id, from and to required")
	}
	twiml, err := RenderTwiML(routing.Decision{Action: routing.ActionConnect, ConnectTo: in.ConnectTo})
	if err != nil {
		return DialResponse{}, err
	}

	form := url.Values{}
	form.Set("To", in.To)
	form.Set("From", in.From)
	form.Set("Twiml", twiml)
	if in.StatusCallbackURL != "" {
		form.Set("StatusCallback", in.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.accountURL()+"/Calls.json", strings.NewReader(form.Encode()))
	if err != nil {
		return DialResponse{}, err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return DialResponse{}, fmt.Errorf("telephony: twilio create call: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return DialResponse{}, fmt.Errorf("telephony: twilio create call: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var c twilioCall
		if err := json.Unmarshal(body, &c); err != nil {
			return DialResponse{}, fmt.Errorf("telephony: twilio create call: decode: %w", err)
		}
		if c.Sid == "" {
			return DialResponse{}, errors.New("telephony: twilio create call: missing sid")
		}
		return DialResponse{ProviderCallID: c.Sid, Status: c.Status}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var te twilioError
		_ = json.Unmarshal(body, &te)
		rej := &RejectedError{HTTPStatus: resp.StatusCode, Message: te.Message}
		if te.Code != 0 {
			rej.Code = strconv.Itoa(te.Code)
		}
		if rej.Message == "" {
			rej.Message = http.StatusText(resp.StatusCode)
		}
		return DialResponse{}, rej
	default:
		return DialResponse{}, fmt.Errorf("telephony: twilio create call: http %d", resp.StatusCode)
	}
}

func (p *TwilioProvider) accountURL() string {
	return p.cfg.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.cfg.AccountSID)
}

// StatusCallbackURL builds the callback URL registered with each dial. The
// query carries the session so callbacks resolve without a provider id lookup.
func StatusCallbackURL(publicBaseURL, workspaceID, sessionID string) string {
	q := url.Values{}
	q.Set("workspace_id", workspaceID)
	q.Set("session_id", sessionID)
	return strings.TrimRight(publicBaseURL, "/") + StatusWebhookPath + "?" + q.Encode()
}
