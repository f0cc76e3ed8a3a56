package telephony

import (
	"net/http"
	"strings"

	"callops/internal/routing"
)

const (
	VoiceWebhookPath  = "/webhooks/twilio/voice"
	StatusWebhookPath = "/webhooks/twilio/status"
)

// TwilioCallForm captures the voice and status callback fields we use.
// Twilio posts application/x-www-form-urlencoded.
type TwilioCallForm struct {
	CallSid       string
	AccountSid    string
	From          string
	To            string
	Direction     string
	CallStatus    string
	ForwardedFrom string
	CallerName    string

	// ErrorCode and ErrorMessage are only present on failed status callbacks.
	ErrorCode    string
	ErrorMessage string
}

func ParseTwilioCallForm(r *http.Request) (TwilioCallForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallForm{}, err
	}
	f := TwilioCallForm{
		CallSid:       strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:    strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:          routing.NormalizePhone(r.PostFormValue("From")),
		To:            routing.NormalizePhone(r.PostFormValue("To")),
		Direction:     strings.TrimSpace(r.PostFormValue("Direction")),
		CallStatus:    strings.TrimSpace(r.PostFormValue("CallStatus")),
		ForwardedFrom: routing.NormalizePhone(r.PostFormValue("ForwardedFrom")),
		CallerName:    strings.TrimSpace(r.PostFormValue("CallerName")),
		ErrorCode:     strings.TrimSpace(r.PostFormValue("ErrorCode")),
		ErrorMessage:  strings.TrimSpace(r.PostFormValue("ErrorMessage")),
	}
	return f, nil
}

// Inbound reports whether the provider placed this call leg toward us.
func (f TwilioCallForm) Inbound() bool {
	return strings.EqualFold(f.Direction, "inbound")
}

// OurNumber is the side of the call that belongs to a workspace.
func (f TwilioCallForm) OurNumber() string {
	if f.Inbound() {
		return f.To
	}
	return f.From
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
