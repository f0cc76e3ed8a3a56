package telephony

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"callops/internal/routing"
)

// twimlDoc holds exactly one verb; nil fields are omitted.
type twimlDoc struct {
	XMLName xml.Name       `xml:"Response"`
	Reject  *twimlReject   `xml:"Reject,omitempty"`
	Hangup  *struct{}      `xml:"Hangup,omitempty"`
	Dial    *twimlDialVerb `xml:"Dial,omitempty"`
}

type twimlReject struct {
	Reason string `xml:"reason,attr,omitempty"`
}

type twimlDialVerb struct {
	Number string `xml:"Number,omitempty"`
	Sip    string `xml:"Sip,omitempty"`
}

var errNoConnectTarget = errors.New("telephony: connect action without a target")

// RenderTwiML turns a routing decision into the TwiML document Twilio executes.
func RenderTwiML(d routing.Decision) (string, error) {
	var doc twimlDoc
	switch d.Action {
	case routing.ActionReject:
		doc.Reject = &twimlReject{Reason: "busy"}
	case routing.ActionHangup:
		doc.Hangup = &struct{}{}
	case routing.ActionConnect:
		target := strings.TrimSpace(d.ConnectTo)
		if target == "" {
			return "", errNoConnectTarget
		}
		doc.Dial = &twimlDialVerb{}
		if isSIPURI(target) {
			doc.Dial.Sip = target
		} else {
			doc.Dial.Number = target
		}
	default:
		return "", fmt.Errorf("telephony: unknown routing action %q", d.Action)
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

func isSIPURI(s string) bool {
	return len(s) > 4 && strings.EqualFold(s[:4], "sip:")
}
