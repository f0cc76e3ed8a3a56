package followup

import "strings"

// Channel is the medium of a follow-up touch.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPhone:
		return true
	default:
		return false
	}
}

// DefaultStaleQuoteDays is the quote age after which the reached-customer
// delay starts shrinking.
const DefaultStaleQuoteDays = 7

const (
	notAnsweredDelayDays = 1
	reachedDelayDays     = 2
)

// Recommendation is derived per request and never persisted.
type Recommendation struct {
	RecommendedChannel   *Channel `json:"recommended_channel"`
	RecommendedDelayDays *int     `json:"recommended_delay_days"`
	ShouldSkipFollowup   bool     `json:"should_skip_followup"`
	PrimaryActionLabel   string   `json:"primary_action_label"`
}

func (r Recommendation) Channel() Channel {
	if r.RecommendedChannel == nil {
		return ""
	}
	return *r.RecommendedChannel
}

// RecommendationInput carries everything the policy looks at.
type RecommendationInput struct {
	OutcomeCode string
	// ProviderStatus is consulted only when no outcome has been recorded.
	ProviderStatus string
	// DaysSinceQuote is nil when the call's job has no quote.
	DaysSinceQuote         *int
	ModelChannelSuggestion Channel
	// MessagedToday reports an outbound message to the same job or quote
	// earlier today, on any channel.
	MessagedToday bool
}

// Policy holds the tunables of the recommendation rules.
type Policy struct {
	StaleQuoteDays int
}

func DefaultPolicy() Policy {
	return Policy{StaleQuoteDays: DefaultStaleQuoteDays}
}

type outcomeClass int

const (
	outcomeUnknown outcomeClass = iota
	outcomeDeclined
	outcomeNotAnswered
	outcomeNeedsFollowup
)

var outcomeClasses = map[string]outcomeClass{
	"declined":           outcomeDeclined,
	"not_interested":     outcomeDeclined,
	"job_closed":         outcomeDeclined,
	"closed_lost":        outcomeDeclined,
	"wrong_number":       outcomeDeclined,
	"booked":             outcomeDeclined,
	"won":                outcomeDeclined,
	"no_answer":          outcomeNotAnswered,
	"voicemail":          outcomeNotAnswered,
	"left_voicemail":     outcomeNotAnswered,
	"busy":               outcomeNotAnswered,
	"reached":            outcomeNeedsFollowup,
	"needs_followup":     outcomeNeedsFollowup,
	"callback_requested": outcomeNeedsFollowup,
	"quote_sent":         outcomeNeedsFollowup,
	"interested":         outcomeNeedsFollowup,
}

func normalizeCode(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

func classify(in RecommendationInput) outcomeClass {
	if code := normalizeCode(in.OutcomeCode); code != "" {
		return outcomeClasses[code]
	}
	switch normalizeCode(in.ProviderStatus) {
	case "no_answer", "busy":
		return outcomeNotAnswered
	}
	return outcomeUnknown
}

// Derive applies the follow-up rules in order; the first match wins.
// It is pure: equal inputs give equal outputs.
func (p Policy) Derive(in RecommendationInput) Recommendation {
	switch classify(in) {
	case outcomeDeclined:
		return skip()
	case outcomeNotAnswered:
		ch := ChannelPhone
		if in.MessagedToday {
			ch = ChannelSMS
		}
		return recommend(ch, notAnsweredDelayDays)
	case outcomeNeedsFollowup:
		ch := ChannelSMS
		if in.ModelChannelSuggestion.Valid() {
			ch = in.ModelChannelSuggestion
		}
		return recommend(ch, p.reachedDelay(in.DaysSinceQuote))
	default:
		return skip()
	}
}

// reachedDelay shrinks the delay by one day per day the quote is past the
// staleness threshold, down to zero.
func (p Policy) reachedDelay(daysSinceQuote *int) int {
	if daysSinceQuote == nil || *daysSinceQuote <= p.StaleQuoteDays {
		return reachedDelayDays
	}
	d := reachedDelayDays - (*daysSinceQuote - p.StaleQuoteDays)
	if d < 0 {
		return 0
	}
	return d
}

// DeriveRecommendation uses DefaultPolicy.
func DeriveRecommendation(in RecommendationInput) Recommendation {
	return DefaultPolicy().Derive(in)
}

func recommend(ch Channel, delay int) Recommendation {
	return Recommendation{
		RecommendedChannel:   &ch,
		RecommendedDelayDays: &delay,
		PrimaryActionLabel:   ActionLabel(ch),
	}
}

func skip() Recommendation {
	return Recommendation{ShouldSkipFollowup: true, PrimaryActionLabel: "No follow-up needed"}
}

// ActionLabel is the button text for a channel.
func ActionLabel(ch Channel) string {
	switch ch {
	case ChannelSMS:
		return "Send a text"
	case ChannelPhone:
		return "Call again"
	case ChannelEmail:
		return "Send an email"
	default:
		return "No follow-up needed"
	}
}
