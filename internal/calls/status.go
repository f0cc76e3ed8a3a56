package calls

import "strings"

// ProviderStatus is the telephony provider's lifecycle label for a call.
// Values are stored normalized (lowercase, hyphenated) as reported by Twilio.
type ProviderStatus string

const (
	StatusQueued     ProviderStatus = "queued"
	StatusInitiated  ProviderStatus = "initiated"
	StatusRinging    ProviderStatus = "ringing"
	StatusInProgress ProviderStatus = "in-progress"
	StatusAnswered   ProviderStatus = "answered"
	StatusCompleted  ProviderStatus = "completed"
	StatusFailed     ProviderStatus = "failed"
	StatusBusy       ProviderStatus = "busy"
	StatusNoAnswer   ProviderStatus = "no-answer"
	StatusCanceled   ProviderStatus = "canceled"
)

// Precedence describes where a status sits in the expected call lifecycle.
type Precedence struct {
	Rank     int
	Terminal bool
	Failure  bool
}

// precedenceTable is read-only after package init.
var precedenceTable = map[ProviderStatus]Precedence{
	StatusQueued:     {Rank: 1},
	StatusInitiated:  {Rank: 2},
	StatusRinging:    {Rank: 3},
	StatusInProgress: {Rank: 4},
	StatusAnswered:   {Rank: 5},
	StatusCompleted:  {Rank: 6, Terminal: true},
	StatusFailed:     {Rank: 7, Terminal: true, Failure: true},
	StatusBusy:       {Rank: 7, Terminal: true, Failure: true},
	StatusNoAnswer:   {Rank: 7, Terminal: true, Failure: true},
	StatusCanceled:   {Rank: 7, Terminal: true, Failure: true},
}

// NormalizeStatus trims and lowercases a raw provider status. Underscores are
// folded to hyphens so "in_progress" and "in-progress" compare equal.
func NormalizeStatus(raw string) ProviderStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	return ProviderStatus(s)
}

// LookupPrecedence returns the precedence metadata of a status.
// Unknown and empty statuses report ok=false and a zero Precedence
// (rank 0, non-terminal).
func LookupPrecedence(s ProviderStatus) (Precedence, bool) {
	p, ok := precedenceTable[NormalizeStatus(string(s))]
	return p, ok
}

func (s ProviderStatus) Known() bool {
	_, ok := LookupPrecedence(s)
	return ok
}

func (s ProviderStatus) Terminal() bool {
	p, _ := LookupPrecedence(s)
	return p.Terminal
}

// InProgressStatuses lists every non-terminal status in rank order.
func InProgressStatuses() []ProviderStatus {
	return []ProviderStatus{StatusQueued, StatusInitiated, StatusRinging, StatusInProgress, StatusAnswered}
}

// TerminalStatuses lists every terminal status.
func TerminalStatuses() []ProviderStatus {
	return []ProviderStatus{StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled}
}

// DialBlockedStatuses is the set of stored statuses that refuse a new dial.
func DialBlockedStatuses() []ProviderStatus {
	return append(InProgressStatuses(), TerminalStatuses()...)
}

// shouldAccept reports whether an incoming status may replace the stored one.
//
// Unrecognized incoming statuses are never stored. Terminal stored statuses
// accept only a same-value replay. Otherwise the incoming rank must be greater
// than or equal to the stored rank.
func shouldAccept(stored *ProviderStatus, incoming ProviderStatus) bool {
	in := NormalizeStatus(string(incoming))
	inP, known := LookupPrecedence(in)
	if !known {
		return false
	}

	if stored == nil {
		// never dialed: rank 0, every known status is >= 0
		return true
	}
	cur := NormalizeStatus(string(*stored))
	curP, _ := LookupPrecedence(cur)

	if curP.Terminal {
		return inP.Terminal && in == cur
	}
	return inP.Rank >= curP.Rank
}
