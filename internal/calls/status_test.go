package calls

import "testing"

func sp(s ProviderStatus) *ProviderStatus { return &s }

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]ProviderStatus{
		" Ringing ":   StatusRinging,
		"IN_PROGRESS": StatusInProgress,
		"no_answer":   StatusNoAnswer,
		"completed":   StatusCompleted,
		"":            "",
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLookupPrecedence_Table(t *testing.T) {
	for i, s := range InProgressStatuses() {
		p, ok := LookupPrecedence(s)
		if !ok || p.Rank != i+1 || p.Terminal {
			t.Fatalf("%s: unexpected precedence %+v ok=%v", s, p, ok)
		}
	}
	if p, _ := LookupPrecedence(StatusCompleted); p.Rank != 6 || !p.Terminal || p.Failure {
		t.Fatalf("completed: unexpected precedence %+v", p)
	}
	for _, s := range []ProviderStatus{StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled} {
		if p, _ := LookupPrecedence(s); p.Rank != 7 || !p.Terminal || !p.Failure {
			t.Fatalf("%s: unexpected precedence %+v", s, p)
		}
	}
	if p, ok := LookupPrecedence("voicemail-detected"); ok || p.Rank != 0 || p.Terminal {
		t.Fatalf("unknown status should be rank 0 non-terminal, got %+v ok=%v", p, ok)
	}
}

func TestDialBlockedStatuses_CoversEveryKnownStatus(t *testing.T) {
	blocked := map[ProviderStatus]bool{}
	for _, s := range DialBlockedStatuses() {
		blocked[s] = true
	}
	for s := range precedenceTable {
		if !blocked[s] {
			t.Fatalf("%s must block a dial", s)
		}
	}
}

func TestShouldAccept(t *testing.T) {
	cases := []struct {
		name     string
		stored   *ProviderStatus
		incoming ProviderStatus
		want     bool
	}{
		{"null accepts anything", nil, StatusQueued, true},
		{"null refuses unknown", nil, "mystery", false},
		{"forward progress", sp(StatusQueued), StatusRinging, true},
		{"same rank replay", sp(StatusRinging), StatusRinging, true},
		{"stale ignored", sp(StatusRinging), StatusQueued, false},
		{"unknown below queued", sp(StatusQueued), "mystery", false},
		{"unknown never stored", sp(StatusRinging), "voicemail", false},
		{"non-terminal to terminal", sp(StatusAnswered), StatusBusy, true},
		{"terminal replay", sp(StatusCompleted), StatusCompleted, true},
		{"terminal replay normalized", sp(StatusNoAnswer), "NO_ANSWER", true},
		{"terminal to other terminal", sp(StatusCompleted), StatusBusy, false},
		{"failure to completed", sp(StatusBusy), StatusCompleted, false},
		{"failure to other failure", sp(StatusBusy), StatusFailed, false},
		{"terminal to in-progress", sp(StatusCompleted), StatusRinging, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldAccept(tc.stored, tc.incoming); got != tc.want {
				t.Fatalf("shouldAccept(%v, %q) = %v, want %v", tc.stored, tc.incoming, got, tc.want)
			}
		})
	}
}
