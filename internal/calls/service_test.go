package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAudit struct {
	mu       sync.Mutex
	rejected []DialResult
	ignored  []ProviderStatus
}

func (r *recordingAudit) LogDialRejected(ctx context.Context, workspaceID, sessionID string, result DialResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, result)
	return nil
}

func (r *recordingAudit) LogStatusIgnored(ctx context.Context, workspaceID, sessionID string, stored *ProviderStatus, incoming ProviderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignored = append(r.ignored, incoming)
	return nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *recordingAudit) {
	t.Helper()
	store := NewMemoryStore()
	audit := &recordingAudit{}
	svc := NewService(store, audit)
	var seq int64
	svc.newID = func() string { return fmt.Sprintf("sess-%d", atomic.AddInt64(&seq, 1)) }
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var tick int64
	svc.clock = func() time.Time { return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second) }
	return svc, store, audit
}

func mustCreate(t *testing.T, svc *Service, ws string) CallSession {
	t.Helper()
	sess, err := svc.CreateOutboundSession(context.Background(), OutboundSessionRequest{WorkspaceID: ws, ToNumber: "+15550001111"})
	require.NoError(t, err)
	return sess
}

func strp(s string) *string { return &s }

func TestRequestDial_ConcurrentCallersGetExactlyOneAllowed(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess := mustCreate(t, svc, "ws1")

	const callers = 32
	results := make(chan DialResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.RequestDial(context.Background(), "ws1", sess.ID)
			assert.NoError(t, err)
			results <- r
		}()
	}
	wg.Wait()
	close(results)

	counts := map[DialResult]int{}
	for r := range results {
		counts[r]++
	}
	assert.Equal(t, 1, counts[DialAllowed])
	assert.Equal(t, callers-1, counts[DialAlreadyInProgress])
}

func TestRequestDial_ClassifiesMisses(t *testing.T) {
	svc, _, audit := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	r, err := svc.RequestDial(ctx, "ws1", "missing")
	require.NoError(t, err)
	assert.Equal(t, DialNotFound, r)

	r, err = svc.RequestDial(ctx, "ws2", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, DialNotOwned, r)

	// a foreign workspace must not change the row
	got, err := svc.GetSession(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProviderStatus)

	r, err = svc.RequestDial(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, DialAllowed, r)

	_, err = svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: "completed"})
	require.NoError(t, err)

	r, err = svc.RequestDial(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, DialAlreadyCompleted, r)
	assert.Equal(t, []DialResult{DialAlreadyCompleted}, audit.rejected)
}

func TestApplyStatusUpdate_LifecycleScenario(t *testing.T) {
	svc, _, audit := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	r, err := svc.RequestDial(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	require.Equal(t, DialAllowed, r)

	steps := []struct {
		status  string
		applied bool
		current ProviderStatus
	}{
		{"ringing", true, StatusRinging},
		{"queued", false, StatusRinging},
		{"completed", true, StatusCompleted},
		{"completed", true, StatusCompleted},
		{"busy", false, StatusCompleted},
	}
	for i, step := range steps {
		res, err := svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: step.status})
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.applied, res.Applied, "step %d (%s)", i, step.status)
		require.NotNil(t, res.CurrentStatus)
		assert.Equal(t, step.current, *res.CurrentStatus, "step %d", i)
		if step.applied {
			assert.Equal(t, ReasonApplied, res.Reason)
		} else {
			assert.Equal(t, ReasonPrecedenceIgnored, res.Reason)
		}
	}
	assert.Equal(t, []ProviderStatus{StatusQueued, StatusBusy}, audit.ignored)
}

func TestApplyStatusUpdate_RejectedUpdateStillWritesDiagnostics(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	_, err := svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: "completed", ErrorCode: strp("E1"), ErrorMessage: strp("first")})
	require.NoError(t, err)
	before, err := svc.GetSession(ctx, "ws1", sess.ID)
	require.NoError(t, err)

	res, err := svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: "failed", ErrorCode: strp("31005"), ErrorMessage: strp("carrier error")})
	require.NoError(t, err)
	assert.False(t, res.Applied)

	after, err := svc.GetSession(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, after.StatusValue())
	require.NotNil(t, after.ErrorCode)
	assert.Equal(t, "31005", *after.ErrorCode)
	assert.Equal(t, "carrier error", *after.ErrorMessage)
	assert.True(t, after.ProviderStatusUpdatedAt.After(*before.ProviderStatusUpdatedAt))

	// absent error fields overwrite with null
	_, err = svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: "completed"})
	require.NoError(t, err)
	after, err = svc.GetSession(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	assert.Nil(t, after.ErrorCode)
	assert.Nil(t, after.ErrorMessage)
}

func TestApplyStatusUpdate_UnrecognizedStatusIsDiagnosticsOnly(t *testing.T) {
	svc, _, audit := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	res, err := svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: "Voicemail", ErrorCode: strp("V1")})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ReasonUnrecognizedStatus, res.Reason)
	assert.Nil(t, res.CurrentStatus)

	got, err := svc.GetSession(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProviderStatus)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "V1", *got.ErrorCode)
	assert.Equal(t, []ProviderStatus{"voicemail"}, audit.ignored)

	// the session is still dialable and known statuses still progress
	r, err := svc.RequestDial(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, DialAllowed, r)

	res, err = svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: "voicemail"})
	require.NoError(t, err)
	assert.Equal(t, ReasonUnrecognizedStatus, res.Reason)
	assert.Equal(t, StatusQueued, *res.CurrentStatus)
}

func TestApplyStatusUpdate_OrderIndependentFinalStatus(t *testing.T) {
	deliveries := [][]ProviderStatus{
		{StatusQueued, StatusRinging, StatusInProgress, StatusCompleted},
		{StatusCompleted, StatusInProgress, StatusRinging, StatusQueued},
		{StatusRinging, StatusCompleted, StatusQueued, StatusInProgress},
		{StatusInProgress, StatusQueued, StatusCompleted, StatusRinging},
	}
	for _, order := range deliveries {
		svc, _, _ := newTestService(t)
		ctx := context.Background()
		sess := mustCreate(t, svc, "ws1")
		for _, st := range order {
			_, err := svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: string(st)})
			require.NoError(t, err)
		}
		got, err := svc.GetSession(ctx, "ws1", sess.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.StatusValue(), "order %v", order)
	}
}

func TestApplyStatusUpdate_RankNeverDecreases(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	seq := []string{"ringing", "queued", "answered", "initiated", "in-progress", "no-answer", "completed", "canceled"}
	prevRank := 0
	for _, st := range seq {
		_, err := svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: st})
		require.NoError(t, err)
		got, err := svc.GetSession(ctx, "ws1", sess.ID)
		require.NoError(t, err)
		p, _ := LookupPrecedence(got.StatusValue())
		assert.GreaterOrEqual(t, p.Rank, prevRank, "after %s", st)
		prevRank = p.Rank
	}
	got, _ := svc.GetSession(ctx, "ws1", sess.ID)
	assert.Equal(t, StatusNoAnswer, got.StatusValue())
}

func TestApplyStatusUpdate_ConcurrentCallbacksConverge(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	statuses := []string{"queued", "initiated", "ringing", "in-progress", "answered", "completed"}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, st := range statuses {
			wg.Add(1)
			go func(st string) {
				defer wg.Done()
				// providers redeliver on 5xx; model that for contention
				for {
					_, err := svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: st})
					if errors.Is(err, ErrContention) {
						continue
					}
					if err != nil {
						t.Errorf("unexpected error: %v", err)
					}
					return
				}
			}(st)
		}
	}
	wg.Wait()

	got, err := svc.GetSession(ctx, "ws1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.StatusValue())
}

func TestApplyStatusUpdate_WorkspaceScoped(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	_, err := svc.ApplyStatusUpdate(ctx, "ws2", sess.ID, StatusUpdate{Status: "ringing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ApplyStatusUpdate(ctx, "ws1", sess.ID, StatusUpdate{Status: "  "})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestApplyProviderStatusUpdate_ResolvesByProviderCallID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")
	require.NoError(t, svc.AttachProviderCallID(ctx, "ws1", sess.ID, "CA123"))

	res, err := svc.ApplyProviderStatusUpdate(ctx, "ws1", "CA123", StatusUpdate{Status: "In_Progress"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, sess.ID, res.SessionID)
	assert.Equal(t, StatusInProgress, *res.CurrentStatus)

	_, err = svc.ApplyProviderStatusUpdate(ctx, "ws1", "CA999", StatusUpdate{Status: "ringing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureInboundSession_IdempotentWithBackfill(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureInboundSession(ctx, InboundSessionRequest{WorkspaceID: "ws1", ProviderCallID: "CA1", FromNumber: "+15551230000"})
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := svc.EnsureInboundSession(ctx, InboundSessionRequest{WorkspaceID: "ws1", ProviderCallID: " CA1 ", CustomerID: strp("cust-1"), JobID: strp("job-1")})
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.SessionID, second.SessionID)

	got, err := svc.GetSession(ctx, "ws1", first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, DirectionInbound, got.Direction)
	assert.Equal(t, StatusRinging, got.StatusValue())
	assert.Equal(t, "cust-1", *got.CustomerID)
	assert.Equal(t, "job-1", got.JobIDValue())

	// existing links are never overwritten
	_, err = svc.EnsureInboundSession(ctx, InboundSessionRequest{WorkspaceID: "ws1", ProviderCallID: "CA1", CustomerID: strp("cust-2")})
	require.NoError(t, err)
	got, _ = svc.GetSession(ctx, "ws1", first.SessionID)
	assert.Equal(t, "cust-1", *got.CustomerID)

	// same provider id in another workspace is a different session
	other, err := svc.EnsureInboundSession(ctx, InboundSessionRequest{WorkspaceID: "ws2", ProviderCallID: "CA1"})
	require.NoError(t, err)
	assert.True(t, other.IsNew)
	assert.NotEqual(t, first.SessionID, other.SessionID)
}

func TestEnsureInboundSession_ConcurrentFirstDeliveries(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	const deliveries = 16
	ids := make(chan string, deliveries)
	var created int64
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.EnsureInboundSession(ctx, InboundSessionRequest{WorkspaceID: "ws1", ProviderCallID: "CA-race"})
			assert.NoError(t, err)
			if res.IsNew {
				atomic.AddInt64(&created, 1)
			}
			ids <- res.SessionID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.EqualValues(t, 1, created)

	rows, err := store.ListRecent(ctx, "ws1", "", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLinkToCustomerJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	require.NoError(t, svc.LinkToCustomerJob(ctx, "ws1", sess.ID, "cust-1", strp("job-9")))
	got, _ := svc.GetSession(ctx, "ws1", sess.ID)
	assert.Equal(t, "cust-1", *got.CustomerID)
	assert.Equal(t, "job-9", got.JobIDValue())

	assert.ErrorIs(t, svc.LinkToCustomerJob(ctx, "ws2", sess.ID, "cust-x", nil), ErrNotOwned)
	assert.ErrorIs(t, svc.LinkToCustomerJob(ctx, "ws1", "missing", "cust-x", nil), ErrNotFound)
	assert.ErrorIs(t, svc.LinkToCustomerJob(ctx, "ws1", sess.ID, " ", nil), ErrInvalidArgument)

	got, _ = svc.GetSession(ctx, "ws1", sess.ID)
	assert.Equal(t, "cust-1", *got.CustomerID)
}

func TestAttachProviderCallID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	require.NoError(t, svc.AttachProviderCallID(ctx, "ws1", sess.ID, "CA1"))
	require.NoError(t, svc.AttachProviderCallID(ctx, "ws1", sess.ID, "CA1"))
	assert.ErrorIs(t, svc.AttachProviderCallID(ctx, "ws1", sess.ID, "CA2"), ErrInvalidArgument)
	assert.ErrorIs(t, svc.AttachProviderCallID(ctx, "ws2", sess.ID, "CA3"), ErrNotOwned)
}

func TestRecordOutcome(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := mustCreate(t, svc, "ws1")

	reached := true
	require.NoError(t, svc.RecordOutcome(ctx, "ws1", sess.ID, Outcome{Code: " needs_followup ", Notes: strp("call back Friday"), ReachedCustomer: &reached}))
	got, _ := svc.GetSession(ctx, "ws1", sess.ID)
	assert.Equal(t, "needs_followup", got.OutcomeCodeValue())
	assert.True(t, *got.ReachedCustomer)
	assert.NotNil(t, got.OutcomeRecordedAt)

	assert.ErrorIs(t, svc.RecordOutcome(ctx, "ws1", sess.ID, Outcome{}), ErrInvalidArgument)
	assert.ErrorIs(t, svc.RecordOutcome(ctx, "ws2", sess.ID, Outcome{Code: "reached"}), ErrNotOwned)
}
