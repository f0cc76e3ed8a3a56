package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: session not found")
	ErrNotOwned        = errors.New("calls: session not owned by workspace")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	// ErrContention means a conditional status write kept losing to
	// concurrent writers; the callback can safely be retried.
	ErrContention = errors.New("calls: status write contention")
)

// Store is the persistence contract for call sessions.
//
// Every mutation of ProviderStatus is a conditional write: MarkDialQueued and
// CompareAndSetStatus carry their predicate to the store in the same
// round-trip as the write, so no in-process lock is needed across replicas.
type Store interface {
	Insert(ctx context.Context, s CallSession) error

	// Get is workspace-scoped; a row owned by another workspace is ErrNotFound.
	Get(ctx context.Context, workspaceID, sessionID string) (CallSession, error)
	// GetUnscoped is used only to classify a missed conditional write.
	// Callers must never return its data across a workspace boundary.
	GetUnscoped(ctx context.Context, sessionID string) (CallSession, error)
	FindByProviderCallID(ctx context.Context, workspaceID, providerCallID string) (CallSession, error)

	// MarkDialQueued sets provider_status=queued only when the stored status
	// is null or outside DialBlockedStatuses. It reports whether a row changed.
	MarkDialQueued(ctx context.Context, workspaceID, sessionID string, at time.Time) (bool, error)

	// CompareAndSetStatus writes next + error fields only if the stored status
	// still equals expected (nil meaning SQL NULL).
	CompareAndSetStatus(ctx context.Context, workspaceID, sessionID string, expected *ProviderStatus, next ProviderStatus, errCode, errMsg *string, at time.Time) (bool, error)

	// RecordDiagnostics overwrites error fields and the status timestamp
	// without touching the status itself.
	RecordDiagnostics(ctx context.Context, workspaceID, sessionID string, errCode, errMsg *string, at time.Time) error

	// UpsertInbound inserts s unless a row with the same
	// (workspace_id, provider_call_id) exists; returns the winning row id.
	UpsertInbound(ctx context.Context, s CallSession) (id string, created bool, err error)
	// BackfillLinks sets customer_id/job_id only where they are still null.
	BackfillLinks(ctx context.Context, workspaceID, sessionID string, customerID, jobID *string) error

	LinkCustomerJob(ctx context.Context, workspaceID, sessionID, customerID string, jobID *string) (bool, error)
	// AttachProviderCallID only writes when provider_call_id is still null.
	AttachProviderCallID(ctx context.Context, workspaceID, sessionID, providerCallID string) (bool, error)
	RecordOutcome(ctx context.Context, workspaceID, sessionID string, o Outcome, at time.Time) (bool, error)

	// ListRecent returns sessions created at or after since, newest first.
	ListRecent(ctx context.Context, workspaceID, jobID string, since time.Time, limit int) ([]CallSession, error)
}
