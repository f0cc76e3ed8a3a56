package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests and local development.
// Each method holds the mutex for its whole predicate+write, which gives the
// same single-step conditional semantics as the Postgres statements.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]CallSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]CallSession{}}
}

func (m *MemoryStore) Insert(ctx context.Context, s CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ID]; ok {
		return ErrInvalidArgument
	}
	m.rows[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, workspaceID, sessionID string) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.WorkspaceID != workspaceID {
		return CallSession{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) GetUnscoped(ctx context.Context, sessionID string) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) FindByProviderCallID(ctx context.Context, workspaceID, providerCallID string) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.findByProviderCallIDLocked(workspaceID, providerCallID); ok {
		return clone(s), nil
	}
	return CallSession{}, ErrNotFound
}

func (m *MemoryStore) findByProviderCallIDLocked(workspaceID, providerCallID string) (CallSession, bool) {
	for _, s := range m.rows {
		if s.WorkspaceID == workspaceID && s.ProviderCallID != nil && *s.ProviderCallID == providerCallID {
			return s, true
		}
	}
	return CallSession{}, false
}

func (m *MemoryStore) MarkDialQueued(ctx context.Context, workspaceID, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.WorkspaceID != workspaceID {
		return false, nil
	}
	if s.ProviderStatus != nil {
		for _, blocked := range DialBlockedStatuses() {
			if *s.ProviderStatus == blocked {
				return false, nil
			}
		}
	}
	st := StatusQueued
	s.ProviderStatus = &st
	s.ProviderStatusUpdatedAt = &at
	m.rows[sessionID] = s
	return true, nil
}

func (m *MemoryStore) CompareAndSetStatus(ctx context.Context, workspaceID, sessionID string, expected *ProviderStatus, next ProviderStatus, errCode, errMsg *string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.WorkspaceID != workspaceID {
		return false, nil
	}
	if !sameStatus(s.ProviderStatus, expected) {
		return false, nil
	}
	s.ProviderStatus = &next
	s.ProviderStatusUpdatedAt = &at
	s.ErrorCode = copyString(errCode)
	s.ErrorMessage = copyString(errMsg)
	m.rows[sessionID] = s
	return true, nil
}

func (m *MemoryStore) RecordDiagnostics(ctx context.Context, workspaceID, sessionID string, errCode, errMsg *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	s.ProviderStatusUpdatedAt = &at
	s.ErrorCode = copyString(errCode)
	s.ErrorMessage = copyString(errMsg)
	m.rows[sessionID] = s
	return nil
}

func (m *MemoryStore) UpsertInbound(ctx context.Context, s CallSession) (string, bool, error) {
	if s.ProviderCallID == nil {
		return "", false, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.findByProviderCallIDLocked(s.WorkspaceID, *s.ProviderCallID); ok {
		return existing.ID, false, nil
	}
	m.rows[s.ID] = clone(s)
	return s.ID, true, nil
}

func (m *MemoryStore) BackfillLinks(ctx context.Context, workspaceID, sessionID string, customerID, jobID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.WorkspaceID != workspaceID {
		return nil
	}
	if s.CustomerID == nil {
		s.CustomerID = copyString(customerID)
	}
	if s.JobID == nil {
		s.JobID = copyString(jobID)
	}
	m.rows[sessionID] = s
	return nil
}

func (m *MemoryStore) LinkCustomerJob(ctx context.Context, workspaceID, sessionID, customerID string, jobID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.WorkspaceID != workspaceID {
		return false, nil
	}
	s.CustomerID = &customerID
	if jobID != nil {
		s.JobID = copyString(jobID)
	}
	m.rows[sessionID] = s
	return true, nil
}

func (m *MemoryStore) AttachProviderCallID(ctx context.Context, workspaceID, sessionID, providerCallID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.WorkspaceID != workspaceID || s.ProviderCallID != nil {
		return false, nil
	}
	if _, taken := m.findByProviderCallIDLocked(workspaceID, providerCallID); taken {
		return false, ErrInvalidArgument
	}
	s.ProviderCallID = &providerCallID
	m.rows[sessionID] = s
	return true, nil
}

func (m *MemoryStore) RecordOutcome(ctx context.Context, workspaceID, sessionID string, o Outcome, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.WorkspaceID != workspaceID {
		return false, nil
	}
	code := o.Code
	s.OutcomeCode = &code
	s.OutcomeNotes = copyString(o.Notes)
	if o.ReachedCustomer != nil {
		b := *o.ReachedCustomer
		s.ReachedCustomer = &b
	} else {
		s.ReachedCustomer = nil
	}
	s.OutcomeRecordedAt = &at
	m.rows[sessionID] = s
	return true, nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, workspaceID, jobID string, since time.Time, limit int) ([]CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallSession, 0)
	for _, s := range m.rows {
		if s.WorkspaceID != workspaceID || s.CreatedAt.Before(since) {
			continue
		}
		if jobID != "" && s.JobIDValue() != jobID {
			continue
		}
		out = append(out, clone(s))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sameStatus(a, b *ProviderStatus) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// clone detaches pointer fields so callers cannot mutate stored rows.
func clone(s CallSession) CallSession {
	out := s
	out.JobID = copyString(s.JobID)
	out.CustomerID = copyString(s.CustomerID)
	out.ProviderCallID = copyString(s.ProviderCallID)
	if s.ProviderStatus != nil {
		st := *s.ProviderStatus
		out.ProviderStatus = &st
	}
	if s.ProviderStatusUpdatedAt != nil {
		t := *s.ProviderStatusUpdatedAt
		out.ProviderStatusUpdatedAt = &t
	}
	out.ErrorCode = copyString(s.ErrorCode)
	out.ErrorMessage = copyString(s.ErrorMessage)
	out.OutcomeCode = copyString(s.OutcomeCode)
	out.OutcomeNotes = copyString(s.OutcomeNotes)
	if s.ReachedCustomer != nil {
		b := *s.ReachedCustomer
		out.ReachedCustomer = &b
	}
	if s.OutcomeRecordedAt != nil {
		t := *s.OutcomeRecordedAt
		out.OutcomeRecordedAt = &t
	}
	return out
}
