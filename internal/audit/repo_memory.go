package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in append order. Tests read them back by session.
type MemoryRepo struct {
	mu  sync.Mutex
	log []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	r.log = append(r.log, e)
	r.mu.Unlock()
	return nil
}

// Events returns a snapshot of everything appended so far.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// ForSession returns the events a workspace recorded against one session.
func (r *MemoryRepo) ForSession(workspaceID, sessionID string) []Event {
	return r.filter(func(e Event) bool {
		return e.WorkspaceID == workspaceID && e.SessionID == sessionID
	})
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.log {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
