package followup

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// Rows are keyed by workspace id.
type MemoryRepo struct {
	mu sync.Mutex

	Quotes   map[string][]Quote
	Invoices map[string][]Invoice
	Messages map[string][]Message
}

// Invoice is only used by MemoryRepo; Postgres aggregates in SQL.
type Invoice struct {
	JobID string
	DueAt time.Time
	Paid  bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		Quotes:   map[string][]Quote{},
		Invoices: map[string][]Invoice{},
		Messages: map[string][]Message{},
	}
}

func (r *MemoryRepo) AddQuote(workspaceID string, q Quote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Quotes[workspaceID] = append(r.Quotes[workspaceID], q)
}

func (r *MemoryRepo) AddInvoice(workspaceID string, inv Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Invoices[workspaceID] = append(r.Invoices[workspaceID], inv)
}

func (r *MemoryRepo) AddMessage(workspaceID string, m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages[workspaceID] = append(r.Messages[workspaceID], m)
}

func (r *MemoryRepo) LatestQuotes(ctx context.Context, workspaceID string, jobIDs []string) (map[string]Quote, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}
	want := toSet(jobIDs)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]Quote{}
	for _, q := range r.Quotes[workspaceID] {
		if !want[q.JobID] {
			continue
		}
		if cur, ok := out[q.JobID]; !ok || q.CreatedAt.After(cur.CreatedAt) {
			out[q.JobID] = q
		}
	}
	return out, nil
}

func (r *MemoryRepo) OpenInvoiceDueDates(ctx context.Context, workspaceID string, jobIDs []string) (map[string]time.Time, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}
	want := toSet(jobIDs)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]time.Time{}
	for _, inv := range r.Invoices[workspaceID] {
		if inv.Paid || inv.DueAt.IsZero() || !want[inv.JobID] {
			continue
		}
		if cur, ok := out[inv.JobID]; !ok || inv.DueAt.Before(cur) {
			out[inv.JobID] = inv.DueAt
		}
	}
	return out, nil
}

func (r *MemoryRepo) OutboundMessagesSince(ctx context.Context, workspaceID string, since time.Time) ([]Message, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0)
	for _, m := range r.Messages[workspaceID] {
		if m.SentAt.Before(since) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
