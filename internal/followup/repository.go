package followup

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository loads the commercial context around call sessions.
// Every method must filter by workspace.
type Repository interface {
	// LatestQuotes returns the newest quote per job, keyed by job id.
	LatestQuotes(ctx context.Context, workspaceID string, jobIDs []string) (map[string]Quote, error)
	// OpenInvoiceDueDates returns the earliest due date of unpaid invoices per job.
	OpenInvoiceDueDates(ctx context.Context, workspaceID string, jobIDs []string) (map[string]time.Time, error)
	// OutboundMessagesSince returns outbound messages sent at or after since.
	OutboundMessagesSince(ctx context.Context, workspaceID string, since time.Time) ([]Message, error)
}

// NOTE: PostgresRepo reads tables owned by the quoting, billing and
// messaging features:
//
//	quotes(id, workspace_id, job_id, created_at)
//	invoices(id, workspace_id, job_id, due_at, paid_at)
//	outbound_messages(id, workspace_id, job_id, quote_id, channel, sent_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) LatestQuotes(ctx context.Context, workspaceID string, jobIDs []string) (map[string]Quote, error) {
	out := map[string]Quote{}
	if len(jobIDs) == 0 {
		return out, nil
	}
	const q = `
SELECT DISTINCT ON (job_id) id, job_id, created_at
FROM quotes
WHERE workspace_id = $1 AND job_id = ANY($2)
ORDER BY job_id, created_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("followup: latest quotes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var qt Quote
		if err := rows.Scan(&qt.ID, &qt.JobID, &qt.CreatedAt); err != nil {
			return nil, fmt.Errorf("followup: scan quote: %w", err)
		}
		out[qt.JobID] = qt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("followup: latest quotes: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) OpenInvoiceDueDates(ctx context.Context, workspaceID string, jobIDs []string) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	if len(jobIDs) == 0 {
		return out, nil
	}
	const q = `
SELECT job_id, MIN(due_at)
FROM invoices
WHERE workspace_id = $1 AND job_id = ANY($2) AND paid_at IS NULL AND due_at IS NOT NULL
GROUP BY job_id
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("followup: open invoices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			jobID string
			due   time.Time
		)
		if err := rows.Scan(&jobID, &due); err != nil {
			return nil, fmt.Errorf("followup: scan invoice: %w", err)
		}
		out[jobID] = due
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("followup: open invoices: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) OutboundMessagesSince(ctx context.Context, workspaceID string, since time.Time) ([]Message, error) {
	const q = `
SELECT id, job_id, quote_id, channel, sent_at
FROM outbound_messages
WHERE workspace_id = $1 AND sent_at >= $2
ORDER BY sent_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("followup: outbound messages: %w", err)
	}
	defer rows.Close()
	out := make([]Message, 0)
	for rows.Next() {
		var (
			m              Message
			jobID, quoteID sql.NullString
		)
		if err := rows.Scan(&m.ID, &jobID, &quoteID, &m.Channel, &m.SentAt); err != nil {
			return nil, fmt.Errorf("followup: scan message: %w", err)
		}
		if jobID.Valid {
			m.JobID = &jobID.String
		}
		if quoteID.Valid {
			m.QuoteID = &quoteID.String
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("followup: outbound messages: %w", err)
	}
	return out, nil
}
