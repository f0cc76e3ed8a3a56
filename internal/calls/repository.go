package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: PostgresStore assumes the following table exists:
//
//	CREATE TABLE call_sessions (
//	  id                          TEXT PRIMARY KEY,
//	  workspace_id                TEXT NOT NULL,
//	  job_id                      TEXT,
//	  customer_id                 TEXT,
//	  direction                   TEXT NOT NULL,
//	  from_number                 TEXT NOT NULL DEFAULT '',
//	  to_number                   TEXT NOT NULL DEFAULT '',
//	  provider_call_id            TEXT,
//	  provider_status             TEXT,
//	  provider_status_updated_at  TIMESTAMPTZ,
//	  error_code                  TEXT,
//	  error_message               TEXT,
//	  outcome_code                TEXT,
//	  outcome_notes               TEXT,
//	  reached_customer            BOOLEAN,
//	  outcome_recorded_at         TIMESTAMPTZ,
//	  created_at                  TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX call_sessions_provider_call
//	  ON call_sessions (workspace_id, provider_call_id)
//	  WHERE provider_call_id IS NOT NULL;
//	CREATE INDEX call_sessions_recent ON call_sessions (workspace_id, created_at DESC);

const sessionColumns = `id, workspace_id, job_id, customer_id, direction, from_number, to_number,
       provider_call_id, provider_status, provider_status_updated_at, error_code, error_message,
       outcome_code, outcome_notes, reached_customer, outcome_recorded_at, created_at`

// dialBlockedSQL is built from the static precedence table, never from input.
var dialBlockedSQL = func() string {
	quoted := make([]string, 0, len(DialBlockedStatuses()))
	for _, s := range DialBlockedStatuses() {
		quoted = append(quoted, "'"+string(s)+"'")
	}
	return strings.Join(quoted, ",")
}()

// PostgresStore implements Store on database/sql (pgx stdlib driver).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (CallSession, error) {
	var (
		s                                          CallSession
		jobID, customerID, providerCallID, status  sql.NullString
		errCode, errMsg, outcomeCode, outcomeNotes sql.NullString
		reached                                    sql.NullBool
		statusUpdatedAt, outcomeAt                 sql.NullTime
	)
	if err := r.Scan(
		&s.ID,
		&s.WorkspaceID,
		&jobID,
		&customerID,
		&s.Direction,
		&s.FromNumber,
		&s.ToNumber,
		&providerCallID,
		&status,
		&statusUpdatedAt,
		&errCode,
		&errMsg,
		&outcomeCode,
		&outcomeNotes,
		&reached,
		&outcomeAt,
		&s.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	s.JobID = nullString(jobID)
	s.CustomerID = nullString(customerID)
	s.ProviderCallID = nullString(providerCallID)
	if status.Valid {
		st := ProviderStatus(status.String)
		s.ProviderStatus = &st
	}
	s.ProviderStatusUpdatedAt = nullTime(statusUpdatedAt)
	s.ErrorCode = nullString(errCode)
	s.ErrorMessage = nullString(errMsg)
	s.OutcomeCode = nullString(outcomeCode)
	s.OutcomeNotes = nullString(outcomeNotes)
	if reached.Valid {
		b := reached.Bool
		s.ReachedCustomer = &b
	}
	s.OutcomeRecordedAt = nullTime(outcomeAt)
	return s, nil
}

func (p *PostgresStore) Insert(ctx context.Context, s CallSession) error {
	const q = `
INSERT INTO call_sessions (
  id, workspace_id, job_id, customer_id, direction, from_number, to_number,
  provider_call_id, provider_status, provider_status_updated_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := p.db.ExecContext(ctx, q,
		s.ID,
		s.WorkspaceID,
		s.JobID,
		s.CustomerID,
		s.Direction,
		s.FromNumber,
		s.ToNumber,
		s.ProviderCallID,
		statusArg(s.ProviderStatus),
		s.ProviderStatusUpdatedAt,
		s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate session", ErrInvalidArgument)
	}
	if err != nil {
		return fmt.Errorf("calls: insert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, workspaceID, sessionID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE workspace_id = $1 AND id = $2`
	return scanSession(p.db.QueryRowContext(ctx, q, workspaceID, sessionID))
}

func (p *PostgresStore) GetUnscoped(ctx context.Context, sessionID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	return scanSession(p.db.QueryRowContext(ctx, q, sessionID))
}

func (p *PostgresStore) FindByProviderCallID(ctx context.Context, workspaceID, providerCallID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE workspace_id = $1 AND provider_call_id = $2`
	return scanSession(p.db.QueryRowContext(ctx, q, workspaceID, providerCallID))
}

func (p *PostgresStore) MarkDialQueued(ctx context.Context, workspaceID, sessionID string, at time.Time) (bool, error) {
	q := `
UPDATE call_sessions
SET provider_status = 'queued', provider_status_updated_at = $3
WHERE id = $1 AND workspace_id = $2
  AND (provider_status IS NULL OR provider_status NOT IN (` + dialBlockedSQL + `))
`
	return p.execAffected(ctx, "mark dial queued", q, sessionID, workspaceID, at)
}

func (p *PostgresStore) CompareAndSetStatus(ctx context.Context, workspaceID, sessionID string, expected *ProviderStatus, next ProviderStatus, errCode, errMsg *string, at time.Time) (bool, error) {
	const q = `
UPDATE call_sessions
SET provider_status = $4, provider_status_updated_at = $5, error_code = $6, error_message = $7
WHERE id = $1 AND workspace_id = $2 AND provider_status IS NOT DISTINCT FROM $3::text
`
	return p.execAffected(ctx, "set status", q, sessionID, workspaceID, statusArg(expected), string(next), at, errCode, errMsg)
}

func (p *PostgresStore) RecordDiagnostics(ctx context.Context, workspaceID, sessionID string, errCode, errMsg *string, at time.Time) error {
	const q = `
UPDATE call_sessions
SET provider_status_updated_at = $3, error_code = $4, error_message = $5
WHERE id = $1 AND workspace_id = $2
`
	ok, err := p.execAffected(ctx, "record diagnostics", q, sessionID, workspaceID, at, errCode, errMsg)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) UpsertInbound(ctx context.Context, s CallSession) (string, bool, error) {
	const q = `
INSERT INTO call_sessions (
  id, workspace_id, job_id, customer_id, direction, from_number, to_number,
  provider_call_id, provider_status, provider_status_updated_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (workspace_id, provider_call_id) WHERE provider_call_id IS NOT NULL DO NOTHING
RETURNING id
`
	var id string
	err := p.db.QueryRowContext(ctx, q,
		s.ID,
		s.WorkspaceID,
		s.JobID,
		s.CustomerID,
		s.Direction,
		s.FromNumber,
		s.ToNumber,
		s.ProviderCallID,
		statusArg(s.ProviderStatus),
		s.ProviderStatusUpdatedAt,
		s.CreatedAt,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("calls: upsert inbound session: %w", err)
	}
	if s.ProviderCallID == nil {
		return "", false, ErrInvalidArgument
	}
	existing, err := p.FindByProviderCallID(ctx, s.WorkspaceID, *s.ProviderCallID)
	if err != nil {
		return "", false, err
	}
	return existing.ID, false, nil
}

func (p *PostgresStore) BackfillLinks(ctx context.Context, workspaceID, sessionID string, customerID, jobID *string) error {
	const q = `
UPDATE call_sessions
SET customer_id = COALESCE(customer_id, $3), job_id = COALESCE(job_id, $4)
WHERE id = $1 AND workspace_id = $2
`
	_, err := p.execAffected(ctx, "backfill links", q, sessionID, workspaceID, customerID, jobID)
	return err
}

func (p *PostgresStore) LinkCustomerJob(ctx context.Context, workspaceID, sessionID, customerID string, jobID *string) (bool, error) {
	const q = `
UPDATE call_sessions
SET customer_id = $3, job_id = COALESCE($4, job_id)
WHERE id = $1 AND workspace_id = $2
`
	return p.execAffected(ctx, "link customer job", q, sessionID, workspaceID, customerID, jobID)
}

func (p *PostgresStore) AttachProviderCallID(ctx context.Context, workspaceID, sessionID, providerCallID string) (bool, error) {
	const q = `
UPDATE call_sessions
SET provider_call_id = $3
WHERE id = $1 AND workspace_id = $2 AND provider_call_id IS NULL
`
	ok, err := p.execAffected(ctx, "attach provider call id", q, sessionID, workspaceID, providerCallID)
	if isUniqueViolation(err) {
		return false, fmt.Errorf("%w: provider call id belongs to another session", ErrInvalidArgument)
	}
	return ok, err
}

func (p *PostgresStore) RecordOutcome(ctx context.Context, workspaceID, sessionID string, o Outcome, at time.Time) (bool, error) {
	const q = `
UPDATE call_sessions
SET outcome_code = $3, outcome_notes = $4, reached_customer = $5, outcome_recorded_at = $6
WHERE id = $1 AND workspace_id = $2
`
	return p.execAffected(ctx, "record outcome", q, sessionID, workspaceID, o.Code, o.Notes, o.ReachedCustomer, at)
}

func (p *PostgresStore) ListRecent(ctx context.Context, workspaceID, jobID string, since time.Time, limit int) ([]CallSession, error) {
	q := `SELECT ` + sessionColumns + `
FROM call_sessions
WHERE workspace_id = $1 AND created_at >= $2 AND ($3 = '' OR job_id = $3)
ORDER BY created_at DESC
LIMIT $4`
	rows, err := p.db.QueryContext(ctx, q, workspaceID, since, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("calls: list recent sessions: %w", err)
	}
	defer rows.Close()

	out := make([]CallSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("calls: scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calls: list recent sessions: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) execAffected(ctx context.Context, op, q string, args ...any) (bool, error) {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("calls: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("calls: %s: %w", op, err)
	}
	return n > 0, nil
}

// isUniqueViolation reports a Postgres unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func statusArg(s *ProviderStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
