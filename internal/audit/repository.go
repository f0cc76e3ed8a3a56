package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends to audit_events. The table should carry an
// INSERT-only policy:
//
//	CREATE TABLE audit_events (
//	  id           TEXT PRIMARY KEY,
//	  workspace_id TEXT NOT NULL,
//	  type         TEXT NOT NULL,
//	  session_id   TEXT NOT NULL DEFAULT '',
//	  message      TEXT NOT NULL DEFAULT '',
//	  metadata     JSONB,
//	  created_at   TIMESTAMPTZ NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, workspace_id, type, session_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6, '')::jsonb,$7)
`
	if _, err := r.db.ExecContext(ctx, q, e.ID, e.WorkspaceID, string(e.Type), e.SessionID, e.Message, e.Metadata, e.CreatedAt); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}
