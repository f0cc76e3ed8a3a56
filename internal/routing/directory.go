package routing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NOTE: PostgresDirectory assumes:
//
//	phone_numbers(number TEXT PRIMARY KEY, workspace_id TEXT NOT NULL, enabled BOOLEAN NOT NULL)
//	phone_number_destinations(number TEXT NOT NULL, target_uri TEXT NOT NULL, weight INT NOT NULL)
//	customers(id TEXT PRIMARY KEY, workspace_id TEXT NOT NULL, phone TEXT, updated_at TIMESTAMPTZ)
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (p *PostgresDirectory) LookupNumber(ctx context.Context, number string) (NumberEntry, error) {
	const q = `SELECT number, workspace_id, enabled FROM phone_numbers WHERE number = $1`
	var n NumberEntry
	if err := p.db.QueryRowContext(ctx, q, number).Scan(&n.Number, &n.WorkspaceID, &n.Enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NumberEntry{}, ErrUnknownNumber
		}
		return NumberEntry{}, fmt.Errorf("routing: lookup number: %w", err)
	}

	const dq = `SELECT target_uri, weight FROM phone_number_destinations WHERE number = $1 ORDER BY target_uri`
	rows, err := p.db.QueryContext(ctx, dq, number)
	if err != nil {
		return NumberEntry{}, fmt.Errorf("routing: lookup destinations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d WeightedDestination
		if err := rows.Scan(&d.TargetURI, &d.Weight); err != nil {
			return NumberEntry{}, fmt.Errorf("routing: scan destination: %w", err)
		}
		n.Destinations = append(n.Destinations, d)
	}
	if err := rows.Err(); err != nil {
		return NumberEntry{}, fmt.Errorf("routing: lookup destinations: %w", err)
	}
	return n, nil
}

// LookupCustomer picks the most recently updated customer when a phone is
// shared.
func (p *PostgresDirectory) LookupCustomer(ctx context.Context, workspaceID, phone string) (string, error) {
	const q = `
SELECT id FROM customers
WHERE workspace_id = $1 AND phone = $2
ORDER BY updated_at DESC NULLS LAST
LIMIT 1
`
	var id string
	if err := p.db.QueryRowContext(ctx, q, workspaceID, phone).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoCustomer
		}
		return "", fmt.Errorf("routing: lookup customer: %w", err)
	}
	return id, nil
}
