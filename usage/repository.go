// Package usage is the append-only ledger of countable user actions. Rows
// are written after the gated action succeeds and only ever read back as
// range counts; nothing updates or deletes individual events.
package usage

import (
	"context"
	"database/sql"
	"time"

	"kindfriend-backend/entitlement"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Append records one performed action. Callers invoke this after the
// action succeeded downstream, never before.
func (r *Repository) Append(ctx context.Context, userID int, kind entitlement.Action, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO usage_events (user_id, kind, created_at) VALUES (?, ?, ?)`,
		userID, string(kind), at.UTC())
	return err
}

// CountEvents implements entitlement.Ledger. A zero since drops the lower
// bound, which is how lifetime caps are counted.
func (r *Repository) CountEvents(ctx context.Context, userID int, kind entitlement.Action, since, until time.Time) (int, error) {
	var n int
	var err error
	if since.IsZero() {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM usage_events WHERE user_id = ? AND kind = ? AND created_at < ?`,
			userID, string(kind), until.UTC()).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM usage_events WHERE user_id = ? AND kind = ? AND created_at >= ? AND created_at < ?`,
			userID, string(kind), since.UTC(), until.UTC()).Scan(&n)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
