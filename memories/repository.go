package memories

import (
	"context"
	"database/sql"
	"time"
)

// Memory is one free-form note the companion keeps about the user.
type Memory struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, userID int) ([]Memory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, content, created_at FROM memories WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Memory{}
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) Add(ctx context.Context, userID int, content string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO memories (user_id, content, created_at) VALUES (?, ?, ?)`,
		userID, content, at.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

func (r *Repository) Delete(ctx context.Context, userID, memoryID int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM memories WHERE id = ? AND user_id = ?`, memoryID, userID)
	return err
}
