package chat

import (
	"context"
	"database/sql"
	"time"
)

// Message is one persisted chat turn.
type Message struct {
	ID             int       `json:"id"`
	UserID         int       `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SaveMessage(ctx context.Context, userID int, conversationID, role, content string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, conversationID, role, content, at.UTC())
	return err
}

// History returns the most recent turns of one conversation in
// chronological order.
func (s *Store) History(ctx context.Context, userID int, conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, role, content, created_at
		 FROM (SELECT id, user_id, conversation_id, role, content, created_at
		       FROM chat_messages WHERE user_id = ? AND conversation_id = ?
		       ORDER BY id DESC LIMIT ?) t
		 ORDER BY id ASC`,
		userID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// AllMessages returns a user's full chat history, used by the export
// endpoint.
func (s *Store) AllMessages(ctx context.Context, userID int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, role, content, created_at
		 FROM chat_messages WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Message, error) {
	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
