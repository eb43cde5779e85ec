package storage

import (
	"time"

	derrors "github.com/devmate/devmate/pkg/errors"
)

// ChatMessage is one persisted chat entry for a project. AI messages carry
// an empty SenderID; the stored body keeps the raw payload so structured
// responses replay intact.
type ChatMessage struct {
	ID          int64     `json:"id"`
	ProjectID   string    `json:"projectId"`
	SenderID    string    `json:"senderId,omitempty"`
	SenderEmail string    `json:"senderEmail,omitempty"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SaveMessage appends a chat message to the project's history.
func (s *Store) SaveMessage(msg *ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(
		"INSERT INTO messages (project_id, sender_id, sender_email, body, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ProjectID, nullIfEmpty(msg.SenderID), nullIfEmpty(msg.SenderEmail), msg.Body, msg.CreatedAt,
	)
	if err != nil {
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "save message").
			WithContext("project", msg.ProjectID)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return derrors.Wrap(err, derrors.ErrCodeStorageWrite, "message id")
	}
	msg.ID = id
	return nil
}

// ListMessages returns the project's chat history oldest-first.
func (s *Store) ListMessages(projectID string, limit int) ([]ChatMessage, error) {
	query := `
		SELECT id, project_id, COALESCE(sender_id, ''), COALESCE(sender_email, ''), body, created_at
		FROM messages WHERE project_id = ? ORDER BY id`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "list messages")
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.SenderEmail, &m.Body, &m.CreatedAt); err != nil {
			return nil, derrors.Wrap(err, derrors.ErrCodeStorageRead, "scan message")
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
