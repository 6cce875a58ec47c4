package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// UpsertMessage inserts a message if its id is new; an existing row is
// left untouched so transport re-polls cannot clobber ProcessedAt. A
// message inserted with ProcessedAt already set (an outbound record)
// never enters the unprocessed queue.
func (s *Store) UpsertMessage(m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = nowUTC()
	}

	var processedAt any
	if m.ProcessedAt != nil {
		processedAt = toMillis(*m.ProcessedAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO messages (id, sender, recipient, thread_id, content, received_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.From, m.To, nullable(m.ThreadID), m.Content, toMillis(m.ReceivedAt), processedAt)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// PollMessages returns up to limit unprocessed messages, oldest first.
func (s *Store) PollMessages(limit int) ([]Message, error) {
	rows, err := s.db.Query(`SELECT id, sender, recipient, COALESCE(thread_id,''), content, received_at, processed_at
		FROM messages WHERE processed_at IS NULL ORDER BY received_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("poll messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkMessageProcessed stamps ProcessedAt exactly once. Marking an
// already-processed message is an error: a message is delivered to at
// most one turn.
func (s *Store) MarkMessageProcessed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE messages SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		toMillis(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s already processed or unknown", id)
	}
	return nil
}

// CountMessages returns the queue depth: messages not yet claimed by
// any turn.
func (s *Store) CountMessages() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE processed_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ThreadMessages returns all messages in a thread, oldest first.
func (s *Store) ThreadMessages(threadID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`SELECT id, sender, recipient, COALESCE(thread_id,''), content, received_at, processed_at
		FROM messages WHERE thread_id = ? ORDER BY received_at ASC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("thread messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var recv int64
		var proc sql.NullInt64
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.ThreadID, &m.Content, &recv, &proc); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ReceivedAt = fromMillis(recv)
		if proc.Valid {
			t := fromMillis(proc.Int64)
			m.ProcessedAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
