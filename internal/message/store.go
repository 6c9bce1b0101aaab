// Package message provides PostgreSQL-backed persistence for group chat
// messages. The chat daemon saves each valid CHAT event here before fanning
// it out, so the id assigned by the database travels with the broadcast and
// clients can deduplicate history against live events.
package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message is one persisted chat message.
type Message struct {
	ID         int64
	GroupID    int64
	SenderID   int64
	SenderName string
	Content    string
	SentAt     time.Time
}

// Store manages chat messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts a message and returns it with the assigned id and timestamp.
func (s *Store) Save(ctx context.Context, groupID, senderID int64, senderName, content string) (*Message, error) {
	const query = `
		INSERT INTO messages (group_id, sender_id, sender_name, content, sent_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, sent_at`

	msg := &Message{
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
	}
	err := s.db.QueryRowContext(ctx, query, groupID, senderID, senderName, content).
		Scan(&msg.ID, &msg.SentAt)
	if err != nil {
		return nil, fmt.Errorf("message: insert: %w", err)
	}
	return msg, nil
}

// ListByGroup returns all messages for a group in ascending send order —
// the order the history endpoint serves them in.
func (s *Store) ListByGroup(ctx context.Context, groupID int64) ([]Message, error) {
	const query = `
		SELECT id, group_id, sender_id, sender_name, content, sent_at
		FROM messages
		WHERE group_id = $1
		ORDER BY sent_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("message: list group %d: %w", groupID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Content, &m.SentAt); err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate: %w", err)
	}
	return messages, nil
}

// DeleteByID removes one message. Deleting an id that is already gone is a
// no-op; the bool reports whether a row was removed.
func (s *Store) DeleteByID(ctx context.Context, groupID, messageID int64) (bool, error) {
	const query = `
		DELETE FROM messages
		WHERE id = $1 AND group_id = $2`

	res, err := s.db.ExecContext(ctx, query, messageID, groupID)
	if err != nil {
		return false, fmt.Errorf("message: delete %d: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("message: delete %d: %w", messageID, err)
	}
	return n > 0, nil
}

// DeleteAllByGroup removes every message in a group and returns the count.
func (s *Store) DeleteAllByGroup(ctx context.Context, groupID int64) (int64, error) {
	const query = `
		DELETE FROM messages
		WHERE group_id = $1`

	res, err := s.db.ExecContext(ctx, query, groupID)
	if err != nil {
		return 0, fmt.Errorf("message: delete all for group %d: %w", groupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("message: delete all for group %d: %w", groupID, err)
	}
	return n, nil
}
